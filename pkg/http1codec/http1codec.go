// Package http1codec implements HTTP/1.1 text framing: request encoding
// and response decoding, including chunked transfer decoding and the
// stale dangling-chunk-terminator check on a reused connection.
package http1codec

import (
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawhttp/v2/internal/byteutil"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/buffer"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
)

// DefaultInitialRead is the size of the first read performed against the
// stream when decoding a response.
const DefaultInitialRead = 8032

// staleTrailer is the final-chunk terminator that can linger at the head
// of a reused connection's next read when a prior chunked response wasn't
// fully drained.
const staleTrailer = "0\r\n\r\n"

// maxHeaderBytes bounds how much header data Decode will read before
// giving up, protecting against a peer that never sends a blank line.
const maxHeaderBytes = 1 << 20

// Codec implements the HTTP/1.1 request/response framing described in
// the codec-layer component design. It carries no connection state of
// its own; Encode and Decode are pure functions of their arguments.
type Codec struct {
	bodyMemLimit int64
}

// New returns an HTTP/1.1 codec that buffers decoded bodies up to
// bodyMemLimit before spilling to disk.
func New(bodyMemLimit int64) *Codec {
	return &Codec{bodyMemLimit: bodyMemLimit}
}

// Kind reports the protocol this codec implements.
func (c *Codec) Kind() message.Protocol { return message.ProtoHTTP1 }

// Encode produces the request-line + headers + body byte buffer described
// in the codec design: method, path, an optional "?"-prefixed query, the
// Host header, user headers in insertion order, and Content-Length when a
// body is present. The query is req.Query written verbatim: Encode does
// not split it into key=value pairs or join pairs with any separator, so
// CRLF-separated pairs reach the wire only if req.Query already holds them.
func (c *Codec) Encode(req *message.Request) []byte {
	var b strings.Builder

	path := string(req.Path)
	if path == "" {
		path = "/"
	}
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(path)
	if len(req.Query) > 0 {
		b.WriteByte('?')
		// The raw query bytes are copied as-is; no pair joining happens
		// here. See DESIGN.md.
		b.Write(req.Query)
	}
	b.WriteString(" HTTP/1.1\r\n")

	b.WriteString("Host: ")
	b.WriteString(string(req.Host))
	b.WriteString("\r\n")

	req.Headers.Each(func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})

	if len(req.Body) > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(req.Body)))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	out := []byte(b.String())
	if len(req.Body) > 0 {
		out = append(out, req.Body...)
	}
	return out
}

// scanner holds a growable byte buffer over r and a read cursor into it,
// so the status line, headers, and chunked body can all be located by
// scanning the buffer in place with byteutil's cursor-based readers
// instead of line-buffered stream reads.
type scanner struct {
	r      io.Reader
	buf    []byte
	cursor int
}

// newScanner performs the fixed-size initial read the decode path is
// built around: DefaultInitialRead bytes (or whatever is available before
// EOF), with any interior NUL padding stripped immediately.
func newScanner(r io.Reader) *scanner {
	buf := make([]byte, DefaultInitialRead)
	n, _ := io.ReadFull(r, buf)
	return &scanner{r: r, buf: byteutil.TrimNull(buf[:n])}
}

// grow appends more bytes read directly from the stream to buf, for when
// a scan runs off the end of what's buffered so far. It reports whether
// any bytes were added.
func (s *scanner) grow() bool {
	chunk := make([]byte, 4096)
	n, _ := s.r.Read(chunk)
	if n == 0 {
		return false
	}
	s.buf = append(s.buf, chunk[:n]...)
	return true
}

// readLine returns the next CRLF-terminated line from the cursor,
// growing the buffer as needed until one is found.
func (s *scanner) readLine() ([]byte, error) {
	for {
		line, next, ok := byteutil.ReadLine(s.buf, s.cursor)
		if ok {
			s.cursor = next
			return line, nil
		}
		if !s.grow() {
			return nil, io.ErrUnexpectedEOF
		}
	}
}

// readN returns exactly n bytes from the cursor, growing the buffer as
// needed, and advances the cursor past them.
func (s *scanner) readN(n int) ([]byte, error) {
	for len(s.buf)-s.cursor < n {
		if !s.grow() {
			return nil, io.ErrUnexpectedEOF
		}
	}
	out := s.buf[s.cursor : s.cursor+n]
	s.cursor += n
	return out, nil
}

// Decode reads a response off r: status line, headers, then a
// Content-Length-bounded or chunked body. The first read is sized
// DefaultInitialRead; if it turns out to begin with a stale final-chunk
// terminator left over from a prior response on a reused connection, that
// terminator is discarded before parsing continues.
func (c *Codec) Decode(r io.Reader) (*message.Response, error) {
	s := newScanner(r)

	if bytes.HasPrefix(s.buf[s.cursor:], []byte(staleTrailer)) {
		s.cursor += len(staleTrailer)
	}

	statusLine, err := s.readLine()
	if err != nil {
		return nil, errors.NewServerError("http1-decode", "reading status line", err)
	}

	resp := &message.Response{Protocol: message.ProtoHTTP1, Headers: message.NewHeaders()}
	if err := parseStatusLine(statusLine, resp); err != nil {
		return nil, err
	}

	if err := readHeaders(s, resp.Headers); err != nil {
		return nil, err
	}

	body := buffer.New(c.bodyMemLimit)
	if err := readBody(s, resp.Headers, body); err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

// parseStatusLine splits "HTTP/1.1 <code> <reason>" on the first two
// spaces, leaving the reason phrase (which may itself contain spaces)
// untouched.
func parseStatusLine(line []byte, resp *message.Response) error {
	version, afterVersion, ok := byteutil.ReadToSpace(line, 0)
	if !ok {
		return errors.NewServerError("http1-decode", "malformed status line", nil)
	}
	if string(version) != "HTTP/1.1" {
		return errors.NewServerError("http1-decode", fmt.Sprintf("unexpected HTTP version %q", version), nil)
	}

	codeTok, _, ok := byteutil.ReadToSpace(line, afterVersion)
	if !ok {
		codeTok = line[afterVersion:]
	}
	code, err := strconv.Atoi(string(codeTok))
	if err != nil {
		return errors.NewServerError("http1-decode", "non-numeric status code", err)
	}
	resp.StatusCode = code
	return nil
}

// readHeaders reads header lines from s into h until the blank-line
// terminator. Duplicate header names retain the last occurrence.
func readHeaders(s *scanner, h *message.Headers) error {
	total := 0
	for {
		line, err := s.readLine()
		if err != nil {
			return errors.NewServerError("http1-decode", "reading headers", err)
		}
		total += len(line) + 2
		if total > maxHeaderBytes {
			return errors.NewServerError("http1-decode", "headers exceed maximum size", nil)
		}
		if len(line) == 0 {
			return nil
		}
		parts := strings.SplitN(string(line), ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		h.Set(name, value)
	}
}

func readBody(s *scanner, headers *message.Headers, dst *buffer.Buffer) error {
	if te, ok := headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		return readChunkedBody(s, dst)
	}
	if cl, ok := headers.Get("Content-Length"); ok {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil {
			return errors.NewServerError("http1-decode", "invalid Content-Length", err)
		}
		if length < 0 {
			return errors.NewServerError("http1-decode", "negative Content-Length", nil)
		}
		chunk, err := s.readN(int(length))
		if err != nil {
			if err != io.ErrUnexpectedEOF {
				return errors.NewIOError("reading fixed body", err)
			}
			chunk = s.buf[s.cursor:]
		}
		if _, err := dst.Write(chunk); err != nil {
			return errors.NewIOError("writing fixed body", err)
		}
		return nil
	}

	if s.cursor < len(s.buf) {
		if _, err := dst.Write(s.buf[s.cursor:]); err != nil {
			return errors.NewIOError("writing buffered body", err)
		}
		s.cursor = len(s.buf)
	}
	_, err := io.Copy(dst, s.r)
	if err != nil && err != io.EOF {
		return errors.NewIOError("reading until close", err)
	}
	return nil
}

// readChunkedBody decodes size-prefixed chunks terminated by a zero-size
// chunk, validating each chunk-size token with IsHex, trimming the
// trailing CRLF after each chunk with TrimCRLFEnd, and ignoring trailers,
// per the codec design's chunked-decode rule.
func readChunkedBody(s *scanner, dst *buffer.Buffer) error {
	for {
		sizeLine, err := s.readLine()
		if err != nil {
			return errors.NewServerError("http1-decode", "reading chunk size", err)
		}
		sizeTok := sizeLine
		if idx := bytes.IndexByte(sizeTok, ';'); idx >= 0 {
			sizeTok = sizeTok[:idx]
		}
		sizeTok = bytes.TrimSpace(sizeTok)
		if !byteutil.IsHex(sizeTok) {
			return errors.NewServerError("http1-decode", "invalid chunk size", nil)
		}
		size, err := strconv.ParseInt(string(sizeTok), 16, 64)
		if err != nil {
			return errors.NewServerError("http1-decode", "invalid chunk size", err)
		}
		if size == 0 {
			break
		}

		chunk, err := s.readN(int(size) + 2) // chunk data plus its trailing CRLF
		if err != nil {
			return errors.NewIOError("reading chunk body", err)
		}
		if _, err := dst.Write(byteutil.TrimCRLFEnd(chunk)); err != nil {
			return errors.NewIOError("writing chunk body", err)
		}
	}
	// Trailers, if any, are read and discarded up to the blank line.
	for {
		line, err := s.readLine()
		if err != nil {
			return errors.NewServerError("http1-decode", "reading chunk trailer", err)
		}
		if len(line) == 0 {
			return nil
		}
	}
}
