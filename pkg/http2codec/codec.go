// Package http2codec implements the HTTP/2 binary framing layer: the
// preface and SETTINGS handshake, HEADERS(+DATA) request encoding, the
// frame-dispatch response decode loop, connection-level flow control, and
// PING round trips. Frame I/O is done with golang.org/x/net/http2's
// Framer; header compression uses golang.org/x/net/http2/hpack.
package http2codec

import (
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/net/http2"

	"github.com/WhileEndless/go-rawhttp/v2/internal/byteutil"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/buffer"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/wire"
)

// Preface is the 24-byte client prologue required to begin an HTTP/2
// conversation, per RFC 7540 §3.5.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Codec holds all per-connection HTTP/2 state: the framer bound to the
// TLS stream, the HPACK encoder/decoder pair, the last-assigned client
// stream id, the peer's negotiated settings, and the flow-control
// windows.
type Codec struct {
	rw           io.ReadWriter
	framer       *http2.Framer
	hpack        *hpackCodec
	lastID       uint32
	settings     Settings
	window       *Window
	bodyMemLimit int64
	pendingPing  bool
	pingData     [8]byte
}

// New constructs a Codec bound to rw (typically the TLS connection). It
// does not perform the preamble; call Handshake for that. initialRecvWindow
// overrides the window advertised to the peer via the preamble's
// WINDOW_UPDATE; 0 keeps the RFC default of s.InitialWindowSize (65,535).
func New(rw io.ReadWriter, bodyMemLimit int64, initialRecvWindow uint32) *Codec {
	s := DefaultSettings()
	window := NewWindow(s.InitialWindowSize)
	if initialRecvWindow != 0 {
		window.SetReceiveInitial(initialRecvWindow)
	}
	return &Codec{
		rw:           rw,
		framer:       http2.NewFramer(rw, rw),
		hpack:        newHPACKCodec(s.HeaderTableSize),
		settings:     s,
		window:       window,
		bodyMemLimit: bodyMemLimit,
	}
}

// Kind reports the protocol this codec implements.
func (c *Codec) Kind() message.Protocol { return message.ProtoHTTP2 }

// Handshake writes the preface concatenated with an empty SETTINGS frame,
// then waits for the peer's initial SETTINGS frame, applies it, and
// replies with a SETTINGS ACK. Finally it emits a WINDOW_UPDATE to grow
// the receive window. Callers must have already verified ALPN negotiated
// "h2" before calling Handshake; this method does not inspect ALPN.
func (c *Codec) Handshake() error {
	if _, err := io.WriteString(c.rw, Preface); err != nil {
		return errors.NewConnectionError("http2-preface", "", err)
	}
	if err := c.framer.WriteSettings(); err != nil {
		return errors.NewConnectionError("http2-preface", "", err)
	}

	if err := c.awaitPeerSettings(); err != nil {
		return err
	}

	c.window.Replenish()
	if err := c.framer.WriteWindowUpdate(0, uint32(c.window.ReplenishDelta())); err != nil {
		return errors.NewConnectionError("http2-preface", "", err)
	}
	return nil
}

// awaitPeerSettings reads frames until the peer's initial (non-ACK)
// SETTINGS frame arrives, applies it, and replies with an ACK.
func (c *Codec) awaitPeerSettings() error {
	for {
		f, err := c.framer.ReadFrame()
		if err != nil {
			return errors.NewConnectionError("http2-preface", "", err)
		}
		sf, ok := f.(*http2.SettingsFrame)
		if !ok {
			continue
		}
		if sf.IsAck() {
			continue
		}
		sf.ForeachSetting(func(s http2.Setting) error {
			c.settings.Apply(s.ID, s.Val)
			return nil
		})
		if err := c.framer.WriteSettingsAck(); err != nil {
			return errors.NewConnectionError("http2-preface", "", err)
		}
		return nil
	}
}

// EncodeRequest composes the pseudo-header block, HPACK-encodes it, and
// writes a HEADERS frame (plus a DATA frame when a body is present) on a
// freshly assigned stream id. The send window is decremented by the body
// size actually written.
func (c *Codec) EncodeRequest(req *message.Request) error {
	c.lastID = wire.NextStreamID(c.lastID)
	streamID := c.lastID

	headerBlock, err := c.hpack.encodeRequest(req)
	if err != nil {
		return err
	}

	hasBody := len(req.Body) > 0
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: headerBlock,
		EndHeaders:    true,
		EndStream:     !hasBody,
	}); err != nil {
		return errors.NewConnectionError("http2-encode", "", err)
	}

	if hasBody {
		if !c.window.CanSend(int64(len(req.Body))) {
			return errors.NewClientError("http2-encode", "request body exceeds current send window", nil)
		}
		if err := c.framer.WriteData(streamID, true, req.Body); err != nil {
			return errors.NewConnectionError("http2-encode", "", err)
		}
		c.window.ConsumeSend(int64(len(req.Body)))
	}
	return nil
}

// DecodeResponse consumes frames on the connection until the stream
// opened by the most recent EncodeRequest closes, dispatching SETTINGS,
// WINDOW_UPDATE, PING, GOAWAY and RST_STREAM as it goes.
func (c *Codec) DecodeResponse() (*message.Response, error) {
	st := NewStream(c.lastID)

	for !st.Done() {
		f, err := c.framer.ReadFrame()
		if err != nil {
			return nil, errors.NewConnectionError("http2-decode", "", err)
		}
		hdr := f.Header()
		if wire.Malformed(hdr) {
			c.framer.WriteGoAway(0, http2.ErrCodeProtocol, nil)
			return nil, errors.NewServerError("http2-decode", "malformed frame", nil)
		}

		n := int64(hdr.Length)
		if n > 0 {
			if c.window.NeedsReplenish(n) {
				c.window.Replenish()
				if err := c.framer.WriteWindowUpdate(0, uint32(c.window.ReplenishDelta())); err != nil {
					return nil, errors.NewConnectionError("http2-decode", "", err)
				}
			}
			c.window.ConsumeReceive(n)
		}

		if resp, done, err := c.dispatch(f, st); done || err != nil {
			return resp, err
		}
	}

	return c.finishStream(st)
}

// dispatch handles one frame against the in-flight stream st. done is
// true when a terminal condition has been reached and DecodeResponse
// should return immediately with resp/err: a failure, or the matching
// PING ACK with its synthetic response. A stream that completes normally
// returns done=false; the loop then ends on the closed stream and
// finishStream builds the response.
func (c *Codec) dispatch(f http2.Frame, st *Stream) (resp *message.Response, done bool, err error) {
	switch fr := f.(type) {
	case *http2.HeadersFrame:
		st.HeaderBuf.Write(fr.HeaderBlockFragment())
		if fr.StreamEnded() && !fr.HeadersEnded() {
			// END_STREAM seen, but CONTINUATION frames still carry the
			// rest of the header block.
			st.State = StateHalfClosed
		} else {
			st.CloseOnEndStream(fr.StreamEnded())
		}

	case *http2.ContinuationFrame:
		st.HeaderBuf.Write(fr.HeaderBlockFragment())
		st.CloseOnEndStream(streamEndedByContinuation(fr, st))

	case *http2.DataFrame:
		st.Body.Write(fr.Data())
		st.CloseOnEndStream(fr.StreamEnded())

	case *http2.SettingsFrame:
		if fr.IsAck() {
			return nil, false, nil
		}
		fr.ForeachSetting(func(s http2.Setting) error {
			c.settings.Apply(s.ID, s.Val)
			return nil
		})
		if err := c.framer.WriteSettingsAck(); err != nil {
			return nil, true, errors.NewConnectionError("http2-decode", "", err)
		}

	case *http2.WindowUpdateFrame:
		c.window.GrowSend(int64(fr.Increment))

	case *http2.RSTStreamFrame:
		st.MarkReset(fr.ErrCode)
		return nil, true, errors.NewPeerError("http2-decode", "", fr.ErrCode, "")

	case *http2.GoAwayFrame:
		debug := byteutil.UTF8Lossy(fr.DebugData())
		return nil, true, errors.NewPeerError("http2-decode", "", fr.ErrCode, debug)

	case *http2.PingFrame:
		return c.handlePing(fr)

	case *http2.PriorityFrame, *http2.PushPromiseFrame:
		// silently ignored per the decode loop's dispatch table

	default:
		// ALTSVC, ORIGIN and any other extension frame: ignored
	}
	return nil, false, nil
}

// streamEndedByContinuation reports END_STREAM for a CONTINUATION frame.
// golang.org/x/net/http2's ContinuationFrame does not carry END_STREAM
// itself (only the initiating HEADERS frame can set it), so a stream
// closes on CONTINUATION only when the preceding HEADERS already carried
// END_STREAM (leaving st half-closed) and this frame ends the header block.
func streamEndedByContinuation(fr *http2.ContinuationFrame, st *Stream) bool {
	return fr.HeadersEnded() && st.State == StateHalfClosed
}

// handlePing answers an incoming PING. If we are the ones waiting on a
// ping (pendingPing), and this is the matching ACK, it returns a
// synthetic 200 response whose body is the 16-byte big-endian arrival
// timestamp. Otherwise it replies with an ACK echoing the same opaque
// data and continues the loop.
func (c *Codec) handlePing(fr *http2.PingFrame) (*message.Response, bool, error) {
	if fr.IsAck() {
		if c.pendingPing && fr.Data == c.pingData {
			c.pendingPing = false
			body := buffer.New(16)
			var ts [16]byte
			binary.BigEndian.PutUint64(ts[8:], uint64(time.Now().UnixNano()))
			body.Write(ts[:])
			return &message.Response{
				Protocol:   message.ProtoHTTP2,
				StatusCode: 200,
				Headers:    message.NewHeaders(),
				Body:       body,
			}, true, nil
		}
		return nil, false, nil
	}
	if err := c.framer.WritePing(true, fr.Data); err != nil {
		return nil, true, errors.NewConnectionError("http2-decode", "", err)
	}
	return nil, false, nil
}

// finishStream HPACK-decodes the accumulated header block and returns the
// assembled response.
func (c *Codec) finishStream(st *Stream) (*message.Response, error) {
	status, headers, err := decodeResponseHeaders(c.hpack, st.HeaderBuf.Bytes())
	if err != nil {
		return nil, err
	}

	body := buffer.New(c.bodyMemLimit)
	if _, err := body.Write(st.Body.Bytes()); err != nil {
		return nil, errors.NewIOError("buffering response body", err)
	}

	return &message.Response{
		Protocol:   message.ProtoHTTP2,
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}, nil
}

// Ping sends a PING frame with a fixed opaque payload and blocks (via the
// caller's decode loop) until the matching ACK arrives. The "response
// body" returned by DecodeResponse-driven callers encodes the arrival
// timestamp for RTT measurement.
func (c *Codec) Ping() error {
	const pingPayload uint64 = 1
	binary.BigEndian.PutUint64(c.pingData[:], pingPayload)
	c.pendingPing = true
	if err := c.framer.WritePing(false, c.pingData); err != nil {
		return errors.NewConnectionError("http2-ping", "", err)
	}
	return nil
}

// AwaitPingAck loops reading frames until the outstanding ping completes
// or an error/GOAWAY terminates the connection.
func (c *Codec) AwaitPingAck() (*message.Response, error) {
	for c.pendingPing {
		f, err := c.framer.ReadFrame()
		if err != nil {
			return nil, errors.NewConnectionError("http2-ping", "", err)
		}
		hdr := f.Header()
		if wire.Malformed(hdr) {
			return nil, errors.NewServerError("http2-ping", "malformed frame", nil)
		}
		if pf, ok := f.(*http2.PingFrame); ok {
			resp, done, err := c.handlePing(pf)
			if err != nil {
				return nil, err
			}
			if done {
				return resp, nil
			}
			continue
		}
		switch fr := f.(type) {
		case *http2.SettingsFrame:
			if fr.IsAck() {
				continue
			}
			fr.ForeachSetting(func(s http2.Setting) error {
				c.settings.Apply(s.ID, s.Val)
				return nil
			})
			_ = c.framer.WriteSettingsAck()
		case *http2.GoAwayFrame:
			debug := byteutil.UTF8Lossy(fr.DebugData())
			return nil, errors.NewPeerError("http2-ping", "", fr.ErrCode, debug)
		}
	}
	return nil, nil
}
