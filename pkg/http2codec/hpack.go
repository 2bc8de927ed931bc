package http2codec

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
)

// hpackCodec pairs a stateful HPACK encoder and decoder; both maintain
// mirrored dynamic tables that must stay in step across the connection's
// lifetime, so a single instance is shared by every request on a
// protocol connection.
type hpackCodec struct {
	encBuf  bytes.Buffer
	encoder *hpack.Encoder
	decoder *hpack.Decoder
}

func newHPACKCodec(tableSize uint32) *hpackCodec {
	c := &hpackCodec{}
	c.encoder = hpack.NewEncoder(&c.encBuf)
	c.encoder.SetMaxDynamicTableSize(tableSize)
	c.decoder = hpack.NewDecoder(tableSize, nil)
	return c
}

// encodeRequest HPACK-encodes the pseudo-headers in the order
// :method, :authority, :path, :version, :scheme, followed by the user
// headers in insertion order with their names lowercased, as HTTP/2
// requires. The :version pseudo-header has no meaning
// in RFC 7540 HTTP/2 (the protocol has no per-request version); it is
// emitted anyway because that is what this implementation specifies.
func (c *hpackCodec) encodeRequest(req *message.Request) ([]byte, error) {
	c.encBuf.Reset()

	path := string(req.Path)
	if path == "" {
		path = "/"
	}
	if len(req.Query) > 0 {
		path += "?" + string(req.Query)
	}

	pseudo := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":authority", Value: stripPort(string(req.Host))},
		{Name: ":path", Value: path},
		{Name: ":version", Value: "HTTP/2"},
		{Name: ":scheme", Value: "https"},
	}
	for _, f := range pseudo {
		if err := c.encoder.WriteField(f); err != nil {
			return nil, errors.NewClientError("hpack-encode", "failed to encode pseudo-header", err)
		}
	}

	var encodeErr error
	req.Headers.Each(func(name, value string) {
		if encodeErr != nil {
			return
		}
		encodeErr = c.encoder.WriteField(hpack.HeaderField{Name: strings.ToLower(name), Value: value})
	})
	if encodeErr != nil {
		return nil, errors.NewClientError("hpack-encode", "failed to encode header", encodeErr)
	}

	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// decodeResponseHeaders HPACK-decodes block, extracts the mandatory
// :status pseudo-header, and returns it alongside the remaining headers
// in arrival order.
func decodeResponseHeaders(c *hpackCodec, block []byte) (status int, headers *message.Headers, err error) {
	fields, err := c.decoder.DecodeFull(block)
	if err != nil {
		return 0, nil, errors.NewServerError("hpack-decode", "invalid HPACK block", err)
	}

	headers = message.NewHeaders()
	statusSeen := false
	for _, f := range fields {
		if f.Name == ":status" {
			status, err = strconv.Atoi(f.Value)
			if err != nil {
				return 0, nil, errors.NewServerError("hpack-decode", "non-numeric :status pseudo-header", err)
			}
			statusSeen = true
			continue
		}
		if len(f.Name) > 0 && f.Name[0] == ':' {
			continue
		}
		headers.Add(f.Name, f.Value)
	}
	if !statusSeen {
		return 0, nil, errors.NewServerError("hpack-decode", "response missing mandatory :status pseudo-header", nil)
	}
	return status, headers, nil
}

func stripPort(authority string) string {
	for i := len(authority) - 1; i >= 0; i-- {
		if authority[i] == ':' {
			return authority[:i]
		}
		if authority[i] < '0' || authority[i] > '9' {
			break
		}
	}
	return authority
}
