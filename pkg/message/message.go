// Package message defines the protocol-neutral request and response
// descriptors shared by the HTTP/1.1 and HTTP/2 codecs.
package message

import (
	"strings"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/buffer"
)

// Protocol selects which codec a Request should use.
type Protocol int

const (
	// ProtoHTTP2 is the default protocol when the client is compiled
	// with HTTP/2 support.
	ProtoHTTP2 Protocol = iota
	ProtoHTTP1
)

func (p Protocol) String() string {
	if p == ProtoHTTP1 {
		return "HTTP/1.1"
	}
	return "HTTP/2"
}

// Headers is a case-preserving, case-insensitive-lookup ordered header
// list: insertion order is retained for encoding, lookups ignore case.
type Headers struct {
	names  []string
	values []string
}

// NewHeaders returns an empty header list.
func NewHeaders() *Headers {
	return &Headers{}
}

// Add appends a header, preserving the caller's casing.
func (h *Headers) Add(name, value string) {
	h.names = append(h.names, name)
	h.values = append(h.values, value)
}

// Set replaces the first occurrence of name (case-insensitive) or appends
// if absent.
func (h *Headers) Set(name, value string) {
	for i, n := range h.names {
		if strings.EqualFold(n, name) {
			h.values[i] = value
			return
		}
	}
	h.Add(name, value)
}

// Get returns the value of the last occurrence of name (case-insensitive),
// matching the "duplicate header names retain the last occurrence" rule.
func (h *Headers) Get(name string) (string, bool) {
	found := false
	var val string
	for i, n := range h.names {
		if strings.EqualFold(n, name) {
			val = h.values[i]
			found = true
		}
	}
	return val, found
}

// Len returns the number of header entries.
func (h *Headers) Len() int { return len(h.names) }

// Each calls fn for every header in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for i, n := range h.names {
		fn(n, h.values[i])
	}
}

// Request is an immutable-after-build descriptor for an outgoing request.
type Request struct {
	Method   string
	Host     []byte
	Path     []byte
	Query    []byte
	Body     []byte
	Headers  *Headers
	Protocol Protocol
}

// NewRequest builds a Request with HTTP/2 as the default protocol, per
// the data model's "HTTP/2 the default when compiled in" rule.
func NewRequest(method string, host, path, query []byte) *Request {
	return &Request{
		Method:   method,
		Host:     host,
		Path:     path,
		Query:    query,
		Headers:  NewHeaders(),
		Protocol: ProtoHTTP2,
	}
}

// Authority returns host:port computed from Host, defaulting to port 443
// per the client facade's authority rule.
func (r *Request) Authority() string {
	return HostAuthority(string(r.Host))
}

// HostAuthority normalizes a bare host or host:port string to host:port,
// defaulting to port 443. Shared by Request.Authority and the client
// facade's Connect, so a preallocated cell and a request's own authority
// agree on the same host without a port always resolve to the same key.
func HostAuthority(host string) string {
	if strings.Contains(host, ":") {
		return host
	}
	return host + ":443"
}

// Response is the decoded result of a request.
type Response struct {
	Protocol   Protocol
	StatusCode int
	Headers    *Headers
	Body       *buffer.Buffer
}

// HeaderString returns the value of name (case-insensitive), or "" if
// absent.
func (r *Response) HeaderString(name string) string {
	v, _ := r.Headers.Get(name)
	return v
}
