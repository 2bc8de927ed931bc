// Package rawhttp provides a low-level, dual-protocol (HTTP/1.1 and
// HTTP/2) HTTPS client built on raw TLS sockets rather than net/http:
// callers get direct control over request framing, protocol selection,
// and connection lifecycle.
package rawhttp

import (
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/rawclient"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/timing"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/tlsconfig"
)

// Version is the current version of the rawhttp library.
const Version = "3.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// Re-export the core types so callers only need to import this package
// for everyday use.
type (
	// Request describes an outgoing request independent of which codec
	// ultimately frames it.
	Request = message.Request

	// Response is the decoded result of a request.
	Response = message.Response

	// Headers is an ordered, case-insensitive-lookup header list.
	Headers = message.Headers

	// Protocol selects HTTP/1.1 or HTTP/2 framing for a request.
	Protocol = message.Protocol

	// Config controls how a Client dials new connections.
	Config = rawclient.Config

	// Error is the structured error type returned by every operation.
	Error = errors.Error

	// Metrics reports the TCP/TLS/TTFB/total timing spans for a
	// connection: connect spans are captured once at dial, TTFB refreshes
	// on every request. The DNS span is not recorded separately.
	Metrics = timing.Metrics

	// TLSVersionProfile picks the allowed TLS version range for a Client's
	// connections, along with matching cipher suites.
	TLSVersionProfile = tlsconfig.VersionProfile
)

// Named TLS version profiles, from most to least restrictive. Pass one
// as Config.VersionProfile; the zero value resolves to TLSProfileSecure.
var (
	TLSProfileModern     = tlsconfig.ProfileModern
	TLSProfileSecure     = tlsconfig.ProfileSecure
	TLSProfileCompatible = tlsconfig.ProfileCompatible
	TLSProfileLegacy     = tlsconfig.ProfileLegacy
)

const (
	// ProtoHTTP2 selects HTTP/2 binary framing, the default.
	ProtoHTTP2 = message.ProtoHTTP2
	// ProtoHTTP1 selects HTTP/1.1 text framing.
	ProtoHTTP1 = message.ProtoHTTP1
)

// NewRequest builds a Request for method against host/path, with an
// optional raw query. HTTP/2 is selected by default; set Protocol to
// ProtoHTTP1 to force HTTP/1.1 framing.
func NewRequest(method, host, path, query string) *Request {
	return message.NewRequest(method, []byte(host), []byte(path), []byte(query))
}

// Client is the facade most callers use: it owns at most one live
// connection at a time, keyed by the authority of the last request it
// served (or the host passed to Connect), transparently falls back from
// HTTP/2 to HTTP/1.1 when a peer's ALPN negotiation refuses h2, and
// exposes the connection-level ping and reset operations.
type Client struct {
	inner *rawclient.Client
}

// NewClient returns a Client configured by cfg. The zero Config dials
// with the package's built-in timeouts and buffering defaults.
func NewClient(cfg Config) *Client {
	return &Client{inner: rawclient.New(cfg)}
}

// Connect preallocates a connection for host (a bare host or host:port,
// defaulting to port 443) using the client's configured default
// protocol, so the first Execute against it does not pay dial latency.
func (c *Client) Connect(host string) error {
	return c.inner.Connect(host)
}

// Execute sends req over the client's current (or freshly dialed)
// connection and returns the decoded response.
func (c *Client) Execute(req *Request) (*Response, error) {
	return c.inner.Execute(req)
}

// Ping issues an HTTP/2 PING against the current connection and reports
// the round trip time. It fails if no connection is established or the
// current connection is HTTP/1.1.
func (c *Client) Ping() (time.Duration, error) {
	return c.inner.Ping()
}

// Metrics returns the timing spans recorded for the current connection.
// It fails if no connection is established.
func (c *Client) Metrics() (Metrics, error) {
	return c.inner.Metrics()
}

// ResetConnection tears down and redials the current connection without
// changing its protocol or authority.
func (c *Client) ResetConnection() error {
	return c.inner.ResetConnection()
}

// Close tears down the current connection, if any.
func (c *Client) Close() error {
	return c.inner.Close()
}
