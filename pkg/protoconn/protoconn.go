// Package protoconn implements the protocol connection: a TLS-terminated
// byte stream bound to a single host:port, wrapping exactly one boxed
// codec (HTTP/1.1 or HTTP/2). It owns ALPN-based protocol selection, the
// HTTP/2 preamble, request encode + write + response decode as one
// atomic send_request call, and protocol downgrade/reset.
package protoconn

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/constants"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/http1codec"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/http2codec"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/timing"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/tlsconfig"
)

// codec is the common operation set both protocol codecs satisfy: encode
// a request, decode a response, and report which protocol this is. The
// connection preamble is not part of it: Dial runs the HTTP/2 codec's
// Handshake before boxing it, and HTTP/1.1 has none. A box-of-interface
// stands in for the closed {HTTP/1.1, HTTP/2} tagged variant, since Go
// has no sum types.
type codec interface {
	Kind() message.Protocol
	EncodeRequest(req *message.Request) error
	DecodeResponse() (*message.Response, error)
}

// http1Adapter adapts http1codec.Codec (which is a pure function of a
// byte stream rather than a stateful per-connection object) to the codec
// interface by closing over the shared net.Conn.
type http1Adapter struct {
	codec *http1codec.Codec
	conn  net.Conn
	last  *message.Request
}

func (a *http1Adapter) Kind() message.Protocol { return message.ProtoHTTP1 }

func (a *http1Adapter) EncodeRequest(req *message.Request) error {
	a.last = req
	buf := a.codec.Encode(req)
	written := 0
	for written < len(buf) {
		n, err := a.conn.Write(buf[written:])
		if err != nil {
			return errors.NewConnectionError("http1-write", a.conn.RemoteAddr().String(), err)
		}
		written += n
	}
	return nil
}

func (a *http1Adapter) DecodeResponse() (*message.Response, error) {
	return a.codec.Decode(a.conn)
}

// Config controls how a Connection is dialed and which codec defaults it
// carries.
type Config struct {
	Authority         string // host:port
	Protocol          message.Protocol
	ALPN              []string // offered ALPN protocols; must include "h2" to use HTTP/2
	DialTimeout       time.Duration
	SocketReadTimeout time.Duration
	// InitialRecvWindow overrides the HTTP/2 receive window advertised at
	// the preamble via WINDOW_UPDATE. 0 keeps the RFC default (65,535).
	// Ignored for HTTP/1.1 connections.
	InitialRecvWindow uint32
	BodyMemLimit      int64
	SNI               string
	DisableSNI        bool
	TLSConfig         *tls.Config // optional caller-supplied base config

	// VersionProfile picks the allowed TLS version range and matching
	// cipher suites when TLSConfig is not supplied. The zero value
	// resolves to tlsconfig.ProfileSecure.
	VersionProfile tlsconfig.VersionProfile
}

// Connection owns one TLS byte stream and one boxed codec, per the data
// model's "union of owned TLS stream, boxed codec, and host:port" shape.
type Connection struct {
	conn      *tls.Conn
	authority string
	codec     codec
	cfg       Config
	timer     *timing.Timer
}

// Dial opens a TCP connection to cfg.Authority, performs the TLS
// handshake with ALPN negotiation, and instantiates the codec matching
// cfg.Protocol. If cfg.Protocol is HTTP/2 and ALPN does not negotiate
// "h2", Dial returns a Protocol-kind error so the caller can downgrade
// and retry with HTTP/1.1.
func Dial(cfg Config) (*Connection, error) {
	if cfg.SocketReadTimeout == 0 {
		cfg.SocketReadTimeout = constants.DefaultReadTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = constants.DefaultConnTimeout
	}
	if cfg.BodyMemLimit == 0 {
		cfg.BodyMemLimit = constants.DefaultBodyMemLimit
	}
	if len(cfg.ALPN) == 0 {
		if cfg.Protocol == message.ProtoHTTP2 {
			cfg.ALPN = []string{"h2", "http/1.1"}
		} else {
			cfg.ALPN = []string{"http/1.1"}
		}
	}

	timer := timing.NewTimer()

	timer.StartTCP()
	tcpConn, err := net.DialTimeout("tcp", cfg.Authority, cfg.DialTimeout)
	timer.EndTCP()
	if err != nil {
		return nil, errors.NewConnectionError("dial", cfg.Authority, err)
	}

	tlsConf := baseTLSConfig(cfg)
	tlsConn := tls.Client(tcpConn, tlsConf)
	tlsConn.SetDeadline(time.Now().Add(cfg.DialTimeout))
	timer.StartTLS()
	err = tlsConn.Handshake()
	timer.EndTLS()
	if err != nil {
		tcpConn.Close()
		return nil, errors.NewConnectionError("tls-handshake", cfg.Authority, err)
	}
	tlsConn.SetDeadline(time.Time{})
	tlsConn.SetReadDeadline(time.Now().Add(cfg.SocketReadTimeout))

	c := &Connection{conn: tlsConn, authority: cfg.Authority, cfg: cfg, timer: timer}

	if cfg.Protocol == message.ProtoHTTP2 {
		negotiated := tlsConn.ConnectionState().NegotiatedProtocol
		if negotiated != "h2" {
			tlsConn.Close()
			return nil, errors.NewProtocolError("alpn", "peer did not negotiate h2", nil)
		}
		h2 := http2codec.New(tlsConn, cfg.BodyMemLimit, cfg.InitialRecvWindow)
		if err := h2.Handshake(); err != nil {
			tlsConn.Close()
			return nil, err
		}
		c.codec = h2
		return c, nil
	}

	c.codec = &http1Adapter{codec: http1codec.New(cfg.BodyMemLimit), conn: tlsConn}
	return c, nil
}

// baseTLSConfig derives the TLS server name by trimming the authority's
// trailing ":<port>", per the construction rule.
func baseTLSConfig(cfg Config) *tls.Config {
	var tlsConf *tls.Config
	if cfg.TLSConfig != nil {
		tlsConf = cfg.TLSConfig.Clone()
	} else {
		profile := cfg.VersionProfile
		if profile.Min == 0 && profile.Max == 0 {
			profile = tlsconfig.ProfileSecure
		}
		tlsConf = &tls.Config{}
		tlsconfig.ApplyVersionProfile(tlsConf, profile)
		tlsconfig.ApplyCipherSuites(tlsConf, profile.Min)
	}
	tlsConf.NextProtos = cfg.ALPN
	tlsconfig.ConfigureSNI(tlsConf, cfg.SNI, cfg.DisableSNI, stripPort(cfg.Authority))
	return tlsConf
}

func stripPort(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return host
}

// Kind reports which protocol this connection's codec implements.
func (c *Connection) Kind() message.Protocol { return c.codec.Kind() }

// Authority returns the host:port this connection is bound to.
func (c *Connection) Authority() string { return c.authority }

// SendRequest encodes req, writes it, and decodes the response, as one
// atomic operation. Any I/O error while writing surfaces as a connection
// error.
func (c *Connection) SendRequest(req *message.Request) (*message.Response, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.SocketReadTimeout))
	if err := c.codec.EncodeRequest(req); err != nil {
		return nil, err
	}
	c.timer.StartTTFB()
	resp, err := c.codec.DecodeResponse()
	c.timer.EndTTFB()
	return resp, err
}

// Metrics returns the connection's accumulated TCP/TLS/TTFB/total timing
// spans: connect spans are captured once at Dial, TTFB is refreshed on
// every SendRequest. No separate DNS span is recorded (DNSLookup stays
// zero; name resolution falls inside TCPConnect), and the TTFB span runs
// from the end of the request write to the end of the response decode,
// so it covers the whole response rather than only its first byte.
func (c *Connection) Metrics() timing.Metrics {
	return c.timer.GetMetrics()
}

// Ping sends an HTTP/2 PING frame and waits for the peer's ACK, returning
// the round-trip duration. Ping is only meaningful over HTTP/2; calling it
// on an HTTP/1.1 connection is a user error.
func (c *Connection) Ping() (time.Duration, error) {
	h2, ok := c.codec.(*http2codec.Codec)
	if !ok {
		return 0, errors.NewUserError("ping", "ping requires an HTTP/2 connection")
	}
	start := time.Now()
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.SocketReadTimeout))
	if err := h2.Ping(); err != nil {
		return 0, err
	}
	if _, err := h2.AwaitPingAck(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close tears down the underlying TLS/TCP connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// DowngradeProtocol rebuilds the connection with HTTP/1.1, closing the
// old socket and overwriting this Connection's state in place.
func (c *Connection) DowngradeProtocol() error {
	cfg := c.cfg
	cfg.Protocol = message.ProtoHTTP1
	cfg.ALPN = []string{"http/1.1"}
	fresh, err := Dial(cfg)
	if err != nil {
		return err
	}
	c.conn.Close()
	*c = *fresh
	return nil
}

// Reset rebuilds the connection with the same protocol, used to recover
// from a broken socket without changing protocol.
func (c *Connection) Reset() error {
	fresh, err := Dial(c.cfg)
	if err != nil {
		return err
	}
	c.conn.Close()
	*c = *fresh
	return nil
}
