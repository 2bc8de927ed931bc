// Package rawclient implements the client facade: the single entry point
// that owns at most one worker-thread cell at a time, keyed by the
// authority of the last request it served, and applies the one recovery
// policy the client supports — falling back from HTTP/2 to HTTP/1.1 at
// connection-construction time when ALPN does not negotiate h2.
package rawclient

import (
	"sync"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/cell"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/protoconn"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/timing"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/tlsconfig"
)

// Config controls how the client dials new connections. It is copied into
// each protoconn.Config built for a fresh cell.
type Config struct {
	Protocol          message.Protocol
	DialTimeout       time.Duration
	SocketReadTimeout time.Duration
	IdleTimeout       time.Duration
	BodyMemLimit      int64
	SNI               string
	DisableSNI        bool

	// InitialRecvWindow overrides the HTTP/2 receive window advertised at
	// the preamble via WINDOW_UPDATE. 0 keeps the RFC default (65,535).
	// Ignored for HTTP/1.1 connections.
	InitialRecvWindow uint32

	// VersionProfile picks the allowed TLS version range and matching
	// cipher suites. The zero value resolves to tlsconfig.ProfileSecure.
	VersionProfile tlsconfig.VersionProfile
}

// Client holds at most one live cell at a time, keyed by the authority
// (host:port) of the connection it wraps. A request against a different
// authority than the current cell tears down the old cell and dials a
// fresh one.
type Client struct {
	cfg Config

	// dial is overridable in tests so the facade's cell-management logic
	// can be exercised without a real TLS socket.
	dial func(authority string, proto message.Protocol) (cell.Conn, error)

	cellMu    sync.Mutex
	current   *cell.Cell
	authority string
}

// New returns a Client with the given dial configuration. A zero Config
// uses the protoconn and cell package defaults.
func New(cfg Config) *Client {
	c := &Client{cfg: cfg}
	c.dial = c.dialProtoconn
	return c
}

// Connect preallocates a cell for host (a bare host or host:port,
// defaulting to port 443), dialing with the client's configured default
// protocol and falling back to HTTP/1.1 on an ALPN refusal exactly as
// Execute's construction path does. A later Execute against the same
// host reuses the cell instead of dialing again.
func (c *Client) Connect(host string) error {
	c.cellMu.Lock()
	defer c.cellMu.Unlock()

	return c.replace(message.HostAuthority(host), c.cfg.Protocol)
}

// Execute sends req, dialing or redialing the underlying connection as
// needed: a fresh cell is spawned when none exists yet or when req targets
// a different authority than the current cell. If the request asks for
// HTTP/2 and the peer's ALPN negotiation refuses h2, Execute retries once
// with the connection constructed for HTTP/1.1 instead — the client's
// single recovery policy.
func (c *Client) Execute(req *message.Request) (*message.Response, error) {
	c.cellMu.Lock()
	defer c.cellMu.Unlock()

	authority := req.Authority()
	if c.current == nil || c.authority != authority {
		if err := c.replace(authority, req.Protocol); err != nil {
			return nil, err
		}
	}

	resp, err := c.current.SendRequest(req)
	if err == nil {
		return resp, nil
	}
	if !c.current.IsDead() {
		return nil, err
	}

	// The worker exited on its own (idle timeout raced the request, or a
	// failed protocol downgrade); reclaim the connection and redial once
	// before surfacing the failure.
	c.current.Join()
	c.current = nil
	if err := c.replace(authority, req.Protocol); err != nil {
		return nil, err
	}
	return c.current.SendRequest(req)
}

// replace tears down the current cell, if any, and dials + spawns a
// fresh one for authority. If proto is HTTP/2 and the peer's ALPN
// negotiation refuses h2, it retries once with HTTP/1.1.
func (c *Client) replace(authority string, proto message.Protocol) error {
	if c.current != nil {
		c.current.Join()
	}
	conn, err := c.dial(authority, proto)
	if err != nil {
		if proto == message.ProtoHTTP2 && errors.IsProtocolError(err) {
			conn, err = c.dial(authority, message.ProtoHTTP1)
		}
		if err != nil {
			return err
		}
	}
	c.current = cell.Spawn(conn, c.idleTimeout())
	c.authority = authority
	return nil
}

// Ping issues an HTTP/2 PING against the current connection and returns
// the round trip time. It is a user error to call Ping with no live
// connection or against an HTTP/1.1 connection.
func (c *Client) Ping() (time.Duration, error) {
	c.cellMu.Lock()
	defer c.cellMu.Unlock()

	if c.current == nil {
		return 0, errors.NewUserError("ping", "no connection established")
	}
	return c.current.Ping()
}

// Metrics returns the timing spans recorded for the current connection
// (see protoconn.Connection.Metrics for what each span covers). It is a
// user error to call Metrics with no live connection.
func (c *Client) Metrics() (timing.Metrics, error) {
	c.cellMu.Lock()
	defer c.cellMu.Unlock()

	if c.current == nil {
		return timing.Metrics{}, errors.NewUserError("metrics", "no connection established")
	}
	return c.current.Metrics()
}

// ResetConnection tears down and rebuilds the current connection without
// changing protocol or authority, discarding any connection-level state.
func (c *Client) ResetConnection() error {
	c.cellMu.Lock()
	defer c.cellMu.Unlock()

	if c.current == nil {
		return errors.NewUserError("reset", "no connection established")
	}
	proto := message.ProtoHTTP2
	if conn, err := c.current.Join(); err == nil {
		proto = conn.Kind()
		conn.Close()
	}
	c.current = nil
	return c.replace(c.authority, proto)
}

// Close tears down the current connection, if any.
func (c *Client) Close() error {
	c.cellMu.Lock()
	defer c.cellMu.Unlock()

	if c.current == nil {
		return nil
	}
	conn, err := c.current.Join()
	c.current = nil
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) idleTimeout() time.Duration {
	if c.cfg.IdleTimeout > 0 {
		return c.cfg.IdleTimeout
	}
	return cell.DefaultIdleTimeout
}

func (c *Client) dialProtoconn(authority string, proto message.Protocol) (cell.Conn, error) {
	pc := protoconn.Config{
		Authority:         authority,
		Protocol:          proto,
		DialTimeout:       c.cfg.DialTimeout,
		SocketReadTimeout: c.cfg.SocketReadTimeout,
		BodyMemLimit:      c.cfg.BodyMemLimit,
		SNI:               c.cfg.SNI,
		DisableSNI:        c.cfg.DisableSNI,
		InitialRecvWindow: c.cfg.InitialRecvWindow,
		VersionProfile:    c.cfg.VersionProfile,
	}
	return protoconn.Dial(pc)
}
