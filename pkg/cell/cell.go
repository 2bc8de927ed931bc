// Package cell implements the worker-thread pool cell: the owned
// protocol connection runs on a dedicated worker goroutine driven by a
// request channel and a response channel, providing backpressure, read
// timeouts, liveness tracking, and a graceful join path so a caller can
// reclaim the connection to reconfigure or respawn it.
package cell

import (
	"sync"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/constants"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/errors"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/timing"
)

// Conn is the subset of *protoconn.Connection the worker loop needs:
// enough to send a request, downgrade on protocol mismatch, report its
// current protocol, and close. Declaring it here (rather than depending
// on the concrete type) keeps the worker loop testable with a fake.
type Conn interface {
	Kind() message.Protocol
	SendRequest(req *message.Request) (*message.Response, error)
	DowngradeProtocol() error
	Close() error
}

// Liveness is the cell's shared mutable state: ACTIVE while the worker
// goroutine is running its loop, DEAD once it has exited for any reason.
type Liveness int

const (
	Active Liveness = iota
	Dead
)

// DefaultIdleTimeout bounds how long the worker waits for a request before
// giving up and exiting; borrowed from the health-checker's own idle
// sweep interval.
const DefaultIdleTimeout = constants.HealthCheckInterval

// jobKind distinguishes the three things the worker loop can be asked to
// do without pulling every variant into the Conn interface.
type jobKind int

const (
	jobRequest jobKind = iota
	jobPing
	jobMetrics
)

type job struct {
	kind jobKind
	req  *message.Request
	resp chan result
}

type result struct {
	resp    *message.Response
	err     error
	pingRTT time.Duration
	metrics timing.Metrics
}

// pinger is satisfied by connections that support an HTTP/2-style
// liveness probe; asserted against at ping time rather than added to the
// Conn interface, since HTTP/1.1 connections have no ping of their own.
type pinger interface {
	Ping() (time.Duration, error)
}

// metricsSource is satisfied by connections that record connection and
// TTFB timing spans; asserted against at metrics time for the same reason
// pinger is.
type metricsSource interface {
	Metrics() timing.Metrics
}

// Cell owns a protoconn.Connection on a dedicated worker goroutine and
// exchanges requests/responses with callers via two effectively
// single-producer channels. mu guards only the liveness flag; the
// connection itself is exclusively owned by the worker goroutine while
// it runs.
type Cell struct {
	ingress chan job
	joined  chan Conn
	done    chan struct{}

	mu       sync.Mutex
	liveness Liveness

	idleTimeout time.Duration
}

// Spawn starts a worker goroutine around conn and returns the cell
// wrapping it. idleTimeout bounds how long the worker waits for a
// request before marking itself DEAD and exiting, returning ownership of
// conn through the join channel.
func Spawn(conn Conn, idleTimeout time.Duration) *Cell {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	c := &Cell{
		ingress:     make(chan job),
		joined:      make(chan Conn, 1),
		done:        make(chan struct{}),
		liveness:    Active,
		idleTimeout: idleTimeout,
	}
	go c.run(conn)
	return c
}

// run is the worker loop: await a request with the idle timeout; on
// timeout, mark DEAD and exit, handing the connection back through the
// join channel. On a received request, downgrade if needed, send it, and
// forward the result. Each job's response channel is buffered, so the
// send never blocks the worker even if the caller has stopped waiting;
// the worker does not detect that case and keeps serving.
func (c *Cell) run(conn Conn) {
	defer func() {
		c.setLiveness(Dead)
		c.joined <- conn
		close(c.done)
	}()

	timer := time.NewTimer(c.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case j, ok := <-c.ingress:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			if j.kind == jobPing {
				p, ok := conn.(pinger)
				if !ok {
					j.resp <- result{err: errors.NewUserError("cell-ping", "connection does not support ping")}
				} else {
					rtt, err := p.Ping()
					j.resp <- result{pingRTT: rtt, err: err}
				}
				timer.Reset(c.idleTimeout)
				continue
			}

			if j.kind == jobMetrics {
				m, ok := conn.(metricsSource)
				if !ok {
					j.resp <- result{err: errors.NewUserError("cell-metrics", "connection does not report timing metrics")}
				} else {
					j.resp <- result{metrics: m.Metrics()}
				}
				timer.Reset(c.idleTimeout)
				continue
			}

			if j.req.Protocol == message.ProtoHTTP1 && conn.Kind() == message.ProtoHTTP2 {
				if err := conn.DowngradeProtocol(); err != nil {
					j.resp <- result{err: err}
					return
				}
			}

			resp, err := conn.SendRequest(j.req)
			j.resp <- result{resp: resp, err: err}

			timer.Reset(c.idleTimeout)

		case <-timer.C:
			return
		}
	}
}

func (c *Cell) setLiveness(l Liveness) {
	c.mu.Lock()
	c.liveness = l
	c.mu.Unlock()
}

// IsActive reports whether the worker goroutine is still running.
func (c *Cell) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveness == Active
}

// IsDead reports whether the worker goroutine has exited.
func (c *Cell) IsDead() bool {
	return !c.IsActive()
}

// SendRequest enqueues req on the ingress channel and blocks for the
// matching response. It errors only if the worker has already exited.
func (c *Cell) SendRequest(req *message.Request) (*message.Response, error) {
	if c.IsDead() {
		return nil, errors.NewThreadError("cell-send", "worker has exited")
	}
	j := job{kind: jobRequest, req: req, resp: make(chan result, 1)}
	select {
	case c.ingress <- j:
	case <-c.done:
		return nil, errors.NewThreadError("cell-send", "worker exited before accepting request")
	}
	select {
	case r := <-j.resp:
		return r.resp, r.err
	case <-c.done:
		return nil, errors.NewThreadError("cell-send", "worker exited before responding")
	}
}

// Ping enqueues a liveness probe on the worker's connection and returns
// the measured round trip time. It fails with a user error if the
// connection does not support ping (HTTP/1.1 has none), and with a thread
// error if the worker has already exited.
func (c *Cell) Ping() (time.Duration, error) {
	if c.IsDead() {
		return 0, errors.NewThreadError("cell-ping", "worker has exited")
	}
	j := job{kind: jobPing, resp: make(chan result, 1)}
	select {
	case c.ingress <- j:
	case <-c.done:
		return 0, errors.NewThreadError("cell-ping", "worker exited before accepting ping")
	}
	select {
	case r := <-j.resp:
		return r.pingRTT, r.err
	case <-c.done:
		return 0, errors.NewThreadError("cell-ping", "worker exited before responding to ping")
	}
}

// Metrics requests the worker's current connection-timing snapshot
// (connect spans from dial, TTFB from the most recent request). It fails
// with a user error if the underlying connection does not record timing
// metrics, and with a thread error if the worker has already exited.
func (c *Cell) Metrics() (timing.Metrics, error) {
	if c.IsDead() {
		return timing.Metrics{}, errors.NewThreadError("cell-metrics", "worker has exited")
	}
	j := job{kind: jobMetrics, resp: make(chan result, 1)}
	select {
	case c.ingress <- j:
	case <-c.done:
		return timing.Metrics{}, errors.NewThreadError("cell-metrics", "worker exited before accepting request")
	}
	select {
	case r := <-j.resp:
		return r.metrics, r.err
	case <-c.done:
		return timing.Metrics{}, errors.NewThreadError("cell-metrics", "worker exited before responding")
	}
}

// Join stops the worker goroutine and blocks until it returns ownership
// of the underlying connection, reclaiming it for the caller — the
// "owning-thread-returns-resource" pattern rendered as a second channel
// carrying the recovered connection once the worker's main loop exits.
func (c *Cell) Join() (Conn, error) {
	select {
	case <-c.done:
		// Worker already exited on its own (idle timeout or a failed
		// downgrade); the connection is already waiting on joined.
	default:
		close(c.ingress)
		<-c.done
	}
	return <-c.joined, nil
}
