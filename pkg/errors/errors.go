// Package errors provides the structured error type used across the
// client: every failure surfaced to a caller is a *Error carrying a Kind,
// the failing operation, optional context, and the underlying cause.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// Kind categorizes why an operation failed.
type Kind string

const (
	// KindUser marks misuse of the client API, such as pinging or
	// resetting a connection that was never established.
	KindUser Kind = "user"
	// KindClient marks an internal encode/conversion failure on our side.
	KindClient Kind = "client"
	// KindServer marks a malformed response from the peer: bad status
	// line, bad header, undecodable HPACK, invalid frame.
	KindServer Kind = "server"
	// KindConnection marks a transport or TLS failure, a GOAWAY or
	// RST_STREAM from the peer, or a DNS/name validation failure.
	KindConnection Kind = "connection"
	// KindProtocol marks an ALPN negotiation that did not yield "h2"
	// when HTTP/2 was requested. The caller may retry over HTTP/1.1.
	KindProtocol Kind = "protocol"
	// KindThread marks an inter-goroutine channel closed unexpectedly or
	// a worker goroutine panicked.
	KindThread Kind = "thread"
)

// Error is a structured error with enough context to classify and react
// to a failure without string-matching the message.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	Host      string
	Port      int
	Addr      string
	PeerCode  *http2.ErrCode // set for Connection errors carrying a peer GOAWAY/RST_STREAM code
	Timestamp time.Time
}

// Error implements the error interface. Format: [kind] op addr: message: cause
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Addr != "" {
		parts = append(parts, e.Addr)
	} else if e.Host != "" {
		if e.Port > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.Host, e.Port))
		} else {
			parts = append(parts, e.Host)
		}
	}

	errStr := strings.Join(parts, " ")
	if e.Message != "" {
		errStr += ": " + e.Message
	}
	if e.PeerCode != nil {
		errStr += fmt.Sprintf(" (peer code %s)", *e.PeerCode)
	}
	if e.Cause != nil {
		errStr += ": " + e.Cause.Error()
	}
	return errStr
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewUserError reports API misuse: acting on a client with no live cell.
func NewUserError(op, message string) *Error {
	return &Error{Kind: KindUser, Op: op, Message: message, Timestamp: time.Now()}
}

// NewClientError reports an internal encode/conversion failure.
func NewClientError(op, message string, cause error) *Error {
	return &Error{Kind: KindClient, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// NewIOError reports a local I/O failure (disk spill read/write) that is
// not itself a wire-protocol problem; classified as Client since it is our
// own resource, not something the peer did.
func NewIOError(op string, cause error) *Error {
	return &Error{Kind: KindClient, Op: op, Message: "I/O error", Cause: cause, Timestamp: time.Now()}
}

// NewServerError reports a malformed response from the peer.
func NewServerError(op, message string, cause error) *Error {
	return &Error{Kind: KindServer, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// NewConnectionError reports a transport/TLS/DNS failure with no peer
// error code attached.
func NewConnectionError(op, addr string, cause error) *Error {
	return &Error{Kind: KindConnection, Op: op, Message: "connection failure", Cause: cause, Addr: addr, Timestamp: time.Now()}
}

// NewPeerError reports a GOAWAY or RST_STREAM carrying the peer's HTTP/2
// error code, optionally with UTF-8 lossy debug data from the frame.
func NewPeerError(op, addr string, code http2.ErrCode, debugData string) *Error {
	c := code
	msg := "peer closed the connection"
	if debugData != "" {
		msg = fmt.Sprintf("peer closed the connection: %s", debugData)
	}
	return &Error{Kind: KindConnection, Op: op, Message: msg, Addr: addr, PeerCode: &c, Timestamp: time.Now()}
}

// NewProtocolError reports that ALPN did not negotiate "h2" when HTTP/2
// was requested. Callers should retry with HTTP/1.1 on this kind.
func NewProtocolError(op, message string, cause error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// NewThreadError reports a closed channel or worker panic.
func NewThreadError(op, message string) *Error {
	return &Error{Kind: KindThread, Op: op, Message: message, Timestamp: time.Now()}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsProtocolError reports whether err signals an ALPN/HTTP-2-refusal
// condition the caller may retry over HTTP/1.1.
func IsProtocolError(err error) bool {
	return IsKind(err, KindProtocol)
}

// IsTimeoutError reports whether err is a timeout: a *Error wrapping one,
// a net.Error with Timeout() true, or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return IsTimeoutError(e.Cause)
	}
	return false
}

// GetKind returns the Kind of err if it is a *Error, or "" otherwise.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
