package http2codec

import (
	"bytes"

	"golang.org/x/net/http2"
)

// State is a stream's position in the per-request state machine.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateHalfClosed
	StateClosed
)

// Stream is the per-request logical channel: a client-assigned odd stream
// id, accumulating buffers for the compressed header block and the body,
// and a termination error code once the peer resets it.
type Stream struct {
	ID         uint32
	State      State
	HeaderBuf  bytes.Buffer
	Body       bytes.Buffer
	ErrCode    http2.ErrCode
	Reset      bool
}

// NewStream opens a stream at id in the Idle state, immediately advanced
// to Open since the client opens it by sending HEADERS.
func NewStream(id uint32) *Stream {
	return &Stream{ID: id, State: StateOpen}
}

// CloseOnEndStream transitions the stream to Closed when a frame carries
// the END_STREAM flag, per the data model's termination rule.
func (s *Stream) CloseOnEndStream(endStream bool) {
	if endStream {
		s.State = StateClosed
	}
}

// MarkReset records an RST_STREAM from the peer, closing the stream with
// its error code.
func (s *Stream) MarkReset(code http2.ErrCode) {
	s.Reset = true
	s.ErrCode = code
	s.State = StateClosed
}

// Done reports whether the stream has reached Closed.
func (s *Stream) Done() bool {
	return s.State == StateClosed
}
