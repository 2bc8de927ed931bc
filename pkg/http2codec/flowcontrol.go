package http2codec

// Window tracks the two 32-bit connection-level flow-control counters:
// how many DATA bytes we may still send, and how many bytes we've told
// the peer it may still send us. Both start at 65,535 per RFC 7540's
// default initial window.
type Window struct {
	send    int64
	receive int64
	initial int64
}

// NewWindow returns a window pair seeded at the given initial size.
func NewWindow(initial uint32) *Window {
	return &Window{send: int64(initial), receive: int64(initial), initial: int64(initial)}
}

// Send returns the current send window.
func (w *Window) Send() int64 { return w.send }

// Receive returns the current receive window.
func (w *Window) Receive() int64 { return w.receive }

// ConsumeSend decrements the send window by n bytes of outgoing DATA
// payload. It never lets the window go negative; callers must check
// CanSend before writing.
func (w *Window) ConsumeSend(n int64) {
	w.send -= n
	if w.send < 0 {
		w.send = 0
	}
}

// CanSend reports whether n bytes of DATA payload fit in the current send
// window.
func (w *Window) CanSend(n int64) bool {
	return n <= w.send
}

// GrowSend applies a WINDOW_UPDATE increment from the peer.
func (w *Window) GrowSend(increment int64) {
	w.send += increment
}

// SetReceiveInitial overrides the receive window's starting size and the
// base used by ReplenishDelta, for callers that advertise a different
// initial receive window than the connection's default send window.
func (w *Window) SetReceiveInitial(n uint32) {
	w.receive = int64(n)
	w.initial = int64(n)
}

// ConsumeReceive decrements the receive window by n bytes of incoming
// frame payload.
func (w *Window) ConsumeReceive(n int64) {
	w.receive -= n
}

// NeedsReplenish reports whether consuming n more bytes would exhaust the
// receive window, per the decode loop's "if length would exhaust the
// window, emit WINDOW_UPDATE first" rule.
func (w *Window) NeedsReplenish(n int64) bool {
	return n >= w.receive
}

// ReplenishDelta returns the WINDOW_UPDATE increment to send when the
// receive window needs topping up. The source computes initial*4 here;
// it is unclear whether this is an RFC-compliant heuristic (some stacks
// over-advertise to reduce WINDOW_UPDATE chatter) or simply masks
// under-replenishment elsewhere. Left as specified rather than "fixed".
func (w *Window) ReplenishDelta() int64 {
	return w.initial * 4
}

// Replenish grows the receive window by the standard delta.
func (w *Window) Replenish() {
	w.receive += w.ReplenishDelta()
}
