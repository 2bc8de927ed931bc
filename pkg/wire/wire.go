// Package wire holds the few HTTP/2 frame-level invariants shared by the
// codec's preamble and steady-state decode loop, built directly on
// golang.org/x/net/http2's frame types rather than reimplementing framing.
package wire

import "golang.org/x/net/http2"

// streamRequired lists frame kinds that MUST carry a non-zero stream id.
var streamRequired = map[http2.FrameType]bool{
	http2.FrameData:         true,
	http2.FrameHeaders:      true,
	http2.FrameContinuation: true,
	http2.FramePriority:     true,
	http2.FrameRSTStream:    true,
	http2.FramePushPromise:  true,
}

// streamForbidden lists frame kinds that MUST carry a zero stream id.
var streamForbidden = map[http2.FrameType]bool{
	http2.FrameSettings: true,
	http2.FrameGoAway:   true,
	http2.FramePing:     true,
}

// Malformed reports whether a frame header violates the stream-id parity
// rule for its kind: DATA/HEADERS/CONTINUATION/PRIORITY/RST_STREAM/
// PUSH_PROMISE require a nonzero stream id; SETTINGS/GOAWAY/PING require a
// zero stream id. Unknown frame kinds are never malformed by this check.
func Malformed(h http2.FrameHeader) bool {
	if streamRequired[h.Type] && h.StreamID == 0 {
		return true
	}
	if streamForbidden[h.Type] && h.StreamID != 0 {
		return true
	}
	return false
}

// NextStreamID returns the next client-initiated odd stream id after cur,
// per the "monotonically odd, starts at 1" rule. Call with 0 to get the
// first id.
func NextStreamID(cur uint32) uint32 {
	if cur == 0 {
		return 1
	}
	return cur + 2
}
