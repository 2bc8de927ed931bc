package http2codec

import (
	"golang.org/x/net/http2"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/constants"
)

// Settings holds the six connection parameters persisted from the peer's
// SETTINGS frames, applied in receipt order.
type Settings struct {
	HeaderTableSize   uint32
	EnablePush        bool
	MaxConcurrentStreams uint32
	InitialWindowSize uint32
	MaxFrameSize      uint32
	MaxHeaderListSize uint32
}

// DefaultSettings returns the connection defaults before any SETTINGS
// frame has been received from the peer.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      constants.DefaultHpackTableSize,
		EnablePush:           true,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    4000,
	}
}

// Apply updates s from a single SETTINGS frame entry. Unknown parameters
// are ignored, matching RFC 7540's forward-compatibility rule.
func (s *Settings) Apply(id http2.SettingID, value uint32) {
	switch id {
	case http2.SettingHeaderTableSize:
		s.HeaderTableSize = value
	case http2.SettingEnablePush:
		s.EnablePush = value != 0
	case http2.SettingMaxConcurrentStreams:
		s.MaxConcurrentStreams = value
	case http2.SettingInitialWindowSize:
		s.InitialWindowSize = value
	case http2.SettingMaxFrameSize:
		s.MaxFrameSize = value
	case http2.SettingMaxHeaderListSize:
		s.MaxHeaderListSize = value
	}
}
