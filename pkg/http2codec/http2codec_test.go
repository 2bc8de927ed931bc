package http2codec

import (
	"net"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.HeaderTableSize != 4096 || !s.EnablePush || s.MaxConcurrentStreams != 100 ||
		s.InitialWindowSize != 65535 || s.MaxFrameSize != 16384 || s.MaxHeaderListSize != 4000 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestSettingsApplyUnknownIgnored(t *testing.T) {
	s := DefaultSettings()
	s.Apply(http2.SettingID(0xFF), 123)
	if s != DefaultSettings() {
		t.Fatal("unknown setting id must be ignored")
	}
}

func TestWindowNeverNegative(t *testing.T) {
	w := NewWindow(100)
	w.ConsumeSend(150)
	if w.Send() != 0 {
		t.Fatalf("send window went negative: %d", w.Send())
	}
}

func TestWindowCanSend(t *testing.T) {
	w := NewWindow(65535)
	if !w.CanSend(65535) {
		t.Fatal("should be able to send exactly the full window")
	}
	if w.CanSend(65536) {
		t.Fatal("should not be able to send more than the window")
	}
}

func TestWindowReplenishDelta(t *testing.T) {
	w := NewWindow(65535)
	if w.ReplenishDelta() != 65535*4 {
		t.Fatalf("ReplenishDelta() = %d, want %d", w.ReplenishDelta(), 65535*4)
	}
}

func TestWindowNeedsReplenish(t *testing.T) {
	w := NewWindow(1000)
	w.ConsumeReceive(990)
	if !w.NeedsReplenish(10) {
		t.Fatal("window nearly exhausted should need replenish")
	}
	if w.NeedsReplenish(1) {
		t.Fatal("window with headroom should not need replenish")
	}
}

func TestWindowSetReceiveInitialOverridesBaseAndReplenishDelta(t *testing.T) {
	w := NewWindow(65535)
	w.SetReceiveInitial(32768)
	if w.Receive() != 32768 {
		t.Fatalf("Receive() = %d, want 32768 after override", w.Receive())
	}
	if w.ReplenishDelta() != 32768*4 {
		t.Fatalf("ReplenishDelta() = %d, want %d", w.ReplenishDelta(), 32768*4)
	}
	// Send window, bound by the peer's SETTINGS rather than our own
	// advertised receive window, is unaffected.
	if !w.CanSend(65535) {
		t.Fatal("overriding the receive window must not shrink the send window")
	}
}

func TestNewAppliesInitialRecvWindowOverride(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	codec := New(clientConn, 0, 32768)
	if codec.window.Receive() != 32768 {
		t.Fatalf("window.Receive() = %d, want 32768", codec.window.Receive())
	}
	if codec.window.Send() != 65535 {
		t.Fatalf("window.Send() = %d, want the untouched RFC default 65535", codec.window.Send())
	}
}

func TestNewDefaultsInitialRecvWindowWhenZero(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	codec := New(clientConn, 0, 0)
	if codec.window.Receive() != 65535 {
		t.Fatalf("window.Receive() = %d, want the RFC default 65535", codec.window.Receive())
	}
}

func TestStreamLifecycle(t *testing.T) {
	st := NewStream(1)
	if st.State != StateOpen {
		t.Fatalf("new stream state = %v, want Open", st.State)
	}
	st.CloseOnEndStream(false)
	if st.Done() {
		t.Fatal("stream should not close without END_STREAM")
	}
	st.CloseOnEndStream(true)
	if !st.Done() {
		t.Fatal("stream should close on END_STREAM")
	}
}

func TestStreamReset(t *testing.T) {
	st := NewStream(3)
	st.MarkReset(http2.ErrCodeRefusedStream)
	if !st.Done() || st.ErrCode != http2.ErrCodeRefusedStream {
		t.Fatalf("stream not properly reset: %+v", st)
	}
}

func TestHPACKEncodeRequestPseudoHeaderOrder(t *testing.T) {
	c := newHPACKCodec(4096)
	req := message.NewRequest("GET", []byte("example.com"), []byte("/x"), []byte("a=1"))
	req.Headers.Add("X-Test", "value")

	block, err := c.encodeRequest(req)
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}

	dec := hpack.NewDecoder(4096, nil)
	fields, err := dec.DecodeFull(block)
	if err != nil {
		t.Fatalf("DecodeFull: %v", err)
	}

	wantOrder := []string{":method", ":authority", ":path", ":version", ":scheme", "x-test"}
	if len(fields) != len(wantOrder) {
		t.Fatalf("got %d fields, want %d: %+v", len(fields), len(wantOrder), fields)
	}
	for i, name := range wantOrder {
		if fields[i].Name != name {
			t.Errorf("field %d name = %q, want %q", i, fields[i].Name, name)
		}
	}
	if fields[2].Value != "/x?a=1" {
		t.Errorf(":path = %q, want %q", fields[2].Value, "/x?a=1")
	}
}

func TestHPACKRoundTrip(t *testing.T) {
	c := newHPACKCodec(4096)
	var buf []byte
	{
		var err error
		// Directly exercise encoder/decoder symmetry on a response-shaped
		// header set, mirroring a HEADERS frame body.
		enc := c.encoder
		c.encBuf.Reset()
		fields := []hpack.HeaderField{
			{Name: ":status", Value: "200"},
			{Name: "content-type", Value: "application/json"},
		}
		for _, f := range fields {
			if err = enc.WriteField(f); err != nil {
				t.Fatalf("WriteField: %v", err)
			}
		}
		buf = append(buf, c.encBuf.Bytes()...)
	}

	status, headers, err := decodeResponseHeaders(c, buf)
	if err != nil {
		t.Fatalf("decodeResponseHeaders: %v", err)
	}
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if v, ok := headers.Get("Content-Type"); !ok || v != "application/json" {
		t.Fatalf("content-type header = %q, %v", v, ok)
	}
}

func TestHandshakeAndEncodeDecode(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serveH2(serverConn)
	}()

	codec := New(clientConn, 4*1024*1024, 0)
	clientConn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := codec.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	req := message.NewRequest("GET", []byte("example.com"), []byte("/"), nil)
	if err := codec.EncodeRequest(req); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	resp, err := codec.DecodeResponse()
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("server: %v", err)
	}
}

// serveH2 plays the server half of one HTTP/2 request/response over conn:
// reads the preface, exchanges SETTINGS, reads the request HEADERS, and
// writes back a minimal 200 response. net.Pipe is unbuffered, so the
// server only writes while the client is waiting to read: it acks the
// client's SETTINGS after the request HEADERS, once the client has moved
// on to decoding the response.
func serveH2(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	preface := make([]byte, len(Preface))
	if _, err := ioReadFull(conn, preface); err != nil {
		return err
	}

	framer := http2.NewFramer(conn, conn)

	// First frame from client after the preface is its empty SETTINGS.
	f, err := framer.ReadFrame()
	if err != nil {
		return err
	}
	sf, ok := f.(*http2.SettingsFrame)
	ackClientSettings := ok && !sf.IsAck()

	if err := framer.WriteSettings(); err != nil {
		return err
	}

	// Client's ack of our SETTINGS.
	if f, err = framer.ReadFrame(); err != nil {
		return err
	}
	if _, ok := f.(*http2.SettingsFrame); !ok {
		return nil
	}

	// Client's initial WINDOW_UPDATE.
	if f, err = framer.ReadFrame(); err != nil {
		return err
	}

	// Client's HEADERS for the request.
	var streamID uint32
	for {
		f, err = framer.ReadFrame()
		if err != nil {
			return err
		}
		if hf, ok := f.(*http2.HeadersFrame); ok {
			streamID = hf.StreamID
			break
		}
	}

	if ackClientSettings {
		if err := framer.WriteSettingsAck(); err != nil {
			return err
		}
	}

	enc := newHPACKCodec(4096)
	enc.encBuf.Reset()
	enc.encoder.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
	block := append([]byte(nil), enc.encBuf.Bytes()...)

	return framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     true,
	})
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
