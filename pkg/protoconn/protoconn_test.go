package protoconn

import (
	"bufio"
	"crypto/tls"
	"net"
	"testing"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/http1codec"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/message"
	"github.com/WhileEndless/go-rawhttp/v2/pkg/tlsconfig"
)

func TestStripPort(t *testing.T) {
	cases := map[string]string{
		"example.com:443": "example.com",
		"example.com":     "example.com",
		"10.0.0.1:8443":   "10.0.0.1",
	}
	for in, want := range cases {
		if got := stripPort(in); got != want {
			t.Errorf("stripPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBaseTLSConfigSetsSNIFromAuthority(t *testing.T) {
	cfg := Config{Authority: "example.com:443", ALPN: []string{"http/1.1"}}
	tlsConf := baseTLSConfig(cfg)
	if tlsConf.ServerName != "example.com" {
		t.Errorf("ServerName = %q, want %q", tlsConf.ServerName, "example.com")
	}
	if len(tlsConf.NextProtos) != 1 || tlsConf.NextProtos[0] != "http/1.1" {
		t.Errorf("NextProtos = %v, want [http/1.1]", tlsConf.NextProtos)
	}
}

func TestBaseTLSConfigDisableSNI(t *testing.T) {
	cfg := Config{Authority: "example.com:443", DisableSNI: true}
	tlsConf := baseTLSConfig(cfg)
	if tlsConf.ServerName != "" {
		t.Errorf("ServerName = %q, want empty when SNI disabled", tlsConf.ServerName)
	}
}

func TestBaseTLSConfigDefaultsToSecureProfile(t *testing.T) {
	cfg := Config{Authority: "example.com:443"}
	tlsConf := baseTLSConfig(cfg)
	if tlsConf.MinVersion != tls.VersionTLS12 || tlsConf.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("MinVersion/MaxVersion = %x/%x, want TLS 1.2/TLS 1.3 (ProfileSecure default)", tlsConf.MinVersion, tlsConf.MaxVersion)
	}
}

func TestBaseTLSConfigHonorsExplicitProfile(t *testing.T) {
	cfg := Config{Authority: "example.com:443", VersionProfile: tlsconfig.ProfileModern}
	tlsConf := baseTLSConfig(cfg)
	if tlsConf.MinVersion != tls.VersionTLS13 || tlsConf.MaxVersion != tls.VersionTLS13 {
		t.Fatalf("MinVersion/MaxVersion = %x/%x, want TLS 1.3 only (ProfileModern)", tlsConf.MinVersion, tlsConf.MaxVersion)
	}
}

func TestHTTP1AdapterRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	adapter := &http1Adapter{codec: http1codec.New(0), conn: clientConn}

	req := message.NewRequest("GET", []byte("example.com"), []byte("/"), nil)
	req.Protocol = message.ProtoHTTP1

	done := make(chan error, 1)
	go func() {
		done <- adapter.EncodeRequest(req)
	}()

	br := bufio.NewReader(serverConn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("server read request line: %v", err)
	}
	if line != "GET / HTTP/1.1\r\n" {
		t.Fatalf("request line = %q, want %q", line, "GET / HTTP/1.1\r\n")
	}
	// Drain remaining headers up to the blank line.
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("server read headers: %v", err)
		}
		if l == "\r\n" {
			break
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	go func() {
		serverConn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		serverConn.Close()
	}()

	if adapter.Kind() != message.ProtoHTTP1 {
		t.Fatalf("Kind() = %v, want ProtoHTTP1", adapter.Kind())
	}

	resp, err := adapter.DecodeResponse()
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
}
