package message

import "testing"

func TestHeadersSetReplacesCaseInsensitively(t *testing.T) {
	h := NewHeaders()
	h.Add("Content-Type", "text/plain")
	h.Set("content-type", "application/json")

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	v, ok := h.Get("CONTENT-TYPE")
	if !ok || v != "application/json" {
		t.Fatalf("Get() = %q, %v, want %q, true", v, ok, "application/json")
	}
}

func TestHeadersGetReturnsLastDuplicate(t *testing.T) {
	h := NewHeaders()
	h.Add("X-Thing", "first")
	h.Add("X-Thing", "second")

	v, ok := h.Get("x-thing")
	if !ok || v != "second" {
		t.Fatalf("Get() = %q, %v, want last occurrence %q", v, ok, "second")
	}
}

func TestHeadersEachPreservesInsertionOrder(t *testing.T) {
	h := NewHeaders()
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("A", "3")

	var got []string
	h.Each(func(name, value string) {
		got = append(got, name+"="+value)
	})
	want := []string{"A=1", "B=2", "A=3"}
	if len(got) != len(want) {
		t.Fatalf("Each() produced %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Each()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRequestDefaultsToHTTP2(t *testing.T) {
	req := NewRequest("GET", []byte("example.com"), []byte("/"), nil)
	if req.Protocol != ProtoHTTP2 {
		t.Fatalf("Protocol = %v, want ProtoHTTP2", req.Protocol)
	}
}

func TestRequestAuthorityDefaultsPort443(t *testing.T) {
	req := NewRequest("GET", []byte("example.com"), []byte("/"), nil)
	if got := req.Authority(); got != "example.com:443" {
		t.Fatalf("Authority() = %q, want %q", got, "example.com:443")
	}
}

func TestRequestAuthorityKeepsExplicitPort(t *testing.T) {
	req := NewRequest("GET", []byte("example.com:8443"), []byte("/"), nil)
	if got := req.Authority(); got != "example.com:8443" {
		t.Fatalf("Authority() = %q, want %q", got, "example.com:8443")
	}
}

func TestHostAuthorityDefaultsPort443(t *testing.T) {
	if got := HostAuthority("example.com"); got != "example.com:443" {
		t.Fatalf("HostAuthority() = %q, want %q", got, "example.com:443")
	}
}

func TestHostAuthorityKeepsExplicitPort(t *testing.T) {
	if got := HostAuthority("example.com:8443"); got != "example.com:8443" {
		t.Fatalf("HostAuthority() = %q, want %q", got, "example.com:8443")
	}
}

func TestResponseHeaderStringCaseInsensitive(t *testing.T) {
	resp := &Response{Headers: NewHeaders()}
	resp.Headers.Add("X-Request-Id", "abc123")
	if got := resp.HeaderString("x-request-id"); got != "abc123" {
		t.Fatalf("HeaderString() = %q, want %q", got, "abc123")
	}
	if got := resp.HeaderString("missing"); got != "" {
		t.Fatalf("HeaderString() for missing header = %q, want empty", got)
	}
}

func TestProtocolString(t *testing.T) {
	if ProtoHTTP2.String() != "HTTP/2" {
		t.Fatalf("ProtoHTTP2.String() = %q, want %q", ProtoHTTP2.String(), "HTTP/2")
	}
	if ProtoHTTP1.String() != "HTTP/1.1" {
		t.Fatalf("ProtoHTTP1.String() = %q, want %q", ProtoHTTP1.String(), "HTTP/1.1")
	}
}
