package byteutil

import "testing"

func TestTrimNull(t *testing.T) {
	got := TrimNull([]byte("ab\x00cd\x00"))
	if string(got) != "abcd" {
		t.Fatalf("TrimNull() = %q, want %q", got, "abcd")
	}
}

func TestTrimCRLFEnd(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"chunk\r\n", "chunk"},
		{"chunk\r\n0", "chunk"},
		{"chunk", "chunk"},
		{"", ""},
	}
	for _, c := range cases {
		if got := string(TrimCRLFEnd([]byte(c.in))); got != c.want {
			t.Errorf("TrimCRLFEnd(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReadLine(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	line, next, ok := ReadLine(buf, 0)
	if !ok || string(line) != "GET / HTTP/1.1" {
		t.Fatalf("ReadLine() = %q, %v", line, ok)
	}
	line, next, ok = ReadLine(buf, next)
	if !ok || string(line) != "Host: example.com" {
		t.Fatalf("ReadLine() = %q, %v", line, ok)
	}
	line, _, ok = ReadLine(buf, next)
	if !ok || len(line) != 0 {
		t.Fatalf("ReadLine() blank line = %q, %v", line, ok)
	}
}

func TestReadLineExhausted(t *testing.T) {
	if _, _, ok := ReadLine([]byte("partial"), 0); ok {
		t.Fatal("ReadLine() on truncated input should report not-ok")
	}
}

func TestReadToSpace(t *testing.T) {
	tok, next, ok := ReadToSpace([]byte("GET / HTTP/1.1"), 0)
	if !ok || string(tok) != "GET" {
		t.Fatalf("ReadToSpace() = %q, %v", tok, ok)
	}
	tok, _, ok = ReadToSpace([]byte("GET / HTTP/1.1")[next:], 0)
	if !ok || string(tok) != "/" {
		t.Fatalf("ReadToSpace() = %q, %v", tok, ok)
	}
}

func TestIsHex(t *testing.T) {
	cases := map[string]bool{
		"1a2B": true,
		"":      false,
		"xyz":   false,
		"deadBEEF": true,
	}
	for in, want := range cases {
		if got := IsHex([]byte(in)); got != want {
			t.Errorf("IsHex(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestUTF8Lossy(t *testing.T) {
	if got := UTF8Lossy([]byte("hello")); got != "hello" {
		t.Fatalf("UTF8Lossy() = %q", got)
	}
	got := UTF8Lossy([]byte{'a', 0xff, 'b'})
	if got != "a�b" {
		t.Fatalf("UTF8Lossy() = %q", got)
	}
}
