package encoding

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"bitbin/pkg/domain"

	"github.com/klauspost/compress/gzip"
)

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := Compress(data, gzip.DefaultCompression)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return out
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		stored, accept string
		want           bool
	}{
		{"gzip", "gzip", true},
		{"gzip", "deflate, gzip;q=0.5", true},
		{"gzip", "GZIP", true},
		{"gzip", "*", true},
		{"br", "*;q=0.1", true},
		{"identity", "", true},
		{"identity", "br", true},
		{"gzip", "", false},
		{"gzip", "identity", false},
		{"br", "gzip", false},
		{"gzip, br", "gzip", false},
		{"gzip, br", "br, gzip", true},
	}
	for _, tt := range tests {
		if got := Accepts(tt.stored, tt.accept); got != tt.want {
			t.Errorf("Accepts(%q, %q) = %v, want %v", tt.stored, tt.accept, got, tt.want)
		}
	}
}

func TestNegotiateExactMatch(t *testing.T) {
	body := gz(t, []byte("hello"))
	d, err := Negotiate(context.Background(), "gzip", "gzip", body, 0, nil)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if d.Transcoded || d.ContentEncoding != "gzip" || !bytes.Equal(d.Body, body) {
		t.Errorf("unexpected decision %+v", d)
	}
}

func TestNegotiateWildcard(t *testing.T) {
	body := []byte("opaque brotli bytes")
	d, err := Negotiate(context.Background(), "br", "*", body, 0, nil)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if d.Transcoded || d.ContentEncoding != "br" || !bytes.Equal(d.Body, body) {
		t.Errorf("unexpected decision %+v", d)
	}
}

func TestNegotiateTranscodesGzip(t *testing.T) {
	plain := []byte(strings.Repeat("bitbin ", 100))
	body := gz(t, plain)
	for _, accept := range []string{"", "identity"} {
		d, err := Negotiate(context.Background(), "gzip", accept, body, 0, nil)
		if err != nil {
			t.Fatalf("Negotiate(%q): %v", accept, err)
		}
		if !d.Transcoded || d.ContentEncoding != domain.EncodingIdentity {
			t.Errorf("Negotiate(%q) = %+v, want identity transcode", accept, d)
		}
		if !bytes.Equal(d.Body, plain) {
			t.Errorf("Negotiate(%q) body mismatch", accept)
		}
	}
}

func TestNegotiateNotAcceptable(t *testing.T) {
	_, err := Negotiate(context.Background(), "br", "gzip", []byte("x"), 0, nil)
	if !errors.Is(err, domain.ErrNotAcceptable) {
		t.Fatalf("got %v, want ErrNotAcceptable", err)
	}
	if !strings.Contains(err.Error(), `"br"`) || !strings.Contains(err.Error(), `"gzip"`) {
		t.Errorf("message %q should name both encodings", err.Error())
	}
	if domain.Status(err) != 406 {
		t.Errorf("status = %d, want 406", domain.Status(err))
	}
}

func TestNegotiateUsesRunner(t *testing.T) {
	var calls int
	run := func(ctx context.Context, fn func() error) error {
		calls++
		return fn()
	}
	if _, err := Negotiate(context.Background(), "gzip", "", gz(t, []byte("a")), 0, run); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("runner called %d times, want 1", calls)
	}
	if _, err := Negotiate(context.Background(), "gzip", "gzip", []byte("a"), 0, run); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Error("runner used for a pass-through")
	}
}

func TestNegotiateCorruptGzip(t *testing.T) {
	if _, err := Negotiate(context.Background(), "gzip", "", []byte("not gzip"), 0, nil); err == nil {
		t.Fatal("expected error for corrupt gzip body")
	}
}

func TestDecompressLimit(t *testing.T) {
	body := gz(t, make([]byte, 4096))
	if _, err := Decompress(body, 1024); !errors.Is(err, ErrTranscodeTooLarge) {
		t.Errorf("got %v, want ErrTranscodeTooLarge", err)
	}
	out, err := Decompress(body, 4096)
	if err != nil || len(out) != 4096 {
		t.Errorf("Decompress at limit = %d bytes, %v", len(out), err)
	}
}

func TestParseContentEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"gzip", []string{"gzip"}},
		{"x-gzip", []string{"gzip"}},
		{" GZIP ; q=1 , br", []string{"gzip", "br"}},
		{",,", []string{}},
	}
	for _, tt := range tests {
		if got := ParseContentEncoding(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseContentEncoding(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
