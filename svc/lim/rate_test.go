package lim

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (f *fakeCounter) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.counts[key] >= limit {
		return f.counts[key] + 1, nil
	}
	f.counts[key]++
	return f.counts[key], nil
}

func newLimiter(t *testing.T, rpm, burst, conservative int, c Counter, proxies ...string) *Limiter {
	t.Helper()
	l, err := New(rpm, burst, conservative, c, proxies)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

func TestLocalBurst(t *testing.T) {
	l := newLimiter(t, 60, 3, 1, nil)
	r := httptest.NewRequest("GET", "/abc", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	for i := 0; i < 3; i++ {
		if res := l.Check(r, "get"); !res.Allowed {
			t.Fatalf("request %d rejected", i)
		}
	}
	if res := l.Check(r, "get"); res.Allowed {
		t.Error("request over burst allowed")
	}
	if res := l.Check(r, "post"); !res.Allowed {
		t.Error("separate endpoint shares the bucket")
	}
	other := httptest.NewRequest("GET", "/abc", nil)
	other.RemoteAddr = "192.0.2.2:1234"
	if res := l.Check(other, "get"); !res.Allowed {
		t.Error("separate client shares the bucket")
	}
}

func TestSharedCounter(t *testing.T) {
	c := &fakeCounter{counts: map[string]int{}}
	l := newLimiter(t, 2, 10, 1, c)
	r := httptest.NewRequest("POST", "/post", nil)
	for i := 0; i < 2; i++ {
		if res := l.Check(r, "post"); !res.Allowed {
			t.Fatalf("request %d rejected", i)
		}
	}
	res := l.Check(r, "post")
	if res.Allowed || res.Remaining != 0 || res.Limit != 2 {
		t.Errorf("third request = %+v", res)
	}
}

func TestSharedCounterFallback(t *testing.T) {
	c := &fakeCounter{err: errors.New("redis down")}
	l := newLimiter(t, 100, 100, 1, c)
	r := httptest.NewRequest("POST", "/post", nil)
	if res := l.Check(r, "post"); !res.Allowed {
		t.Fatal("first fallback request rejected")
	}
	if res := l.Check(r, "post"); res.Allowed {
		t.Error("fallback did not apply the conservative limit")
	}
}

func TestAdaptiveModeHalvesLimit(t *testing.T) {
	c := &fakeCounter{counts: map[string]int{}}
	l := newLimiter(t, 10, 10, 1, c)
	l.TriggerAdaptiveMode()
	res := l.Check(httptest.NewRequest("GET", "/x", nil), "get")
	if res.Limit != 5 {
		t.Errorf("Limit = %d, want 5", res.Limit)
	}
}

func TestClientIP(t *testing.T) {
	l := newLimiter(t, 60, 1, 1, nil, "10.0.0.0/8", "203.0.113.7")
	tests := []struct {
		remote, xff, want string
	}{
		{"198.51.100.1:80", "1.2.3.4", "198.51.100.1"},
		{"10.1.1.1:80", "", "10.1.1.1"},
		{"10.1.1.1:80", "1.2.3.4", "1.2.3.4"},
		{"10.1.1.1:80", "1.2.3.4, 203.0.113.7, 10.2.2.2", "1.2.3.4"},
		{"203.0.113.7:80", "9.9.9.9, bogus", "9.9.9.9"},
		{"10.1.1.1:80", "10.3.3.3", "10.1.1.1"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		if tt.xff != "" {
			r.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := l.ClientIP(r); got != tt.want {
			t.Errorf("ClientIP(%s, %q) = %s, want %s", tt.remote, tt.xff, got, tt.want)
		}
	}
}

func TestNewRejectsBadProxy(t *testing.T) {
	if _, err := New(60, 1, 1, nil, []string{"not-an-ip"}); err == nil {
		t.Error("expected error")
	}
	if _, err := New(60, 1, 1, nil, []string{"10.0.0.0/99"}); err == nil {
		t.Error("expected error")
	}
}

func TestAnomalyDetector(t *testing.T) {
	var fired bool
	d := NewAnomalyDetector(func() { fired = true })
	for i := 0; i < 20; i++ {
		d.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		d.RecordError()
	}
	if rate := d.ErrorRate(); rate != 25 {
		t.Errorf("ErrorRate = %v, want 25", rate)
	}
	d.AdvanceWindow()
	if !fired {
		t.Error("anomaly callback not called")
	}
}
