package cache

import (
	"context"
	"testing"
	"time"

	"bitbin/pkg/domain"
)

func TestLRUSetGet(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatal(err)
	}
	c := &domain.Content{Key: "abc", ContentType: "text/plain", Content: []byte("payload")}
	l.Set(c, time.Minute)
	got := l.Get(context.Background(), "abc")
	if got == nil || got.ContentType != "text/plain" {
		t.Fatalf("Get = %+v", got)
	}
	if got.Content != nil {
		t.Error("cache retained the payload")
	}
	got.ContentType = "mutated"
	if again := l.Get(context.Background(), "abc"); again.ContentType != "text/plain" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestLRUExpiry(t *testing.T) {
	l, _ := NewLRU(2)
	l.Set(&domain.Content{Key: "k"}, -time.Second)
	if got := l.Get(context.Background(), "k"); got != nil {
		t.Errorf("expired entry returned: %+v", got)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d after expiry", l.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	l, _ := NewLRU(2)
	for _, k := range []string{"a", "b", "c"} {
		l.Set(&domain.Content{Key: k}, time.Minute)
	}
	if l.Get(context.Background(), "a") != nil {
		t.Error("oldest entry survived eviction")
	}
	l.Delete("b")
	if l.Get(context.Background(), "b") != nil {
		t.Error("deleted entry returned")
	}
}

func TestLRUCancelledContext(t *testing.T) {
	l, _ := NewLRU(1)
	l.Set(&domain.Content{Key: "k"}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if l.Get(ctx, "k") != nil {
		t.Error("Get ignored a cancelled context")
	}
}

func TestNewLRUBounds(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("size 0 accepted")
	}
	if _, err := NewLRU(maxSize + 1); err == nil {
		t.Error("oversized cache accepted")
	}
}
