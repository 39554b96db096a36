// Package cache holds recently read content metadata in process memory.
package cache

import (
	"context"
	"sync"
	"time"

	"bitbin/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const maxSize = 100000

type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}
type item struct {
	info *domain.Content
	exp  time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > maxSize {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, errors.Wrap(err, "new lru")
	}
	return &LRU{c: c}, nil
}

// Get returns a copy of the cached metadata, or nil.
func (l *LRU) Get(ctx context.Context, key string) *domain.Content {
	if ctx.Err() != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(key)
	if !ok {
		return nil
	}
	if time.Now().After(it.exp) {
		l.c.Remove(key)
		return nil
	}
	return it.info.Info()
}

// Set caches c's metadata; the payload is never retained.
func (l *LRU) Set(c *domain.Content, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(c.Key, item{
		info: c.Info(),
		exp:  time.Now().Add(ttl),
	})
}
func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(key)
}
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Len()
}
