// Package storage persists encoded content records. Every backend is
// write-once: a key, once saved, is never overwritten.
package storage

import (
	"context"
	"sort"

	"bitbin/pkg/domain"
)

type Backend interface {
	ID() string
	// Init is idempotent and runs before every write.
	Init(ctx context.Context) error
	Save(ctx context.Context, c *domain.Content) error
	// Get loads a record. skipContent is a hint; a backend may still
	// return the payload.
	Get(ctx context.Context, key string, skipContent bool) (*domain.Content, error)
	// ListAll returns the metadata of every readable record sorted by key.
	ListAll(ctx context.Context) ([]*domain.Content, error)
}

// listConcurrency bounds the per-key loads issued by ListAll.
const listConcurrency = 16

func sortByKey(items []*domain.Content) []*domain.Content {
	out := items[:0]
	for _, c := range items {
		if c != nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
