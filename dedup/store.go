package dedup

import (
	"context"
	"time"

	"github.com/c360/eventgate/pkg/cache"
)

// Store is the key-value contract the deduplicator runs against. Keys are
// marked with a bounded TTL; an expired key must look identical to one that
// was never marked.
type Store interface {
	// IsDuplicate reports whether the key has been marked as processed
	IsDuplicate(ctx context.Context, key string) (bool, error)

	// MarkProcessed marks the key as processed for the store's TTL
	MarkProcessed(ctx context.Context, key string) error

	// Remove clears the key so the event can be processed again
	Remove(ctx context.Context, key string) error

	// Close releases store resources
	Close() error
}

// MemoryStore is an in-process Store backed by a TTL cache. Suitable for a
// single instance; use the NATS-backed store when multiple instances share
// an event source.
type MemoryStore struct {
	cache cache.Cache[time.Time]
}

// NewMemoryStore creates a memory store whose marks expire after ttl.
// The context bounds the background cleanup goroutine.
func NewMemoryStore(ctx context.Context, ttl time.Duration, opts ...cache.Option[time.Time]) (*MemoryStore, error) {
	cleanup := ttl / 10
	if cleanup < time.Second {
		cleanup = time.Second
	}
	c, err := cache.NewTTL[time.Time](ctx, ttl, cleanup, opts...)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c}, nil
}

// IsDuplicate reports whether the key is marked and unexpired
func (s *MemoryStore) IsDuplicate(_ context.Context, key string) (bool, error) {
	_, found := s.cache.Get(key)
	return found, nil
}

// MarkProcessed marks the key until the cache TTL expires it
func (s *MemoryStore) MarkProcessed(_ context.Context, key string) error {
	_, err := s.cache.Set(key, time.Now().UTC())
	return err
}

// Remove clears the key
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	_, err := s.cache.Delete(key)
	return err
}

// Close stops the cache's background cleanup
func (s *MemoryStore) Close() error {
	return s.cache.Close()
}
