package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/eventgate/errors"
)

// item is one cached value with its expiry deadline
type item[V any] struct {
	value    V
	deadline time.Time
}

func (it *item[V]) expired(now time.Time) bool {
	return now.After(it.deadline)
}

// ttlCache is the Cache implementation behind New. Every entry gets the same
// TTL, counted from its last Set. Expired entries are dropped lazily on Get
// and in bulk by the background sweep; statistics are always collected,
// Prometheus export is opt-in.
type ttlCache[V any] struct {
	ttl           time.Duration
	sweepInterval time.Duration
	stats         *Statistics
	metrics       *cacheMetrics // nil unless a registry was configured
	evictFn       EvictCallback[V]
	statsInterval time.Duration

	mu    sync.RWMutex
	items map[string]*item[V]

	shutdown chan struct{}
	done     chan struct{}
}

func newTTLCache[V any](
	ctx context.Context, ttl, cleanupInterval time.Duration, opts *cacheOptions[V],
) (*ttlCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newTTLCache", "metrics registration")
		}
	}

	c := &ttlCache[V]{
		ttl:           ttl,
		sweepInterval: cleanupInterval,
		items:         make(map[string]*item[V]),
		stats:         NewStatistics(),
		metrics:       metrics,
		evictFn:       opts.evictCallback,
		statsInterval: opts.statsInterval,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go c.sweepLoop(ctx)
	return c, nil
}

// recordMiss, recordHit, and friends keep the always-on statistics and the
// optional Prometheus instruments in step with each other.

func (c *ttlCache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

func (c *ttlCache[V]) recordHit() {
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
}

func (c *ttlCache[V]) recordEvictions(n, size int) {
	for i := 0; i < n; i++ {
		c.stats.Eviction()
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		for i := 0; i < n; i++ {
			c.metrics.recordEviction()
		}
		c.metrics.updateSize(size)
	}
}

// Get returns the live value for key. An expired entry counts as a miss and
// is evicted on the spot.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.recordMiss()
		return zero, false
	}

	if it.expired(time.Now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed
		// the entry
		if cur, still := c.items[key]; still && cur.expired(time.Now()) {
			delete(c.items, key)
			size := len(c.items)
			if c.evictFn != nil {
				defer c.evictFn(key, cur.value)
			}
			c.recordEvictions(1, size)
		}
		c.mu.Unlock()

		c.recordMiss()
		return zero, false
	}

	c.recordHit()
	return it.value, true
}

// Set stores the value and restarts its TTL. Reports whether the entry is
// new.
func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, existed := c.items[key]
	c.items[key] = &item[V]{value: value, deadline: time.Now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}
	return !existed, nil
}

// Delete removes the entry and reports whether it existed
func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	it, existed := c.items[key]
	if existed {
		delete(c.items, key)
		if c.evictFn != nil {
			defer c.evictFn(key, it.value)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if existed {
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.recordDelete()
			c.metrics.updateSize(size)
		}
	}
	return existed, nil
}

// Clear drops every entry, running the evict callback for each
func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	if c.evictFn != nil {
		for key, it := range c.items {
			c.evictFn(key, it.value)
		}
	}
	c.items = make(map[string]*item[V])
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	return nil
}

// Size returns the number of entries, expired ones included until the next
// sweep
func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the unexpired keys
func (c *ttlCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for key, it := range c.items {
		if !it.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns the cache's statistics counters
func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep. Safe to call more than once.
func (c *ttlCache[V]) Close() error {
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache sweep to stop")
	}
}

func (c *ttlCache[V]) sweepLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep evicts every expired entry, firing callbacks outside the lock
func (c *ttlCache[V]) sweep() {
	now := time.Now()

	type evicted struct {
		key   string
		value V
	}
	var dropped []evicted

	c.mu.Lock()
	for key, it := range c.items {
		if it.expired(now) {
			dropped = append(dropped, evicted{key, it.value})
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	if c.evictFn != nil {
		for _, e := range dropped {
			c.evictFn(e.key, e.value)
		}
	}
	c.recordEvictions(len(dropped), size)
}
