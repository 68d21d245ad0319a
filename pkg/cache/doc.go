// Package cache provides a thread-safe, generic TTL cache with built-in
// statistics and optional Prometheus metrics integration.
//
// # Overview
//
// Entries expire after a configurable time-to-live. A background goroutine
// sweeps expired entries at a configurable interval, and reads also evict
// lazily, so expired values are never returned even between sweeps.
//
// The in-memory duplicate-suppression store is the primary consumer: event
// keys are recorded with the suppression window as TTL and age out on their
// own.
//
// # Quick Start
//
//	cache, err := cache.NewTTL[string](ctx, 5*time.Minute, 1*time.Minute)
//	if err != nil {
//		return err
//	}
//	defer cache.Close()
//
//	cache.Set("event:abc", "processed")
//	_, seen := cache.Get("event:abc")
//
// With metrics and an eviction callback:
//
//	cache, err := cache.NewTTL[string](ctx, ttl, sweep,
//		cache.WithMetrics[string](registry, "dedup"),
//		cache.WithEvictionCallback[string](func(key string, _ string) {
//			slog.Debug("entry expired", "key", key)
//		}),
//	)
//
// # Configuration
//
// Config supports JSON with duration strings ("5m", "1h") or integer
// nanoseconds, and NewFromConfig returns a no-op cache when disabled so
// callers need no branching.
//
// # Observability
//
// Statistics (hits, misses, sets, deletes, evictions, size) are always
// collected and available via Stats(). Passing a metric.MetricsRegistry via
// WithMetrics additionally exports them as Prometheus metrics under the
// eventgate_cache_* names with a component label.
//
// # Thread Safety
//
// All operations are safe for concurrent use. Eviction callbacks are invoked
// outside the cache lock.
package cache
