package cache

import (
	"time"

	"github.com/c360/eventgate/metric"
)

// Option configures a cache at construction time
type Option[V any] func(*cacheOptions[V])

// cacheOptions is the resolved configuration. Statistics are always
// collected; only the Prometheus export and the evict callback are optional.
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	statsInterval time.Duration
}

// WithMetrics exports the cache's statistics as Prometheus metrics under the
// given component prefix. A nil registry or empty prefix leaves the export
// disabled.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets the function called with each evicted key and
// value, whether the eviction came from expiry, Delete, or Clear
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithStatsInterval sets how often aggregate statistics refresh. Non-positive
// intervals are ignored.
func WithStatsInterval[V any](interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		if interval > 0 {
			opts.statsInterval = interval
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		statsInterval: 30 * time.Second,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
