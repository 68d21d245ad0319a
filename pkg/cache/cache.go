// Package cache provides a generic, thread-safe TTL cache.
//
// Entries expire after a configurable time-to-live and are removed by a
// background cleanup goroutine. The cache is parameterized by value type V,
// has built-in statistics (always enabled for observability), and optional
// Prometheus metrics integration via functional options.
package cache

import (
	"github.com/c360/eventgate/errors"
)

// Cache is the operation set shared by the TTL cache and the no-op cache
// that stands in when caching is disabled.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present and unexpired
	Get(key string) (V, bool)

	// Set stores value under key. The bool reports whether a new entry was
	// created as opposed to an existing one being overwritten.
	Set(key string, value V) (bool, error)

	// Delete removes the entry for key and reports whether it existed
	Delete(key string) (bool, error)

	// Clear drops every entry
	Clear() error

	// Size returns the number of stored entries, expired ones included
	// until the next sweep
	Size() int

	// Keys lists the unexpired keys
	Keys() []string

	// Stats returns the cache's statistics
	Stats() *Statistics

	// Close stops the background sweep and releases resources
	Close() error
}

// EvictCallback runs for each entry removed by expiry or Clear
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
