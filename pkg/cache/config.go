package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/eventgate/errors"
)

// Config describes a cache in configuration files. Durations accept both
// strings ("5m") and raw nanosecond integers.
type Config struct {
	// Enabled switches the cache on; a disabled cache misses every lookup
	Enabled bool `json:"enabled"`

	// TTL is how long each entry lives after its last Set
	TTL time.Duration `json:"ttl"`

	// CleanupInterval is how often the background sweep runs
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// StatsInterval is how often aggregate statistics refresh
	StatsInterval time.Duration `json:"stats_interval"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             5 * time.Minute,
		CleanupInterval: 1 * time.Minute,
		StatsInterval:   30 * time.Second,
	}
}

// Validate checks if the configuration is valid. A disabled cache needs no
// further validation.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("ttl must be positive, got %v", c.TTL))
	}
	if c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must be positive, got %v", c.CleanupInterval))
	}
	if c.StatsInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("stats_interval must be positive when specified, got %v", c.StatsInterval))
	}
	return nil
}

// NewFromConfig builds a cache from configuration. A disabled config yields
// a no-op cache so callers never branch on Enabled themselves.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation failed")
	}
	if !config.Enabled {
		return NewNoop[V](), nil
	}
	if config.StatsInterval > 0 {
		options = append(options, WithStatsInterval[V](config.StatsInterval))
	}
	return NewTTL[V](ctx, config.TTL, config.CleanupInterval, options...)
}

// NewTTL creates a TTL cache. The context bounds the background sweep's
// lifetime alongside Close.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	return newTTLCache[V](ctx, ttl, cleanupInterval, applyOptions(options...))
}

// NewNoop returns a cache that stores nothing and misses every Get
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }
func (c *noopCache[V]) Delete(_ string) (bool, error)   { return false, nil }
func (c *noopCache[V]) Clear() error                    { return nil }
func (c *noopCache[V]) Size() int                       { return 0 }
func (c *noopCache[V]) Keys() []string                  { return nil }
func (c *noopCache[V]) Stats() *Statistics              { return nil }
func (c *noopCache[V]) Close() error                    { return nil }

// UnmarshalJSON accepts duration strings alongside nanosecond integers for
// the duration fields
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := &struct {
		TTL             json.RawMessage `json:"ttl,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		StatsInterval   json.RawMessage `json:"stats_interval,omitempty"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.TTL, "ttl", &c.TTL},
		{aux.CleanupInterval, "cleanup_interval", &c.CleanupInterval},
		{aux.StatsInterval, "stats_interval", &c.StatsInterval},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		d, err := parseDurationField(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	// Older config files carry raw nanosecond integers
	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
