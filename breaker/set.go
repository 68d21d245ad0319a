package breaker

import (
	"sync"

	"github.com/c360/eventgate/metric"
)

// Set manages one circuit breaker per named dependency. Breakers are created
// lazily on first use with the set's config. Lookups after creation take only
// a read lock, so hot-path availability checks do not serialize on the map.
type Set struct {
	config  Config
	metrics *metric.Metrics // optional, nil disables state gauges

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// SetOption configures a Set
type SetOption func(*Set)

// WithMetrics exports breaker state transitions as a per-dependency gauge.
// A nil metrics value disables export.
func WithMetrics(m *metric.Metrics) SetOption {
	return func(s *Set) {
		s.metrics = m
	}
}

// NewSet creates a breaker set with shared thresholds
func NewSet(config Config, opts ...SetOption) (*Set, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Set{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the breaker for a dependency, creating it on first use
func (s *Set) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock
	if b, ok := s.breakers[name]; ok {
		return b
	}

	var opts []Option
	if s.metrics != nil {
		m := s.metrics
		opts = append(opts, WithStateChange(func(dep string, _, to State) {
			m.RecordBreakerState(dep, int(to))
		}))
	}

	// Config was validated in NewSet, so New cannot fail here
	b, _ = New(name, s.config, opts...)
	s.breakers[name] = b
	return b
}

// Names returns the dependencies with breakers in this set
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	return names
}

// Snapshots returns a point-in-time view of every breaker in the set
func (s *Set) Snapshots() map[string]Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Counts, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
