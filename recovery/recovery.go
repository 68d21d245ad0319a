// Package recovery coordinates retry backoff, circuit breaking, and fallback
// selection for calls to downstream dependencies.
//
// A Strategy computes capped exponential backoff with bounded jitter and
// decides when to stop retrying. Calls run through Execute, which consults a
// per-dependency circuit breaker before invoking the work function; rejected
// calls fail fast with errors.ErrCircuitOpen so callers can distinguish "the
// dependency is known bad" from an ordinary failure and consult the fallback
// registry for an alternate.
package recovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/eventgate/breaker"
	"github.com/c360/eventgate/errors"
)

// Config defines backoff parameters for retrying a failing dependency
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int `json:"max_retries"`

	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration `json:"initial_backoff"`

	// MaxBackoff caps the computed delay
	MaxBackoff time.Duration `json:"max_backoff"`

	// Multiplier is the exponential growth factor between attempts
	Multiplier float64 `json:"multiplier"`
}

// DefaultConfig returns production backoff defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "recovery", "Validate",
			fmt.Sprintf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.InitialBackoff <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "recovery", "Validate",
			fmt.Sprintf("initial_backoff must be positive, got %v", c.InitialBackoff))
	}
	if c.MaxBackoff < c.InitialBackoff {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "recovery", "Validate",
			fmt.Sprintf("max_backoff %v is below initial_backoff %v", c.MaxBackoff, c.InitialBackoff))
	}
	if c.Multiplier < 1.0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "recovery", "Validate",
			fmt.Sprintf("multiplier must be at least 1.0, got %v", c.Multiplier))
	}
	return nil
}

// Strategy computes retry decisions and runs guarded calls. The backoff
// calculation is a pure function of (attempt, config); sleeping between
// attempts is the caller's concern, which keeps scheduling testable.
type Strategy struct {
	config    Config
	breakers  *breaker.Set
	fallbacks *FallbackRegistry

	// rand guarded by mu; the global source would contend across jobs
	mu   sync.Mutex
	rand *rand.Rand
}

// Option configures a Strategy
type Option func(*Strategy)

// WithFallbacks attaches a fallback registry consulted by AvailableFallback
func WithFallbacks(reg *FallbackRegistry) Option {
	return func(s *Strategy) {
		s.fallbacks = reg
	}
}

// New creates a Strategy with per-dependency breakers from the given set
func New(config Config, breakers *breaker.Set, opts ...Option) (*Strategy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if breakers == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "recovery", "New",
			"breaker set is required")
	}

	s := &Strategy{
		config:    config,
		breakers:  breakers,
		fallbacks: NewFallbackRegistry(),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ShouldRetry reports whether another attempt is allowed. Attempts are
// zero-indexed, so attempt 0 is the first retry.
func (s *Strategy) ShouldRetry(attempt int) bool {
	return attempt < s.config.MaxRetries
}

// Delay returns the backoff before the given retry attempt:
// min(initial * multiplier^attempt, max) with 10 percent jitter either way.
func (s *Strategy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(s.config.InitialBackoff) * math.Pow(s.config.Multiplier, float64(attempt))
	capped := math.Min(base, float64(s.config.MaxBackoff))

	jitterRange := int64(capped / 10)
	if jitterRange <= 0 {
		return time.Duration(capped)
	}

	s.mu.Lock()
	jitter := s.rand.Int63n(2*jitterRange+1) - jitterRange
	s.mu.Unlock()

	return time.Duration(int64(capped) + jitter)
}

// Execute runs fn against the named dependency through its circuit breaker.
// If the breaker rejects the call it returns errors.ErrCircuitOpen without
// invoking fn. The outcome of fn is recorded on the breaker either way.
func (s *Strategy) Execute(ctx context.Context, service string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "recovery", "Execute",
			fmt.Sprintf("context done before calling %s", service))
	}

	b := s.breakers.Get(service)
	if !b.CanExecute() {
		return errors.Wrap(errors.ErrCircuitOpen, "recovery", "Execute",
			fmt.Sprintf("circuit open for %s", service))
	}

	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// AvailableFallback returns the alternate for a primary dependency, or ""
// when no fallback is registered or the alternate is itself unavailable.
func (s *Strategy) AvailableFallback(service string) string {
	return s.fallbacks.Available(service)
}

// Breakers exposes the underlying breaker set for observability
func (s *Strategy) Breakers() *breaker.Set {
	return s.breakers
}

// FallbackRegistry maps a primary dependency to an alternate and tracks
// whether each alternate is currently usable. An alternate that is marked
// unavailable is never offered, even when registered.
type FallbackRegistry struct {
	mu        sync.RWMutex
	fallbacks map[string]string
	available map[string]bool
}

// NewFallbackRegistry creates an empty registry
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{
		fallbacks: make(map[string]string),
		available: make(map[string]bool),
	}
}

// Register maps a primary dependency to its alternate. The alternate starts
// out available.
func (r *FallbackRegistry) Register(primary, alternate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[primary] = alternate
	if _, ok := r.available[alternate]; !ok {
		r.available[alternate] = true
	}
}

// SetAvailable marks a dependency usable or not as a fallback target
func (r *FallbackRegistry) SetAvailable(service string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available[service] = available
}

// Available returns the alternate for a primary, or "" if none is registered
// or the alternate is marked unavailable
func (r *FallbackRegistry) Available(primary string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alternate, ok := r.fallbacks[primary]
	if !ok {
		return ""
	}
	if !r.available[alternate] {
		return ""
	}
	return alternate
}
