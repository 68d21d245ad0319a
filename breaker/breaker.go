// Package breaker implements a circuit breaker for protecting downstream
// dependencies during partial outages.
//
// Each breaker tracks consecutive failures against a threshold. When the
// threshold is reached the breaker opens and callers fail fast instead of
// stacking timeouts on a dependency that is already struggling. After a
// configurable timeout the breaker admits a probe (half-open); a run of
// consecutive successes closes it again, any failure reopens it.
//
// State transitions happen lazily inside CanExecute and the Record methods.
// There is no background timer: an open breaker moves to half-open on the
// first availability check after the timeout elapses.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/eventgate/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all calls through (normal operation)
	StateClosed State = iota
	// StateOpen fails fast without calling the dependency
	StateOpen
	// StateHalfOpen admits probe calls to test recovery
	StateHalfOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker thresholds
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int `json:"failure_threshold"`

	// SuccessThreshold is the number of consecutive half-open successes that closes the breaker
	SuccessThreshold int `json:"success_threshold"`

	// Timeout is how long the breaker stays open before admitting a probe
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "breaker", "Validate",
			fmt.Sprintf("failure_threshold must be positive, got %d", c.FailureThreshold))
	}
	if c.SuccessThreshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "breaker", "Validate",
			fmt.Sprintf("success_threshold must be positive, got %d", c.SuccessThreshold))
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "breaker", "Validate",
			fmt.Sprintf("timeout must be positive, got %v", c.Timeout))
	}
	return nil
}

// StateChangeFunc is notified on every state transition.
// Called outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// Breaker is a single circuit breaker protecting one dependency
type Breaker struct {
	name   string
	config Config

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time

	onStateChange StateChangeFunc

	// now is replaceable for deterministic tests
	now func() time.Time
}

// Option configures a Breaker
type Option func(*Breaker)

// WithStateChange registers a callback invoked on every state transition
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New creates a circuit breaker for the named dependency
func New(name string, config Config, opts ...Option) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name returns the dependency name this breaker protects
func (b *Breaker) Name() string {
	return b.name
}

// CanExecute reports whether a call may proceed. While open, the first check
// after the timeout elapses transitions the breaker to half-open and admits
// the call as a probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		b.mu.Unlock()
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) >= b.config.Timeout {
			notify := b.transition(StateHalfOpen)
			b.mu.Unlock()
			notify()
			return true
		}
		b.mu.Unlock()
		return false
	default:
		b.mu.Unlock()
		return false
	}
}

// RecordSuccess records a successful call. In the closed state it resets the
// failure streak; in the half-open state enough consecutive successes close
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	notify := func() {}
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			notify = b.transition(StateClosed)
		}
	case StateOpen:
		// A success while open means the caller bypassed CanExecute.
		// Ignore it; recovery is only observed through half-open probes.
	}

	b.mu.Unlock()
	notify()
}

// RecordFailure records a failed call. In the closed state enough consecutive
// failures open the breaker; any half-open failure reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	notify := func() {}
	b.lastFailureAt = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			notify = b.transition(StateOpen)
		}
	case StateHalfOpen:
		notify = b.transition(StateOpen)
	case StateOpen:
		// Already open; the refreshed failure time extends the open window.
	}

	b.mu.Unlock()
	notify()
}

// State returns the current state without side effects
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts is a point-in-time snapshot of breaker counters
type Counts struct {
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
	LastFail  time.Time `json:"last_failure_at"`
}

// Snapshot returns the current counters
func (b *Breaker) Snapshot() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
		LastFail:  b.lastFailureAt,
	}
}

// transition moves to a new state and resets counters. Caller must hold mu.
// Returns the notification closure to invoke after releasing the lock.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return func() {}
	}
	b.state = to
	b.failures = 0
	b.successes = 0

	if b.onStateChange == nil {
		return func() {}
	}
	fn := b.onStateChange
	name := b.name
	return func() { fn(name, from, to) }
}
