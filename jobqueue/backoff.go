package jobqueue

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/eventgate/errors"
)

// BackoffStrategy selects how retry delays grow between attempts
type BackoffStrategy string

const (
	// BackoffExponential doubles (times the multiplier) per attempt
	BackoffExponential BackoffStrategy = "exponential"
	// BackoffLinear grows by the initial delay per attempt
	BackoffLinear BackoffStrategy = "linear"
	// BackoffFixed waits the same delay every time
	BackoffFixed BackoffStrategy = "fixed"
)

// BackoffConfig defines per-job retry pacing
type BackoffConfig struct {
	Strategy     BackoffStrategy `json:"strategy"`
	InitialDelay time.Duration   `json:"initial_delay"`
	MaxDelay     time.Duration   `json:"max_delay"`

	// Multiplier applies to the exponential strategy only
	Multiplier float64 `json:"multiplier,omitempty"`
}

// DefaultBackoff returns exponential pacing suitable for webhook targets
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Strategy:     BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// Validate checks if the configuration is valid
func (c BackoffConfig) Validate() error {
	switch c.Strategy {
	case BackoffExponential, BackoffLinear, BackoffFixed:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("unknown backoff strategy %q", c.Strategy))
	}
	if c.InitialDelay <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("initial_delay must be positive, got %v", c.InitialDelay))
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("max_delay %v is below initial_delay %v", c.MaxDelay, c.InitialDelay))
	}
	if c.Strategy == BackoffExponential && c.Multiplier < 1.0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("multiplier must be at least 1.0, got %v", c.Multiplier))
	}
	return nil
}

// Delay returns the wait before the given retry. Attempt is the 1-based
// attempt that just failed, so the first retry gets attempt 1.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch c.Strategy {
	case BackoffLinear:
		delay = float64(c.InitialDelay) * float64(attempt)
	case BackoffFixed:
		delay = float64(c.InitialDelay)
	default:
		delay = float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	}

	if max := float64(c.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}
