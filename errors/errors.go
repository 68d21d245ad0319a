// Package errors provides classified errors for the delivery pipeline.
// Every failure is transient, invalid, or fatal; the class decides whether
// the caller retries, dead-letters, or shuts down.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass partitions failures by how the pipeline should react
type ErrorClass int

const (
	// ErrorTransient failures may succeed on retry
	ErrorTransient ErrorClass = iota
	// ErrorInvalid failures come from bad input or configuration; retrying
	// cannot fix them
	ErrorInvalid
	// ErrorFatal failures should stop the component
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels for common conditions. Components wrap these with Wrap* so the
// classification travels with the error.
var (
	// Component lifecycle
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connections and protocol
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrInitTimeout       = errors.New("connection init timeout")
	ErrUnauthorized      = errors.New("connection not authorized")

	// Subscriptions
	ErrSubscriberExists     = errors.New("subscriber already exists")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionFailed   = errors.New("subscription failed")

	// Capacity
	ErrPoolExhausted = errors.New("connection pool at capacity")
	ErrQueueFull     = errors.New("queue full")
	ErrRateLimited   = errors.New("rate limited")
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Data
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrInvalidAction = errors.New("invalid action configuration")

	// Storage
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Retry and breaker
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrExecutionTimeout   = errors.New("execution timeout exceeded")
)

// sentinelClasses maps known sentinels to their class. Sentinels not listed
// here fall through to the message heuristics.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrStorageUnavailable, ErrorTransient},
	{ErrRateLimited, ErrorTransient},
	{ErrCircuitOpen, ErrorTransient},
	{ErrExecutionTimeout, ErrorTransient},
	{ErrQueueFull, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},

	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrInvalidAction, ErrorInvalid},
	{ErrProtocolViolation, ErrorInvalid},

	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrQuotaExceeded, ErrorFatal},
}

// Message heuristics for errors arriving from outside the pipeline. Fatal
// patterns are checked before transient ones.
var (
	fatalPatterns     = []string{"fatal", "panic", "invalid config", "missing config", "out of memory"}
	transientPatterns = []string{"timeout", "connection", "network", "temporary", "unavailable", "busy", "retry"}
)

// ClassifiedError carries an error's class and origin alongside the wrapped
// cause
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf resolves an error's class: explicit classification wins, then the
// sentinel table, then message heuristics. Reports ok=false when nothing
// matched.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}

	for _, sc := range sentinelClasses {
		if errors.Is(err, sc.err) {
			return sc.class, true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorFatal, true
		}
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorTransient, true
		}
	}
	return ErrorTransient, false
}

// IsTransient reports whether the error is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorTransient
}

// IsInvalid reports whether the error came from bad input or configuration
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// IsFatal reports whether the error should stop the component
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// Classify returns the error's class. Unknown errors default to transient so
// the pipeline errs on the side of retrying.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	class, _ := classOf(err)
	return class
}

// Wrap adds "component.method: action failed" context without classifying
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}
