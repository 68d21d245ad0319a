// Package errors provides standardized error handling patterns for EventGate components.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// at-least-once event delivery: Transient (temporary, retryable), Invalid
// (bad input, non-retryable), and Fatal (unrecoverable, stop processing).
//
// Classification drives the delivery pipeline's retry and dead-letter
// decisions. A transient webhook failure is retried with backoff; an invalid
// action configuration is dead-lettered immediately; a fatal error stops the
// component. No caller needs to match on error strings.
//
// # Error Classification
//
//   - Transient: network timeouts, connection issues, open circuit breakers,
//     temporary unavailability (retry recommended)
//   - Invalid: malformed payloads, protocol violations, bad action
//     configuration (do not retry)
//   - Fatal: missing or invalid configuration, unrecoverable states
//     (stop processing)
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // retryable
//	errors.WrapInvalid(err, "Component", "Method", "action")    // validation
//	errors.WrapFatal(err, "Component", "Method", "action")      // unrecoverable
//
// The generic Wrap() preserves the original error's classification.
//
// # Standard Error Variables
//
// Pre-defined error variables cover the delivery domain: protocol violations
// (ErrProtocolViolation, ErrInitTimeout, ErrSubscriberExists), pool capacity
// (ErrPoolExhausted, ErrQueueFull), resilience (ErrCircuitOpen,
// ErrMaxRetriesExceeded, ErrExecutionTimeout), and storage (ErrKeyNotFound,
// ErrStorageUnavailable). Use these instead of creating custom messages so
// that classification and errors.Is checks stay consistent.
//
// # Retries
//
// This package only classifies; backoff loops live in pkg/retry and the
// delivery queue's per-job retry policy. Callers gate retries on
// errors.IsTransient:
//
//	if err := operation(); err != nil && errors.IsTransient(err) {
//	    // schedule another attempt
//	}
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error variables
// are immutable and safe for concurrent access.
package errors
