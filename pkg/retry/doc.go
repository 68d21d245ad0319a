// Package retry runs an operation with bounded exponential backoff.
//
// The key-value store uses it for compare-and-swap update loops, where a
// revision conflict from a concurrent writer is worth another read but a
// failure from the caller's own update function is not:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    next, err := apply(current)
//	    if err != nil {
//	        return retry.NonRetryable(err)
//	    }
//	    return store.Update(ctx, key, next, revision)
//	})
//
// Delays grow by the configured multiplier up to MaxDelay, optionally
// stretched by up to 25% jitter. Cancellation is honored between attempts
// and during backoff. The package deliberately stops there: no circuit
// breaking and no error classification, both of which live with the callers.
package retry
