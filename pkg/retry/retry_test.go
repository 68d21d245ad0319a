package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test runtimes short
func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("revision conflict")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttemptBudget(t *testing.T) {
	cause := errors.New("still conflicting")
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	cause := errors.New("payload rejected")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return NonRetryable(cause)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Minute}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			calls++
			return errors.New("flaky")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "cancellation must interrupt the backoff sleep")
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestConfig_NextClampsAtCeiling(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2.0}
	assert.Equal(t, 20*time.Millisecond, cfg.next(10*time.Millisecond))
	assert.Equal(t, 40*time.Millisecond, cfg.next(20*time.Millisecond))
	assert.Equal(t, 40*time.Millisecond, cfg.next(40*time.Millisecond))
}

func TestDo_InvalidConfigRejected(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -time.Second}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond},
		func() error { return nil })
	assert.Error(t, err)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(),
		Config{MaxAttempts: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func() error {
			calls++
			return errors.New("nope")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	revision, err := DoWithResult(context.Background(), fastConfig(5), func() (uint64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("conflict")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), revision)

	_, err = DoWithResult(context.Background(), fastConfig(2), func() (uint64, error) {
		return 0, errors.New("always")
	})
	assert.Error(t, err)
}

func TestNonRetryable(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))
	assert.False(t, IsNonRetryable(errors.New("plain")))
	assert.False(t, IsNonRetryable(nil))

	cause := errors.New("bad input")
	marked := NonRetryable(cause)
	assert.True(t, IsNonRetryable(marked))
	assert.True(t, IsNonRetryable(fmt.Errorf("outer: %w", marked)), "the mark survives wrapping")
	assert.ErrorIs(t, marked, cause)
	assert.Contains(t, marked.Error(), "non-retryable")
}

func TestWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		jittered := withJitter(base)
		assert.GreaterOrEqual(t, jittered, base)
		assert.LessOrEqual(t, jittered, base+base/4)
	}
	assert.Equal(t, time.Duration(0), withJitter(0))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.True(t, cfg.AddJitter)
}
