package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_NilProcessorPanics(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[delivery](1, 16, nil)
	})
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	p := NewPool(1, 16, func(context.Context, delivery) error { return nil })
	err := p.Submit(delivery{event: "evt-1"})
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 16, func(context.Context, delivery) error { return nil })
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(time.Second))

	err := p.Submit(delivery{event: "evt-1"})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_DoubleStart(t *testing.T) {
	p := NewPool(1, 16, func(context.Context, delivery) error { return nil })
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(time.Second) })

	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)
}

func TestPool_QueueFullDropsWork(t *testing.T) {
	// One worker parked on the first item leaves a queue of size 1; the
	// second submit fills it and the third must be rejected
	block := make(chan struct{})
	p := NewPool(1, 1, func(_ context.Context, _ delivery) error {
		<-block
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		close(block)
		_ = p.Stop(time.Second)
	})

	require.NoError(t, p.Submit(delivery{event: "evt-1"}))
	require.Eventually(t, func() bool {
		return p.Stats().QueueDepth == 0
	}, time.Second, time.Millisecond, "worker must pick up the first item")
	require.NoError(t, p.Submit(delivery{event: "evt-2"}))

	err := p.Submit(delivery{event: "evt-3"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, 16, func(_ context.Context, _ delivery) error {
		<-block
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(delivery{event: "evt-1"}))

	err := p.Stop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)

	// Let the parked worker drain before the test exits
	close(block)
	assert.Eventually(t, func() bool {
		return p.Stats().Processed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPool_StopWithoutStart(t *testing.T) {
	p := NewPool(1, 16, func(context.Context, delivery) error { return nil })
	assert.NoError(t, p.Stop(time.Second))
}

func TestPool_StopIsIdempotent(t *testing.T) {
	p := NewPool(1, 16, func(context.Context, delivery) error { return nil })
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(time.Second))
	assert.NoError(t, p.Stop(time.Second))
}
