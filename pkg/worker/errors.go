package worker

import "errors"

// Pool lifecycle and capacity sentinels
var (
	// ErrPoolNotStarted means Submit ran before Start
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped means the pool already shut down
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted means Start ran twice
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull means the bounded queue rejected the item
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor means NewPool got no processor function
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout means workers did not drain within the stop timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
