package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360/eventgate/actions"
)

// State is the job lifecycle state. Completed, Failed, and DeadLettered are
// terminal.
type State int

const (
	// StatePending means the job is waiting for a worker (or for its retry time)
	StatePending State = iota
	// StateRunning means an attempt is in flight
	StateRunning
	// StateCompleted means an attempt succeeded
	StateCompleted
	// StateFailed means every attempt was used up
	StateFailed
	// StateDeadLettered means the job was routed to the dead letter sink
	// without exhausting retries
	StateDeadLettered
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDeadLettered
}

// AttemptRecord is one entry in a job's attempt history
type AttemptRecord struct {
	Number    int       `json:"number"`
	StartedAt time.Time `json:"started_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Job is one asynchronous action execution. The queue is the only mutator
// after creation; everyone else sees snapshots.
type Job struct {
	ID      string         `json:"id"`
	EventID string         `json:"event_id"`
	Action  actions.Action `json:"action"`
	Payload []byte         `json:"payload"`

	// Attempt is 1-based and never exceeds MaxAttempts
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	Backoff BackoffConfig `json:"backoff"`

	State     State           `json:"state"`
	LastError string          `json:"last_error,omitempty"`
	RetryAt   time.Time       `json:"retry_at"`
	Attempts  []AttemptRecord `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`

	// done resolves once when the job reaches a terminal state: nil for
	// completed, the terminal error otherwise. One waiter per job.
	done chan error
}

// newJob builds a pending job for one action binding
func newJob(eventID string, action actions.Action, payload []byte, maxAttempts int, backoff BackoffConfig) *Job {
	return &Job{
		ID:          uuid.New().String(),
		EventID:     eventID,
		Action:      action,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		State:       StatePending,
		CreatedAt:   time.Now().UTC(),
		done:        make(chan error, 1),
	}
}

// settle publishes the job's terminal outcome to its waiter. Each terminal
// transition happens exactly once, so the buffered send never blocks.
func (j *Job) settle(err error) {
	j.done <- err
}

// wait blocks until the job settles or the context ends. A nil return means
// the job completed; anything else leaves the triggering event unmarked so
// stream redelivery gives the action a fresh attempt budget.
func (j *Job) wait(ctx context.Context) error {
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markRunning records the start of an attempt
func (j *Job) markRunning(now time.Time) {
	j.State = StateRunning
	j.Attempts = append(j.Attempts, AttemptRecord{
		Number:    j.Attempt,
		StartedAt: now,
	})
}

// markCompleted finishes the current attempt successfully
func (j *Job) markCompleted() {
	j.State = StateCompleted
	j.lastAttempt().Success = true
}

// markFailed records a failed attempt. If attempts remain the job returns to
// pending with a retry time; otherwise it is terminally failed.
func (j *Job) markFailed(err error, retryAt time.Time) {
	j.LastError = err.Error()
	j.lastAttempt().Error = err.Error()

	if j.Attempt < j.MaxAttempts {
		j.Attempt++
		j.State = StatePending
		j.RetryAt = retryAt
		return
	}
	j.State = StateFailed
}

// markDeadLettered routes the job to the dead letter path, bypassing any
// remaining attempts
func (j *Job) markDeadLettered(reason string) {
	j.LastError = reason
	if rec := j.lastAttempt(); rec != nil {
		rec.Error = reason
	}
	j.State = StateDeadLettered
}

// lastAttempt returns the in-progress attempt record, or nil before the
// first attempt starts
func (j *Job) lastAttempt() *AttemptRecord {
	if len(j.Attempts) == 0 {
		return nil
	}
	return &j.Attempts[len(j.Attempts)-1]
}

// snapshot returns a copy safe to hand outside the queue
func (j *Job) snapshot() Job {
	copied := *j
	copied.Attempts = append([]AttemptRecord(nil), j.Attempts...)
	return copied
}
