// Package jobqueue executes event-triggered actions asynchronously with
// bounded retries, backoff, and a dead letter path.
//
// Each matched action binding becomes a Job. Jobs run on a worker pool so
// one slow webhook target never blocks unrelated work, and every execution
// goes through the recovery strategy's per-dependency circuit breaker.
// Transient failures reschedule the job with its backoff strategy until the
// attempt budget runs out; invalid configuration and permanently rejected
// requests skip the retry loop and go straight to the dead letter sink with
// the full attempt history.
//
// Submission and completion are decoupled: Submit returns as soon as the job
// is enqueued, along with a wait function that resolves with the job's
// terminal outcome. The publish path waits on it so an event is only marked
// as processed after every triggered action actually succeeded.
package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/eventgate/actions"
	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/event"
	"github.com/c360/eventgate/metric"
	"github.com/c360/eventgate/pkg/worker"
	"github.com/c360/eventgate/recovery"
)

// DeadLetterSink receives terminally dead-lettered jobs for operational
// diagnosis. Implementations get a snapshot with the complete attempt
// history and must not block.
type DeadLetterSink interface {
	DeadLettered(job Job)
}

// Config defines queue sizing and retry policy
type Config struct {
	// Workers is the number of concurrent job executors
	Workers int `json:"workers"`

	// QueueSize bounds the submission buffer; submissions beyond it fail
	QueueSize int `json:"queue_size"`

	// MaxAttempts is the per-job attempt budget, including the first attempt
	MaxAttempts int `json:"max_attempts"`

	// ExecutionTimeout bounds one attempt; timing out counts as a failure
	ExecutionTimeout time.Duration `json:"execution_timeout"`

	// Backoff is the default retry pacing for submitted jobs
	Backoff BackoffConfig `json:"backoff"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		QueueSize:        1024,
		MaxAttempts:      3,
		ExecutionTimeout: 30 * time.Second,
		Backoff:          DefaultBackoff(),
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("workers must be positive, got %d", c.Workers))
	}
	if c.QueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.MaxAttempts <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("max_attempts must be positive, got %d", c.MaxAttempts))
	}
	if c.ExecutionTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jobqueue", "Validate",
			fmt.Sprintf("execution_timeout must be positive, got %v", c.ExecutionTimeout))
	}
	return c.Backoff.Validate()
}

// QueueStats is a point-in-time view of queue activity
type QueueStats struct {
	Pending      int   `json:"pending"`
	Running      int   `json:"running"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
	Retries      int64 `json:"retries"`
}

// Queue schedules and executes jobs
type Queue struct {
	config   Config
	registry *actions.Registry
	strategy *recovery.Strategy
	sink     DeadLetterSink
	logger   *slog.Logger
	metrics  *metric.Metrics // optional, nil disables counters

	pool *worker.Pool[*Job]

	mu           sync.Mutex
	jobs         map[string]*Job
	timers       map[string]*time.Timer
	completed    int64
	failed       int64
	deadLettered int64
	retries      int64

	lifecycleMu sync.Mutex
	started     bool

	// now is replaceable for deterministic tests
	now func() time.Time
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger; defaults to slog.Default
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithMetrics enables per-action job counters
func WithMetrics(m *metric.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithDeadLetterSink sets where dead-lettered jobs are reported
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(q *Queue) {
		q.sink = sink
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a queue executing actions from the registry through the
// recovery strategy's circuit breakers
func New(config Config, registry *actions.Registry, strategy *recovery.Strategy, opts ...Option) (*Queue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Queue", "New",
			"action registry is required")
	}
	if strategy == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Queue", "New",
			"recovery strategy is required")
	}

	q := &Queue{
		config:   config,
		registry: registry,
		strategy: strategy,
		logger:   slog.Default(),
		jobs:     make(map[string]*Job),
		timers:   make(map[string]*time.Timer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.pool = worker.NewPool(config.Workers, config.QueueSize, q.execute)
	return q, nil
}

// Start launches the worker pool
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.started {
		return errors.Wrap(errors.ErrAlreadyStarted, "Queue", "Start",
			"queue already running")
	}
	if err := q.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Queue", "Start", "failed to start worker pool")
	}
	q.started = true
	return nil
}

// Stop cancels pending retries and drains the worker pool. Jobs already
// running finish their current attempt.
func (q *Queue) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if !q.started {
		return errors.Wrap(errors.ErrNotStarted, "Queue", "Stop",
			"queue not running")
	}

	q.mu.Lock()
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	if err := q.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Queue", "Stop", "failed to stop worker pool")
	}
	q.started = false
	return nil
}

// Submit creates a job for the action and hands it to the pool. Invalid
// actions are dead-lettered immediately instead of entering the retry loop.
// A full queue is an error so the caller can leave the event unmarked and
// rely on redelivery.
//
// The returned wait function resolves once the job reaches a terminal state
// and is nil only for a completed job. Callers that mark events as processed
// must wait; a job that dies after enqueue would otherwise be suppressed by
// the dedup mark and its side effect lost. Implements the event bus
// ActionSink.
func (q *Queue) Submit(_ context.Context, evt event.Event, action actions.Action) (func(context.Context) error, error) {
	job := newJob(evt.ID, action, evt.Data, q.config.MaxAttempts, q.config.Backoff)

	if err := action.Validate(); err != nil {
		q.deadLetter(job, fmt.Sprintf("invalid action configuration: %v", err))
		return job.wait, nil
	}

	if err := q.enqueue(job); err != nil {
		return nil, err
	}
	return job.wait, nil
}

// enqueue registers the job and pushes it onto the pool
func (q *Queue) enqueue(job *Job) error {
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	if err := q.pool.Submit(job); err != nil {
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return errors.WrapTransient(err, "Queue", "Submit",
			fmt.Sprintf("queue full, rejecting %s job for event %s", job.Action.Kind, job.EventID))
	}

	if q.metrics != nil {
		q.metrics.RecordJob(string(job.Action.Kind), StatePending.String())
	}
	return nil
}

// execute runs one attempt of a job on a pool worker
func (q *Queue) execute(ctx context.Context, job *Job) error {
	q.mu.Lock()
	job.markRunning(q.now())
	q.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, q.config.ExecutionTimeout)
	err := q.strategy.Execute(attemptCtx, string(job.Action.Kind), func(callCtx context.Context) error {
		return q.registry.Execute(callCtx, job.Action, job.Payload)
	})
	cancel()

	switch {
	case err == nil:
		q.complete(job)
	case errors.IsInvalid(err):
		q.deadLetter(job, err.Error())
	default:
		q.retryOrFail(job, err)
	}

	// Job outcomes are handled here; the pool must not double-count errors
	return nil
}

// complete finishes a job successfully
func (q *Queue) complete(job *Job) {
	q.mu.Lock()
	job.markCompleted()
	delete(q.jobs, job.ID)
	q.completed++
	q.mu.Unlock()

	job.settle(nil)

	if q.metrics != nil {
		q.metrics.RecordJob(string(job.Action.Kind), StateCompleted.String())
	}
	q.logger.Debug("job completed",
		"job_id", job.ID,
		"event_id", job.EventID,
		"action", string(job.Action.Kind),
		"attempt", job.Attempt)
}

// retryOrFail reschedules the job or marks it terminally failed
func (q *Queue) retryOrFail(job *Job, err error) {
	q.mu.Lock()
	failedAttempt := job.Attempt
	delay := job.Backoff.Delay(failedAttempt)
	job.markFailed(err, q.now().Add(delay))

	if job.State == StateFailed {
		delete(q.jobs, job.ID)
		q.failed++
		q.mu.Unlock()

		job.settle(errors.Wrap(err, "Queue", "execute",
			fmt.Sprintf("attempts exhausted after %d tries", job.MaxAttempts)))

		if q.metrics != nil {
			q.metrics.RecordJob(string(job.Action.Kind), StateFailed.String())
		}
		q.logger.Warn("job failed, attempts exhausted",
			"job_id", job.ID,
			"event_id", job.EventID,
			"action", string(job.Action.Kind),
			"attempts", job.MaxAttempts,
			"error", err)
		return
	}

	q.retries++
	q.timers[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		q.mu.Unlock()
		if submitErr := q.pool.Submit(job); submitErr != nil {
			// The pool is saturated; counting it as a failed attempt keeps
			// the job from being lost silently
			q.retryOrFail(job, submitErr)
		}
	})
	q.mu.Unlock()

	q.logger.Debug("job scheduled for retry",
		"job_id", job.ID,
		"event_id", job.EventID,
		"action", string(job.Action.Kind),
		"attempt", job.Attempt,
		"retry_in", delay)
}

// deadLetter terminally routes a job to the sink
func (q *Queue) deadLetter(job *Job, reason string) {
	q.mu.Lock()
	job.markDeadLettered(reason)
	delete(q.jobs, job.ID)
	q.deadLettered++
	snapshot := job.snapshot()
	q.mu.Unlock()

	job.settle(errors.WrapInvalid(errors.ErrInvalidAction, "Queue", "deadLetter", reason))

	if q.metrics != nil {
		q.metrics.RecordJob(string(job.Action.Kind), StateDeadLettered.String())
	}
	q.logger.Error("job dead-lettered",
		"job_id", job.ID,
		"event_id", job.EventID,
		"action", string(job.Action.Kind),
		"reason", reason)
	if q.sink != nil {
		q.sink.DeadLettered(snapshot)
	}
}

// GetJob returns a snapshot of an active (pending or running) job
func (q *Queue) GetJob(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// Stats returns a point-in-time view of the queue
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		Completed:    q.completed,
		Failed:       q.failed,
		DeadLettered: q.deadLettered,
		Retries:      q.retries,
	}
	for _, job := range q.jobs {
		switch job.State {
		case StateRunning:
			stats.Running++
		default:
			stats.Pending++
		}
	}
	return stats
}
