// Package dedup makes at-least-once event delivery produce effectively-once
// side effects.
//
// The deduplicator wraps the processing pipeline: before an event is handed
// to the pipeline its key is checked against a TTL-bounded store, and the key
// is marked only after the pipeline reports complete success. A partial
// failure leaves the key unmarked so redelivery retries the whole event.
// Store errors fail open; a broken dedup store degrades to duplicate side
// effects, never to dropped events.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/event"
	"github.com/c360/eventgate/metric"
)

// DefaultTTL is how long a processed mark suppresses redelivery
const DefaultTTL = 300 * time.Second

// Outcome reports what the deduplicator did with an event
type Outcome int

const (
	// OutcomeProcessed means the pipeline ran and succeeded
	OutcomeProcessed Outcome = iota
	// OutcomeDuplicate means the event was skipped as already processed
	OutcomeDuplicate
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Processor is the inner pipeline the deduplicator guards. A nil return
// means every matched delivery and action submission succeeded.
type Processor func(ctx context.Context, evt event.Event) error

// Deduplicator guards a Processor with a seen-key store
type Deduplicator struct {
	store   Store
	logger  *slog.Logger
	metrics *metric.Metrics // optional, nil disables counters
}

// Option configures a Deduplicator
type Option func(*Deduplicator)

// WithLogger sets the logger; defaults to slog.Default
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deduplicator) {
		d.logger = logger
	}
}

// WithMetrics enables duplicate counters
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Deduplicator) {
		d.metrics = m
	}
}

// New creates a deduplicator over the given store
func New(store Store, opts ...Option) (*Deduplicator, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Deduplicator", "New",
			"store is required")
	}

	d := &Deduplicator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Process runs the event through the inner processor unless its key is
// already marked. The key is marked only when the processor returns nil, so
// a redelivered event retries everything that failed. Store errors on the
// lookup are logged and treated as "not seen".
func (d *Deduplicator) Process(ctx context.Context, evt event.Event, inner Processor) (Outcome, error) {
	key := evt.DedupKey()

	seen, err := d.store.IsDuplicate(ctx, key)
	if err != nil {
		// Fail open. Processing a duplicate is recoverable; dropping an
		// event because the store is down is not.
		d.logger.Warn("dedup lookup failed, processing anyway",
			"event_id", evt.ID,
			"error", err)
	} else if seen {
		d.logger.Debug("skipping duplicate event",
			"event_id", evt.ID,
			"event_type", evt.Type)
		if d.metrics != nil {
			d.metrics.RecordEventDuplicate()
		}
		return OutcomeDuplicate, nil
	}

	if err := inner(ctx, evt); err != nil {
		return OutcomeProcessed, errors.Wrap(err, "Deduplicator", "Process",
			"pipeline failed, event left unmarked for redelivery")
	}

	if err := d.store.MarkProcessed(ctx, key); err != nil {
		// The work is done; a missing mark only risks a duplicate pass later
		d.logger.Warn("failed to mark event processed",
			"event_id", evt.ID,
			"error", err)
	}
	return OutcomeProcessed, nil
}
