// Package ingest consumes events from a JetStream stream and feeds them
// through deduplication into the event bus.
//
// Acknowledgement tracks pipeline outcome. An event is acked once its
// deliveries are sent and every bound action job has reached a successful
// terminal state; duplicates are acked without reprocessing. A pipeline
// failure, including an action job that exhausts its attempts, naks the
// message with a redelivery delay so the stream retries it; because the
// deduplication store is only marked on complete success, the retry is
// processed as if it were the first delivery. Malformed payloads are acked
// and dropped since redelivery cannot repair them.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/eventgate/dedup"
	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/event"
	"github.com/c360/eventgate/eventbus"
)

// StreamConsumer is the slice of the NATS client the ingester needs: a
// durable consumer whose handler controls acknowledgement.
type StreamConsumer interface {
	ProcessStream(ctx context.Context, streamName, durable, subject string, retryDelay time.Duration, handler func(context.Context, []byte) error) error
}

// Config defines the stream the ingester reads from
type Config struct {
	// Stream is the JetStream stream name
	Stream string `json:"stream"`

	// Subject filters which stream subjects this ingester consumes
	Subject string `json:"subject"`

	// Consumer is the durable consumer name; restarts resume from the
	// last acknowledged message
	Consumer string `json:"consumer"`

	// RetryDelay paces redelivery after a pipeline failure
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Stream:     "EVENTS",
		Subject:    "events.>",
		Consumer:   "eventgate",
		RetryDelay: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Stream == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ingest", "Validate",
			"stream name is required")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ingest", "Validate",
			"subject is required")
	}
	if c.Consumer == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ingest", "Validate",
			"durable consumer name is required")
	}
	if c.RetryDelay <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ingest", "Validate",
			fmt.Sprintf("retry_delay must be positive, got %v", c.RetryDelay))
	}
	return nil
}

// Ingester moves stream messages through the dedup-then-publish pipeline
type Ingester struct {
	config   Config
	consumer StreamConsumer
	deduper  *dedup.Deduplicator
	bus      *eventbus.Bus
	logger   *slog.Logger
}

// Option configures an Ingester
type Option func(*Ingester)

// WithLogger sets the logger; defaults to slog.Default
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) {
		i.logger = logger
	}
}

// New creates an ingester reading from the configured stream
func New(config Config, consumer StreamConsumer, deduper *dedup.Deduplicator, bus *eventbus.Bus, opts ...Option) (*Ingester, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if consumer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Ingester", "New",
			"stream consumer is required")
	}
	if deduper == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Ingester", "New",
			"deduplicator is required")
	}
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Ingester", "New",
			"event bus is required")
	}

	i := &Ingester{
		config:   config,
		consumer: consumer,
		deduper:  deduper,
		bus:      bus,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Start registers the durable consumer. The consumer runs until the
// underlying client is closed.
func (i *Ingester) Start(ctx context.Context) error {
	err := i.consumer.ProcessStream(ctx, i.config.Stream, i.config.Consumer,
		i.config.Subject, i.config.RetryDelay, i.handle)
	if err != nil {
		return errors.Wrap(err, "Ingester", "Start",
			fmt.Sprintf("failed to consume stream %s", i.config.Stream))
	}
	i.logger.Info("event ingestion started",
		"stream", i.config.Stream,
		"subject", i.config.Subject,
		"consumer", i.config.Consumer)
	return nil
}

// handle processes one stream message. A nil return acks it; an error naks
// it for redelivery.
func (i *Ingester) handle(ctx context.Context, data []byte) error {
	evt, err := event.Parse(data)
	if err != nil {
		// Redelivery cannot repair a malformed payload; drop it
		i.logger.Warn("dropping malformed event", "error", err)
		return nil
	}

	outcome, err := i.deduper.Process(ctx, evt, i.bus.Publish)
	if err != nil {
		i.logger.Warn("event pipeline failed, requesting redelivery",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", err)
		return err
	}

	if outcome == dedup.OutcomeDuplicate {
		i.logger.Debug("skipped duplicate event",
			"event_id", evt.ID,
			"event_type", evt.Type)
	}
	return nil
}
