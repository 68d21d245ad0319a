// Package eventbus routes incoming events to the subscriptions and actions
// that want them.
//
// Subscriptions are indexed by topic so publish-time matching touches only
// the candidates for the event's type, not the whole subscription set.
// Matching never mutates subscriptions. Delivery goes through a Sender owned
// by the transport; the transport's per-connection writer preserves order
// within each subscription's stream, and delivery to a connection that has
// gone away is a no-op. Event types can also carry action bindings, and each
// binding becomes one job submitted to the ActionSink.
package eventbus

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/eventgate/actions"
	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/event"
	"github.com/c360/eventgate/metric"
	"github.com/c360/eventgate/protocol"
)

// Subscription is one live filter registered by a connection
type Subscription struct {
	// ID is unique across the process for the subscription's lifetime
	ID string

	// ConnID is the owning connection, referenced by id only
	ConnID string

	// Topic matches against event types
	Topic string

	// Channel optionally narrows matching; empty matches every channel
	Channel string
}

// Sender delivers an outbound message to one connection. Implementations
// must treat unknown or closing connections as a no-op and report false;
// subscriptions can outlive their socket by a moment during teardown.
type Sender interface {
	Deliver(connID string, msg protocol.ServerMessage) bool
}

// SenderFunc adapts a function to the Sender interface. Useful when the bus
// has to be constructed before the transport that delivers for it.
type SenderFunc func(connID string, msg protocol.ServerMessage) bool

// Deliver calls f
func (f SenderFunc) Deliver(connID string, msg protocol.ServerMessage) bool {
	return f(connID, msg)
}

// ActionSink receives one job per matched action binding. The job queue
// implements this. Submit must not block; the returned wait function resolves
// once the job reaches a terminal state and is nil only when the job
// completed. Publish waits on it so the caller learns whether every action
// actually ran, not just whether it was enqueued.
type ActionSink interface {
	Submit(ctx context.Context, evt event.Event, action actions.Action) (func(context.Context) error, error)
}

// Bus matches events against subscriptions and action bindings
type Bus struct {
	sender  Sender
	sink    ActionSink
	logger  *slog.Logger
	metrics *metric.Metrics // optional, nil disables counters

	mu       sync.RWMutex
	subs     map[string]*Subscription
	byTopic  map[string]map[string]*Subscription
	byConn   map[string]map[string]struct{}
	bindings map[string][]actions.Action
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger; defaults to slog.Default
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMetrics enables publish and match counters
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithActionSink sets the job destination for action bindings. Without a
// sink, bindings are rejected at bind time.
func WithActionSink(sink ActionSink) Option {
	return func(b *Bus) {
		b.sink = sink
	}
}

// New creates a bus delivering through the given sender
func New(sender Sender, opts ...Option) (*Bus, error) {
	if sender == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bus", "New",
			"sender is required")
	}

	b := &Bus{
		sender:   sender,
		logger:   slog.Default(),
		subs:     make(map[string]*Subscription),
		byTopic:  make(map[string]map[string]*Subscription),
		byConn:   make(map[string]map[string]struct{}),
		bindings: make(map[string][]actions.Action),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Subscribe registers a subscription. Subscription ids are unique across the
// whole bus, not just per connection.
func (b *Bus) Subscribe(sub Subscription) error {
	if sub.ID == "" || sub.ConnID == "" || sub.Topic == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Bus", "Subscribe",
			"subscription needs id, connection id, and topic")
	}

	b.mu.Lock()
	if _, exists := b.subs[sub.ID]; exists {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrSubscriberExists, "Bus", "Subscribe",
			fmt.Sprintf("subscription %s already registered", sub.ID))
	}

	stored := sub
	b.subs[sub.ID] = &stored
	if b.byTopic[sub.Topic] == nil {
		b.byTopic[sub.Topic] = make(map[string]*Subscription)
	}
	b.byTopic[sub.Topic][sub.ID] = &stored
	if b.byConn[sub.ConnID] == nil {
		b.byConn[sub.ConnID] = make(map[string]struct{})
	}
	b.byConn[sub.ConnID][sub.ID] = struct{}{}
	total := len(b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordSubscriptions(total)
	}
	b.logger.Debug("subscription registered",
		"subscription_id", sub.ID,
		"connection_id", sub.ConnID,
		"topic", sub.Topic)
	return nil
}

// Unsubscribe removes one subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(subID string) bool {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	if ok {
		b.removeLocked(sub)
	}
	total := len(b.subs)
	b.mu.Unlock()

	if ok && b.metrics != nil {
		b.metrics.RecordSubscriptions(total)
	}
	return ok
}

// UnsubscribeConnection removes every subscription the connection owns and
// returns how many were removed
func (b *Bus) UnsubscribeConnection(connID string) int {
	b.mu.Lock()
	ids := b.byConn[connID]
	removed := 0
	for id := range ids {
		if sub, ok := b.subs[id]; ok {
			b.removeLocked(sub)
			removed++
		}
	}
	total := len(b.subs)
	b.mu.Unlock()

	if removed > 0 && b.metrics != nil {
		b.metrics.RecordSubscriptions(total)
	}
	return removed
}

// removeLocked deletes a subscription from all three indexes. Caller must
// hold mu.
func (b *Bus) removeLocked(sub *Subscription) {
	delete(b.subs, sub.ID)
	if topicSubs := b.byTopic[sub.Topic]; topicSubs != nil {
		delete(topicSubs, sub.ID)
		if len(topicSubs) == 0 {
			delete(b.byTopic, sub.Topic)
		}
	}
	if connSubs := b.byConn[sub.ConnID]; connSubs != nil {
		delete(connSubs, sub.ID)
		if len(connSubs) == 0 {
			delete(b.byConn, sub.ConnID)
		}
	}
}

// BindAction attaches an action to an event type; every matching event
// creates one job for it. The action is validated here so a misconfigured
// binding fails at startup, not in the retry loop.
func (b *Bus) BindAction(eventType string, action actions.Action) error {
	if eventType == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Bus", "BindAction",
			"event type is required")
	}
	if b.sink == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bus", "BindAction",
			"no action sink configured")
	}
	if err := action.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[eventType] = append(b.bindings[eventType], action)
	return nil
}

// Publish fans the event out to matching subscriptions, submits one job per
// bound action, and then waits until every job reaches a terminal state.
// Enqueue failures and jobs that end failed or dead-lettered are joined into
// the returned error so the caller (the deduplicator) leaves the event
// unmarked and stream redelivery retries it; delivery to vanished
// connections is not an error. Unmatched events are normal.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.RecordEventPublished(evt.Type)
	}

	b.mu.RLock()
	var matched []Subscription
	for _, sub := range b.byTopic[evt.Type] {
		if sub.Channel == "" || sub.Channel == evt.Channel {
			matched = append(matched, *sub)
		}
	}
	bound := b.bindings[evt.Type]
	b.mu.RUnlock()

	for _, sub := range matched {
		payload, err := nextPayload(sub.Topic, evt)
		if err != nil {
			b.logger.Error("failed to render delivery payload",
				"subscription_id", sub.ID,
				"event_id", evt.ID,
				"error", err)
			continue
		}
		if b.sender.Deliver(sub.ConnID, protocol.Next(sub.ID, payload)) {
			if b.metrics != nil {
				b.metrics.RecordEventMatched(evt.Type)
			}
		}
	}

	// Submit every job first so they run concurrently, then wait for each
	// terminal outcome before reporting success to the deduplicator.
	var actionErrs []error
	type pendingJob struct {
		kind actions.Kind
		wait func(context.Context) error
	}
	var pending []pendingJob
	for _, action := range bound {
		wait, err := b.sink.Submit(ctx, evt, action)
		if err != nil {
			actionErrs = append(actionErrs, errors.Wrap(err, "Bus", "Publish",
				fmt.Sprintf("failed to enqueue %s job for event %s", action.Kind, evt.ID)))
			continue
		}
		if wait != nil {
			pending = append(pending, pendingJob{kind: action.Kind, wait: wait})
		}
	}
	for _, job := range pending {
		if err := job.wait(ctx); err != nil {
			actionErrs = append(actionErrs, errors.Wrap(err, "Bus", "Publish",
				fmt.Sprintf("%s job for event %s did not complete", job.kind, evt.ID)))
		}
	}
	return stderrors.Join(actionErrs...)
}

// SubscriptionCount returns the number of live subscriptions
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// nextPayload renders the GraphQL-style data envelope for a matched event
func nextPayload(topic string, evt event.Event) (json.RawMessage, error) {
	data := evt.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(map[string]map[string]json.RawMessage{
		"data": {topic: data},
	})
}
