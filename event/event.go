// Package event defines the entity-change event that flows through the
// delivery pipeline.
//
// Events arrive from an external change-data-capture or broker adapter, pass
// through the deduplicator, and are fanned out by the event bus to matching
// subscriptions and action jobs. An Event is immutable once created; every
// downstream component reads it, none mutate it.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/eventgate/errors"
)

// Event is one entity change. The ID doubles as the deduplication key, so it
// must be stable across redeliveries of the same change.
type Event struct {
	// ID is a globally unique identity, stable across redelivery
	ID string `json:"id"`

	// Type is the change kind, e.g. "entity_created" or "order_updated"
	Type string `json:"type"`

	// Channel scopes delivery, e.g. a tenant or topic namespace
	Channel string `json:"channel"`

	// Data is the structured change payload, opaque to the pipeline
	Data json.RawMessage `json:"data"`

	// Timestamp is when the change occurred at the source
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event with a generated ID and the current time
func New(eventType, channel string, data json.RawMessage) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the event carries everything the pipeline needs
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "event", "Validate",
			"event id is required")
	}
	if e.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "event", "Validate",
			fmt.Sprintf("event %s has no type", e.ID))
	}
	if e.Timestamp.IsZero() {
		return errors.WrapInvalid(errors.ErrInvalidData, "event", "Validate",
			fmt.Sprintf("event %s has no timestamp", e.ID))
	}
	return nil
}

// DedupKey returns the deduplication store key for this event
func (e Event) DedupKey() string {
	return "event:" + e.ID
}

// Parse decodes an event from its wire form and validates it
func Parse(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, errors.WrapInvalid(err, "event", "Parse",
			"failed to decode event")
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Marshal encodes the event for the wire
func (e Event) Marshal() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "event", "Marshal",
			fmt.Sprintf("failed to encode event %s", e.ID))
	}
	return raw, nil
}
