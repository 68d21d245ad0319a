package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New("entity_updated", "tenant-a", json.RawMessage(`{"field":"name"}`))

	_, err := uuid.Parse(e.ID)
	assert.NoError(t, err, "generated id should be a UUID")
	assert.Equal(t, "entity_updated", e.Type)
	assert.Equal(t, "tenant-a", e.Channel)
	assert.False(t, e.Timestamp.IsZero())
	assert.NoError(t, e.Validate())
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New("entity_updated", "", nil)
	b := New("entity_updated", "", nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidate(t *testing.T) {
	valid := Event{
		ID:        "evt-1",
		Type:      "entity_created",
		Timestamp: time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid", func(*Event) {}, false},
		{"channel optional", func(e *Event) { e.Channel = "" }, false},
		{"missing id", func(e *Event) { e.ID = "" }, true},
		{"missing type", func(e *Event) { e.Type = "" }, true},
		{"zero timestamp", func(e *Event) { e.Timestamp = time.Time{} }, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := valid
			test.mutate(&e)
			err := e.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDedupKey(t *testing.T) {
	e := Event{ID: "abc-123"}
	assert.Equal(t, "event:abc-123", e.DedupKey())
}

func TestParseRoundTrip(t *testing.T) {
	orig := New("order_shipped", "orders", json.RawMessage(`{"order_id":42}`))

	raw, err := orig.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, orig.ID, parsed.ID)
	assert.Equal(t, orig.Type, parsed.Type)
	assert.Equal(t, orig.Channel, parsed.Channel)
	assert.JSONEq(t, `{"order_id":42}`, string(parsed.Data))
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"id":`},
		{"missing type", `{"id":"evt-1","timestamp":"2026-01-01T00:00:00Z"}`},
		{"missing id", `{"type":"entity_created","timestamp":"2026-01-01T00:00:00Z"}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.raw))
			assert.Error(t, err)
		})
	}
}
