package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventgate/dedup"
	"github.com/c360/eventgate/event"
	"github.com/c360/eventgate/eventbus"
	"github.com/c360/eventgate/protocol"
)

// fakeConsumer captures the registered handler so tests can push messages
// through the pipeline directly.
type fakeConsumer struct {
	stream  string
	durable string
	subject string
	delay   time.Duration
	handler func(context.Context, []byte) error
	failure error
}

func (f *fakeConsumer) ProcessStream(_ context.Context, streamName, durable, subject string, retryDelay time.Duration, handler func(context.Context, []byte) error) error {
	if f.failure != nil {
		return f.failure
	}
	f.stream = streamName
	f.durable = durable
	f.subject = subject
	f.delay = retryDelay
	f.handler = handler
	return nil
}

// countingSender records deliveries per connection
type countingSender struct {
	mu        sync.Mutex
	delivered map[string][]protocol.ServerMessage
}

func newCountingSender() *countingSender {
	return &countingSender{delivered: make(map[string][]protocol.ServerMessage)}
}

func (s *countingSender) Deliver(connID string, msg protocol.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[connID] = append(s.delivered[connID], msg)
	return true
}

func (s *countingSender) count(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered[connID])
}

func newTestIngester(t *testing.T, sender eventbus.Sender) (*Ingester, *fakeConsumer) {
	t.Helper()

	store, err := dedup.NewMemoryStore(context.Background(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	deduper, err := dedup.New(store)
	require.NoError(t, err)

	bus, err := eventbus.New(sender)
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(eventbus.Subscription{
		ID:     "sub-1",
		ConnID: "conn-1",
		Topic:  "orderCreated",
	}))

	consumer := &fakeConsumer{}
	ing, err := New(DefaultConfig(), consumer, deduper, bus)
	require.NoError(t, err)
	require.NoError(t, ing.Start(context.Background()))
	require.NotNil(t, consumer.handler)
	return ing, consumer
}

func eventBytes(t *testing.T, evt event.Event) []byte {
	t.Helper()
	raw, err := evt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing stream", func(c *Config) { c.Stream = "" }},
		{"missing subject", func(c *Config) { c.Subject = "" }},
		{"missing consumer", func(c *Config) { c.Consumer = "" }},
		{"zero retry delay", func(c *Config) { c.RetryDelay = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIngester_StartRegistersDurableConsumer(t *testing.T) {
	sender := newCountingSender()
	_, consumer := newTestIngester(t, sender)

	assert.Equal(t, "EVENTS", consumer.stream)
	assert.Equal(t, "eventgate", consumer.durable)
	assert.Equal(t, "events.>", consumer.subject)
	assert.Equal(t, 5*time.Second, consumer.delay)
}

func TestIngester_DeliversEventToSubscribers(t *testing.T) {
	sender := newCountingSender()
	_, consumer := newTestIngester(t, sender)

	evt := event.New("orderCreated", "", json.RawMessage(`{"order_id":42}`))
	err := consumer.handler(context.Background(), eventBytes(t, evt))

	require.NoError(t, err)
	assert.Equal(t, 1, sender.count("conn-1"))
}

func TestIngester_DuplicateDeliveredOnce(t *testing.T) {
	sender := newCountingSender()
	_, consumer := newTestIngester(t, sender)

	evt := event.New("orderCreated", "", json.RawMessage(`{"order_id":42}`))
	raw := eventBytes(t, evt)

	require.NoError(t, consumer.handler(context.Background(), raw))
	// Redelivery of the same event is acked without publishing again
	require.NoError(t, consumer.handler(context.Background(), raw))

	assert.Equal(t, 1, sender.count("conn-1"))
}

func TestIngester_MalformedPayloadIsAcked(t *testing.T) {
	sender := newCountingSender()
	_, consumer := newTestIngester(t, sender)

	assert.NoError(t, consumer.handler(context.Background(), []byte("not json")))
	assert.NoError(t, consumer.handler(context.Background(), []byte(`{"type":"orderCreated"}`)))
	assert.Equal(t, 0, sender.count("conn-1"))
}

func TestIngester_PipelineFailureRequestsRedelivery(t *testing.T) {
	store, err := dedup.NewMemoryStore(context.Background(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	deduper, err := dedup.New(store)
	require.NoError(t, err)

	sender := newCountingSender()
	bus, err := eventbus.New(sender)
	require.NoError(t, err)

	consumer := &fakeConsumer{}
	ing, err := New(DefaultConfig(), consumer, deduper, bus)
	require.NoError(t, err)
	require.NoError(t, ing.Start(context.Background()))

	// Swap the handler target for one that always fails
	failing := func(ctx context.Context, data []byte) error {
		evt, parseErr := event.Parse(data)
		if parseErr != nil {
			return nil
		}
		_, processErr := deduper.Process(ctx, evt, func(context.Context, event.Event) error {
			return assert.AnError
		})
		return processErr
	}

	evt := event.New("orderCreated", "", json.RawMessage(`{}`))
	raw := eventBytes(t, evt)
	require.Error(t, failing(context.Background(), raw))

	// The failed event was never marked, so the real pipeline still
	// processes the redelivery
	require.NoError(t, consumer.handler(context.Background(), raw))
}

func TestNew_RequiresDependencies(t *testing.T) {
	store, err := dedup.NewMemoryStore(context.Background(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	deduper, err := dedup.New(store)
	require.NoError(t, err)
	bus, err := eventbus.New(newCountingSender())
	require.NoError(t, err)

	_, err = New(DefaultConfig(), nil, deduper, bus)
	assert.Error(t, err)
	_, err = New(DefaultConfig(), &fakeConsumer{}, nil, bus)
	assert.Error(t, err)
	_, err = New(DefaultConfig(), &fakeConsumer{}, deduper, nil)
	assert.Error(t, err)
}

func TestIngester_StartSurfacesConsumerError(t *testing.T) {
	store, err := dedup.NewMemoryStore(context.Background(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	deduper, err := dedup.New(store)
	require.NoError(t, err)
	bus, err := eventbus.New(newCountingSender())
	require.NoError(t, err)

	ing, err := New(DefaultConfig(), &fakeConsumer{failure: assert.AnError}, deduper, bus)
	require.NoError(t, err)
	assert.Error(t, ing.Start(context.Background()))
}
