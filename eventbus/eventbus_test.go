package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventgate/actions"
	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/event"
	"github.com/c360/eventgate/protocol"
)

// fakeSender records deliveries per connection
type fakeSender struct {
	mu        sync.Mutex
	delivered map[string][]protocol.ServerMessage
	gone      map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		delivered: make(map[string][]protocol.ServerMessage),
		gone:      make(map[string]bool),
	}
}

func (s *fakeSender) Deliver(connID string, msg protocol.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone[connID] {
		return false
	}
	s.delivered[connID] = append(s.delivered[connID], msg)
	return true
}

func (s *fakeSender) messages(connID string) []protocol.ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ServerMessage(nil), s.delivered[connID]...)
}

// fakeSink records submitted jobs. failKind rejects the submission itself;
// loseKind accepts the job but settles it with a terminal failure.
type fakeSink struct {
	mu       sync.Mutex
	jobs     []actions.Kind
	failKind actions.Kind
	loseKind actions.Kind
}

func (s *fakeSink) Submit(_ context.Context, _ event.Event, action actions.Action) (func(context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKind != "" && action.Kind == s.failKind {
		return nil, fmt.Errorf("queue full")
	}
	s.jobs = append(s.jobs, action.Kind)
	if s.loseKind != "" && action.Kind == s.loseKind {
		return func(context.Context) error {
			return fmt.Errorf("attempts exhausted")
		}, nil
	}
	return func(context.Context) error { return nil }, nil
}

func testEvent(eventType, channel string) event.Event {
	return event.New(eventType, channel, json.RawMessage(`{"k":"v"}`))
}

func webhookBinding() actions.Action {
	return actions.Action{Kind: actions.KindWebhook, Webhook: &actions.WebhookConfig{URL: "https://example.com/hook"}}
}

func newTestBus(t *testing.T, opts ...Option) (*Bus, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	bus, err := New(sender, opts...)
	require.NoError(t, err)
	return bus, sender
}

func TestSubscribeAndPublish(t *testing.T) {
	bus, sender := newTestBus(t)

	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "order_updated"}))
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-2", ConnID: "conn-2", Topic: "order_updated"}))
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-3", ConnID: "conn-3", Topic: "user_created"}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("order_updated", "")))

	require.Len(t, sender.messages("conn-1"), 1)
	require.Len(t, sender.messages("conn-2"), 1)
	assert.Empty(t, sender.messages("conn-3"), "non-matching topic must not receive the event")

	msg := sender.messages("conn-1")[0]
	assert.Equal(t, protocol.MsgNext, msg.Type)
	assert.Equal(t, "sub-1", msg.ID)
	assert.JSONEq(t, `{"data":{"order_updated":{"k":"v"}}}`, string(msg.Payload))
}

func TestPublish_ChannelFilter(t *testing.T) {
	bus, sender := newTestBus(t)

	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-a", ConnID: "conn-a", Topic: "order_updated", Channel: "tenant-a"}))
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-any", ConnID: "conn-any", Topic: "order_updated"}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("order_updated", "tenant-b")))

	assert.Empty(t, sender.messages("conn-a"), "channel filter must exclude other channels")
	assert.Len(t, sender.messages("conn-any"), 1, "empty channel matches everything")
}

func TestPublish_UnmatchedEventIsNotAnError(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.NoError(t, bus.Publish(context.Background(), testEvent("nobody_cares", "")))
}

func TestPublish_GoneConnectionIsNoop(t *testing.T) {
	bus, sender := newTestBus(t)
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "order_updated"}))
	sender.gone["conn-1"] = true

	assert.NoError(t, bus.Publish(context.Background(), testEvent("order_updated", "")),
		"a vanished connection must not fail publish")
}

func TestPublish_InvalidEventRejected(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.Error(t, bus.Publish(context.Background(), event.Event{}))
}

func TestSubscribe_DuplicateID(t *testing.T) {
	bus, _ := newTestBus(t)
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "t"}))

	err := bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-2", Topic: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSubscriberExists)
}

func TestSubscribe_RequiresFields(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.Error(t, bus.Subscribe(Subscription{ConnID: "c", Topic: "t"}))
	assert.Error(t, bus.Subscribe(Subscription{ID: "s", Topic: "t"}))
	assert.Error(t, bus.Subscribe(Subscription{ID: "s", ConnID: "c"}))
}

func TestUnsubscribe(t *testing.T) {
	bus, sender := newTestBus(t)
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "order_updated"}))

	assert.True(t, bus.Unsubscribe("sub-1"))
	assert.False(t, bus.Unsubscribe("sub-1"), "second unsubscribe is a no-op")
	assert.Equal(t, 0, bus.SubscriptionCount())

	require.NoError(t, bus.Publish(context.Background(), testEvent("order_updated", "")))
	assert.Empty(t, sender.messages("conn-1"))
}

func TestUnsubscribeConnection(t *testing.T) {
	bus, sender := newTestBus(t)
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "a"}))
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-2", ConnID: "conn-1", Topic: "b"}))
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-3", ConnID: "conn-2", Topic: "a"}))

	assert.Equal(t, 2, bus.UnsubscribeConnection("conn-1"))
	assert.Equal(t, 1, bus.SubscriptionCount())
	assert.Equal(t, 0, bus.UnsubscribeConnection("conn-1"))

	require.NoError(t, bus.Publish(context.Background(), testEvent("a", "")))
	assert.Empty(t, sender.messages("conn-1"))
	assert.Len(t, sender.messages("conn-2"), 1)
}

func TestBindAction_SubmitsJobs(t *testing.T) {
	sink := &fakeSink{}
	bus, _ := newTestBus(t, WithActionSink(sink))

	require.NoError(t, bus.BindAction("order_updated", webhookBinding()))
	require.NoError(t, bus.BindAction("order_updated", actions.Action{
		Kind:  actions.KindSlack,
		Slack: &actions.SlackConfig{WebhookURL: "https://hooks.slack.com/x"},
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("order_updated", "")))
	assert.ElementsMatch(t, []actions.Kind{actions.KindWebhook, actions.KindSlack}, sink.jobs)

	// Other event types do not trigger the bindings
	require.NoError(t, bus.Publish(context.Background(), testEvent("user_created", "")))
	assert.Len(t, sink.jobs, 2)
}

func TestBindAction_RejectsInvalid(t *testing.T) {
	sink := &fakeSink{}
	bus, _ := newTestBus(t, WithActionSink(sink))

	err := bus.BindAction("order_updated", actions.Action{Kind: actions.KindWebhook, Webhook: &actions.WebhookConfig{}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.Error(t, bus.BindAction("", webhookBinding()))
}

func TestBindAction_RequiresSink(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.Error(t, bus.BindAction("order_updated", webhookBinding()))
}

func TestPublish_SubmitFailureSurfaces(t *testing.T) {
	sink := &fakeSink{failKind: actions.KindWebhook}
	bus, sender := newTestBus(t, WithActionSink(sink))

	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "order_updated"}))
	require.NoError(t, bus.BindAction("order_updated", webhookBinding()))

	err := bus.Publish(context.Background(), testEvent("order_updated", ""))
	assert.Error(t, err, "a failed job submission must surface so the event stays unmarked")
	assert.Len(t, sender.messages("conn-1"), 1, "delivery still happens despite the submission failure")
}

func TestPublish_WaitsForJobOutcome(t *testing.T) {
	sink := &fakeSink{loseKind: actions.KindWebhook}
	bus, _ := newTestBus(t, WithActionSink(sink))
	require.NoError(t, bus.BindAction("order_updated", webhookBinding()))

	err := bus.Publish(context.Background(), testEvent("order_updated", ""))
	require.Error(t, err, "a job that ends in failure must surface even though enqueue succeeded")
	assert.Len(t, sink.jobs, 1, "the job was accepted; only its outcome failed")
}

func TestPublish_PartialJobFailureSurfaces(t *testing.T) {
	sink := &fakeSink{loseKind: actions.KindSlack}
	bus, _ := newTestBus(t, WithActionSink(sink))
	require.NoError(t, bus.BindAction("order_updated", webhookBinding()))
	require.NoError(t, bus.BindAction("order_updated", actions.Action{
		Kind:  actions.KindSlack,
		Slack: &actions.SlackConfig{WebhookURL: "https://hooks.slack.com/x"},
	}))

	err := bus.Publish(context.Background(), testEvent("order_updated", ""))
	assert.Error(t, err, "one failed job out of two must keep the event unmarked")
	assert.ElementsMatch(t, []actions.Kind{actions.KindWebhook, actions.KindSlack}, sink.jobs)
}

func TestPublish_OrderPreservedPerSubscription(t *testing.T) {
	bus, sender := newTestBus(t)
	require.NoError(t, bus.Subscribe(Subscription{ID: "sub-1", ConnID: "conn-1", Topic: "tick"}))

	for i := 0; i < 10; i++ {
		evt := event.New("tick", "", json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)))
		require.NoError(t, bus.Publish(context.Background(), evt))
	}

	msgs := sender.messages("conn-1")
	require.Len(t, msgs, 10)
	for i, msg := range msgs {
		assert.JSONEq(t, fmt.Sprintf(`{"data":{"tick":{"seq":%d}}}`, i), string(msg.Payload))
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	bus, _ := newTestBus(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := fmt.Sprintf("sub-%d-%d", n, j)
				_ = bus.Subscribe(Subscription{ID: id, ConnID: fmt.Sprintf("conn-%d", n), Topic: "tick"})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = bus.Publish(context.Background(), testEvent("tick", ""))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, bus.SubscriptionCount())
}
