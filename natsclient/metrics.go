package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/eventgate/metric"
)

// streamMetrics exposes JetStream stream and consumer state as Prometheus
// gauges. Stream depth and consumer lag only change server-side, so a
// background poller refreshes them on an interval instead of per operation.
// All methods are safe on a nil receiver, which is how metrics stay disabled
// without guards at every call site.
type streamMetrics struct {
	streamMessages  *prometheus.GaugeVec
	streamBytes     *prometheus.GaugeVec
	consumerPending *prometheus.GaugeVec
	consumerAckPend *prometheus.GaugeVec
	operationErrors *prometheus.CounterVec

	mu        sync.Mutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func newStreamMetrics(registry *metric.MetricsRegistry) (*streamMetrics, error) {
	m := &streamMetrics{
		streamMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventgate",
			Subsystem: "jetstream",
			Name:      "stream_messages",
			Help:      "Messages currently stored in the stream",
		}, []string{"stream"}),
		streamBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventgate",
			Subsystem: "jetstream",
			Name:      "stream_bytes",
			Help:      "Bytes currently stored in the stream",
		}, []string{"stream"}),
		consumerPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventgate",
			Subsystem: "jetstream",
			Name:      "consumer_pending",
			Help:      "Messages not yet delivered to the consumer",
		}, []string{"stream", "consumer"}),
		consumerAckPend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventgate",
			Subsystem: "jetstream",
			Name:      "consumer_ack_pending",
			Help:      "Messages delivered but not yet acknowledged",
		}, []string{"stream", "consumer"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventgate",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "JetStream operations that failed, by operation",
		}, []string{"operation"}),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	registrations := []struct {
		name string
		err  error
	}{
		{"stream_messages", registry.RegisterGaugeVec("natsclient", "stream_messages", m.streamMessages)},
		{"stream_bytes", registry.RegisterGaugeVec("natsclient", "stream_bytes", m.streamBytes)},
		{"consumer_pending", registry.RegisterGaugeVec("natsclient", "consumer_pending", m.consumerPending)},
		{"consumer_ack_pending", registry.RegisterGaugeVec("natsclient", "consumer_ack_pending", m.consumerAckPend)},
	}
	for _, r := range registrations {
		if r.err != nil {
			return nil, r.err
		}
	}
	if err := registry.RegisterCounterVec("natsclient", "operation_errors", m.operationErrors); err != nil {
		return nil, err
	}
	return m, nil
}

// trackStream adds a stream to the polling set
func (m *streamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
}

// trackConsumer adds a durable consumer to the polling set
func (m *streamMetrics) trackConsumer(stream, durable string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[stream+":"+durable] = consumer
}

// recordError counts one failed JetStream operation
func (m *streamMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation).Inc()
}

// startPoller refreshes stream and consumer gauges until the returned cancel
// function is called
func (m *streamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(ctx)
			}
		}
	}()
	return cancel
}

func (m *streamMetrics) poll(ctx context.Context) {
	m.mu.Lock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for name, s := range m.streams {
		streams[name] = s
	}
	consumers := make(map[string]jetstream.Consumer, len(m.consumers))
	for key, c := range m.consumers {
		consumers[key] = c
	}
	m.mu.Unlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.recordError("stream_info")
			continue
		}
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
	}
	for _, consumer := range consumers {
		info, err := consumer.Info(ctx)
		if err != nil {
			m.recordError("consumer_info")
			continue
		}
		m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
		m.consumerAckPend.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumAckPending))
	}
}
