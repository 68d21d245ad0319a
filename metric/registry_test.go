package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())

	// The registry satisfies the registrar interface components depend on
	var _ MetricsRegistrar = registry
}

func TestRegistry_RegisterInstrumentKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter", Help: "A test counter",
	})
	require.NoError(t, registry.RegisterCounter("test-service", "test_counter", counter))
	counter.Inc()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge", Help: "A test gauge",
	})
	require.NoError(t, registry.RegisterGauge("test-service", "test_gauge", gauge))
	gauge.Set(42)

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_histogram", Help: "A test histogram", Buckets: prometheus.DefBuckets,
	})
	require.NoError(t, registry.RegisterHistogram("test-service", "test_histogram", histogram))
	histogram.Observe(1.5)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_counter"])
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_histogram"])
}

func TestRegistry_DuplicatePrometheusNameRejected(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_counter", Help: "First counter",
	})
	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", first))

	// A different service key cannot reuse a Prometheus metric name
	second := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_counter", Help: "First counter",
	})
	err := registry.RegisterCounter("service2", "duplicate_counter", second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unregister_counter", Help: "A counter to unregister",
	})
	require.NoError(t, registry.RegisterCounter("test-service", "unregister_counter", counter))
	require.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("test-service", "unregister_counter"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("test-service", "unregister_counter"))
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const goroutines = 10
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: name, Help: "A concurrent counter",
			})
			assert.NoError(t, registry.RegisterCounter("concurrent-service", name, counter))
		}(i)
	}
	wg.Wait()

	registered := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			registered++
		}
	}
	assert.Equal(t, goroutines, registered)
}

func TestRegistry_CoreMetricsGathered(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	// Vector metrics only appear in Gather once they hold a value
	core.RecordServiceStatus("test-service", 2)
	core.RecordProcessingDuration("test-service", "publish", 100*time.Millisecond)
	core.RecordError("test-service", "connection")
	core.RecordHealthStatus("test-service", true)
	core.RecordEventPublished("entity_updated")
	core.RecordEventMatched("entity_updated")
	core.RecordJob("webhook", "completed")
	core.RecordBreakerState("webhook", 0)

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"eventgate_service_status",
		"eventgate_processing_duration_seconds",
		"eventgate_errors_total",
		"eventgate_health_status",
		"eventgate_events_published_total",
		"eventgate_events_matched_total",
		"eventgate_events_duplicate_total",
		"eventgate_jobs_total",
		"eventgate_breaker_state",
		"eventgate_connections_active",
		"eventgate_subscriptions_active",
		"eventgate_nats_connected",
		"eventgate_nats_rtt_milliseconds",
		"eventgate_nats_reconnects_total",
		"eventgate_nats_circuit_breaker",
	} {
		assert.True(t, names[expected], "core metric %s should be gathered", expected)
	}
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordServiceStatus("test-service", 2)
	core.RecordConnections(3)
	core.RecordSubscriptions(7)
	core.RecordEventPublished("entity_updated")
	core.RecordEventMatched("entity_updated")
	core.RecordEventDuplicate()
	core.RecordJob("webhook", "dead_lettered")
	core.RecordBreakerState("slack", 1)
	core.RecordProcessingDuration("test-service", "publish", 100*time.Millisecond)
	core.RecordError("test-service", "connection")
	core.RecordHealthStatus("test-service", true)
	core.RecordNATSStatus(true)
	core.RecordNATSRTT(50 * time.Millisecond)
	core.RecordNATSReconnect()
	core.RecordCircuitBreakerState(0)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
