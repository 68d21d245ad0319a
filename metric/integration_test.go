package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routerInstruments is a component registering its own metrics through the
// registrar, shaped like the delivery-side components do in production
type routerInstruments struct {
	service   string
	delivered prometheus.Counter
	backlog   prometheus.Gauge
}

func newRouterInstruments(service string) *routerInstruments {
	return &routerInstruments{
		service: service,
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventgate",
			Subsystem: "router",
			Name:      "deliveries_total",
			Help:      "Events delivered to subscribers",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventgate",
			Subsystem: "router",
			Name:      "backlog",
			Help:      "Events waiting for delivery",
		}),
	}
}

func (r *routerInstruments) register(registrar MetricsRegistrar) error {
	if err := registrar.RegisterCounter(r.service, "deliveries_total", r.delivered); err != nil {
		return err
	}
	return registrar.RegisterGauge(r.service, "backlog", r.backlog)
}

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestRegistry_ServiceMetricsAppearInGather(t *testing.T) {
	registry := NewMetricsRegistry()
	router := newRouterInstruments("router")
	require.NoError(t, router.register(registry))

	router.delivered.Add(10)
	router.backlog.Set(5)

	names := gatheredNames(t, registry)
	assert.True(t, names["eventgate_router_deliveries_total"])
	assert.True(t, names["eventgate_router_backlog"])
}

func TestRegistry_DuplicateServiceMetricRejected(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, newRouterInstruments("router").register(registry))

	err := newRouterInstruments("router").register(registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_PrometheusNameConflictRejected(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, newRouterInstruments("router").register(registry))

	// A different service key but the same Prometheus metric names still
	// collides at the Prometheus level
	err := newRouterInstruments("router-replica").register(registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestRegistry_CoreAndServiceMetricsCoexist(t *testing.T) {
	registry := NewMetricsRegistry()
	router := newRouterInstruments("router")
	require.NoError(t, router.register(registry))

	core := registry.CoreMetrics()
	core.RecordServiceStatus("router", 2)
	core.RecordEventPublished("entity_created")
	router.delivered.Inc()

	names := gatheredNames(t, registry)
	assert.True(t, names["eventgate_service_status"])
	assert.True(t, names["eventgate_events_published_total"])
	assert.True(t, names["eventgate_router_deliveries_total"])
}

func TestRegistry_UnregisterRemovesOnlyTheNamedMetric(t *testing.T) {
	registry := NewMetricsRegistry()
	router := newRouterInstruments("router")
	require.NoError(t, router.register(registry))
	router.delivered.Inc()
	router.backlog.Set(1)

	require.True(t, registry.Unregister("router", "deliveries_total"))

	names := gatheredNames(t, registry)
	assert.False(t, names["eventgate_router_deliveries_total"])
	assert.True(t, names["eventgate_router_backlog"], "the sibling metric must survive")

	// Second removal finds nothing
	assert.False(t, registry.Unregister("router", "deliveries_total"))
}
