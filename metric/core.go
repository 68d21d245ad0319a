package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics for the delivery pipeline
type Metrics struct {
	// Service metrics
	ServiceStatus      *prometheus.GaugeVec
	HealthCheckStatus  *prometheus.GaugeVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// Connection and subscription metrics
	ConnectionsActive   prometheus.Gauge
	SubscriptionsActive prometheus.Gauge

	// Event pipeline metrics
	EventsPublished *prometheus.CounterVec
	EventsMatched   *prometheus.CounterVec
	EventsDuplicate prometheus.Counter

	// Job metrics
	JobsTotal *prometheus.CounterVec

	// Circuit breaker state per protected dependency
	BreakerState *prometheus.GaugeVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventgate",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Event processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Current number of active client connections",
			},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Current number of active subscriptions",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events published to the bus",
			},
			[]string{"type"},
		),

		EventsMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "events",
				Name:      "matched_total",
				Help:      "Total number of subscription matches",
			},
			[]string{"type"},
		),

		EventsDuplicate: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "events",
				Name:      "duplicate_total",
				Help:      "Total number of events skipped as duplicates",
			},
		),

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Total number of jobs by action kind and terminal state",
			},
			[]string{"action", "state"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state per dependency (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "eventgate",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventgate",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordConnections updates the active connection gauge
func (c *Metrics) RecordConnections(active int) {
	c.ConnectionsActive.Set(float64(active))
}

// RecordSubscriptions updates the active subscription gauge
func (c *Metrics) RecordSubscriptions(active int) {
	c.SubscriptionsActive.Set(float64(active))
}

// RecordEventPublished increments the published event counter
func (c *Metrics) RecordEventPublished(eventType string) {
	c.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventMatched increments the subscription match counter
func (c *Metrics) RecordEventMatched(eventType string) {
	c.EventsMatched.WithLabelValues(eventType).Inc()
}

// RecordEventDuplicate increments the duplicate-skipped counter
func (c *Metrics) RecordEventDuplicate() {
	c.EventsDuplicate.Inc()
}

// RecordJob increments the job counter for an action kind and terminal state
func (c *Metrics) RecordJob(action, state string) {
	c.JobsTotal.WithLabelValues(action, state).Inc()
}

// RecordBreakerState updates the breaker state gauge for a dependency
func (c *Metrics) RecordBreakerState(dependency string, state int) {
	c.BreakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the NATS circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
