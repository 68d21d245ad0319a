// Package metric provides Prometheus-based metrics collection and an HTTP
// server for EventGate monitoring and observability.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (service status, event pipeline counters, NATS health)
// and custom component-specific metrics. It includes an HTTP server exposing
// metrics in Prometheus format.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: platform-level metrics automatically registered (Metrics type)
//  2. Service Registry: extensible registration for component-specific metrics
//     (MetricsRegistrar interface)
//  3. HTTP Server: metrics endpoint with health checks (Server type)
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil && err != http.ErrServerClosed {
//	        slog.Error("metrics server error", "error", err)
//	    }
//	}()
//
//	coreMetrics := registry.CoreMetrics()
//	coreMetrics.RecordServiceStatus("gateway", 2)
//	coreMetrics.RecordEventPublished("entity_updated")
//	coreMetrics.RecordJob("webhook", "completed")
//
// # Core Metrics
//
// All core metrics use the namespace "eventgate" with a subsystem per
// concern:
//
//   - eventgate_service_status{service="..."}
//   - eventgate_connections_active, eventgate_subscriptions_active
//   - eventgate_events_published_total{type="..."},
//     eventgate_events_matched_total{type="..."},
//     eventgate_events_duplicate_total
//   - eventgate_jobs_total{action="...",state="..."}
//   - eventgate_breaker_state{dependency="..."}
//   - eventgate_nats_connected, eventgate_nats_rtt_milliseconds
//
// # Component Metrics
//
// Components register their own metrics through MetricsRegistrar. The
// registry tracks registrations under "service.metric" keys and rejects
// duplicates at both the registry and Prometheus level:
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "eventgate",
//	    Subsystem: "gateway",
//	    Name:      "messages_sent_total",
//	    Help:      "Total messages written to clients",
//	})
//	if err := registry.RegisterCounter("gateway", "messages_sent_total", counter); err != nil {
//	    return err
//	}
//
// Components accept a nil registry to run with metrics disabled; the
// convention throughout EventGate is that a nil registry means no metrics,
// not an error.
//
// # Thread Safety
//
// The registry serializes registration and unregistration with an internal
// mutex. Recording values on registered collectors is lock-free and safe for
// concurrent use.
package metric
