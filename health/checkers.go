package health

import (
	"fmt"

	"github.com/c360/eventgate/breaker"
	"github.com/c360/eventgate/connpool"
	"github.com/c360/eventgate/jobqueue"
	"github.com/c360/eventgate/natsclient"
)

// Occupancy thresholds for the capacity-bound components. Crossing one marks
// the component degraded; nothing is broken yet, but admission failures are
// close.
const (
	poolDegradedRatio  = 0.9
	queueDegradedRatio = 0.8
)

// FromNATS translates the NATS client's connection snapshot. Reconnecting is
// degraded because the client buffers and retries on its own; only a settled
// disconnect is unhealthy.
func FromNATS(s natsclient.Status) Status {
	metrics := &Metrics{
		ErrorCount:   int64(s.FailureCount),
		LastActivity: s.LastFailureTime,
	}

	switch s.Status {
	case natsclient.StatusConnected:
		return NewHealthy("nats",
			fmt.Sprintf("connected, rtt %s, %d reconnects", s.RTT, s.Reconnects)).
			WithMetrics(metrics)
	case natsclient.StatusReconnecting:
		return NewDegraded("nats",
			fmt.Sprintf("reconnecting after %d failures", s.FailureCount)).
			WithMetrics(metrics)
	default:
		return NewUnhealthy("nats",
			fmt.Sprintf("disconnected after %d failures", s.FailureCount)).
			WithMetrics(metrics)
	}
}

// FromPool translates connection pool occupancy. A full pool is degraded, not
// unhealthy: the gateway sheds new connections with a retry close code while
// existing ones keep working.
func FromPool(stats connpool.Stats, maxConnections int) Status {
	metrics := &Metrics{
		Active:     stats.Active,
		Capacity:   maxConnections,
		ErrorCount: stats.TotalErrors,
	}

	if maxConnections > 0 && float64(stats.Active) >= float64(maxConnections)*poolDegradedRatio {
		return NewDegraded("connections",
			fmt.Sprintf("%d of %d connections in use", stats.Active, maxConnections)).
			WithMetrics(metrics)
	}
	return NewHealthy("connections",
		fmt.Sprintf("%d of %d connections in use", stats.Active, maxConnections)).
		WithMetrics(metrics)
}

// FromQueue translates job queue backlog. A deep backlog is degraded; jobs
// are delayed but still draining.
func FromQueue(stats jobqueue.QueueStats, queueSize int) Status {
	metrics := &Metrics{
		Pending:    stats.Pending,
		Active:     stats.Running,
		Capacity:   queueSize,
		ErrorCount: stats.Failed,
	}

	if queueSize > 0 && float64(stats.Pending) >= float64(queueSize)*queueDegradedRatio {
		return NewDegraded("jobs",
			fmt.Sprintf("%d jobs pending of %d capacity", stats.Pending, queueSize)).
			WithMetrics(metrics)
	}
	return NewHealthy("jobs",
		fmt.Sprintf("%d pending, %d running, %d dead-lettered",
			stats.Pending, stats.Running, stats.DeadLettered)).
		WithMetrics(metrics)
}

// FromBreakers translates circuit breaker states, one sub-status per named
// dependency. An open breaker marks the set unhealthy since jobs for that
// dependency are failing fast; half-open is degraded while probes run.
func FromBreakers(snapshots map[string]breaker.Counts) Status {
	subs := make([]Status, 0, len(snapshots))
	for name, counts := range snapshots {
		var sub Status
		switch counts.State {
		case breaker.StateOpen:
			sub = NewUnhealthy(name,
				fmt.Sprintf("circuit open after %d failures", counts.Failures))
		case breaker.StateHalfOpen:
			sub = NewDegraded(name, "circuit half-open, probing")
		default:
			sub = NewHealthy(name, "circuit closed")
		}
		sub.Metrics = &Metrics{
			ErrorCount:   int64(counts.Failures),
			LastActivity: counts.LastFail,
		}
		subs = append(subs, sub)
	}
	return Aggregate("breakers", subs)
}
