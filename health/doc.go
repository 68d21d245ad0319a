// Package health tracks the liveness of EventGate's moving parts and
// aggregates them into one answer for the /healthz endpoint.
//
// Each component gets a three-state Status: healthy, degraded, or unhealthy.
// Degraded means still serving but worth watching (a reconnecting NATS link,
// a job queue filling up); unhealthy means broken. The Monitor holds the
// latest Status per component, and AggregateHealth folds them with worst-case
// rules: any unhealthy component makes the system unhealthy, otherwise any
// degraded component makes it degraded.
//
// Checkers translate component snapshots into statuses:
//
//	monitor := health.NewMonitor()
//	monitor.Update("nats", health.FromNATS(client.GetStatus()))
//	monitor.Update("connections", health.FromPool(pool.Stats(), cfg.MaxConnections))
//	monitor.Update("jobs", health.FromQueue(queue.Stats(), cfg.QueueSize))
//	monitor.Update("breakers", health.FromBreakers(breakers.Snapshots()))
//
// Handler serves the aggregate as JSON, returning 503 only when the system is
// unhealthy; a degraded system keeps answering 200 because it is still doing
// useful work.
//
// Messages are sanitized before they are stored so URLs, paths, addresses,
// and credentials from wrapped errors never reach a dashboard.
package health
