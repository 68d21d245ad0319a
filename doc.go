// Package eventgate is a real-time event delivery gateway. It consumes
// domain events from a NATS JetStream stream, deduplicates them, fans them
// out to GraphQL subscription clients over websockets, and executes side
// effects (webhooks, notifications) through a retrying job queue.
//
// # Pipeline
//
// Events flow through a fixed pipeline:
//
//	JetStream stream -> ingest -> dedup -> eventbus -> gateway (websocket subscribers)
//	                                              \-> jobqueue -> actions (webhook, slack)
//
// Each stage is its own package:
//
//   - ingest attaches a durable consumer to the events stream and controls
//     acknowledgement: processed or duplicate events are acked, pipeline
//     failures are nak'd for redelivery, malformed payloads are acked and
//     dropped.
//   - dedup remembers processed event keys for a TTL, in memory or in a
//     shared JetStream KV bucket, and only marks an event after the full
//     pipeline succeeds so redeliveries are reprocessed.
//   - eventbus matches events against live subscriptions by topic and
//     optional channel, and submits one job per bound action.
//   - gateway/websocket speaks the graphql-transport-ws protocol, with a
//     per-connection state machine (protocol) and an eviction-sweeping
//     connection pool (connpool).
//   - jobqueue runs actions on a worker pool with capped retries and
//     backoff; recovery and breaker wrap each dependency in a retry
//     strategy and a circuit breaker so one dead webhook target cannot
//     stall the rest.
//
// Supporting packages carry the ambient concerns: natsclient wraps the NATS
// connection with its own circuit breaker and JetStream helpers, config
// loads and validates the JSON configuration, metric exposes Prometheus
// metrics, health aggregates component statuses for the /healthz endpoint,
// and errors classifies failures as transient, invalid, or fatal so retry
// loops know what is worth retrying.
//
// The cmd/eventgate binary wires all of this together from one config file.
package eventgate
