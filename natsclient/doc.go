// Package natsclient provides a NATS client with circuit breaker protection,
// automatic reconnection, and JetStream/KV support.
//
// The package wraps the standard NATS Go client with reliability features:
// a circuit breaker that fails fast after consecutive connection failures,
// exponential backoff reconnection, and context propagation on every
// operation. EventGate uses it for event ingestion (JetStream consumers)
// and for the shared deduplication store (JetStream KV).
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # JetStream and KV
//
// Streams, consumers, and KV buckets are created through the client so every
// round trip shares the circuit breaker and reconnect handling:
//
//	stream, err := client.CreateStream(ctx, jetstream.StreamConfig{
//	    Name:     "EVENTS",
//	    Subjects: []string{"events.>"},
//	})
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket: "EVENTGATE_DEDUP",
//	    TTL:    5 * time.Minute,
//	})
//	kv := client.NewKVStore(bucket)
//
// KVStore adds CAS retry logic on top of the raw bucket: UpdateWithRetry
// re-reads and re-applies an update function on revision conflicts, with
// bounded attempts.
//
// # Health and Metrics
//
// GetStatus returns the connection state, failure counts, and RTT. With a
// metrics registry attached (WithMetrics), JetStream stream and consumer
// gauges are polled in the background and exported under the
// "eventgate_jetstream" prefix.
//
// # Testing
//
// Integration tests start a disposable NATS server in a container and tear
// it down with the test. They carry the integration build tag.
package natsclient
