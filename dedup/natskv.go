package dedup

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/natsclient"
)

// DefaultBucket is the KV bucket holding dedup marks
const DefaultBucket = "EVENTGATE_DEDUP"

// NATSStore is a Store on a JetStream key-value bucket. The mark TTL is a
// bucket property, so all instances sharing the bucket share one expiry
// policy. Use this store when several instances consume the same stream.
type NATSStore struct {
	kv *natsclient.KVStore
}

// NewNATSStore creates (or binds to) the dedup bucket and wraps it as a Store
func NewNATSStore(ctx context.Context, client *natsclient.Client, bucket string, ttl time.Duration) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "dedup", "NewNATSStore",
			fmt.Sprintf("ttl must be positive, got %v", ttl))
	}

	kvBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "processed-event marks for idempotent delivery",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "dedup", "NewNATSStore",
			fmt.Sprintf("failed to create bucket %s", bucket))
	}

	return &NATSStore{kv: client.NewKVStore(kvBucket)}, nil
}

// IsDuplicate reports whether the key is marked in the bucket
func (s *NATSStore) IsDuplicate(ctx context.Context, key string) (bool, error) {
	_, err := s.kv.Get(ctx, kvKey(key))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "dedup", "IsDuplicate",
			"dedup store lookup failed")
	}
	return true, nil
}

// MarkProcessed writes the mark; the bucket TTL expires it
func (s *NATSStore) MarkProcessed(ctx context.Context, key string) error {
	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := s.kv.Put(ctx, kvKey(key), value); err != nil {
		return errors.WrapTransient(err, "dedup", "MarkProcessed",
			"dedup store write failed")
	}
	return nil
}

// Remove clears the mark so the event can be processed again
func (s *NATSStore) Remove(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, kvKey(key)); err != nil {
		return errors.WrapTransient(err, "dedup", "Remove",
			"dedup store delete failed")
	}
	return nil
}

// Close is a no-op; the NATS connection is owned by the caller
func (s *NATSStore) Close() error {
	return nil
}

// kvKey rewrites the dedup key into the KV key charset. JetStream KV keys
// cannot contain ":".
func kvKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
