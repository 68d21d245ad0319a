package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/pkg/retry"
)

// KV sentinels. Operations map the server's raw responses to these so
// callers can branch with errors.Is.
var (
	ErrKVKeyNotFound        = stderrors.New("key not found")
	ErrKVKeyExists          = stderrors.New("key already exists")
	ErrKVRevisionMismatch   = stderrors.New("revision mismatch")
	ErrKVMaxRetriesExceeded = stderrors.New("max update retries exceeded")
)

// KVEntry is one key-value pair with its revision for compare-and-swap
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore wraps one JetStream key-value bucket with per-operation timeouts
// and normalized errors
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// NewKVStore wraps a bucket obtained from CreateKeyValueBucket
func (c *Client) NewKVStore(bucket jetstream.KeyValue) *KVStore {
	return &KVStore{
		bucket:  bucket,
		timeout: 5 * time.Second,
		logger:  c.logger,
	}
}

// withTimeout bounds an operation that arrived without a deadline
func (s *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the entry for key, or ErrKVKeyNotFound
func (s *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if isKVNotFound(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get",
			fmt.Sprintf("failed to get key %s", key))
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes the value unconditionally and returns the new revision
func (s *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put",
			fmt.Sprintf("failed to put key %s", key))
	}
	return rev, nil
}

// Create writes the value only if the key does not exist yet
func (s *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Create(ctx, key, value)
	if err != nil {
		if isKVKeyExists(err) {
			return 0, ErrKVKeyExists
		}
		return 0, errors.WrapTransient(err, "KVStore", "Create",
			fmt.Sprintf("failed to create key %s", key))
	}
	return rev, nil
}

// Update writes the value only if the key is still at the given revision
func (s *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if isKVRevisionMismatch(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, errors.WrapTransient(err, "KVStore", "Update",
			fmt.Sprintf("failed to update key %s at revision %d", key, revision))
	}
	return rev, nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, key); err != nil && !isKVNotFound(err) {
		return errors.WrapTransient(err, "KVStore", "Delete",
			fmt.Sprintf("failed to delete key %s", key))
	}
	return nil
}

// UpdateWithRetry runs a read-modify-write loop: fn maps the current value
// (nil when the key is absent) to the next value, and a revision conflict
// from a concurrent writer triggers another read. Errors returned by fn stop
// the loop immediately.
func (s *KVStore) UpdateWithRetry(ctx context.Context, key string, maxAttempts int, fn func(current []byte) ([]byte, error)) (uint64, error) {
	cfg := retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	var revision uint64
	err := retry.Do(ctx, cfg, func() error {
		entry, err := s.Get(ctx, key)
		if err != nil && !stderrors.Is(err, ErrKVKeyNotFound) {
			return err
		}

		var current []byte
		if entry != nil {
			current = entry.Value
		}
		next, err := fn(current)
		if err != nil {
			// User-logic failures never resolve through another attempt
			return retry.NonRetryable(err)
		}

		if entry == nil {
			revision, err = s.Create(ctx, key, next)
			if stderrors.Is(err, ErrKVKeyExists) {
				return ErrKVRevisionMismatch
			}
			return err
		}
		revision, err = s.Update(ctx, key, next, entry.Revision)
		return err
	})
	if err != nil {
		if stderrors.Is(err, ErrKVRevisionMismatch) {
			return 0, ErrKVMaxRetriesExceeded
		}
		return 0, err
	}
	return revision, nil
}

// The JetStream client reports KV failures as api errors whose text carries
// the error code. Matching on the code keeps the detectors stable across
// message wording changes.
func isKVNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

func isKVKeyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "key exists") || strings.Contains(msg, "10058")
}

func isKVRevisionMismatch(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "10071")
}
