// Package kvstore provides the durable key-value primitive backing the
// operation queue and the entity version store. Records are opaque blobs;
// any serialization happens in the callers.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a durable key-value store. Implementations must surface I/O
// errors to the caller synchronously; nothing here retries.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListByPrefix returns all key/value pairs whose key starts with prefix.
	ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error)

	// Incr atomically increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}
