package storage

import (
	"context"
	"time"
)

// CounterStore is the shared atomic counter store behind admission control.
// Every gateway and REST instance talks to the same store, so limits apply
// globally rather than per process.
type CounterStore interface {
	// IncrementWithExpiry atomically adds amount to key and returns the new
	// value. When the key does not exist (or has no expiry) its expiry is set
	// to ttl. An existing expiry is never extended.
	IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key, or 0 when the key is missing
	// or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
