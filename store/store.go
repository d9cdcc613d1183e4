package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers are expected to fail open: admission checks degrade rather than
// blocking traffic.
var ErrUnavailable = errors.New("store unavailable")

// Store is the shared key-value backend for all admission counters.
// Every method is safe under concurrent use from many processes; all
// cross-request coordination relies on single-key atomic operations.
type Store interface {
	// Incr atomically increments the integer value at key.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrWindow atomically increments key and reads its remaining TTL in
	// one round trip. If the key has no TTL yet (first increment of a
	// window) the implementation sets it to window. Two first-ever
	// increments may race on the TTL set; the next mutation heals it.
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key does not exist. Returns true if stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// Hash operations, used for the repeat-offender and override tables.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error

	// PushCapped prepends value to the list at key and trims it to max
	// entries, oldest dropped first.
	PushCapped(ctx context.Context, key, value string, max int64) error

	// Range returns list entries from start to stop inclusive (newest first).
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Trim shortens the list at key to its newest max entries.
	Trim(ctx context.Context, key string, max int64) error

	Ping(ctx context.Context) error
	Close() error
}
