// Package provider defines the key-value store the coordination primitives
// are built on.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte previously passed to Set for a key. The atomic operations
// (SetNX, Incr, Eval) must be atomic with respect to every other client of
// the same logical store, across processes, not just within this one.
//
// The keyspaces "cache:", "lock:" and "icr:" are owned by flashguard.
// External code must not write under these prefixes; foreign writes may be
// treated as corruption by strict envelope validation and deleted.
package provider

import (
	"context"
	"time"
)

// Store is a durable byte store with TTLs plus the atomic primitives the
// lock, the id allocator and the cache strategies need. A ttl <= 0 means
// "no expiry" wherever a TTL is accepted.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent. ok reports whether the write
	// happened. Used for lock acquisition and must be a single atomic step.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Incr atomically increments the integer stored at key, creating it at 0
	// when absent, and returns the value after the increment.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire attaches a TTL to an existing key. ok=false => key absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)

	// Eval executes script server-side as one atomic step with the given keys
	// and args. The scripts this module submits live in internal/script;
	// backends that cannot run arbitrary scripts may support exactly that set
	// and reject the rest.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}
