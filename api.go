package flashguard

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/flashguard/codec"
	pr "github.com/unkn0wn-root/flashguard/provider"
)

// Strategy selects how a cache miss is handled.
type Strategy int

const (
	// StrategyPassThrough reads the record store on every genuine miss and
	// caches the result, or a short-lived sentinel when the record is absent.
	// Defends against penetration only.
	StrategyPassThrough Strategy = iota

	// StrategyMutex adds breakdown defense: one loader call per key at a
	// time, guarded by a per-key lock; contenders sleep briefly and re-read,
	// bounded by MaxAttempts.
	StrategyMutex

	// StrategyLogicalExpire serves pre-warmed hot keys only. A miss means
	// "not warmed" and returns absent without touching the record store.
	// Logically expired hits return the stale value immediately and trigger
	// at most one background rebuild.
	StrategyLogicalExpire
)

// Loader reads the record of id from the system of record.
// found=false with a nil error means the record is confirmed absent.
type Loader[V any] func(ctx context.Context, id string) (v V, found bool, err error)

// Cache is a read-through cache over a record store. The (V, ok, error)
// triple keeps "confirmed absent" (ok=false, err=nil) distinct from "could
// not determine" (err != nil); the latter always wraps ErrUnavailable when
// the shared store is the cause.
type Cache[V any] interface {
	// Load returns the cached value, rebuilding it per the configured
	// strategy on a miss.
	Load(ctx context.Context, id string) (v V, ok bool, err error)

	// Warm seeds a hot entry with a logical expiry logicalTTL from now and
	// no store TTL. Required before StrategyLogicalExpire can serve the id.
	Warm(ctx context.Context, id string, v V, logicalTTL time.Duration) error

	// Invalidate deletes the cached entry. The error matters: after a record
	// store write, a failed invalidate leaves a stale entry, so transactional
	// callers must treat it as fatal and roll back (see seckill/postgres).
	Invalidate(ctx context.Context, id string) error

	// Update runs write (the record-store mutation) and then invalidates the
	// cached entry, in that order. It returns the invalidate error so a
	// caller holding the surrounding transaction open can roll back on it.
	Update(ctx context.Context, id string, write func(context.Context) error) error

	// Close stops the background rebuild pool; it does not close the Store.
	Close(ctx context.Context) error
}

// Options tune a Cache. Namespace, Store, Codec and Loader are required;
// others have defaults.
type Options[V any] struct {
	// Required
	Namespace string // entity prefix segment, e.g. "shop", "voucher"
	Store     pr.Store
	Codec     c.Codec[V]
	Loader    Loader[V]

	Strategy Strategy
	Logger   Logger // nil => NopLogger
	Hooks    Hooks  // nil => NopHooks

	TTL         time.Duration // cached entries; 0 => 30m
	SentinelTTL time.Duration // confirmed-absent sentinels; 0 => 2m
	LockTTL     time.Duration // per-key rebuild locks; 0 => 10s
	LogicalTTL  time.Duration // background rebuilds' new expiry; 0 => 30m

	// StrategyMutex retry policy.
	RetryInterval time.Duration // sleep between attempts; 0 => 50ms
	MaxAttempts   int           // full read attempts before ErrRetryExhausted; 0 => 40

	// StrategyLogicalExpire rebuild pool.
	RebuildWorkers int // 0 => 10
	RebuildQueue   int // 0 => 256

	// Now overrides the clock used for logical expiry. Nil means time.Now.
	Now func() time.Time
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
