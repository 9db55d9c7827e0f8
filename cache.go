package flashguard

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/flashguard/codec"
	"github.com/unkn0wn-root/flashguard/internal/wire"
	"github.com/unkn0wn-root/flashguard/lock"
	pr "github.com/unkn0wn-root/flashguard/provider"
)

const (
	defaultTTL         = 30 * time.Minute
	defaultSentinelTTL = 2 * time.Minute
	defaultLockTTL     = 10 * time.Second
	defaultLogicalTTL  = 30 * time.Minute

	defaultRetryInterval = 50 * time.Millisecond
	defaultMaxAttempts   = 40

	defaultRebuildWorkers = 10
	defaultRebuildQueue   = 256

	// releaseTimeout bounds lock releases, which run on background contexts
	// so a canceled request cannot skip them.
	releaseTimeout = 2 * time.Second
)

type cache[V any] struct {
	ns     string
	store  pr.Store
	codec  c.Codec[V]
	loader Loader[V]

	strategy Strategy
	log      Logger
	hooks    Hooks

	ttl         time.Duration
	sentinelTTL time.Duration
	lockTTL     time.Duration
	logicalTTL  time.Duration

	retryInterval time.Duration
	maxAttempts   int

	now      func() time.Time
	rebuilds *rebuildPool
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("flashguard: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("flashguard: codec is required")
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("flashguard: loader is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("flashguard: namespace is required")
	}

	cc := &cache[V]{
		ns:       opts.Namespace,
		store:    opts.Store,
		codec:    opts.Codec,
		loader:   opts.Loader,
		strategy: opts.Strategy,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.ttl = coalesce[time.Duration](opts.TTL, defaultTTL)
	cc.sentinelTTL = coalesce[time.Duration](opts.SentinelTTL, defaultSentinelTTL)
	cc.lockTTL = coalesce[time.Duration](opts.LockTTL, defaultLockTTL)
	cc.logicalTTL = coalesce[time.Duration](opts.LogicalTTL, defaultLogicalTTL)
	cc.retryInterval = coalesce[time.Duration](opts.RetryInterval, defaultRetryInterval)
	cc.maxAttempts = coalesce[int](opts.MaxAttempts, defaultMaxAttempts)

	if opts.Now != nil {
		cc.now = opts.Now
	} else {
		cc.now = time.Now
	}

	if opts.Strategy == StrategyLogicalExpire {
		workers := coalesce[int](opts.RebuildWorkers, defaultRebuildWorkers)
		queue := coalesce[int](opts.RebuildQueue, defaultRebuildQueue)
		cc.rebuilds = newRebuildPool(workers, queue, cc.lockTTL, func(key string, err error) {
			cc.hooks.RebuildFailed(cc.ns, key, err)
			cc.log.Error("background rebuild failed", Fields{"key": key, "err": err})
		})
	}

	return cc, nil
}

func (c *cache[V]) Close(context.Context) error {
	if c.rebuilds != nil {
		c.rebuilds.close()
	}
	return nil
}

func (c *cache[V]) Load(ctx context.Context, id string) (V, bool, error) {
	switch c.strategy {
	case StrategyMutex:
		return c.loadWithMutex(ctx, id)
	case StrategyLogicalExpire:
		return c.loadLogical(ctx, id)
	default:
		return c.loadPassThrough(ctx, id)
	}
}

// loadPassThrough defends against penetration only: a confirmed-absent
// record leaves a short-lived sentinel so repeat lookups stop at the cache.
func (c *cache[V]) loadPassThrough(ctx context.Context, id string) (V, bool, error) {
	var zero V
	k := c.key(id)

	v, _, state, err := c.lookup(ctx, k)
	if err != nil {
		return zero, false, err
	}
	switch state {
	case lookupValue:
		return v, true, nil
	case lookupSentinel:
		return zero, false, nil
	}
	return c.populate(ctx, id, k)
}

// loadWithMutex adds breakdown defense: on a genuine miss, one caller takes
// the per-id rebuild lock and reads the record store; the rest sleep a short
// interval and re-read from the top, bounded by maxAttempts.
func (c *cache[V]) loadWithMutex(ctx context.Context, id string) (V, bool, error) {
	var zero V
	k := c.key(id)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		v, _, state, err := c.lookup(ctx, k)
		if err != nil {
			return zero, false, err
		}
		switch state {
		case lookupValue:
			return v, true, nil
		case lookupSentinel:
			return zero, false, nil
		}

		mu := lock.New(c.store, c.lockName(id))
		got, err := mu.TryLock(ctx, c.lockTTL)
		if err != nil {
			return zero, false, unavailable("rebuild lock", err)
		}
		if !got {
			c.hooks.LockContended(mu.Key())
			if err := sleepCtx(ctx, c.retryInterval); err != nil {
				return zero, false, err
			}
			continue
		}

		return c.rebuildLocked(ctx, id, k, mu)
	}

	c.hooks.RetryExhausted(c.ns, id)
	return zero, false, fmt.Errorf("load %q: %w", id, ErrRetryExhausted)
}

// rebuildLocked runs under mu and releases it on every path.
func (c *cache[V]) rebuildLocked(ctx context.Context, id, storageKey string, mu *lock.Mutex) (V, bool, error) {
	var zero V
	defer c.release(mu)

	// Double-check: the winner of the previous round may have already
	// populated the key between our miss and the acquisition.
	v, _, state, err := c.lookup(ctx, storageKey)
	if err != nil {
		return zero, false, err
	}
	switch state {
	case lookupValue:
		return v, true, nil
	case lookupSentinel:
		return zero, false, nil
	}

	return c.populate(ctx, id, storageKey)
}

// loadLogical serves pre-warmed hot keys. A miss means the key was never
// warmed and the record store is not consulted. A logically expired hit is
// returned as-is while at most one background task rebuilds the entry.
func (c *cache[V]) loadLogical(ctx context.Context, id string) (V, bool, error) {
	var zero V
	k := c.key(id)

	v, ent, state, err := c.lookup(ctx, k)
	if err != nil {
		return zero, false, err
	}
	if state != lookupValue {
		// not warmed, or downgraded to a sentinel by a rebuild that found
		// the record gone
		return zero, false, nil
	}
	if !ent.Expired(c.now()) {
		return v, true, nil
	}

	mu := lock.New(c.store, c.lockName(id))
	got, lockErr := mu.TryLock(ctx, c.lockTTL)
	if lockErr != nil {
		// Can't coordinate a rebuild right now; the stale value is still
		// safe to serve. Staleness stays bounded by the next successful try.
		c.log.Warn("rebuild lock unavailable, serving stale", Fields{"key": id, "err": lockErr})
		c.hooks.StaleServed(c.ns, id)
		return v, true, nil
	}
	if !got {
		// someone else is already rebuilding
		c.hooks.StaleServed(c.ns, id)
		return v, true, nil
	}

	// We hold the lock. Re-verify staleness: a rebuild may have completed
	// between our read and the acquisition, and submitting again would queue
	// a duplicate.
	if v2, ent2, st2, err2 := c.lookup(ctx, k); err2 == nil && st2 == lookupValue && !ent2.Expired(c.now()) {
		c.release(mu)
		return v2, true, nil
	}

	c.submitRebuild(id, mu)
	c.hooks.StaleServed(c.ns, id)
	return v, true, nil
}

// Warm seeds a hot entry for id. The envelope carries the logical expiry;
// the store key gets no TTL, so the value never vanishes mid-rebuild.
func (c *cache[V]) Warm(ctx context.Context, id string, v V, logicalTTL time.Duration) error {
	if logicalTTL <= 0 {
		logicalTTL = c.logicalTTL
	}
	payload, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("warm %q: encode: %w", id, err)
	}
	env := wire.EncodeHot(c.now().Add(logicalTTL), payload)
	if err := c.store.Set(ctx, c.key(id), env, 0); err != nil {
		return unavailable("warm set", err)
	}
	return nil
}

func (c *cache[V]) Invalidate(ctx context.Context, id string) error {
	if err := c.store.Del(ctx, c.key(id)); err != nil {
		return unavailable("invalidate", err)
	}
	c.log.Debug("invalidated key", Fields{"key": id})
	return nil
}

func (c *cache[V]) Update(ctx context.Context, id string, write func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	return c.Invalidate(ctx, id)
}

// ---- internals ----

const (
	lookupMiss = iota
	lookupSentinel
	lookupValue
)

// lookup classifies the entry under storageKey. Corrupt entries are deleted
// (self-heal) and reported as a miss so the strategy rebuilds them.
func (c *cache[V]) lookup(ctx context.Context, storageKey string) (V, wire.Entry, int, error) {
	var zero V
	raw, ok, err := c.store.Get(ctx, storageKey)
	if err != nil {
		return zero, wire.Entry{}, lookupMiss, unavailable("cache get", err)
	}
	if !ok {
		return zero, wire.Entry{}, lookupMiss, nil
	}
	if len(raw) == 0 {
		return zero, wire.Entry{}, lookupSentinel, nil
	}

	ent, derr := wire.Decode(raw)
	if derr != nil {
		_ = c.store.Del(ctx, storageKey) // self-heal corrupt
		c.hooks.CorruptDropped(storageKey, "corrupt")
		return zero, wire.Entry{}, lookupMiss, nil
	}
	v, derr := c.codec.Decode(ent.Payload)
	if derr != nil {
		_ = c.store.Del(ctx, storageKey) // self-heal
		c.hooks.CorruptDropped(storageKey, "value_decode")
		return zero, wire.Entry{}, lookupMiss, nil
	}
	return v, ent, lookupValue, nil
}

// populate reads the record store and fills the cache: a sentinel with a
// short TTL when the record is absent, the encoded value otherwise. Cache
// write failures are logged, not returned - the loaded result is already
// authoritative and no stale entry is left behind.
func (c *cache[V]) populate(ctx context.Context, id, storageKey string) (V, bool, error) {
	var zero V
	v, found, err := c.loader(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("load %q: %w", id, err)
	}
	if !found {
		if serr := c.store.Set(ctx, storageKey, nil, c.sentinelTTL); serr != nil {
			c.log.Warn("sentinel write failed", Fields{"key": id, "err": serr})
		} else {
			c.hooks.SentinelStored(c.ns, id)
		}
		return zero, false, nil
	}

	payload, err := c.codec.Encode(v)
	if err != nil {
		return zero, false, fmt.Errorf("load %q: encode: %w", id, err)
	}
	if serr := c.store.Set(ctx, storageKey, wire.EncodePlain(payload), c.ttl); serr != nil {
		c.log.Warn("cache write failed", Fields{"key": id, "err": serr})
	}
	return v, true, nil
}

// rebuildHot refreshes a hot entry from the record store. Called from the
// rebuild pool; the submitting request already holds the per-id lock and the
// pool releases it after this returns.
func (c *cache[V]) rebuildHot(ctx context.Context, id string) error {
	k := c.key(id)
	v, found, err := c.loader(ctx, id)
	if err != nil {
		return fmt.Errorf("rebuild %q: %w", id, err)
	}
	if !found {
		// record is gone; downgrade to a sentinel so the stale value stops
		// being served
		if serr := c.store.Set(ctx, k, nil, c.sentinelTTL); serr != nil {
			return unavailable("rebuild sentinel set", serr)
		}
		c.hooks.SentinelStored(c.ns, id)
		return nil
	}

	payload, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("rebuild %q: encode: %w", id, err)
	}
	env := wire.EncodeHot(c.now().Add(c.logicalTTL), payload)
	if serr := c.store.Set(ctx, k, env, 0); serr != nil {
		return unavailable("rebuild set", serr)
	}
	return nil
}

func (c *cache[V]) submitRebuild(id string, mu *lock.Mutex) {
	t := rebuildTask{
		key:     id,
		build:   func(ctx context.Context) error { return c.rebuildHot(ctx, id) },
		release: func() { c.release(mu) },
	}
	if !c.rebuilds.submit(t) {
		// pool saturated: the release obligation stays with us
		c.release(mu)
		c.hooks.RebuildDropped(c.ns, id)
		return
	}
	c.hooks.RebuildStarted(c.ns, id)
}

// release unlocks mu on a fresh context so request cancellation cannot skip
// it. Failures are logged, never surfaced: the guarded work already finished
// on its own terms and the TTL bounds the damage.
func (c *cache[V]) release(mu *lock.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := mu.Unlock(ctx); err != nil {
		c.hooks.UnlockFailed(mu.Key(), err)
		c.log.Warn("lock release failed", Fields{"lock": mu.Key(), "err": err})
	}
}

func (c *cache[V]) key(id string) string {
	return "cache:" + c.ns + ":" + id
}

func (c *cache[V]) lockName(id string) string {
	return c.ns + ":" + id
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
