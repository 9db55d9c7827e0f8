// Package idgen issues globally unique, roughly time-ordered 64-bit ids,
// partitioned by a caller-supplied namespace. An id is
// (secondsSinceEpoch - allocatorEpoch) << 32 | sequence, where the sequence
// comes from an atomic counter in the shared store keyed by namespace and
// calendar day. The day in the key bounds counter growth (a fresh key every
// day) and gives operators a natural unit for usage counts; the timestamp in
// the high bits keeps ids from different days distinct even when low bits
// collide.
package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/flashguard"
	pr "github.com/unkn0wn-root/flashguard/provider"
)

const (
	// epoch is subtracted from the wall clock before shifting, pinning the
	// usable timestamp range to the service's lifetime (2026-01-12T00:00:00Z).
	epoch int64 = 1768176000

	// sequenceBits sizes the per-day sequence. 32 bits cannot overflow before
	// the counter key rotates at any realistic allocation rate.
	sequenceBits = 32

	counterPrefix = "icr:"

	// dayLayout uses colons so per-day counters group cleanly when scanned
	// by prefix ("icr:order:2026:08:*").
	dayLayout = "2006:01:02"
)

// Allocator allocates ids from a shared store. Safe for concurrent use and
// safe to instantiate once per process without any cross-process setup: the
// store's atomic increment is the only shared state.
type Allocator struct {
	store      pr.Store
	counterTTL time.Duration
	now        func() time.Time
}

type Options struct {
	// CounterTTL, when positive, is attached to each day counter after its
	// first increment so old counters eventually vanish. 0 keeps them forever.
	CounterTTL time.Duration

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

func New(store pr.Store, opts Options) *Allocator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Allocator{store: store, counterTTL: opts.CounterTTL, now: now}
}

// NextID returns the next id for the namespace. It never blocks on other
// namespaces and never returns a duplicate for a given namespace, however
// many callers race. When the store is unreachable the call fails with an
// error wrapping flashguard.ErrUnavailable; callers must not substitute a
// locally generated id.
func (a *Allocator) NextID(ctx context.Context, namespace string) (int64, error) {
	now := a.now().UTC()
	ts := now.Unix() - epoch

	key := counterPrefix + namespace + ":" + now.Format(dayLayout)
	seq, err := a.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("idgen %q: counter increment: %w: %w", namespace, flashguard.ErrUnavailable, err)
	}
	if a.counterTTL > 0 && seq == 1 {
		// Best-effort: a missed EXPIRE only means the day counter lingers.
		_, _ = a.store.Expire(ctx, key, a.counterTTL)
	}

	return ts<<sequenceBits | seq, nil
}
