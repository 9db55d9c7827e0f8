package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/flashguard"
	pr "github.com/unkn0wn-root/flashguard/provider"
	"github.com/unkn0wn-root/flashguard/provider/memory"
)

func TestNextIDConcurrentDistinct(t *testing.T) {
	ctx := context.Background()
	a := New(memory.New(), Options{})

	const m = 200
	ids := make(chan int64, m)
	var wg sync.WaitGroup
	wg.Add(m)
	for i := 0; i < m; i++ {
		go func() {
			defer wg.Done()
			id, err := a.NextID(ctx, "order")
			if err != nil {
				t.Errorf("NextID: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, m)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != m {
		t.Fatalf("expected %d ids, got %d", m, len(seen))
	}
}

func TestDifferentDaysNeverCollide(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	day1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	clock := day1
	a := New(store, Options{Now: func() time.Time { return clock }})

	id1, err := a.NextID(ctx, "order")
	if err != nil {
		t.Fatalf("NextID day1: %v", err)
	}

	// Next day at the same wall-clock offset: the day counter resets, so the
	// low bits repeat, but the timestamp keeps the ids apart.
	clock = day1.Add(24 * time.Hour)
	id2, err := a.NextID(ctx, "order")
	if err != nil {
		t.Fatalf("NextID day2: %v", err)
	}

	if id1&0xFFFFFFFF != id2&0xFFFFFFFF {
		t.Fatalf("expected identical sequence bits across day rollover, got %d vs %d",
			id1&0xFFFFFFFF, id2&0xFFFFFFFF)
	}
	if id1 == id2 {
		t.Fatalf("ids from different days collided: %d", id1)
	}
	if id2 <= id1 {
		t.Fatalf("later day produced smaller id: %d <= %d", id2, id1)
	}
}

func TestNamespacesIndependent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	fixed := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	a := New(store, Options{Now: func() time.Time { return fixed }})

	o1, _ := a.NextID(ctx, "order")
	r1, _ := a.NextID(ctx, "refund")
	if o1&0xFFFFFFFF != 1 || r1&0xFFFFFFFF != 1 {
		t.Fatalf("each namespace starts its own sequence, got %d / %d",
			o1&0xFFFFFFFF, r1&0xFFFFFFFF)
	}
}

func TestCounterTTLAttached(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })
	a := New(store, Options{
		CounterTTL: time.Hour,
		Now:        func() time.Time { return clock },
	})

	if _, err := a.NextID(ctx, "order"); err != nil {
		t.Fatalf("NextID: %v", err)
	}
	clock = clock.Add(2 * time.Hour)
	if _, ok, _ := store.Get(ctx, "icr:order:2026:08:29"); ok {
		t.Fatalf("day counter should have expired")
	}
}

type brokenStore struct {
	pr.Store
}

func (brokenStore) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestIncrementFailureFailsTheCall(t *testing.T) {
	a := New(brokenStore{memory.New()}, Options{})
	_, err := a.NextID(context.Background(), "order")
	if err == nil {
		t.Fatalf("expected error when counter increment fails")
	}
	// "could not determine", never "not found" or a locally invented id
	if !errors.Is(err, flashguard.ErrUnavailable) {
		t.Fatalf("error does not wrap ErrUnavailable: %v", err)
	}
}
