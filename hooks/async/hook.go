// Package asynchook decorates a Hooks implementation with a bounded queue so
// slow sinks never stall the cache's hot paths. Events are dropped when the
// queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StaleServedEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/flashguard"
)

type Hooks struct {
	inner flashguard.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ flashguard.Hooks = (*Hooks)(nil)

func New(inner flashguard.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SentinelStored(ns, k string) { h.try(func() { h.inner.SentinelStored(ns, k) }) }
func (h *Hooks) CorruptDropped(k, r string)  { h.try(func() { h.inner.CorruptDropped(k, r) }) }
func (h *Hooks) LockContended(name string)   { h.try(func() { h.inner.LockContended(name) }) }
func (h *Hooks) RetryExhausted(ns, k string) { h.try(func() { h.inner.RetryExhausted(ns, k) }) }
func (h *Hooks) StaleServed(ns, k string)    { h.try(func() { h.inner.StaleServed(ns, k) }) }
func (h *Hooks) RebuildStarted(ns, k string) { h.try(func() { h.inner.RebuildStarted(ns, k) }) }
func (h *Hooks) RebuildDropped(ns, k string) { h.try(func() { h.inner.RebuildDropped(ns, k) }) }
func (h *Hooks) RebuildFailed(ns, k string, err error) {
	h.try(func() { h.inner.RebuildFailed(ns, k, err) })
}
func (h *Hooks) UnlockFailed(name string, err error) {
	h.try(func() { h.inner.UnlockFailed(name, err) })
}
