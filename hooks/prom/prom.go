// Package prom exposes cache events as Prometheus counters. Counter
// increments are cheap enough to run inline; no async wrapper needed.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/flashguard"
)

type Hooks struct {
	sentinels      *prometheus.CounterVec
	corrupt        *prometheus.CounterVec
	lockContended  prometheus.Counter
	retryExhausted *prometheus.CounterVec
	staleServed    *prometheus.CounterVec
	rebuilds       *prometheus.CounterVec
	unlockFailed   prometheus.Counter
}

var _ flashguard.Hooks = (*Hooks)(nil)

// New registers the counters on reg and returns the hooks. Pass
// prometheus.DefaultRegisterer for the default registry.
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		sentinels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashguard_sentinels_stored_total",
			Help: "Confirmed-absent sentinels written, per namespace.",
		}, []string{"ns"}),
		corrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashguard_corrupt_dropped_total",
			Help: "Cache entries dropped on validation failure, per reason.",
		}, []string{"reason"}),
		lockContended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashguard_lock_contended_total",
			Help: "Rebuild lock contentions observed by the mutex strategy.",
		}),
		retryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashguard_retry_exhausted_total",
			Help: "Mutex-strategy reads that ran out of attempts, per namespace.",
		}, []string{"ns"}),
		staleServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashguard_stale_served_total",
			Help: "Logically expired values served while a rebuild runs, per namespace.",
		}, []string{"ns"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashguard_rebuilds_total",
			Help: "Background rebuild outcomes, per namespace and outcome.",
		}, []string{"ns", "outcome"}),
		unlockFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashguard_unlock_failed_total",
			Help: "Lock release attempts that errored.",
		}),
	}
	reg.MustRegister(
		h.sentinels, h.corrupt, h.lockContended,
		h.retryExhausted, h.staleServed, h.rebuilds, h.unlockFailed,
	)
	return h
}

func (h *Hooks) SentinelStored(ns, _ string) { h.sentinels.WithLabelValues(ns).Inc() }
func (h *Hooks) CorruptDropped(_, reason string) {
	h.corrupt.WithLabelValues(reason).Inc()
}
func (h *Hooks) LockContended(string)        { h.lockContended.Inc() }
func (h *Hooks) RetryExhausted(ns, _ string) { h.retryExhausted.WithLabelValues(ns).Inc() }
func (h *Hooks) StaleServed(ns, _ string)    { h.staleServed.WithLabelValues(ns).Inc() }
func (h *Hooks) RebuildStarted(ns, _ string) { h.rebuilds.WithLabelValues(ns, "started").Inc() }
func (h *Hooks) RebuildFailed(ns, _ string, _ error) {
	h.rebuilds.WithLabelValues(ns, "failed").Inc()
}
func (h *Hooks) RebuildDropped(ns, _ string) { h.rebuilds.WithLabelValues(ns, "dropped").Inc() }
func (h *Hooks) UnlockFailed(string, error) { h.unlockFailed.Inc() }
