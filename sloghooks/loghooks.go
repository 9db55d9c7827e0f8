package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/flashguard"
)

type Options struct {
	// Sampling to avoid floods under bursty expiry; 0/1 = log all.
	StaleServedEvery   uint64
	LockContendedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	staleCtr     atomic.Uint64
	contendedCtr atomic.Uint64
}

var _ flashguard.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SentinelStored(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("flashguard.sentinel_stored",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) CorruptDropped(storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashguard.corrupt_dropped",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) LockContended(lockName string) {
	if h.l == nil || !sample(h.opts.LockContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("flashguard.lock_contended",
		"lock", lockName)
}

func (h *Hooks) RetryExhausted(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashguard.retry_exhausted",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) StaleServed(ns, key string) {
	if h.l == nil || !sample(h.opts.StaleServedEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("flashguard.stale_served",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) RebuildStarted(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("flashguard.rebuild_started",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) RebuildFailed(ns, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("flashguard.rebuild_failed",
		"ns", ns,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) RebuildDropped(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashguard.rebuild_dropped",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) UnlockFailed(lockName string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("flashguard.unlock_failed",
		"lock", lockName,
		"err", err)
}
