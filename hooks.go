package flashguard

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the cache calls them on hot
// paths. Wrap with hooks/async to decouple slow sinks, or use hooks/prom and
// sloghooks for ready-made adapters.
type Hooks interface {
	// A confirmed-absent sentinel was written for key.
	SentinelStored(namespace, key string)

	// An entry failed envelope or payload validation and was dropped.
	// reason ∈ {"corrupt", "value_decode"}
	CorruptDropped(storageKey, reason string)

	// The mutex strategy found the rebuild lock held and will sleep-and-retry.
	LockContended(lockName string)

	// The mutex strategy gave up after its full attempt budget.
	RetryExhausted(namespace, key string)

	// A logically expired value was returned while a rebuild runs elsewhere.
	StaleServed(namespace, key string)

	// A background rebuild was accepted by the worker pool.
	RebuildStarted(namespace, key string)

	// A background rebuild finished with an error; the stale entry remains.
	RebuildFailed(namespace, key string, err error)

	// The worker pool was saturated; the rebuild was skipped and its lock
	// released immediately.
	RebuildDropped(namespace, key string)

	// A lock release attempt failed (release is best-effort once the guarded
	// work finished; the TTL still bounds the damage).
	UnlockFailed(lockName string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SentinelStored(string, string)       {}
func (NopHooks) CorruptDropped(string, string)       {}
func (NopHooks) LockContended(string)                {}
func (NopHooks) RetryExhausted(string, string)       {}
func (NopHooks) StaleServed(string, string)          {}
func (NopHooks) RebuildStarted(string, string)       {}
func (NopHooks) RebuildFailed(string, string, error) {}
func (NopHooks) RebuildDropped(string, string)       {}
func (NopHooks) UnlockFailed(string, error)          {}
