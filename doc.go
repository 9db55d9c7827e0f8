// Package flashguard implements a read-through cache over a slower record
// store with defenses against cache penetration (negative sentinels for
// confirmed-absent keys) and cache breakdown (at most one rebuild per key at
// a time), coordinated through a shared key-value store.
//
// Components:
//   - provider.Store: the shared key-value store (Redis, or in-memory).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - lock.Mutex: cross-process mutual exclusion with ownership tokens.
//   - idgen.Allocator: monotone 64-bit ids from day-scoped counters.
//   - seckill.Pipeline: limited-stock order admission on top of all three.
//
// Keys:
//
//	cache:<ns>:<id>  - cached entries (empty value = confirmed absent)
//	lock:<name>      - lock records (value = owner token)
//	icr:<ns>:<day>   - id allocator day counters
//
// Miss handling is selected per cache via Options.Strategy:
//
//	StrategyPassThrough   read store on miss, cache result or sentinel
//	StrategyMutex         same, but one loader call per key under a lock;
//	                      losers sleep briefly and re-read (bounded)
//	StrategyLogicalExpire pre-warmed hot keys only; stale hits are served
//	                      immediately while one background task rebuilds
package flashguard
