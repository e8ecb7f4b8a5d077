// Package cache provides the storage layer behind RoboRail's semantic
// caches: a shared backend contract with two implementations that can be
// swapped transparently.
//
// # Backend Contract
//
// The [Backend] interface defines get/set/delete/clear, batch forms, stats,
// and a health round trip. No operation returns an error: a cache must never
// be the reason a request fails, so transient I/O failures are counted
// internally and degrade to a miss or false. The interface uses [any] for
// values because Go does not allow generic methods on interfaces; typed
// access goes through the package-level generic [Get].
//
// # Implementations
//
//   - [NewMemory] — bounded in-process map. Least-recently-used entries are
//     evicted when the entry count or soft byte budget is exceeded. Expired
//     entries are removed lazily on read and by a background sweep, so
//     memory is reclaimed even for keys nobody reads again. Default and
//     fallback target.
//
//   - [NewRedis] — network-backed, storing JSON text under prefixed keys.
//     Adds cross-instance invalidation: [RedisBackend.InvalidatePattern]
//     clears local keys and publishes a [Notice] on [InvalidationChannel],
//     and every connected instance clears its own matching keys when the
//     notice arrives. Subscriptions ride a dedicated connection so they
//     never block ordinary commands. Commands run behind a per-operation
//     timeout and a circuit breaker; a broken connection means fast misses,
//     not errors.
//
// # Pattern Clears
//
// Clear takes a glob pattern where "*" is the only metacharacter, matched
// against the logical key ("vs:*" clears every vector-search entry). The
// Redis backend enumerates matches with a prefixed SCAN and deletes them in
// one batch.
//
// # Consistency
//
// Cross-instance invalidation is asynchronous notification, not a shared
// lock. Two concurrent get-then-set sequences on one key race and the last
// write wins; recomputation is the corrective mechanism, not locking.
package cache
