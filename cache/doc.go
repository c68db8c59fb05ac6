// Package cache is the read-through cache engine in front of the catalog
// database. It puts a shared key-value store between request handlers and
// the system of record and protects that system from three failure modes:
// repeated lookups of records that do not exist, a stampede of rebuilds when
// a popular key expires, and latency spikes while a hot key is rebuilt.
//
// # Store
//
// The [Store] interface is the minimal string-keyed backend the engine needs:
// get, set with TTL, set-if-absent with TTL, and delete. A missing key is
// reported as found == false with a nil error. Backend faults are returned as
// errors marked with [ErrUnavailable], so callers can tell "not cached" from
// "could not ask".
//
// Optional capabilities are discovered with type assertions:
// [CompareAndDeleter] for token-checked lock release, [PrefixDeleter] for
// namespace eviction and [Pinger] for health checks.
//
// Three implementations are provided:
//
//   - [NewRedis] uses [github.com/redis/go-redis/v9]. Each call runs under a
//     per-query timeout ([DefaultQueryTimeout]) and, with [WithCircuitBreaker],
//     behind a circuit breaker so an unreachable server fails fast. Lock
//     release is a Lua compare-and-delete; namespace eviction walks the
//     keyspace with SCAN. The caller owns the client.
//
//   - [NewInMemory] is a process-local map with lazy expiry and a background
//     sweep. It implements every optional capability and is what tests and
//     single-process tools use.
//
//   - [NewComposite] chains stores fastest first. Reads return the first hit,
//     writes fan out, and the last store is authoritative for set-if-absent
//     and compare-and-delete so locks stay distributed. Earlier tiers cap
//     TTLs at [WithLocalTTL].
//
// # Payloads
//
// Values are encoded with a [Codec]. [JSONCodec] is the default and matches
// what other services sharing the keyspace write; [MsgpackCodec] is compact.
// A confirmed absence is stored as the empty [Sentinel] payload, which no
// codec can produce.
//
// Logically expiring entries are stored as an [Envelope]:
//
//	{"data": {...}, "expireTime": "2026-10-18T12:00:00Z"}
//
// The store entry itself never expires; staleness is decided by comparing
// expireTime with the clock.
//
// # Policies
//
// A [Client] binds a store, codec, lock manager and rebuild [Executor]. The
// query policies are package-level generic functions because Go methods
// cannot take type parameters:
//
//	song, found, err := cache.QueryWithMutex(ctx, client, "music:song:", 42,
//	    func(ctx context.Context) (Song, bool, error) {
//	        s, err := repo.FindSong(ctx, 42)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return Song{}, false, nil // cached as absent for the null TTL
//	        }
//	        return s, err == nil, err
//	    }, 30*time.Minute)
//
// [QueryWithPassThrough] caches absences. [QueryWithMutex] additionally lets
// only one caller in the cluster rebuild a missing key while the others back
// off and re-read. [QueryWithLogicalExpire] never blocks on a rebuild: it
// returns the stale value and schedules a reload on the executor, guarded by
// the same lock so only one reload runs per key.
//
// # Failure handling
//
// A store that cannot be reached never turns into "not found". Every policy
// logs the failure and calls the loader directly, without caching the result,
// so a cache outage degrades to database load rather than empty responses.
// Payloads that fail to decode are treated as a miss and overwritten.
//
// Loader errors are returned to the caller and are never cached.
//
// # Locks
//
// [Locker.TryLock] writes a random token with set-if-absent and a TTL
// ([DefaultLockTTL]) so a crashed holder cannot block a key forever. Release
// deletes the entry only if it still holds that token. When a rebuild outlives
// the TTL and another caller takes the lock, the late release reports
// [ErrLockNotHeld] and leaves the new holder alone.
package cache
