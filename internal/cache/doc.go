// Package cache provides the process-local, time-bounded read cache.
//
// Records are replaced wholesale, never patched. Each record may declare
// entity dependencies; invalidating an entity removes every record that
// declared it, via a reverse index. Namespace invalidation is the
// conservative fallback when precise dependencies are not known.
//
// Invalidation bumps a per-namespace generation. Loaders that read the
// store on a miss capture it with Epoch and store through SetAtEpoch, so
// a value computed before a concurrent invalidation is discarded rather
// than cached over the newer state.
//
// The cache is allowed to be briefly stale across processes: correctness
// always rests on the store's conditional writes, never on cache
// coherence. GetStale serves reads past TTL within a grace window, used
// only for degraded snapshot reads when the store is unavailable.
package cache
