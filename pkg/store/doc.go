// Package store provides the session-scoped response cache for portal requests.
//
// The store keeps the last known response for every (host, path) pair and
// persists the whole sequence of entries as a single JSON blob in a session
// slot. Collection responses (JSON arrays of objects carrying an "id") are
// merged element-wise on write, so partial fetches of a collection accumulate
// into one cached entry.
//
// # Basic Usage
//
//	// In-process slot, one per session
//	st := store.NewStore(store.NewMemorySlot(), logger)
//
//	// Redis slot, shared by every process serving the same session
//	st := store.NewStore(store.NewRedisSlot(redisClient, sessionID, 8*time.Hour), logger)
//
//	// Write a collection response
//	err := st.Set(ctx, "https://portal.example/api/Grades", grades)
//
//	// Read it back, narrowed to two grades
//	entry, err := st.Get(ctx, "https://portal.example/api/Grades", []string{"12", "17"})
//	if entry == nil {
//		// Cache miss
//	}
//
// # Keys
//
// Entries are matched on host and path only. The query string of the URL
// passed to Get or Set is ignored.
//
// # Merge Semantics
//
// When both the cached and the incoming data are collections, Set merges by id:
// fields of an incoming element overwrite the cached element with the same id,
// fields it does not carry are kept, and unknown ids are appended. Any other
// combination replaces the entry. CacheTime is updated on every write.
//
// # Expiry
//
// The store never expires entries on its own. Freshness is decided by the
// caller against Entry.CacheTime on read. A RedisSlot carries the session
// lifetime as the key TTL.
//
// # Failure Semantics
//
// A persisted blob that fails to decode is treated as an empty store. Errors
// are only returned for slot I/O failures (for example Redis being
// unreachable) and invalid URLs.
//
// # Metrics
//
//   - portal_cache_writes_total{mode} - Writes by mode (replace, merge)
//   - portal_cache_entries - Entries in the last written blob
//   - portal_cache_size_bytes - Size of the last written blob
//   - portal_cache_corrupt_total - Blobs discarded because they failed to decode
//   - portal_cache_conflicts_total - Redis slot transactions retried after a conflict
//   - portal_cache_errors_total{operation} - Slot operation errors
package store
