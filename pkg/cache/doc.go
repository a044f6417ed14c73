// Package cache provides a generic, thread-safe LRU cache with per-entry
// expiry.
//
// Entries are bounded two ways: by capacity (least recently used entries
// are evicted first) and by a fixed time-to-live (stale entries are
// dropped lazily on access). The combination suits short-lived memoization
// of derived values, such as feature-access decisions, where both memory
// growth and staleness must stay bounded.
//
// # Usage
//
//	c := cache.NewTTLCache[string, Decision](256, 2*time.Second)
//	c.Put("mood_tracking", decision)
//	if d, ok := c.Get("mood_tracking"); ok {
//		return d
//	}
//
// All operations are O(1) and safe for concurrent use. Purge drops every
// entry at once, for callers that invalidate on state changes.
package cache
