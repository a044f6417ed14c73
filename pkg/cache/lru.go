package cache

import (
	"container/list"
	"sync"
	"time"
)

type ttlEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe LRU cache whose entries also carry a fixed
// time-to-live. An entry is served only while it is both resident (not
// evicted by capacity pressure) and fresh (its TTL has not elapsed).
// Expired entries are dropped lazily on access.
//
// It backs the subscription manager's short-lived access-decision cache,
// where staleness must be bounded regardless of how hot a key is.
type TTLCache[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	eviction *list.List
	mu       sync.Mutex
	now      func() time.Time
}

// NewTTLCache creates a cache holding at most capacity entries, each valid
// for ttl after insertion. Panics for non-positive capacity or ttl to fail
// fast on misconfiguration.
func NewTTLCache[K comparable, V any](capacity int, ttl time.Duration) *TTLCache[K, V] {
	if capacity <= 0 {
		panic("cache: capacity must be positive")
	}
	if ttl <= 0 {
		panic("cache: ttl must be positive")
	}
	return &TTLCache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element),
		eviction: list.New(),
		now:      time.Now,
	}
}

// SetClock injects a time source for tests.
func (c *TTLCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
}

// Get returns the cached value if present and fresh, marking it recently
// used. A stale entry is removed and reported as a miss.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	entry := elem.Value.(*ttlEntry[K, V])
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		var zero V
		return zero, false
	}

	c.eviction.MoveToFront(elem)
	return entry.value, true
}

// Put stores a value under key with a fresh TTL, evicting the least
// recently used entry when the cache is full.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		entry := elem.Value.(*ttlEntry[K, V])
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	elem := c.eviction.PushFront(&ttlEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.eviction.Len() > c.capacity {
		if oldest := c.eviction.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Purge drops every entry. The subscription manager calls this on any state
// mutation so the next check observes the new snapshot.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.eviction.Init()
}

// Len reports the number of resident entries, including any not yet
// lazily expired.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Must be called with the lock held.
func (c *TTLCache[K, V]) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*ttlEntry[K, V])
	delete(c.items, entry.key)
}
