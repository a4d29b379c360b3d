package rpc

import (
	"sync"
	"time"
)

// ttlCache is a bounded map with per-entry expiry and insertion-order
// eviction: when full, the oldest-inserted entry still present is dropped,
// regardless of how recently it was read. Both the connection and result
// caches are built on it.
type ttlCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[V]
	order   []string // insertion order of live keys
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   int64
	misses int64

	// onEvict releases the payload (e.g. closes a connection). Optional.
	onEvict func(key string, value V)
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[V any](ttl time.Duration, maxSize int, now func() time.Time) *ttlCache[V] {
	if now == nil {
		now = time.Now
	}
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ttlCache[V]{
		entries: make(map[string]*cacheEntry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Get returns the cached value when present and unexpired. Expired entries
// are removed on read.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		c.removeLocked(key)
		c.misses++
		return zero, false
	}
	c.hits++
	return entry.value, true
}

// Put stores value under key, evicting the earliest-inserted entry when the
// cache is full. Re-inserting an existing key refreshes its expiry but keeps
// its original insertion position.
func (c *ttlCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiresAt = c.now().Add(c.ttl)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.order = append(c.order, key)
}

// Sweep removes every expired entry. Run from the scheduler.
func (c *ttlCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (c *ttlCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit/miss counts.
func (c *ttlCache[V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *ttlCache[V]) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		if _, live := c.entries[oldest]; live {
			c.removeLocked(oldest)
			return
		}
		// Key already removed through expiry; drop the stale order slot.
		c.order = c.order[1:]
	}
}

func (c *ttlCache[V]) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.onEvict != nil {
		c.onEvict(key, entry.value)
	}
}
