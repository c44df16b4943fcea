package validation

import (
	"sync"
	"time"
)

// ttlCache is a bounded, time-expiring result cache. Eviction is
// oldest-first by insertion, not LRU: once the cache is full the entry
// inserted earliest goes, regardless of how recently it was read.
type ttlCache[V any] struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry[V]
	order    []string
	capacity int
	ttl      time.Duration
	clock    func() time.Time
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

func newTTLCache[V any](capacity int, ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		entries:  make(map[string]cacheEntry[V]),
		capacity: capacity,
		ttl:      ttl,
		clock:    time.Now,
	}
}

// Get returns the cached value if present and not expired. Expired
// entries are dropped on read.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock().Sub(entry.storedAt) > c.ttl {
		c.removeLocked(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Put stores a value, evicting the oldest entry when over capacity.
func (c *ttlCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.clock()}

	for len(c.entries) > c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.removeLocked(oldest)
	}
}

// Clear drops every entry.
func (c *ttlCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[V])
	c.order = nil
}

// Len returns the number of live entries.
func (c *ttlCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ttlCache[V]) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
