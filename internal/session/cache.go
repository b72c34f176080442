package session

import (
	"sync"
	"time"
)

// Cache is an in-memory TTL cache. Every read refreshes the entry's expiry,
// so entries live until they have been idle for the TTL.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[V]
	ttl     time.Duration
	onEvict func(key string, value V)
	keep    func(value V) bool
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL. onEvict, if non-nil, is called
// outside the lock for every entry removed by expiry, Delete or Clear.
func NewCache[V any](ttl time.Duration, onEvict func(key string, value V)) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		onEvict: onEvict,
		now:     time.Now,
	}
}

// KeepWhile makes entries for which fn reports true immune to expiry; their
// lifetime restarts each time they are checked. Call it before first use.
func (c *Cache[V]) KeepWhile(fn func(value V) bool) *Cache[V] {
	c.keep = fn
	return c
}

// expired reports whether e is past its expiry. Kept entries are renewed
// instead. Must be called with c.mu held.
func (c *Cache[V]) expired(key string, e cacheEntry[V], now time.Time) bool {
	if !now.After(e.expiresAt) {
		return false
	}
	if c.keep != nil && c.keep(e.value) {
		e.expiresAt = now.Add(c.ttl)
		c.entries[key] = e
		return false
	}
	return true
}

// Get retrieves a value if it exists and hasn't expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.expired(key, entry, c.now()) {
		var zero V
		return zero, false
	}
	entry.expiresAt = c.now().Add(c.ttl)
	c.entries[key] = entry
	return entry.value, true
}

// GetOrCreate returns the live value for key, or stores and returns the
// result of create.
func (c *Cache[V]) GetOrCreate(key string, create func() V) V {
	c.mu.Lock()
	now := c.now()
	entry, ok := c.entries[key]
	if ok && !c.expired(key, entry, now) {
		entry.expiresAt = now.Add(c.ttl)
		c.entries[key] = entry
		c.mu.Unlock()
		return entry.value
	}
	v := create()
	c.entries[key] = cacheEntry[V]{value: v, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	if ok {
		c.evict(key, entry.value)
	}
	return v
}

// Set stores a value, replacing any previous one without eviction.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		c.evict(key, entry.value)
	}
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Each calls fn for every live entry.
func (c *Cache[V]) Each(fn func(key string, value V)) {
	c.mu.Lock()
	now := c.now()
	live := make(map[string]V, len(c.entries))
	for k, e := range c.entries {
		if !c.expired(k, e, now) {
			live[k] = e.value
		}
	}
	c.mu.Unlock()

	for k, v := range live {
		fn(k, v)
	}
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]cacheEntry[V])
	c.mu.Unlock()

	for k, e := range old {
		c.evict(k, e.value)
	}
}

// cleanup drops expired entries and returns how many were removed.
func (c *Cache[V]) cleanup() int {
	c.mu.Lock()
	now := c.now()
	expired := make(map[string]V)
	for k, e := range c.entries {
		if c.expired(k, e, now) {
			expired[k] = e.value
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	for k, v := range expired {
		c.evict(k, v)
	}
	return len(expired)
}

func (c *Cache[V]) evict(key string, value V) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}
