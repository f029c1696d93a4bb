// Package cache memoizes values that are expensive to build, such as
// validated shader programs.
package cache

import "sync"

// Cache is a thread-safe memo with a soft size limit. When the cache grows
// past the limit the least recently used entry is evicted.
//
// Cache must not be copied after creation.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	limit   int
	tick    int64
}

type entry[V any] struct {
	value V
	atime int64
}

// New creates a cache holding at most limit entries. A limit of 0 means
// unlimited.
func New[K comparable, V any](limit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		limit:   limit,
	}
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.tick++
	e.atime = c.tick
	return e.value, true
}

// GetOrBuild returns the cached value for key, calling build on a miss.
// Failed builds are not cached, so a later call retries.
//
// build runs under the cache lock; concurrent callers for any key wait for
// it instead of building twice.
func (c *Cache[K, V]) GetOrBuild(key K, build func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if e, ok := c.entries[key]; ok {
		e.atime = c.tick
		return e.value, nil
	}

	v, err := build()
	if err != nil {
		return v, err
	}
	c.entries[key] = &entry[V]{value: v, atime: c.tick}
	if c.limit > 0 && len(c.entries) > c.limit {
		c.evictOldest()
	}
	return v, nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

func (c *Cache[K, V]) evictOldest() {
	var (
		oldest K
		atime  int64 = -1
	)
	for k, e := range c.entries {
		if atime < 0 || e.atime < atime {
			oldest, atime = k, e.atime
		}
	}
	if atime >= 0 {
		delete(c.entries, oldest)
	}
}
