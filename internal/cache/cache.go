// Package cache provides a process-lifetime, capacity-bounded TTL
// cache used by the search pipeline to avoid redundant external calls.
// A miss is always safe — nothing here ever returns an error.
package cache

import (
	"sort"
	"sync"
	"time"
)

// entry is one stored value with its expiry bookkeeping.
type entry[T any] struct {
	data     T
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[T]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// Cache is a concurrency-safe TTL key/value store. Entries expire
// lazily on access; inserts at capacity evict the oldest 20% first.
type Cache[T any] struct {
	mu       sync.Mutex
	entries  map[string]entry[T]
	capacity int
	now      func() time.Time
}

// DefaultCapacity bounds a cache when no explicit capacity is given.
const DefaultCapacity = 100

// New creates a cache holding at most capacity entries. A capacity of
// zero or less falls back to DefaultCapacity.
func New[T any](capacity int) *Cache[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[T]{
		entries:  make(map[string]entry[T]),
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the value stored under key, if present and unexpired.
// Expired entries are deleted on access.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.data, true
}

// Has reports whether key holds an unexpired entry.
func (c *Cache[T]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores data under key with the given TTL, evicting expired and
// oldest entries as needed to stay within capacity.
func (c *Cache[T]) Set(key string, data T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	// Replacing an existing key never needs eviction.
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[key] = entry[T]{data: data, storedAt: now, ttl: ttl}
}

// Delete removes the entry stored under key, if any.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

// Len returns the number of stored entries, including any that have
// expired but not yet been swept.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup removes all expired entries.
func (c *Cache[T]) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.now())
}

// sweepLocked drops expired entries. Caller holds c.mu.
func (c *Cache[T]) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// evictOldestLocked removes the oldest 20% of entries (at least one)
// by stored-at timestamp. Caller holds c.mu.
func (c *Cache[T]) evictOldestLocked() {
	n := len(c.entries) / 5
	if n < 1 {
		n = 1
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].storedAt.Before(all[j].storedAt)
	})

	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}
