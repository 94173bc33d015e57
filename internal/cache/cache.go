// Package cache provides a bounded, TTL-expiring presentation cache with LRU
// eviction. Purely best-effort: misses are performance events, not failures.
package cache

import (
	"sync"
	"time"

	"github.com/haasonsaas/deckstore/pkg/models"
)

// Cache is a bounded key->presentation cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
}

type entry struct {
	value      *models.Presentation
	insertedAt int64 // unix millis; TTL is measured from insertion
	lastAccess int64 // unix millis; recency for LRU eviction
}

// Options configures the cache.
type Options struct {
	// TTL is the entry lifetime measured from insertion. Zero or negative
	// disables expiry.
	TTL time.Duration
	// MaxSize is the entry capacity. Zero or negative disables the bound.
	MaxSize int
}

// New creates a cache with the given options.
func New(opts Options) *Cache {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns the cached presentation for key, or false on a miss. An entry
// whose age exceeds the TTL counts as a miss and is removed. Hits refresh
// recency.
func (c *Cache) Get(key string) (*models.Presentation, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit clock (for testing).
func (c *Cache) GetAt(key string, now time.Time) (*models.Presentation, bool) {
	if key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := now.UnixMilli()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(e, nowUnix) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastAccess = nowUnix
	return e.value.Clone(), true
}

// Set inserts or replaces the entry for key. On a full cache the
// least-recently-used entry is evicted first, regardless of its TTL.
func (c *Cache) Set(key string, value *models.Presentation) {
	c.SetAt(key, value, time.Now())
}

// SetAt is Set with an explicit clock (for testing).
func (c *Cache) SetAt(key string, value *models.Presentation, now time.Time) {
	if key == "" || value == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowUnix := now.UnixMilli()
	if _, exists := c.entries[key]; !exists && c.maxSize > 0 {
		for len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = &entry{
		value:      value.Clone(),
		insertedAt: nowUnix,
		lastAccess: nowUnix,
	}
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Len returns the current number of entries, including any not yet observed
// as expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(e *entry, nowUnix int64) bool {
	if c.ttl <= 0 {
		return false
	}
	return nowUnix-e.insertedAt > c.ttl.Milliseconds()
}

// evictOldestLocked removes the entry with the smallest lastAccess. Maps are
// unordered, so we scan for the minimum; capacities are small enough that
// this stays cheap.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	oldestAccess := int64(^uint64(0) >> 1) // max int64
	for k, e := range c.entries {
		if e.lastAccess < oldestAccess {
			oldestAccess = e.lastAccess
			oldestKey = k
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
