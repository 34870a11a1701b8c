package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TTLEnumeration is the default lifetime of a block device listing
const TTLEnumeration = 30 * time.Second

// CacheEntry holds a cached value with expiration
type CacheEntry struct {
	Value     interface{}
	ExpiresAt time.Time
	FetchedAt time.Time
}

// Cache provides thread-safe TTL-based caching
type Cache struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	entries map[string]*CacheEntry
}

// New creates a new cache instance on the wall clock
func New() *Cache {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock creates a cache that reads time from clock
func NewWithClock(clock clockwork.Clock) *Cache {
	return &Cache{
		clock:   clock,
		entries: make(map[string]*CacheEntry),
	}
}

// Get retrieves a value from cache, returns nil if expired or not found
func (c *Cache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.clock.Now().After(entry.ExpiresAt) {
		return nil
	}
	return entry.Value
}

// Age returns how long ago key was stored, false if it is absent
func (c *Cache) Age(key string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return c.clock.Since(entry.FetchedAt), true
}

// Set stores a value with the given TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.entries[key] = &CacheEntry{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		FetchedAt: now,
	}
}

// Global cache instance
var global *Cache
var once sync.Once

// Global returns the process-wide cache instance
func Global() *Cache {
	once.Do(func() {
		global = New()
	})
	return global
}
