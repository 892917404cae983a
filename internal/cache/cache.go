package cache

import (
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired entries are swept
const DefaultCleanupInterval = 1 * time.Minute

// TTLCache caches values for a fixed time-to-live
type TTLCache[K comparable, V any] struct {
	entries map[K]*entry[V]
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{} // Signal to stop cleanup goroutine
	once    sync.Once
}

type entry[V any] struct {
	value     V
	cachedAt  time.Time
	expiresAt time.Time
}

// New creates a cache with the specified TTL and starts a background
// goroutine that removes expired entries
func New[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries: make(map[K]*entry[V]),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go c.cleanupLoop(DefaultCleanupInterval)

	return c
}

// Set stores a value with the configured TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &entry[V]{
		value:     value,
		cachedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// Get returns the cached value and whether it was present and unexpired
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	cached, exists := c.entries[key]
	if !exists {
		return zero, false
	}
	if c.now().After(cached.expiresAt) {
		return zero, false
	}
	return cached.value, true
}

// Delete removes a cached value
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Size returns the current number of entries, expired ones included
func (c *TTLCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *TTLCache[K, V]) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *TTLCache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

// cleanup removes expired entries
func (c *TTLCache[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, cached := range c.entries {
		if now.After(cached.expiresAt) {
			delete(c.entries, key)
		}
	}
}
