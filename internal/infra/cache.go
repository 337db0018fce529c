package infra

import (
	"sync"
	"sync/atomic"
	"time"
)

// TTLCache is a thread-safe key/value cache with per-entry expiration.
// Tool adapters share one instance per process; last write wins on a
// given key, which is acceptable because values are recomputable.
type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]*cacheEntry[V]
	defaultTTL time.Duration
	maxSize    int
	stopCh     chan struct{}
	stopped    atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// CacheConfig configures a TTL cache.
type CacheConfig struct {
	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration
	// MaxSize caps the entry count (0 = unlimited). The oldest entry is
	// evicted when the cap is reached.
	MaxSize int
	// CleanupInterval sets how often expired entries are swept
	// (0 = no background sweep; expired entries still never surface).
	CleanupInterval time.Duration
}

// NewTTLCache creates a cache with the given configuration.
func NewTTLCache[K comparable, V any](config CacheConfig) *TTLCache[K, V] {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	c := &TTLCache[K, V]{
		entries:    make(map[K]*cacheEntry[V]),
		defaultTTL: config.DefaultTTL,
		maxSize:    config.MaxSize,
		stopCh:     make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.cleanupLoop(config.CleanupInterval)
	}
	return c
}

// Set stores a value with the default TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	now := time.Now()
	entry := &cacheEntry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry
}

// Get retrieves a value. An expired entry is never returned.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return entry.value, true
}

// Delete removes a key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss/evict counters.
func (c *TTLCache[K, V]) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		Evicts:  c.evicts.Load(),
		HitRate: hitRate,
	}
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	Evicts  uint64
	HitRate float64
}

// Stop terminates the background sweep goroutine.
func (c *TTLCache[K, V]) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
}

// Cleanup removes expired entries and reports how many were dropped.
func (c *TTLCache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// evictOldest removes the oldest entry. Caller must hold mu.
func (c *TTLCache[K, V]) evictOldest() {
	var oldestKey K
	var oldestTime time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evicts.Add(1)
	}
}

func (c *TTLCache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCh:
			return
		}
	}
}
