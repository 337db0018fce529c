package infra

import (
	"sync"
	"sync/atomic"
	"time"
)

// ByteStore is the cache backend seam used by the tool execution engine.
// Implementations may be in-process or remote; either way a failure must
// surface as a miss, never as an error that aborts the caller.
type ByteStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
}

// MemoryStore adapts TTLCache to the ByteStore seam. It never fails.
type MemoryStore struct {
	cache *TTLCache[string, []byte]
}

// NewMemoryStore creates an in-process byte store.
func NewMemoryStore(config CacheConfig) *MemoryStore {
	return &MemoryStore{cache: NewTTLCache[string, []byte](config)}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	s.cache.SetWithTTL(key, value, ttl)
	return nil
}

// Stats exposes the underlying cache counters.
func (s *MemoryStore) Stats() CacheStats { return s.cache.Stats() }

// Stop terminates background cleanup.
func (s *MemoryStore) Stop() { s.cache.Stop() }

// GuardedStore wraps a ByteStore and degrades to always-miss when the
// backend keeps failing. After tripThreshold consecutive errors every
// lookup reports a miss and every write is dropped until the probe
// interval elapses, at which point one request is let through to test
// whether the backend recovered.
type GuardedStore struct {
	backend       ByteStore
	tripThreshold int
	probeAfter    time.Duration

	mu          sync.Mutex
	consecutive int
	trippedAt   time.Time
	tripped     atomic.Bool
}

// NewGuardedStore wraps backend with failure tripping. threshold <= 0
// defaults to 3 consecutive errors; probeAfter <= 0 defaults to 30s.
func NewGuardedStore(backend ByteStore, threshold int, probeAfter time.Duration) *GuardedStore {
	if threshold <= 0 {
		threshold = 3
	}
	if probeAfter <= 0 {
		probeAfter = 30 * time.Second
	}
	return &GuardedStore{
		backend:       backend,
		tripThreshold: threshold,
		probeAfter:    probeAfter,
	}
}

// Get reports a miss when the backend is unavailable or tripped.
func (g *GuardedStore) Get(key string) ([]byte, bool, error) {
	if !g.allow() {
		return nil, false, nil
	}
	v, ok, err := g.backend.Get(key)
	g.observe(err)
	if err != nil {
		return nil, false, nil
	}
	return v, ok, nil
}

// Set drops the write when the backend is unavailable or tripped.
func (g *GuardedStore) Set(key string, value []byte, ttl time.Duration) error {
	if !g.allow() {
		return nil
	}
	g.observe(g.backend.Set(key, value, ttl))
	return nil
}

// Tripped reports whether the store is currently degraded.
func (g *GuardedStore) Tripped() bool { return g.tripped.Load() }

func (g *GuardedStore) allow() bool {
	if !g.tripped.Load() {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.trippedAt) >= g.probeAfter {
		// Let one request probe the backend.
		g.trippedAt = time.Now()
		return true
	}
	return false
}

func (g *GuardedStore) observe(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		g.consecutive = 0
		g.tripped.Store(false)
		return
	}
	g.consecutive++
	if g.consecutive >= g.tripThreshold {
		g.trippedAt = time.Now()
		g.tripped.Store(true)
	}
}
