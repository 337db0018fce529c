package infra

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a token bucket rate limiter. It allows bursts up to the
// bucket capacity and refills at a steady rate.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity int
	tokens   float64
	lastTime time.Time
}

// NewTokenBucket creates a bucket refilling at rate tokens per second
// with the given burst capacity. The bucket starts full.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		rate:     rate,
		capacity: capacity,
		tokens:   float64(capacity),
		lastTime: time.Now(),
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context ends.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		need := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(need)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available returns the current token count.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// refill adds tokens based on elapsed time. Caller must hold mu.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.lastTime = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.capacity) {
		tb.tokens = float64(tb.capacity)
	}
}

// SlidingWindow is a sliding-window rate limiter: at most limit events
// per window, judged against actual event timestamps.
type SlidingWindow struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests []time.Time
}

// NewSlidingWindow creates a limiter allowing limit events per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		requests: make([]time.Time, 0, limit),
	}
}

// Allow records an event if the window has room.
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cleanup()
	if len(sw.requests) < sw.limit {
		sw.requests = append(sw.requests, time.Now())
		return true
	}
	return false
}

// Forgive removes the most recent event, for callers that record
// provisionally and then fail to complete the admission.
func (sw *SlidingWindow) Forgive() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if n := len(sw.requests); n > 0 {
		sw.requests = sw.requests[:n-1]
	}
}

// Idle reports whether no events remain inside the window.
func (sw *SlidingWindow) Idle() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cleanup()
	return len(sw.requests) == 0
}

// RetryAfter returns how long until the oldest event leaves the window.
// Zero means an event would be admitted now.
func (sw *SlidingWindow) RetryAfter() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cleanup()
	if len(sw.requests) < sw.limit {
		return 0
	}
	wait := sw.window - time.Since(sw.requests[0])
	if wait < 0 {
		wait = 0
	}
	return wait
}

// cleanup removes events older than the window. Caller must hold mu.
func (sw *SlidingWindow) cleanup() {
	cutoff := time.Now().Add(-sw.window)
	valid := sw.requests[:0]
	for _, t := range sw.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	sw.requests = valid
}

// Cooldown enforces a minimum interval between admitted events per key.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

// NewCooldown creates a per-key cooldown tracker.
func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow admits the key if its cooldown has elapsed, recording the
// admission time. Returns the remaining wait otherwise.
func (c *Cooldown) Allow(key string) (bool, time.Duration) {
	if c.interval <= 0 {
		return true, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if last, ok := c.last[key]; ok {
		if wait := c.interval - now.Sub(last); wait > 0 {
			return false, wait
		}
	}
	c.last[key] = now
	return true, 0
}

// Forgive clears the key's cooldown stamp, undoing the most recent
// Allow. Valid only right after a successful Allow, when any earlier
// stamp was already stale.
func (c *Cooldown) Forgive(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}

// Prune drops entries idle longer than the retention period.
func (c *Cooldown) Prune(retention time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	removed := 0
	for k, t := range c.last {
		if t.Before(cutoff) {
			delete(c.last, k)
			removed++
		}
	}
	return removed
}

// PerKeyWindow manages one sliding window per key, creating windows
// lazily from the shared limit/window settings.
type PerKeyWindow struct {
	mu      sync.RWMutex
	windows map[string]*SlidingWindow
	limit   int
	window  time.Duration
}

// NewPerKeyWindow creates a per-key sliding window registry.
func NewPerKeyWindow(limit int, window time.Duration) *PerKeyWindow {
	return &PerKeyWindow{
		windows: make(map[string]*SlidingWindow),
		limit:   limit,
		window:  window,
	}
}

// Allow records an event for the key if its window has room.
func (p *PerKeyWindow) Allow(key string) bool {
	return p.get(key).Allow()
}

// RetryAfter returns the wait until the key's window admits an event.
func (p *PerKeyWindow) RetryAfter(key string) time.Duration {
	return p.get(key).RetryAfter()
}

// Forgive removes the key's most recent event without creating a
// window for an untouched key.
func (p *PerKeyWindow) Forgive(key string) {
	p.mu.RLock()
	w, ok := p.windows[key]
	p.mu.RUnlock()
	if ok {
		w.Forgive()
	}
}

// Prune drops keys whose windows hold no recent events. An empty
// window admits exactly like a fresh one, so dropping it loses nothing.
func (p *PerKeyWindow) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, w := range p.windows {
		if w.Idle() {
			delete(p.windows, key)
			removed++
		}
	}
	return removed
}

func (p *PerKeyWindow) get(key string) *SlidingWindow {
	p.mu.RLock()
	w, ok := p.windows[key]
	p.mu.RUnlock()
	if ok {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.windows[key]; ok {
		return w
	}
	w = NewSlidingWindow(p.limit, p.window)
	p.windows[key] = w
	return w
}
