package infra

import (
	"context"
	"sync"
	"time"
)

// Semaphore limits concurrent access to a resource. Unlike a mutex it
// allows several holders at once, up to a fixed number of permits, and
// waiting acquirers can give up via context.
type Semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int64
	current int64
	waiters int

	acquired int64
	released int64
	timedOut int64
}

// NewSemaphore creates a semaphore with the given maximum permits.
func NewSemaphore(max int64) *Semaphore {
	if max <= 0 {
		max = 1
	}
	s := &Semaphore{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a permit is available or ctx is done. Returns
// the context error on cancellation or deadline expiry.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.current < s.max && s.waiters == 0 {
		s.current++
		s.acquired++
		s.mu.Unlock()
		return nil
	}

	s.waiters++

	done := make(chan struct{})
	cancelled := false
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cancelled = true
			s.timedOut++
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	for {
		if cancelled {
			s.waiters--
			s.mu.Unlock()
			close(done)
			return ctx.Err()
		}
		if s.current < s.max {
			s.current++
			s.acquired++
			s.waiters--
			s.mu.Unlock()
			close(done)
			return nil
		}
		s.cond.Wait()
	}
}

// TryAcquire takes a permit without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < s.max {
		s.current++
		s.acquired++
		return true
	}
	return false
}

// AcquireWithin attempts to acquire a permit within the given bound.
func (s *Semaphore) AcquireWithin(ctx context.Context, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return s.Acquire(waitCtx)
}

// Release returns a permit. Releasing below zero is clamped so a
// double release cannot corrupt the count.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.current--
	if s.current < 0 {
		s.current = 0
	}
	s.released++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// InUse returns the number of held permits.
func (s *Semaphore) InUse() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Waiters returns the number of goroutines blocked in Acquire.
func (s *Semaphore) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// SemaphoreStats reports lifetime counters.
type SemaphoreStats struct {
	Max      int64
	InUse    int64
	Waiters  int
	Acquired int64
	Released int64
	TimedOut int64
}

// Stats returns a snapshot of the semaphore's counters.
func (s *Semaphore) Stats() SemaphoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SemaphoreStats{
		Max:      s.max,
		InUse:    s.current,
		Waiters:  s.waiters,
		Acquired: s.acquired,
		Released: s.released,
		TimedOut: s.timedOut,
	}
}
