package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSemaphoreTryAcquire(t *testing.T) {
	s := NewSemaphore(2)
	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatal("permits under max denied")
	}
	if s.TryAcquire() {
		t.Error("permit over max granted")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Error("released permit not reusable")
	}
}

func TestSemaphoreAcquireBlocksUntilRelease(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- s.Acquire(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded with no free permit")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release()
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after release")
	}
}

func TestSemaphoreAcquireWithinTimesOut(t *testing.T) {
	s := NewSemaphore(1)
	if !s.TryAcquire() {
		t.Fatal("initial acquire failed")
	}

	start := time.Now()
	err := s.AcquireWithin(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("bounded wait took %s", elapsed)
	}
	if got := s.Stats().TimedOut; got != 1 {
		t.Errorf("timedOut = %d, want 1", got)
	}
}

func TestSemaphoreDoubleReleaseClamped(t *testing.T) {
	s := NewSemaphore(1)
	s.TryAcquire()
	s.Release()
	s.Release()
	if got := s.InUse(); got != 0 {
		t.Errorf("InUse = %d after double release", got)
	}
	// The clamp must not mint extra permits.
	if !s.TryAcquire() {
		t.Fatal("acquire failed after double release")
	}
	if s.TryAcquire() {
		t.Error("double release minted an extra permit")
	}
}

func TestSemaphoreConcurrentHoldersBounded(t *testing.T) {
	const max = 3
	s := NewSemaphore(max)

	var mu sync.Mutex
	holding, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			holding++
			if holding > peak {
				peak = holding
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holding--
			mu.Unlock()
			s.Release()
		}()
	}
	wg.Wait()

	if peak > max {
		t.Errorf("peak holders = %d, want <= %d", peak, max)
	}
	if s.InUse() != 0 {
		t.Errorf("InUse = %d after all released", s.InUse())
	}
}
