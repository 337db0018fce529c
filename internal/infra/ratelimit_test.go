package infra

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(1, 3)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("burst request %d denied", i)
		}
	}
	if tb.Allow() {
		t.Error("request beyond capacity allowed")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(100, 1)
	if !tb.Allow() {
		t.Fatal("first request denied")
	}
	if tb.Allow() {
		t.Fatal("empty bucket allowed a request")
	}
	time.Sleep(20 * time.Millisecond)
	if !tb.Allow() {
		t.Error("bucket did not refill")
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(100, 1)
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on a full bucket failed: %v", err)
	}

	// The bucket is empty; Wait must block for roughly one refill.
	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("Wait returned after %s, want a refill delay", elapsed)
	}
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	tb.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Error("Wait on a drained bucket ignored context cancellation")
	}
}

func TestSlidingWindowLimit(t *testing.T) {
	sw := NewSlidingWindow(2, time.Hour)
	if !sw.Allow() || !sw.Allow() {
		t.Fatal("requests under the limit denied")
	}
	if sw.Allow() {
		t.Error("request over the limit allowed")
	}
	if sw.RetryAfter() <= 0 {
		t.Error("full window reports no wait")
	}
}

func TestSlidingWindowExpiry(t *testing.T) {
	sw := NewSlidingWindow(1, 20*time.Millisecond)
	if !sw.Allow() {
		t.Fatal("first request denied")
	}
	if sw.Allow() {
		t.Fatal("second request allowed inside the window")
	}
	time.Sleep(30 * time.Millisecond)
	if !sw.Allow() {
		t.Error("request denied after the window slid past")
	}
}

func TestCooldownPerKey(t *testing.T) {
	c := NewCooldown(time.Hour)

	if ok, _ := c.Allow("alice"); !ok {
		t.Fatal("first request denied")
	}
	ok, wait := c.Allow("alice")
	if ok {
		t.Error("request inside cooldown allowed")
	}
	if wait <= 0 || wait > time.Hour {
		t.Errorf("wait = %s", wait)
	}
	// Another key is unaffected.
	if ok, _ := c.Allow("bob"); !ok {
		t.Error("cooldown bled across keys")
	}
}

func TestCooldownZeroInterval(t *testing.T) {
	c := NewCooldown(0)
	for i := 0; i < 3; i++ {
		if ok, _ := c.Allow("k"); !ok {
			t.Fatal("zero-interval cooldown denied a request")
		}
	}
}

func TestCooldownForgive(t *testing.T) {
	c := NewCooldown(time.Hour)
	if ok, _ := c.Allow("alice"); !ok {
		t.Fatal("first request denied")
	}
	c.Forgive("alice")
	if ok, _ := c.Allow("alice"); !ok {
		t.Error("forgiven key still on cooldown")
	}
}

func TestSlidingWindowForgive(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	// Forgive on an empty window is a no-op.
	sw.Forgive()

	if !sw.Allow() {
		t.Fatal("first request denied")
	}
	sw.Forgive()
	if !sw.Allow() {
		t.Error("forgiven window still full")
	}
	if sw.Allow() {
		t.Error("request over the limit allowed")
	}
}

func TestCooldownPrune(t *testing.T) {
	c := NewCooldown(time.Millisecond)
	c.Allow("stale")
	time.Sleep(10 * time.Millisecond)
	if removed := c.Prune(5 * time.Millisecond); removed != 1 {
		t.Errorf("pruned %d entries, want 1", removed)
	}
}

func TestPerKeyWindowIsolation(t *testing.T) {
	p := NewPerKeyWindow(1, time.Hour)

	if !p.Allow("a") {
		t.Fatal("first request denied")
	}
	if p.Allow("a") {
		t.Error("second request for the same key allowed")
	}
	if !p.Allow("b") {
		t.Error("window bled across keys")
	}
	if p.RetryAfter("a") <= 0 {
		t.Error("full key reports no wait")
	}
	if p.RetryAfter("c") != 0 {
		t.Error("untouched key reports a wait")
	}
}

func TestPerKeyWindowForgive(t *testing.T) {
	p := NewPerKeyWindow(1, time.Hour)
	if !p.Allow("a") {
		t.Fatal("first request denied")
	}
	p.Forgive("a")
	if !p.Allow("a") {
		t.Error("forgiven key still full")
	}
	// Forgiving an untouched key must not create a window for it.
	p.Forgive("ghost")
	if p.RetryAfter("ghost") != 0 {
		t.Error("forgive created state for an untouched key")
	}
}

func TestPerKeyWindowPrune(t *testing.T) {
	p := NewPerKeyWindow(1, 5*time.Millisecond)
	p.Allow("a")
	p.Allow("b")
	time.Sleep(10 * time.Millisecond)
	if removed := p.Prune(); removed != 2 {
		t.Errorf("pruned %d windows, want 2", removed)
	}
	// A pruned key starts fresh.
	if !p.Allow("a") {
		t.Error("pruned key denied")
	}
}
