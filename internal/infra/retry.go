package infra

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how retry delays grow between attempts.
type BackoffStrategy string

const (
	// BackoffConstant uses a fixed delay between retries.
	BackoffConstant BackoffStrategy = "constant"

	// BackoffLinear increases the delay linearly (delay * attempt).
	BackoffLinear BackoffStrategy = "linear"

	// BackoffExponential doubles the delay after each retry.
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the initial attempt
	// (0 = no retries).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Strategy determines how delays grow.
	Strategy BackoffStrategy

	// JitterFraction adds randomness to delays (0.0-1.0); 0.1 means ±10%.
	JitterFraction float64

	// RetryIf decides whether an error is worth retrying. Nil retries all.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns exponential backoff with three retries.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Strategy:       BackoffExponential,
		JitterFraction: 0.1,
	}
}

// RetryResult records how a retry sequence went.
type RetryResult struct {
	// Attempts is the total number of attempts made.
	Attempts int

	// TotalDuration is the wall time spent including delays.
	TotalDuration time.Duration

	// LastError is the final error (nil on success).
	LastError error
}

// Retry executes fn with retries according to cfg. The context is
// checked before each attempt and during each delay, so a cancelled
// request never waits out its backoff.
func Retry[T any](ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return zero, result
		}

		val, err := fn(ctx)
		if err == nil {
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			return val, result
		}
		result.LastError = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			break
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delay(attempt)
		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return zero, result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(start)
	return zero, result
}

// delay computes the backoff for the given zero-based attempt.
func (cfg *RetryConfig) delay(attempt int) time.Duration {
	base := cfg.InitialDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var d time.Duration
	switch cfg.Strategy {
	case BackoffLinear:
		d = base * time.Duration(attempt+1)
	case BackoffExponential:
		d = time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	default:
		d = base
	}

	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}

	if cfg.JitterFraction > 0 {
		jitter := (rand.Float64()*2 - 1) * cfg.JitterFraction * float64(d)
		d += time.Duration(jitter)
		if d < 0 {
			d = 0
		}
	}
	return d
}
