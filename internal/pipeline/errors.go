package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// RejectReason explains why admission refused a request.
type RejectReason string

const (
	// ReasonChannelBusy means all concurrency slots for the channel
	// stayed occupied past the admission wait.
	ReasonChannelBusy RejectReason = "channel_busy"

	// ReasonRateLimited means the user hit the cooldown or the sliding
	// window limit.
	ReasonRateLimited RejectReason = "rate_limited"
)

// RejectedError is returned when a request is refused before any work
// begins. RetryAfter is a hint for the user-visible notice; zero means
// "try again shortly".
type RejectedError struct {
	Reason     RejectReason
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("request rejected (%s), retry after %s", e.Reason, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("request rejected (%s)", e.Reason)
}

// IsRejected extracts a RejectedError from an error chain.
func IsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ModelUnavailableError is returned when every model attempt within the
// retry ceiling failed, or a fatal provider error ended retrying early.
type ModelUnavailableError struct {
	Provider string
	Attempts int
	Elapsed  time.Duration
	Cause    error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable after %d attempts over %s: %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Cause)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Cause }

// IsModelUnavailable reports whether err wraps a ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var me *ModelUnavailableError
	return errors.As(err, &me)
}

// DegradedSource records one context source that failed during
// assembly. Degradation is a warning, never a request failure.
type DegradedSource struct {
	Source string
	Err    error
}

func (d DegradedSource) String() string {
	return fmt.Sprintf("%s: %v", d.Source, d.Err)
}
