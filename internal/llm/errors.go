package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed. The invoker
// uses it to decide between retry, failover, and giving up.
type FailureReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit FailureReason = "rate_limit"

	// ReasonTimeout indicates a request timeout or deadline expiry.
	ReasonTimeout FailureReason = "timeout"

	// ReasonServerError indicates server-side trouble (HTTP 5xx).
	ReasonServerError FailureReason = "server_error"

	// ReasonNetwork indicates a transport-level failure.
	ReasonNetwork FailureReason = "network"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth FailureReason = "auth"

	// ReasonBilling indicates payment or quota exhaustion (HTTP 402).
	ReasonBilling FailureReason = "billing"

	// ReasonInvalidRequest indicates a malformed request (HTTP 400).
	ReasonInvalidRequest FailureReason = "invalid_request"

	// ReasonUnknown indicates an unclassified failure.
	ReasonUnknown FailureReason = "unknown"
)

// IsRetryable reports whether retrying the same provider may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonNetwork:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether a different provider is worth trying.
func (r FailureReason) ShouldFailover() bool {
	switch r {
	case ReasonAuth, ReasonBilling:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from a model backend.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError builds a ProviderError, classifying the cause.
func NewProviderError(provider, model string, status int, cause error) *ProviderError {
	e := &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Cause:    cause,
		Reason:   classify(status, cause),
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// ReasonOf extracts the failure reason from an error chain, classifying
// plain errors by content when no ProviderError is present.
func ReasonOf(err error) FailureReason {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return classify(0, err)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return ReasonOf(err).IsRetryable()
}

func classify(status int, err error) FailureReason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	}
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ReasonRateLimit
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "refused") || strings.Contains(msg, "unreachable") ||
		strings.Contains(msg, "dns") || strings.Contains(msg, "eof"):
		return ReasonNetwork
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return ReasonAuth
	case strings.Contains(msg, "quota") || strings.Contains(msg, "billing") ||
		strings.Contains(msg, "insufficient"):
		return ReasonBilling
	}
	return ReasonUnknown
}
