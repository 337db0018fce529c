package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a requested tool has no descriptor.
var ErrNotFound = errors.New("tool not found")

// ErrResolutionBlocked indicates the network guard refused to proceed
// past an ambiguous or unsafe address resolution.
var ErrResolutionBlocked = errors.New("address resolution blocked")

// ErrorKind categorizes tool failures for retry decisions and for the
// error notes folded into synthesis input.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindTimeout           ErrorKind = "timeout"
	KindNetwork           ErrorKind = "network"
	KindResolutionBlocked ErrorKind = "resolution_blocked"
	KindExecution         ErrorKind = "execution"
	KindCancelled         ErrorKind = "cancelled"
)

// IsRetryable reports whether the adapter's retry policy should apply.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

// ToolError is a structured failure from one tool execution.
type ToolError struct {
	Kind     ErrorKind
	Tool     string
	CallID   string
	Message  string
	Cause    error
	Attempts int
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Kind))
	if e.Tool != "" {
		parts = append(parts, e.Tool)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError classifies cause and wraps it for the given tool.
func NewToolError(tool, callID string, cause error) *ToolError {
	e := &ToolError{
		Tool:     tool,
		CallID:   callID,
		Cause:    cause,
		Kind:     ClassifyError(cause),
		Attempts: 1,
	}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// ClassifyError determines the error kind from an error chain.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindExecution
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, ErrResolutionBlocked) {
		return KindResolutionBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "refused") || strings.Contains(msg, "unreachable") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return KindNetwork
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") ||
		strings.Contains(msg, "required") || strings.Contains(msg, "missing"):
		return KindInvalidInput
	}
	return KindExecution
}

// KindOf extracts the error kind, classifying plain errors on the fly.
func KindOf(err error) ErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ClassifyError(err)
}
