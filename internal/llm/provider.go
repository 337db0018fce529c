// Package llm defines the model backend seam: a Provider turns a
// completion request into text or tool-call requests, and reports
// failures with enough structure to distinguish retryable from fatal.
package llm

import (
	"context"
	"encoding/json"

	"github.com/parleyhq/parley/pkg/models"
)

// Provider is a language-model backend.
//
// Implementations must be safe for concurrent use; the pipeline issues
// completions for many requests at once.
type Provider interface {
	// Complete performs one completion call. The returned Completion
	// carries either text, tool calls, or both.
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// Name returns the provider identifier ("openai", "anthropic").
	Name() string

	// Model returns the default model identifier.
	Model() string
}

// Request is a completion request. Providers must not mutate it; the
// invoker reuses the same request across retry attempts.
type Request struct {
	// Model overrides the provider default when non-empty.
	Model string

	// System is the system prompt.
	System string

	// Turns is the conversation in chronological order.
	Turns []models.Turn

	// Tools are the descriptors offered to the model. Empty means the
	// model must answer directly.
	Tools []ToolSpec

	// MaxTokens bounds the response length (0 = provider default).
	MaxTokens int
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Completion is the outcome of one model call.
type Completion struct {
	Text      string
	ToolCalls []models.ToolCall

	InputTokens  int
	OutputTokens int
}

// HasToolCalls reports whether the model requested tool executions.
func (c *Completion) HasToolCalls() bool {
	return len(c.ToolCalls) > 0
}
