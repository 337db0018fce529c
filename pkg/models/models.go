// Package models holds the shared types that flow through the Parley
// pipeline: conversation turns, tool calls and their results, and the
// artifacts tools may produce.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Turn is a single entry in a conversation context.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// TokenEstimate is the approximate token cost of this turn.
	TokenEstimate int `json:"token_estimate,omitempty"`

	// Synthetic marks turns the pipeline injected itself, such as the
	// truncation marker the compressor inserts.
	Synthetic bool `json:"synthetic,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Attachment is an opaque reference to a file or media item attached to
// a message. The pipeline never dereferences attachments itself.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCall is a model's request to execute a tool. ID correlates the
// call with its result.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool call. Errors are represented
// in-band via IsError so a failed tool never aborts its batch.
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a file or media item produced by a tool, typically by a
// presentation tool such as a chart renderer.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// EstimateTokens approximates the token cost of a piece of text. Four
// characters per token is close enough for budgeting across providers.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// NewTurn builds a turn with its token estimate populated.
func NewTurn(role Role, content string) Turn {
	return Turn{
		Role:          role,
		Content:       content,
		TokenEstimate: EstimateTokens(content),
		CreatedAt:     time.Now(),
	}
}
