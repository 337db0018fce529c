package pipeline

import (
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// Request is one inbound user message entering the pipeline.
type Request struct {
	ID        string
	ChannelID string
	UserID    string
	Text      string
	Received  time.Time
}

// ConversationContext is the assembled input to the model: recent
// history plus auxiliary signals, ending with the current user turn.
type ConversationContext struct {
	// Turns is the full context in chronological order. The last turn
	// is always the current user message.
	Turns []models.Turn

	// Memory holds long-term memory snippets, empty when the source was
	// absent or degraded.
	Memory []string

	// Profile is a short description of the requesting user, empty when
	// unavailable.
	Profile string

	// SearchHint is true when a pre-check suggests the message likely
	// needs fresh external information.
	SearchHint bool

	// Degraded lists the sources that failed during assembly.
	Degraded []DegradedSource

	// Compressed is true when the compressor rewrote the history.
	Compressed bool
}

// TokenEstimate sums the per-turn estimates.
func (c *ConversationContext) TokenEstimate() int {
	total := 0
	for _, t := range c.Turns {
		if t.TokenEstimate > 0 {
			total += t.TokenEstimate
		} else {
			total += models.EstimateTokens(t.Content)
		}
	}
	return total
}

// CurrentTurn returns the current user turn, the last in the context.
func (c *ConversationContext) CurrentTurn() models.Turn {
	if len(c.Turns) == 0 {
		return models.Turn{}
	}
	return c.Turns[len(c.Turns)-1]
}

// Reply is the pipeline's final output for one request.
type Reply struct {
	Text      string
	Artifacts []models.Artifact

	// Degraded is true when context assembly lost at least one source.
	Degraded bool
}
