// Package transport binds chat surfaces to the pipeline. The pipeline
// knows nothing about any particular surface; bindings translate
// inbound events into Requests and replies back into surface messages.
package transport

import (
	"context"

	"github.com/parleyhq/parley/pkg/models"
)

// InboundMessage is one message event from a chat surface.
type InboundMessage struct {
	ID          string
	ChannelID   string
	UserID      string
	UserName    string
	Text        string
	Attachments []models.Attachment
}

// Reply is the outgoing message a binding delivers.
type Reply struct {
	Text      string
	Artifacts []models.Artifact
}

// Handler processes one inbound message. working is called when
// processing begins so the binding can show a progress indicator; it
// may be nil.
type Handler interface {
	Handle(ctx context.Context, msg InboundMessage, working func()) (*Reply, error)
}

// Binding is a running transport connection.
type Binding interface {
	// Start connects and begins dispatching inbound messages until the
	// context is cancelled.
	Start(ctx context.Context) error

	// Close disconnects.
	Close() error
}
