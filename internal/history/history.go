// Package history persists recent conversation turns per channel. The
// pipeline reads a bounded window of recent turns while assembling
// context and appends both the inbound user turn and the final reply.
package history

import (
	"context"

	"github.com/parleyhq/parley/pkg/models"
)

// Store is the persistence contract for conversation history.
type Store interface {
	// Recent returns up to limit turns for the channel, oldest first.
	Recent(ctx context.Context, channelID string, limit int) ([]models.Turn, error)

	// Append records a turn for the channel.
	Append(ctx context.Context, channelID string, turn models.Turn) error

	// Close releases any underlying resources.
	Close() error
}
