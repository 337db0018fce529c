package history

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/pkg/models"
)

// maxTurnsPerChannel bounds per-channel memory growth.
const maxTurnsPerChannel = 500

// MemoryStore is an in-memory history store for tests and for
// deployments that do not need persistence across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]models.Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]models.Turn)}
}

// Recent returns up to limit turns for the channel, oldest first.
func (s *MemoryStore) Recent(_ context.Context, channelID string, limit int) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[channelID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Append records a turn, evicting the oldest once the channel cap is
// reached.
func (s *MemoryStore) Append(_ context.Context, channelID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[channelID], turn)
	if len(turns) > maxTurnsPerChannel {
		turns = turns[len(turns)-maxTurnsPerChannel:]
	}
	s.turns[channelID] = turns
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
