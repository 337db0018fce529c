package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/models"
)

// MemorySource returns long-term memory snippets relevant to the
// message. Implementations are optional collaborators.
type MemorySource interface {
	Recall(ctx context.Context, channelID, userID, text string) ([]string, error)
}

// ProfileSource returns a short description of the requesting user.
type ProfileSource interface {
	Lookup(ctx context.Context, userID string) (string, error)
}

// AssemblerConfig bounds context assembly.
type AssemblerConfig struct {
	// SourceWait bounds every individual source fetch. Default 3s.
	SourceWait time.Duration

	// HistoryTurns is how many prior turns to fetch. Default 50.
	HistoryTurns int
}

func (c *AssemblerConfig) applyDefaults() {
	if c.SourceWait <= 0 {
		c.SourceWait = 3 * time.Second
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 50
	}
}

// Assembler gathers everything the model needs concurrently. A failed
// source degrades to absent; assembly itself never fails.
type Assembler struct {
	config  AssemblerConfig
	history history.Store
	memory  MemorySource
	profile ProfileSource
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAssembler creates an assembler. memory, profile, and metrics may
// be nil; absent sources are simply skipped.
func NewAssembler(config AssemblerConfig, hist history.Store, memory MemorySource, profile ProfileSource, logger *observability.Logger, metrics *observability.Metrics) *Assembler {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Assembler{
		config:  config,
		history: hist,
		memory:  memory,
		profile: profile,
		logger:  logger,
		metrics: metrics,
	}
}

// Assemble fetches all context sources concurrently and returns the
// assembled conversation ending with the current user turn. Failed
// sources are recorded in Degraded and logged, never propagated.
func (a *Assembler) Assemble(ctx context.Context, req Request) *ConversationContext {
	var (
		mu       sync.Mutex
		turns    []models.Turn
		memory   []string
		profile  string
		degraded []DegradedSource
	)

	fail := func(source string, err error) {
		mu.Lock()
		degraded = append(degraded, DegradedSource{Source: source, Err: err})
		mu.Unlock()
		a.logger.Warn("context source degraded", "source", source, "error", err,
			"request_id", req.ID, "channel_id", req.ChannelID)
		if a.metrics != nil {
			a.metrics.ContextSourceFailures.WithLabelValues(source).Inc()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.history != nil {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.config.SourceWait)
			defer cancel()
			fetched, err := a.history.Recent(fctx, req.ChannelID, a.config.HistoryTurns)
			if err != nil {
				fail("history", err)
				return nil
			}
			mu.Lock()
			turns = fetched
			mu.Unlock()
			return nil
		})
	}

	if a.memory != nil {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.config.SourceWait)
			defer cancel()
			recalled, err := a.memory.Recall(fctx, req.ChannelID, req.UserID, req.Text)
			if err != nil {
				fail("memory", err)
				return nil
			}
			mu.Lock()
			memory = recalled
			mu.Unlock()
			return nil
		})
	}

	if a.profile != nil {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.config.SourceWait)
			defer cancel()
			desc, err := a.profile.Lookup(fctx, req.UserID)
			if err != nil {
				fail("profile", err)
				return nil
			}
			mu.Lock()
			profile = desc
			mu.Unlock()
			return nil
		})
	}

	// Source failures are absorbed above, so Wait cannot return one.
	_ = g.Wait()

	// Completion order is nondeterministic; prior turns are re-sorted
	// chronologically before the current turn is appended last.
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})

	current := models.NewTurn(models.RoleUser, req.Text)
	if !req.Received.IsZero() {
		current.CreatedAt = req.Received
	}

	return &ConversationContext{
		Turns:      append(turns, current),
		Memory:     memory,
		Profile:    profile,
		SearchHint: searchPreCheck(req.Text),
		Degraded:   degraded,
	}
}

// searchPreCheck is a cheap local signal that the message likely needs
// fresh external information.
func searchPreCheck(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"latest", "current", "today", "right now", "news", "look up", "search"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
