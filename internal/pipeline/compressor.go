package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/models"
)

// WarmState is the compressor's readiness. Callers branch on it without
// locking; a compressor that is not Ready is skipped, never waited on.
type WarmState int32

const (
	WarmIdle WarmState = iota
	WarmWarming
	WarmReady
)

func (s WarmState) String() string {
	switch s {
	case WarmWarming:
		return "warming"
	case WarmReady:
		return "ready"
	default:
		return "idle"
	}
}

// CompressorConfig bounds compression behavior.
type CompressorConfig struct {
	// TokenBudget is the context size that triggers compression.
	// Default 6000.
	TokenBudget int

	// KeepRecent is how many recent turns stay verbatim. Default 4.
	KeepRecent int

	// MinTurns is the turn count below which compression never
	// triggers. Default 8.
	MinTurns int

	// ReductionTarget is the summarization ratio for older material.
	// Default 0.5.
	ReductionTarget float64

	// SummaryTimeout bounds the summarization model call. Default 15s.
	SummaryTimeout time.Duration
}

func (c *CompressorConfig) applyDefaults() {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 6000
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 4
	}
	if c.MinTurns <= 0 {
		c.MinTurns = 8
	}
	if c.ReductionTarget <= 0 || c.ReductionTarget >= 1 {
		c.ReductionTarget = 0.5
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 15 * time.Second
	}
}

// Compressor shrinks oversized contexts. Recent turns stay verbatim;
// older material is summarized through the model when the compressor is
// warm, and hard-truncated otherwise. The current user turn survives
// every path.
type Compressor struct {
	config   CompressorConfig
	provider llm.Provider
	state    atomic.Int32
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewCompressor creates a compressor in the Idle state. provider may be
// nil, which pins the compressor to hard truncation.
func NewCompressor(config CompressorConfig, provider llm.Provider, logger *observability.Logger, metrics *observability.Metrics) *Compressor {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Compressor{
		config:   config,
		provider: provider,
		logger:   logger,
		metrics:  metrics,
	}
}

// State returns the current warm state.
func (c *Compressor) State() WarmState {
	return WarmState(c.state.Load())
}

// Warm primes the summarization path with one tiny model call and marks
// the compressor Ready. Concurrent calls are coalesced: only the caller
// that wins the Idle→Warming transition does work. Blocking; callers
// run it in a goroutine at startup.
func (c *Compressor) Warm(ctx context.Context) error {
	if c.provider == nil {
		return fmt.Errorf("compressor: no provider configured")
	}
	if !c.state.CompareAndSwap(int32(WarmIdle), int32(WarmWarming)) {
		return nil
	}

	_, err := c.provider.Complete(ctx, &llm.Request{
		System:    "Reply with the single word: ready",
		Turns:     []models.Turn{models.NewTurn(models.RoleUser, "ready check")},
		MaxTokens: 8,
	})
	if err != nil {
		c.state.Store(int32(WarmIdle))
		c.logger.Warn("compressor warmup failed", "error", err)
		return err
	}
	c.state.Store(int32(WarmReady))
	c.logger.Info("compressor ready")
	return nil
}

// Compress shrinks the context in place when it exceeds the budget.
// The return reports whether anything was rewritten.
func (c *Compressor) Compress(ctx context.Context, cc *ConversationContext) bool {
	if cc.TokenEstimate() <= c.config.TokenBudget || len(cc.Turns) <= c.config.MinTurns {
		return false
	}

	mode := "summarize"
	if c.State() != WarmReady || c.provider == nil {
		mode = "hard_truncate"
		c.hardTruncate(cc)
	} else if !c.summarize(ctx, cc) {
		mode = "hard_truncate"
		c.hardTruncate(cc)
	}

	cc.Compressed = true
	c.logger.Info("context compressed", "mode", mode,
		"turns", len(cc.Turns), "tokens", cc.TokenEstimate())
	if c.metrics != nil {
		c.metrics.ContextCompressions.WithLabelValues(mode).Inc()
	}
	return true
}

// summarize replaces everything but the most recent turns with a single
// synthetic marker turn carrying a model-written summary. Returns false
// on any summarizer failure so the caller can fall back.
func (c *Compressor) summarize(ctx context.Context, cc *ConversationContext) bool {
	keep := c.config.KeepRecent
	if keep >= len(cc.Turns) {
		return false
	}
	older := cc.Turns[:len(cc.Turns)-keep]
	recent := cc.Turns[len(cc.Turns)-keep:]

	olderTokens := 0
	var transcript strings.Builder
	for _, t := range older {
		olderTokens += t.TokenEstimate
		fmt.Fprintf(&transcript, "%s: %s\n", t.Role, t.Content)
	}
	targetTokens := int(float64(olderTokens) * c.config.ReductionTarget)
	if targetTokens < 50 {
		targetTokens = 50
	}

	sctx, cancel := context.WithTimeout(ctx, c.config.SummaryTimeout)
	defer cancel()
	completion, err := c.provider.Complete(sctx, &llm.Request{
		System: "You condense chat transcripts. Keep names, decisions, and open questions. Output only the summary.",
		Turns: []models.Turn{models.NewTurn(models.RoleUser, fmt.Sprintf(
			"Summarize this conversation in roughly %d tokens:\n\n%s", targetTokens, transcript.String()))},
		MaxTokens: targetTokens * 2,
	})
	if err != nil || strings.TrimSpace(completion.Text) == "" {
		c.logger.Warn("summarization failed, falling back to truncation", "error", err)
		return false
	}

	marker := models.NewTurn(models.RoleSystem, fmt.Sprintf(
		"[earlier conversation truncated: %d messages] Summary: %s", len(older), completion.Text))
	marker.Synthetic = true

	cc.Turns = append([]models.Turn{marker}, recent...)
	return true
}

// hardTruncate drops the oldest turns until the context fits, then
// inserts the truncation marker. The current user turn is never
// dropped, even if it alone exceeds the budget.
func (c *Compressor) hardTruncate(cc *ConversationContext) {
	dropped := 0
	for len(cc.Turns) > 1 && cc.TokenEstimate() > c.config.TokenBudget {
		cc.Turns = cc.Turns[1:]
		dropped++
	}
	if dropped == 0 {
		return
	}
	marker := models.NewTurn(models.RoleSystem, fmt.Sprintf(
		"[earlier conversation truncated: %d messages]", dropped))
	marker.Synthetic = true
	cc.Turns = append([]models.Turn{marker}, cc.Turns...)
}
