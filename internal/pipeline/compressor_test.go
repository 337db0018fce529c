package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/pkg/models"
)

func conversation(turns int, wordsPerTurn int) *ConversationContext {
	cc := &ConversationContext{}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < turns; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		turn := models.NewTurn(role, fmt.Sprintf("turn-%03d %s", i, strings.Repeat("word ", wordsPerTurn)))
		turn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		cc.Turns = append(cc.Turns, turn)
	}
	return cc
}

func TestCompressSkipsSmallContexts(t *testing.T) {
	c := NewCompressor(CompressorConfig{TokenBudget: 100000}, nil, nil, nil)
	cc := conversation(20, 10)
	if c.Compress(context.Background(), cc) {
		t.Error("context under budget was compressed")
	}

	c2 := NewCompressor(CompressorConfig{TokenBudget: 10, MinTurns: 8}, nil, nil, nil)
	short := conversation(4, 100)
	if c2.Compress(context.Background(), short) {
		t.Error("short exchange was compressed despite being over budget")
	}
}

func TestHardTruncatePreservesCurrentTurnAndOrder(t *testing.T) {
	c := NewCompressor(CompressorConfig{TokenBudget: 300, MinTurns: 4, KeepRecent: 2}, nil, nil, nil)
	cc := conversation(20, 20)
	last := cc.Turns[len(cc.Turns)-1].Content

	if !c.Compress(context.Background(), cc) {
		t.Fatal("oversized context not compressed")
	}
	if !cc.Compressed {
		t.Error("Compressed flag not set")
	}
	if got := cc.CurrentTurn().Content; got != last {
		t.Errorf("current user turn lost: %q", got)
	}
	if !cc.Turns[0].Synthetic || !strings.Contains(cc.Turns[0].Content, "truncated") {
		t.Errorf("first turn should be the truncation marker, got %+v", cc.Turns[0])
	}

	// Chronological order of the surviving turns is preserved.
	var prev time.Time
	for i, turn := range cc.Turns[1:] {
		if i > 0 && turn.CreatedAt.Before(prev) {
			t.Errorf("turn %d out of order", i)
		}
		prev = turn.CreatedAt
	}
}

func TestCompressNotReadySkipsSummarizer(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	c := NewCompressor(CompressorConfig{TokenBudget: 300, MinTurns: 4, KeepRecent: 2}, provider, nil, nil)
	// Never warmed: state is Idle, so the model must not be consulted.
	cc := conversation(20, 20)
	if !c.Compress(context.Background(), cc) {
		t.Fatal("oversized context not compressed")
	}
	if len(provider.seen()) != 0 {
		t.Error("cold compressor called the model instead of hard-truncating")
	}
}

func TestCompressSummarizesWhenReady(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("warmup"),
		reply("they discussed turnips at length"),
	}}
	c := NewCompressor(CompressorConfig{TokenBudget: 300, MinTurns: 4, KeepRecent: 3}, provider, nil, nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if c.State() != WarmReady {
		t.Fatalf("state = %v after warmup", c.State())
	}

	cc := conversation(20, 20)
	last := cc.Turns[len(cc.Turns)-1].Content
	if !c.Compress(context.Background(), cc) {
		t.Fatal("oversized context not compressed")
	}

	if len(cc.Turns) != 4 { // marker + 3 recent
		t.Fatalf("turns = %d, want marker + keep-recent", len(cc.Turns))
	}
	marker := cc.Turns[0]
	if !marker.Synthetic {
		t.Error("summary turn not marked synthetic")
	}
	if !strings.Contains(marker.Content, "truncated: 17 messages") {
		t.Errorf("marker missing redacted count: %q", marker.Content)
	}
	if !strings.Contains(marker.Content, "turnips") {
		t.Errorf("marker missing summary text: %q", marker.Content)
	}
	if cc.CurrentTurn().Content != last {
		t.Error("current user turn lost during summarization")
	}
}

func TestCompressFallsBackOnSummarizerFailure(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("warmup"),
		fail(errors.New("model melted")),
	}}
	c := NewCompressor(CompressorConfig{TokenBudget: 300, MinTurns: 4, KeepRecent: 2}, provider, nil, nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatal(err)
	}

	cc := conversation(20, 20)
	last := cc.Turns[len(cc.Turns)-1].Content
	if !c.Compress(context.Background(), cc) {
		t.Fatal("compression should still happen via hard truncation")
	}
	if cc.CurrentTurn().Content != last {
		t.Error("current user turn lost in the fallback path")
	}
	if cc.TokenEstimate() > 300+models.EstimateTokens(cc.Turns[0].Content) {
		t.Errorf("fallback left context near its original size: %d tokens", cc.TokenEstimate())
	}
}

func TestWarmFailureReturnsToIdle(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		fail(errors.New("no capacity")),
	}}
	c := NewCompressor(CompressorConfig{}, provider, nil, nil)
	if err := c.Warm(context.Background()); err == nil {
		t.Error("Warm should surface the failure")
	}
	if c.State() != WarmIdle {
		t.Errorf("state = %v after failed warmup, want idle", c.State())
	}
}
