package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

// SynthesisState is the per-request decision over a batch of tool
// results. Decided exactly once; synthesis never triggers further tool
// calls.
type SynthesisState string

const (
	// NoToolsCalled means the first model pass answered directly.
	NoToolsCalled SynthesisState = "no_tools_called"

	// AllSelfContained means every tool is self-contained and
	// succeeded: outputs are concatenated without a second model call.
	AllSelfContained SynthesisState = "all_self_contained"

	// RequiresSynthesis means a second model pass phrases the answer:
	// some tool requires synthesis, or a self-contained tool failed.
	RequiresSynthesis SynthesisState = "requires_synthesis"
)

// Synthesizer decides and, when needed, runs the second model pass.
type Synthesizer struct {
	invoker *Invoker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSynthesizer creates a synthesizer sharing the pipeline's invoker,
// so the second pass runs under the same retry and rate bounds.
func NewSynthesizer(invoker *Invoker, logger *observability.Logger, metrics *observability.Metrics) *Synthesizer {
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Synthesizer{invoker: invoker, logger: logger, metrics: metrics}
}

// Decide classifies a batch of tool results.
func Decide(results []tools.Result) SynthesisState {
	if len(results) == 0 {
		return NoToolsCalled
	}
	for _, r := range results {
		if r.Synthesis == tools.RequiresSynthesis {
			return RequiresSynthesis
		}
		if r.Failed() {
			// A failed self-contained tool cannot speak for itself;
			// the model acknowledges the failure instead.
			return RequiresSynthesis
		}
	}
	return AllSelfContained
}

// Finalize turns a batch of tool results into the reply text. The
// state is recorded once per request.
func (s *Synthesizer) Finalize(ctx context.Context, question string, firstPassText string, results []tools.Result) (SynthesisState, string, error) {
	state := Decide(results)
	if s.metrics != nil {
		s.metrics.SynthesisDecisions.WithLabelValues(string(state)).Inc()
	}

	switch state {
	case NoToolsCalled:
		return state, firstPassText, nil
	case AllSelfContained:
		return state, concatenate(results), nil
	}

	text, err := s.synthesize(ctx, question, results)
	if err != nil {
		return state, "", err
	}
	return state, text, nil
}

// synthesize runs the second bounded model pass over the original
// question plus every tool outcome, error notes included.
func (s *Synthesizer) synthesize(ctx context.Context, question string, results []tools.Result) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The user asked: %s\n\nTool results:\n", question)
	for _, r := range results {
		if r.Failed() {
			fmt.Fprintf(&sb, "- %s failed: %s\n", r.Tool, r.Err.Error())
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Tool, r.Output.Content)
		for range r.Output.Artifacts {
			fmt.Fprintf(&sb, "  (an image attachment will accompany your reply)\n")
		}
	}
	sb.WriteString("\nWrite the final reply to the user. Weave the results into natural language; if a tool failed, acknowledge it briefly. Do not mention tools by name.")

	completion, err := s.invoker.Complete(ctx, &llm.Request{
		System:    "You are a helpful chat assistant composing a final answer from gathered results.",
		Turns:     []models.Turn{models.NewTurn(models.RoleUser, sb.String())},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// concatenate joins successful self-contained outputs verbatim.
func concatenate(results []tools.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Output != nil && r.Output.Content != "" {
			parts = append(parts, r.Output.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
