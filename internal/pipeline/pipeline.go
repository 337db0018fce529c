// Package pipeline implements the request orchestration flow: admit,
// assemble context, compress, select tools, invoke the model, execute
// tool calls, synthesize, deliver.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

// Side-effect event kinds emitted through the sink.
const (
	EventUsage        = "usage"
	EventContentScore = "content_score"
)

// Options wires the pipeline's collaborators. Governor, Assembler,
// Classifier, Invoker, Synthesizer, Executor, and Registry are
// required; the rest may be nil.
type Options struct {
	Governor    *Governor
	Assembler   *Assembler
	Compressor  *Compressor
	Classifier  *IntentClassifier
	Invoker     *Invoker
	Synthesizer *Synthesizer
	Executor    *tools.Executor
	Registry    *tools.Registry
	History     history.Store
	Sink        *Sink
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer

	// SystemPrompt frames the assistant. MaxTokens bounds the first
	// pass completion (default 1024).
	SystemPrompt string
	MaxTokens    int
}

// Pipeline is the single entry point for inbound messages.
type Pipeline struct {
	opts Options
}

// New validates wiring and creates the pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Governor == nil, opts.Assembler == nil, opts.Classifier == nil,
		opts.Invoker == nil, opts.Synthesizer == nil, opts.Executor == nil,
		opts.Registry == nil:
		return nil, fmt.Errorf("pipeline: missing required component")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewTestLogger()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Pipeline{opts: opts}, nil
}

// Handle processes one inbound message end to end. working, when not
// nil, is called once processing actually begins so the transport can
// show a progress indicator. Errors are the typed taxonomy: a
// RejectedError before any work, a ModelUnavailableError when the model
// never answered.
func (p *Pipeline) Handle(ctx context.Context, req Request, working func()) (*Reply, error) {
	ticket, err := p.opts.Governor.Admit(ctx, req.ChannelID, req.UserID)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	if p.opts.Metrics != nil {
		p.opts.Metrics.RequestsInFlight.Inc()
		defer p.opts.Metrics.RequestsInFlight.Dec()
	}
	ctx = observability.ContextWithRequest(ctx, req.ID, req.ChannelID, req.UserID)
	log := p.opts.Logger.WithContext(ctx)

	if p.opts.Tracer != nil {
		var end func()
		ctx, end = p.startSpan(ctx, req)
		defer end()
	}

	if working != nil {
		working()
	}

	cc := p.opts.Assembler.Assemble(ctx, req)
	if p.opts.Compressor != nil {
		p.opts.Compressor.Compress(ctx, cc)
	}

	intent, descriptors := p.opts.Classifier.SelectTools(req.Text, p.opts.Registry)
	log.Debug("intent classified", "intent", string(intent), "tools_offered", len(descriptors))

	modelReq := &llm.Request{
		System:    p.systemPrompt(cc),
		Turns:     cc.Turns,
		Tools:     p.toolSpecs(descriptors),
		MaxTokens: p.opts.MaxTokens,
	}

	completion, err := p.opts.Invoker.Complete(ctx, modelReq)
	if err != nil {
		return nil, err
	}

	var results []tools.Result
	if completion.HasToolCalls() {
		results = p.opts.Executor.ExecuteAll(ctx, completion.ToolCalls)
	}

	state, text, err := p.opts.Synthesizer.Finalize(ctx, req.Text, completion.Text, results)
	if err != nil {
		return nil, err
	}
	log.Info("request completed", "synthesis_state", string(state), "tools_executed", len(results))

	reply := &Reply{
		Text:      strings.TrimSpace(text),
		Artifacts: collectArtifacts(results),
		Degraded:  len(cc.Degraded) > 0,
	}

	p.record(ctx, req, reply)
	p.emit(req, reply, len(results))
	return reply, nil
}

// systemPrompt folds profile and memory context into the base prompt.
func (p *Pipeline) systemPrompt(cc *ConversationContext) string {
	prompt := p.opts.SystemPrompt
	if prompt == "" {
		prompt = "You are a helpful assistant in a group chat. Keep replies concise."
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	if cc.Profile != "" {
		fmt.Fprintf(&sb, "\n\nAbout the user: %s", cc.Profile)
	}
	if len(cc.Memory) > 0 {
		sb.WriteString("\n\nRelevant notes from earlier conversations:")
		for _, m := range cc.Memory {
			fmt.Fprintf(&sb, "\n- %s", m)
		}
	}
	return sb.String()
}

func (p *Pipeline) toolSpecs(descriptors []tools.Descriptor) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(descriptors))
	for _, d := range descriptors {
		reg, ok := p.opts.Registry.Get(d.Name)
		if !ok {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Schema:      reg.Adapter.Schema(),
		})
	}
	return specs
}

// record appends the exchange to history, best effort.
func (p *Pipeline) record(ctx context.Context, req Request, reply *Reply) {
	if p.opts.History == nil {
		return
	}
	userTurn := models.NewTurn(models.RoleUser, req.Text)
	if !req.Received.IsZero() {
		userTurn.CreatedAt = req.Received
	}
	if err := p.opts.History.Append(ctx, req.ChannelID, userTurn); err != nil {
		p.opts.Logger.Warn("failed to record user turn", "error", err, "channel_id", req.ChannelID)
	}
	if err := p.opts.History.Append(ctx, req.ChannelID, models.NewTurn(models.RoleAssistant, reply.Text)); err != nil {
		p.opts.Logger.Warn("failed to record reply turn", "error", err, "channel_id", req.ChannelID)
	}
}

// emit dispatches fire-and-forget side effects.
func (p *Pipeline) emit(req Request, reply *Reply, toolCount int) {
	if p.opts.Sink == nil {
		return
	}
	p.opts.Sink.Emit(Event{
		Kind:      EventUsage,
		RequestID: req.ID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Payload: map[string]any{
			"tools_executed": toolCount,
			"reply_chars":    len(reply.Text),
			"degraded":       reply.Degraded,
		},
	})
	p.opts.Sink.Emit(Event{
		Kind:      EventContentScore,
		RequestID: req.ID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Payload:   map[string]any{"text": reply.Text},
	})
}

func (p *Pipeline) startSpan(ctx context.Context, req Request) (context.Context, func()) {
	sctx, span := p.opts.Tracer.Start(ctx, "pipeline.handle",
		attribute.String("channel.id", req.ChannelID),
		attribute.String("request.id", req.ID))
	return sctx, func() { span.End() }
}

func collectArtifacts(results []tools.Result) []models.Artifact {
	var artifacts []models.Artifact
	for _, r := range results {
		if r.Output != nil {
			artifacts = append(artifacts, r.Output.Artifacts...)
		}
	}
	return artifacts
}
