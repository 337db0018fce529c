package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

type slowAdapter struct{ stubAdapter }

func (slowAdapter) Execute(ctx context.Context, _ json.RawMessage) (*tools.Output, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type chartStub struct{ stubAdapter }

func (chartStub) Execute(context.Context, json.RawMessage) (*tools.Output, error) {
	return &tools.Output{
		Content:   "Rendered chart.",
		Artifacts: []models.Artifact{{ID: "a1", Type: "image", MimeType: "image/png", Data: []byte{1}}},
	}, nil
}

func testPipeline(t *testing.T, provider *fakeProvider) (*Pipeline, *history.MemoryStore) {
	t.Helper()

	registry := tools.NewRegistry()
	must := func(d tools.Descriptor, a tools.Adapter) {
		t.Helper()
		if err := registry.Register(d, a); err != nil {
			t.Fatal(err)
		}
	}
	must(tools.Descriptor{Name: "weather", Category: tools.CategoryComputational, TTL: tools.TTLNone}, stubAdapter{})
	must(tools.Descriptor{
		Name: "slow", Category: tools.CategoryComputational,
		Timeout: 20 * time.Millisecond, TTL: tools.TTLNone,
	}, slowAdapter{})
	must(tools.Descriptor{
		Name: "chart", Category: tools.CategoryPresentation,
		Synthesis: tools.RequiresSynthesis, TTL: tools.TTLNone,
	}, chartStub{})
	registry.Seal()

	invoker := quickInvoker(t, provider)
	store := history.NewMemoryStore()

	pipe, err := New(Options{
		Governor: NewGovernor(GovernorConfig{
			ChannelSlots:  2,
			AdmissionWait: 50 * time.Millisecond,
			UserCooldown:  time.Nanosecond,
			WindowLimit:   1000,
		}, nil, nil),
		Assembler:   NewAssembler(AssemblerConfig{}, store, nil, nil, nil, nil),
		Compressor:  NewCompressor(CompressorConfig{}, nil, nil, nil),
		Classifier:  NewIntentClassifier(IntentConfig{}),
		Invoker:     invoker,
		Synthesizer: NewSynthesizer(invoker, nil, nil),
		Executor:    tools.NewExecutor(registry, nil, tools.ExecutorConfig{}, nil, nil),
		Registry:    registry,
		History:     store,
	})
	if err != nil {
		t.Fatal(err)
	}
	return pipe, store
}

func toolCallReply(calls ...models.ToolCall) func(*llm.Request) (*llm.Completion, error) {
	return func(*llm.Request) (*llm.Completion, error) {
		return &llm.Completion{ToolCalls: calls}, nil
	}
}

func TestHandlePureConversation(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("just chatting"),
	}}
	pipe, _ := testPipeline(t, provider)

	got, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "tell me a joke",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "just chatting" {
		t.Errorf("text = %q", got.Text)
	}

	// No tool-category keywords: the model must be offered no tools and
	// called exactly once.
	seen := provider.seen()
	if len(seen) != 1 {
		t.Fatalf("model called %d times, want 1", len(seen))
	}
	if len(seen[0].Tools) != 0 {
		t.Errorf("no-signal message offered %d tools", len(seen[0].Tools))
	}
}

func TestHandleVisualizationSynthesis(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		toolCallReply(models.ToolCall{ID: "t1", Name: "chart", Input: json.RawMessage(`{}`)}),
		reply("Here is the chart you asked for."),
	}}
	pipe, _ := testPipeline(t, provider)

	got, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "chart my progress",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	seen := provider.seen()
	if len(seen) != 2 {
		t.Fatalf("model called %d times, want first pass + synthesis", len(seen))
	}
	if got.Text != "Here is the chart you asked for." {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.Artifacts) != 1 {
		t.Errorf("artifacts = %d, want the rendered chart", len(got.Artifacts))
	}
	// The presentation tool was offered on the first pass.
	offered := false
	for _, spec := range seen[0].Tools {
		if spec.Name == "chart" {
			offered = true
		}
	}
	if !offered {
		t.Error("visualization intent did not offer the presentation tool")
	}
}

func TestHandleToolTimeoutStillCompletes(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		toolCallReply(
			models.ToolCall{ID: "t1", Name: "slow", Input: json.RawMessage(`{}`)},
			models.ToolCall{ID: "t2", Name: "weather", Input: json.RawMessage(`{}`)},
		),
		reply("The lookup timed out, but the weather is fine."),
	}}
	pipe, _ := testPipeline(t, provider)

	got, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "weather please",
	}, nil)
	if err != nil {
		t.Fatalf("request failed despite per-tool isolation: %v", err)
	}
	if got.Text == "" {
		t.Error("empty reply")
	}
}

func TestHandleRejectedBeforeWork(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	pipe, _ := testPipeline(t, provider)
	pipe.opts.Governor = NewGovernor(GovernorConfig{
		UserCooldown: time.Hour, AdmissionWait: 10 * time.Millisecond, WindowLimit: 100,
	}, nil, nil)

	if _, err := pipe.Handle(context.Background(), Request{ChannelID: "c", UserID: "u", Text: "one"}, nil); err != nil {
		t.Fatal(err)
	}
	calls := len(provider.seen())

	// Immediate second message from the same user trips the cooldown
	// before the model is consulted again.
	_, err := pipe.Handle(context.Background(), Request{ChannelID: "c", UserID: "u", Text: "two"}, nil)
	if _, ok := IsRejected(err); !ok {
		t.Fatalf("err = %v, want Rejected", err)
	}
	if len(provider.seen()) != calls {
		t.Error("rejected request still reached the model")
	}
}

func TestHandleModelUnavailable(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		fail(&llm.ProviderError{Reason: llm.ReasonServerError, Provider: "fake", Message: "500"}),
	}}
	pipe, _ := testPipeline(t, provider)

	_, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "hello",
	}, nil)
	if !IsModelUnavailable(err) {
		t.Fatalf("err = %v, want ModelUnavailable", err)
	}

	// The channel slot must be free again after the failure path.
	g := pipe.opts.Governor
	if sem := g.channelSlots("c"); sem.InUse() != 0 {
		t.Errorf("slots in use = %d after failed request, want 0", sem.InUse())
	}
}

func TestHandleRecordsHistory(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("noted"),
	}}
	pipe, store := testPipeline(t, provider)

	if _, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "remember this",
	}, nil); err != nil {
		t.Fatal(err)
	}

	turns, err := store.Recent(context.Background(), "c", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("recorded %d turns, want user + assistant", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Role != models.RoleAssistant {
		t.Errorf("roles = %s, %s", turns[0].Role, turns[1].Role)
	}
	if !strings.Contains(turns[0].Content, "remember this") {
		t.Errorf("user turn content = %q", turns[0].Content)
	}
}

func TestHandleWorkingIndicator(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("hi"),
	}}
	pipe, _ := testPipeline(t, provider)

	called := false
	if _, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "hello",
	}, func() { called = true }); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("working indicator never signalled")
	}
}

func TestHandleDegradedContextStillAnswers(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("answered anyway"),
	}}
	pipe, _ := testPipeline(t, provider)
	pipe.opts.Assembler = NewAssembler(AssemblerConfig{SourceWait: 10 * time.Millisecond},
		brokenHistory{}, nil, nil, nil, nil)
	pipe.opts.History = nil

	got, err := pipe.Handle(context.Background(), Request{
		ID: "r1", ChannelID: "c", UserID: "u", Text: "hello",
	}, nil)
	if err != nil {
		t.Fatalf("degraded context failed the request: %v", err)
	}
	if !got.Degraded {
		t.Error("reply not flagged degraded")
	}
	if got.Text != "answered anyway" {
		t.Errorf("text = %q", got.Text)
	}
}

type brokenHistory struct{}

func (brokenHistory) Recent(context.Context, string, int) ([]models.Turn, error) {
	return nil, errors.New("store offline")
}
func (brokenHistory) Append(context.Context, string, models.Turn) error {
	return errors.New("store offline")
}
func (brokenHistory) Close() error { return nil }
