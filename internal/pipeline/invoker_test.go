package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/models"
)

func retryableErr() error {
	return &llm.ProviderError{Reason: llm.ReasonServerError, Provider: "fake", Message: "500"}
}

func authErr() error {
	return &llm.ProviderError{Reason: llm.ReasonAuth, Provider: "fake", Message: "401"}
}

func quickInvoker(t *testing.T, providers ...llm.Provider) *Invoker {
	t.Helper()
	inv, err := NewInvoker(providers, InvokerConfig{
		Ceiling:           2 * time.Second,
		MaxAttempts:       2,
		BaseBackoff:       time.Millisecond,
		RequestsPerSecond: 10000,
		Burst:             100,
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestInvokerWithTracer(t *testing.T) {
	tracer, shutdown, err := observability.NewTracer(observability.TraceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(context.Background())

	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		reply("traced"),
	}}
	inv := quickInvoker(t, provider).WithTracer(tracer)

	completion, err := inv.Complete(context.Background(), &llm.Request{
		Turns: []models.Turn{models.NewTurn(models.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completion.Text != "traced" {
		t.Errorf("text = %q", completion.Text)
	}
}

func TestInvokerRetriesThenSucceeds(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		fail(retryableErr()),
		reply("recovered"),
	}}
	inv := quickInvoker(t, provider)

	completion, err := inv.Complete(context.Background(), &llm.Request{
		Turns: []models.Turn{models.NewTurn(models.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completion.Text != "recovered" {
		t.Errorf("text = %q", completion.Text)
	}
	if len(provider.seen()) != 2 {
		t.Errorf("attempts = %d, want 2", len(provider.seen()))
	}
}

func TestInvokerIdenticalRequestAcrossAttempts(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		fail(retryableErr()),
		fail(retryableErr()),
		reply("done"),
	}}
	inv, err := NewInvoker([]llm.Provider{provider}, InvokerConfig{
		Ceiling:           2 * time.Second,
		MaxAttempts:       4,
		BaseBackoff:       time.Millisecond,
		RequestsPerSecond: 10000,
		Burst:             100,
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := &llm.Request{
		System:    "sys",
		Turns:     []models.Turn{models.NewTurn(models.RoleUser, "question")},
		Tools:     []llm.ToolSpec{{Name: "weather"}},
		MaxTokens: 64,
	}
	if _, err := inv.Complete(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	seen := provider.seen()
	if len(seen) < 2 {
		t.Fatalf("expected retries, saw %d attempts", len(seen))
	}
	for i, got := range seen {
		if got != req {
			t.Errorf("attempt %d received a different request value (parameter drift)", i)
		}
	}
}

func TestInvokerExhaustionIsModelUnavailable(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		fail(retryableErr()),
	}}
	inv := quickInvoker(t, provider)

	_, err := inv.Complete(context.Background(), &llm.Request{
		Turns: []models.Turn{models.NewTurn(models.RoleUser, "hi")},
	})
	if !IsModelUnavailable(err) {
		t.Fatalf("err = %v, want ModelUnavailable", err)
	}
}

func TestInvokerFatalNotRetried(t *testing.T) {
	provider := &fakeProvider{name: "fake", script: []func(*llm.Request) (*llm.Completion, error){
		fail(&llm.ProviderError{Reason: llm.ReasonInvalidRequest, Provider: "fake", Message: "400"}),
	}}
	inv := quickInvoker(t, provider)

	_, err := inv.Complete(context.Background(), &llm.Request{
		Turns: []models.Turn{models.NewTurn(models.RoleUser, "hi")},
	})
	if !IsModelUnavailable(err) {
		t.Fatalf("err = %v, want ModelUnavailable", err)
	}
	if got := len(provider.seen()); got != 1 {
		t.Errorf("fatal failure retried: %d attempts", got)
	}
}

func TestInvokerFailsOverOnAuth(t *testing.T) {
	broken := &fakeProvider{name: "primary", script: []func(*llm.Request) (*llm.Completion, error){
		fail(authErr()),
	}}
	healthy := &fakeProvider{name: "secondary", script: []func(*llm.Request) (*llm.Completion, error){
		reply("from secondary"),
	}}
	inv := quickInvoker(t, broken, healthy)

	completion, err := inv.Complete(context.Background(), &llm.Request{
		Turns: []models.Turn{models.NewTurn(models.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("failover did not rescue the request: %v", err)
	}
	if completion.Text != "from secondary" {
		t.Errorf("text = %q", completion.Text)
	}
	if got := len(broken.seen()); got != 1 {
		t.Errorf("auth failure retried on the broken provider: %d attempts", got)
	}
}

func TestInvokerCeiling(t *testing.T) {
	stall := &fakeProvider{name: "stall", script: []func(*llm.Request) (*llm.Completion, error){
		func(*llm.Request) (*llm.Completion, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, retryableErr()
		},
	}}
	inv, err := NewInvoker([]llm.Provider{stall}, InvokerConfig{
		Ceiling:           80 * time.Millisecond,
		MaxAttempts:       50,
		BaseBackoff:       time.Millisecond,
		RequestsPerSecond: 10000,
		Burst:             100,
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = inv.Complete(context.Background(), &llm.Request{
		Turns: []models.Turn{models.NewTurn(models.RoleUser, "hi")},
	})
	if !IsModelUnavailable(err) {
		t.Fatalf("err = %v, want ModelUnavailable at ceiling", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("retry sequence ran %s past the ceiling", elapsed)
	}
}
