package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/tools"
)

// stubAdapter satisfies tools.Adapter for registry wiring in tests.
type stubAdapter struct{}

func (stubAdapter) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (stubAdapter) Execute(context.Context, json.RawMessage) (*tools.Output, error) {
	return &tools.Output{Content: "stub"}, nil
}

// fakeProvider scripts completions and records every request it saw.
type fakeProvider struct {
	name string

	mu       sync.Mutex
	requests []*llm.Request
	script   []func(*llm.Request) (*llm.Completion, error)
	calls    int
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) Complete(_ context.Context, req *llm.Request) (*llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	if idx < 0 {
		return &llm.Completion{Text: "ok"}, nil
	}
	return p.script[idx](req)
}

func (p *fakeProvider) seen() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func reply(text string) func(*llm.Request) (*llm.Completion, error) {
	return func(*llm.Request) (*llm.Completion, error) {
		return &llm.Completion{Text: text}, nil
	}
}

func fail(err error) func(*llm.Request) (*llm.Completion, error) {
	return func(*llm.Request) (*llm.Completion, error) {
		return nil, err
	}
}
