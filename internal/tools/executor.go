package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/pkg/models"
)

// Result is the outcome of one tool call. Exactly one Result is
// produced per request in a batch; a failure is carried in Err and
// never affects sibling results.
type Result struct {
	ToolCallID string
	Tool       string

	Output  *Output
	Err     error
	ErrKind ErrorKind

	Elapsed  time.Duration
	CacheHit bool
	TimedOut bool

	// Synthesis mirrors the descriptor so the synthesis controller can
	// decide without a second registry lookup. Unresolvable tools
	// default to self-contained.
	Synthesis SynthesisPolicy
}

// Failed reports whether this call produced an error.
func (r Result) Failed() bool { return r.Err != nil }

// ToModel converts the result to the shared wire type. Errors become
// explicit error notes so the model can acknowledge them.
func (r Result) ToModel() models.ToolResult {
	out := models.ToolResult{ToolCallID: r.ToolCallID}
	if r.Err != nil {
		out.IsError = true
		out.Content = fmt.Sprintf("%s failed (%s): %s", r.Tool, r.ErrKind, r.Err.Error())
		return out
	}
	out.Content = r.Output.Content
	out.Artifacts = r.Output.Artifacts
	return out
}

// ExecutorConfig bounds the engine.
type ExecutorConfig struct {
	// Concurrency caps simultaneous adapter executions per batch.
	// Default: 4.
	Concurrency int

	// DefaultTimeout applies to descriptors without their own timeout.
	// Default: 10 seconds.
	DefaultTimeout time.Duration
}

// Executor runs batches of tool calls concurrently with per-tool
// caching, timeouts, and adapter-specific retries. Identical in-flight
// invocations are collapsed to one backend call.
type Executor struct {
	registry *Registry
	cache    infra.ByteStore
	flight   infra.Group[string, *Output]
	config   ExecutorConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewExecutor creates an executor. cache may be nil to disable caching;
// metrics may be nil.
func NewExecutor(registry *Registry, cache infra.ByteStore, config ExecutorConfig, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Executor{
		registry: registry,
		cache:    cache,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// WithTracer attaches span instrumentation to tool executions and
// returns the executor.
func (e *Executor) WithTracer(tracer *observability.Tracer) *Executor {
	e.tracer = tracer
	return e
}

// ExecuteAll executes every request concurrently and returns one result
// per request, in input order. A single tool's failure or timeout never
// cancels siblings.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []Result {
	results := make([]Result, len(calls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = Result{
					ToolCallID: call.ID,
					Tool:       call.Name,
					Err:        NewToolError(call.Name, call.ID, ctx.Err()),
					ErrKind:    KindCancelled,
					Synthesis:  SelfContained,
				}
				return
			}

			results[idx] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call models.ToolCall) Result {
	if e.tracer == nil {
		return e.executeCall(ctx, call)
	}
	sctx, span := e.tracer.StartToolSpan(ctx, call.Name, call.ID)
	defer span.End()
	result := e.executeCall(sctx, call)
	e.tracer.RecordError(span, result.Err)
	return result
}

func (e *Executor) executeCall(ctx context.Context, call models.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Tool: call.Name, Synthesis: SelfContained}

	reg, ok := e.registry.Get(call.Name)
	if !ok {
		// Unresolvable id is fatal to this call only, never the request.
		result.Err = NewToolError(call.Name, call.ID, fmt.Errorf("%w: %s", ErrNotFound, call.Name))
		result.ErrKind = KindNotFound
		result.Elapsed = time.Since(start)
		e.observe(result)
		return result
	}
	desc := reg.Descriptor
	result.Synthesis = desc.Synthesis

	if err := e.registry.ValidateArgs(call.Name, call.Input); err != nil {
		result.Err = NewToolError(call.Name, call.ID, err)
		result.ErrKind = KindInvalidInput
		result.Elapsed = time.Since(start)
		e.observe(result)
		return result
	}

	cacheable := desc.TTL != TTLNone && desc.TTL != "" && e.cache != nil
	var key string
	if cacheable {
		key = CacheKey(call.Name, call.Input)
		// A cache failure is a miss, never an error that aborts the call.
		if data, hit, err := e.cache.Get(key); err == nil && hit {
			var output Output
			if json.Unmarshal(data, &output) == nil {
				result.Output = &output
				result.CacheHit = true
				result.Elapsed = time.Since(start)
				e.observe(result)
				return result
			}
		}
	}

	run := func() (*Output, error) {
		return e.runAdapter(ctx, reg, call)
	}

	var output *Output
	var err error
	if cacheable {
		// Collapse concurrent identical invocations onto one backend call.
		output, err, _ = e.flight.Do(key, run)
	} else {
		output, err = run()
	}

	result.Elapsed = time.Since(start)
	if err != nil {
		result.Err = err
		result.ErrKind = KindOf(err)
		result.TimedOut = result.ErrKind == KindTimeout
		e.observe(result)
		return result
	}

	result.Output = output
	if cacheable {
		if data, merr := json.Marshal(output); merr == nil {
			_ = e.cache.Set(key, data, desc.TTL.Duration())
		}
	}
	e.observe(result)
	return result
}

// runAdapter executes the adapter under its timeout, applying the
// adapter's own retry policy to retryable failures.
func (e *Executor) runAdapter(ctx context.Context, reg *Registration, call models.ToolCall) (*Output, error) {
	desc := reg.Descriptor
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	attempt := func(ctx context.Context) (*Output, error) {
		if reg.pace != nil {
			// Per-tool outbound pacing; the backend sets the budget.
			if err := reg.pace.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return e.attemptOnce(ctx, reg.Adapter, call, timeout)
	}

	policy := desc.Retry
	if policy == nil {
		output, err := attempt(ctx)
		if err != nil {
			return nil, wrapToolError(call, err, 1)
		}
		return output, nil
	}

	cfg := *policy
	if cfg.RetryIf == nil {
		cfg.RetryIf = func(err error) bool { return KindOf(err).IsRetryable() }
	}
	output, res := infra.Retry(ctx, &cfg, attempt)
	if res.LastError != nil {
		return nil, wrapToolError(call, res.LastError, res.Attempts)
	}
	return output, nil
}

// attemptOnce runs one adapter execution with timeout handling. The
// adapter runs in its own goroutine so a stuck adapter cannot hang the
// engine; a late result is discarded.
func (e *Executor) attemptOnce(ctx context.Context, adapter Adapter, call models.ToolCall, timeout time.Duration) (*Output, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		output *Output
		err    error
	}
	ch := make(chan execResult, 1)
	go func() {
		output, err := adapter.Execute(execCtx, call.Input)
		select {
		case ch <- execResult{output: output, err: err}:
		default:
			e.logger.Warn("tool completed after timeout, result discarded",
				"tool", call.Name, "tool_call_id", call.ID)
		}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution timed out after %v: %w", timeout, context.DeadlineExceeded)
		}
		return nil, execCtx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.output == nil {
			return nil, errors.New("adapter returned no output")
		}
		return res.output, nil
	}
}

func wrapToolError(call models.ToolCall, err error, attempts int) error {
	var te *ToolError
	if errors.As(err, &te) {
		return err
	}
	wrapped := NewToolError(call.Name, call.ID, err)
	wrapped.Attempts = attempts
	return wrapped
}

func (e *Executor) observe(r Result) {
	if r.Err != nil {
		e.logger.Warn("tool execution failed",
			"tool", r.Tool, "tool_call_id", r.ToolCallID,
			"kind", string(r.ErrKind), "elapsed_ms", r.Elapsed.Milliseconds())
	} else {
		e.logger.Debug("tool execution completed",
			"tool", r.Tool, "tool_call_id", r.ToolCallID,
			"cache_hit", r.CacheHit, "elapsed_ms", r.Elapsed.Milliseconds())
	}

	if e.metrics == nil {
		return
	}
	status := "success"
	switch {
	case r.TimedOut:
		status = "timeout"
	case r.Err != nil:
		status = "error"
	}
	e.metrics.ToolExecutions.WithLabelValues(r.Tool, status).Inc()
	e.metrics.ToolDuration.WithLabelValues(r.Tool).Observe(r.Elapsed.Seconds())
	if r.CacheHit {
		e.metrics.ToolCacheHits.WithLabelValues(r.Tool).Inc()
	}
}
