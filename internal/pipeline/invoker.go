package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
)

// InvokerConfig bounds the model retry sequence.
type InvokerConfig struct {
	// Ceiling is the wall clock for the whole sequence, retries and
	// failover included. Default 60s.
	Ceiling time.Duration

	// MaxAttempts bounds attempts per provider. Default 4.
	MaxAttempts int

	// BaseBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter. Default 500ms.
	BaseBackoff time.Duration

	// RequestsPerSecond and Burst smooth outbound request rate across
	// concurrent requests. Defaults: 5 rps, burst 10.
	RequestsPerSecond float64
	Burst             int
}

func (c *InvokerConfig) applyDefaults() {
	if c.Ceiling <= 0 {
		c.Ceiling = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
}

// Invoker wraps an ordered provider list. Retryable failures back off
// and retry with the identical request; fatal failures that indicate a
// provider-level problem (auth, billing) fail over to the next
// provider. The whole sequence lives under one wall-clock ceiling.
type Invoker struct {
	providers []llm.Provider
	limiter   *rate.Limiter
	config    InvokerConfig
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewInvoker creates an invoker over providers, tried in order.
func NewInvoker(providers []llm.Provider, config InvokerConfig, logger *observability.Logger, metrics *observability.Metrics) (*Invoker, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("invoker: at least one provider is required")
	}
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Invoker{
		providers: providers,
		limiter:   rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// WithTracer attaches span instrumentation to model attempts and
// returns the invoker.
func (inv *Invoker) WithTracer(tracer *observability.Tracer) *Invoker {
	inv.tracer = tracer
	return inv
}

// Complete issues the request. req is never mutated or copied-with-
// changes: every attempt on every provider carries identical
// parameters. On exhaustion the error is a ModelUnavailableError.
func (inv *Invoker) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, inv.config.Ceiling)
	defer cancel()

	totalAttempts := 0
	var lastErr error
	var lastProvider string

	for _, provider := range inv.providers {
		completion, res := inv.tryProvider(cctx, provider, req)
		totalAttempts += res.Attempts
		if res.LastError == nil {
			return completion, nil
		}
		lastErr = res.LastError
		lastProvider = provider.Name()

		if cctx.Err() != nil {
			break
		}
		if llm.ReasonOf(lastErr).ShouldFailover() {
			inv.logger.Warn("provider failed over",
				"provider", provider.Name(), "reason", string(llm.ReasonOf(lastErr)))
			continue
		}
		if llm.IsRetryable(lastErr) {
			// Retries exhausted on transient failures; the next
			// provider may still be healthy.
			continue
		}
		break
	}

	return nil, &ModelUnavailableError{
		Provider: lastProvider,
		Attempts: totalAttempts,
		Elapsed:  time.Since(start),
		Cause:    lastErr,
	}
}

func (inv *Invoker) tryProvider(ctx context.Context, provider llm.Provider, req *llm.Request) (*llm.Completion, *infra.RetryResult) {
	// infra counts retries after the initial attempt; MaxAttempts here
	// is the total.
	cfg := &infra.RetryConfig{
		MaxAttempts:    inv.config.MaxAttempts - 1,
		InitialDelay:   inv.config.BaseBackoff,
		MaxDelay:       10 * time.Second,
		Strategy:       infra.BackoffExponential,
		JitterFraction: 0.2,
		RetryIf:        llm.IsRetryable,
	}

	return infra.Retry(ctx, cfg, func(ctx context.Context) (*llm.Completion, error) {
		if err := inv.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptStart := time.Now()
		completion, err := inv.completeOnce(ctx, provider, req)
		inv.observe(provider, attemptStart, completion, err)
		return completion, err
	})
}

// completeOnce runs one provider attempt, under its own span when
// tracing is wired.
func (inv *Invoker) completeOnce(ctx context.Context, provider llm.Provider, req *llm.Request) (*llm.Completion, error) {
	if inv.tracer == nil {
		return provider.Complete(ctx, req)
	}
	sctx, span := inv.tracer.StartModelSpan(ctx, provider.Name(), provider.Model())
	defer span.End()
	completion, err := provider.Complete(sctx, req)
	inv.tracer.RecordError(span, err)
	return completion, err
}

func (inv *Invoker) observe(provider llm.Provider, start time.Time, completion *llm.Completion, err error) {
	elapsed := time.Since(start)
	if err != nil {
		inv.logger.Warn("model request failed",
			"provider", provider.Name(), "model", provider.Model(),
			"reason", string(llm.ReasonOf(err)), "elapsed_ms", elapsed.Milliseconds())
	} else {
		inv.logger.Debug("model request completed",
			"provider", provider.Name(), "model", provider.Model(),
			"elapsed_ms", elapsed.Milliseconds())
	}

	if inv.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = string(llm.ReasonOf(err))
	}
	inv.metrics.ModelRequests.WithLabelValues(provider.Name(), provider.Model(), status).Inc()
	inv.metrics.ModelRequestDuration.WithLabelValues(provider.Name(), provider.Model()).Observe(elapsed.Seconds())
	if completion != nil {
		inv.metrics.ModelTokens.WithLabelValues(provider.Name(), provider.Model(), "input").Add(float64(completion.InputTokens))
		inv.metrics.ModelTokens.WithLabelValues(provider.Name(), provider.Model(), "output").Add(float64(completion.OutputTokens))
	}
}
