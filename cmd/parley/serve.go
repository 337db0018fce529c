package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/pipeline"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/tools/chart"
	"github.com/parleyhq/parley/internal/tools/gamestats"
	"github.com/parleyhq/parley/internal/tools/trivia"
	"github.com/parleyhq/parley/internal/tools/weather"
	"github.com/parleyhq/parley/internal/tools/websearch"
	"github.com/parleyhq/parley/internal/transport"
	"github.com/parleyhq/parley/internal/transport/discord"
)

// pipelineHandler adapts the pipeline to the transport contract.
type pipelineHandler struct {
	pipe *pipeline.Pipeline
}

func (h *pipelineHandler) Handle(ctx context.Context, msg transport.InboundMessage, working func()) (*transport.Reply, error) {
	reply, err := h.pipe.Handle(ctx, pipeline.Request{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		Text:      msg.Text,
		Received:  time.Now(),
	}, working)
	if err != nil {
		return nil, err
	}
	return &transport.Reply{Text: reply.Text, Artifacts: reply.Artifacts}, nil
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics(nil)

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	store, err := openHistory(cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	providers, err := buildProviders(cfg.LLM)
	if err != nil {
		return err
	}

	invoker, err := pipeline.NewInvoker(providers, pipeline.InvokerConfig{
		Ceiling:           cfg.LLM.RetryCeiling,
		MaxAttempts:       cfg.LLM.MaxAttempts,
		BaseBackoff:       cfg.LLM.BaseBackoff,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}, logger, metrics)
	if err != nil {
		return err
	}
	invoker.WithTracer(tracer)

	compressor := pipeline.NewCompressor(pipeline.CompressorConfig{
		TokenBudget:     cfg.Pipeline.TokenBudget,
		KeepRecent:      cfg.Pipeline.KeepRecentTurns,
		MinTurns:        cfg.Pipeline.MinTurnsForCompression,
		ReductionTarget: cfg.Pipeline.ReductionTarget,
	}, providers[0], logger, metrics)
	go func() {
		wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_ = compressor.Warm(wctx)
	}()

	registry, err := buildRegistry(cfg.Tools)
	if err != nil {
		return err
	}

	backend := infra.NewMemoryStore(infra.CacheConfig{
		DefaultTTL:      15 * time.Minute,
		MaxSize:         cfg.Tools.CacheMaxEntries,
		CleanupInterval: time.Minute,
	})
	defer backend.Stop()
	cache := infra.NewGuardedStore(backend, 3, 30*time.Second)

	executor := tools.NewExecutor(registry, cache, tools.ExecutorConfig{
		Concurrency:    cfg.Tools.Concurrency,
		DefaultTimeout: cfg.Tools.DefaultTimeout,
	}, logger, metrics).WithTracer(tracer)

	governor := pipeline.NewGovernor(pipeline.GovernorConfig{
		ChannelSlots:  cfg.Pipeline.ChannelSlots,
		AdmissionWait: cfg.Pipeline.AdmissionWait,
		UserCooldown:  cfg.Pipeline.UserCooldown,
		WindowLimit:   cfg.Pipeline.UserWindowLimit,
		Window:        cfg.Pipeline.UserWindow,
	}, logger, metrics)

	assembler := pipeline.NewAssembler(pipeline.AssemblerConfig{
		SourceWait:   cfg.Pipeline.SourceWait,
		HistoryTurns: cfg.Pipeline.HistoryTurns,
	}, store, nil, nil, logger, metrics)

	classifier := pipeline.NewIntentClassifier(pipeline.IntentConfig{
		VisualizationKeywords: cfg.Tools.VisualizationKeywords,
		ComputationalKeywords: cfg.Tools.ComputationalKeywords,
	})

	sink := pipeline.NewSink(0, logger)
	defer sink.Close()
	sink.On(pipeline.EventUsage, func(e pipeline.Event) error {
		logger.Debug("usage recorded", "request_id", e.RequestID, "payload", e.Payload)
		return nil
	})

	pipe, err := pipeline.New(pipeline.Options{
		Governor:     governor,
		Assembler:    assembler,
		Compressor:   compressor,
		Classifier:   classifier,
		Invoker:      invoker,
		Synthesizer:  pipeline.NewSynthesizer(invoker, logger, metrics),
		Executor:     executor,
		Registry:     registry,
		History:      store,
		Sink:         sink,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Admission state for idle users and channels is dropped
	// periodically so the maps stay bounded over long uptimes.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				governor.Prune(time.Hour)
			}
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listener started", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	transportRunning := false
	if cfg.Discord.Enabled {
		binding, err := discord.New(cfg.Discord.BotToken, &pipelineHandler{pipe: pipe}, logger, metrics)
		if err != nil {
			return err
		}
		transportRunning = true
		go func() { errCh <- binding.Start(runCtx) }()
	} else {
		logger.Warn("no transport enabled; serving metrics only")
	}

	logger.Info("parley started", "version", version)
	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		transportRunning = false
		if err != nil {
			logger.Error("transport failed", "error", err)
		}
	}

	// The transport drains in-flight handlers before Start returns, and
	// those handlers still emit side effects; the sink closes only after
	// the transport is fully down.
	stop()
	if transportRunning {
		if err := <-errCh; err != nil {
			logger.Error("transport shutdown failed", "error", err)
		}
	}
	sink.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}
	logger.Info("parley stopped")
	return nil
}

func openHistory(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return history.NewSQLiteStore(cfg.Path)
	default:
		return history.NewMemoryStore(), nil
	}
}

func buildProviders(cfg config.LLMConfig) ([]llm.Provider, error) {
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Name {
		case "openai":
			providers = append(providers, llm.NewOpenAIProvider(p.APIKey, p.Model))
		case "anthropic":
			providers = append(providers, llm.NewAnthropicProvider(p.APIKey, p.Model))
		default:
			return nil, fmt.Errorf("unknown provider %q", p.Name)
		}
	}
	return providers, nil
}

func buildRegistry(cfg config.ToolsConfig) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	guard := tools.NewNetGuard(nil)

	if err := registry.Register(websearch.Descriptor(), websearch.New(websearch.Config{}, guard)); err != nil {
		return nil, err
	}
	if err := registry.Register(weather.Descriptor(), weather.New(weather.Config{BaseURL: cfg.Weather.BaseURL})); err != nil {
		return nil, err
	}
	if err := registry.Register(trivia.Descriptor(), trivia.New(trivia.Config{})); err != nil {
		return nil, err
	}
	if err := registry.Register(chart.Descriptor(), chart.New(chart.Config{}, guard)); err != nil {
		return nil, err
	}
	if cfg.GameStats.BaseURL != "" {
		adapter, err := gamestats.New(gamestats.Config{
			BaseURL: cfg.GameStats.BaseURL,
			APIKey:  cfg.GameStats.APIKey,
		}, guard)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(gamestats.Descriptor(), adapter); err != nil {
			return nil, err
		}
	}

	registry.Seal()
	return registry, nil
}
