package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects pipeline metrics via Prometheus.
//
// Tracked signals:
//   - inbound messages and admission outcomes per channel
//   - model request latency, outcomes, and token consumption
//   - tool execution counts, latencies, and cache hits
//   - synthesis decision states
//   - context assembly degradation and compression events
type Metrics struct {
	// MessagesInbound counts inbound messages.
	// Labels: transport
	MessagesInbound *prometheus.CounterVec

	// AdmissionRejections counts governor rejections.
	// Labels: reason (channel-busy|rate-limited)
	AdmissionRejections *prometheus.CounterVec

	// ModelRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequests counts model calls.
	// Labels: provider, model, status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelTokens tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ModelTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|timeout)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ToolCacheHits counts cache-sourced tool results.
	// Labels: tool
	ToolCacheHits *prometheus.CounterVec

	// SynthesisDecisions counts synthesis controller states.
	// Labels: state (no_tools|passthrough|synthesis)
	SynthesisDecisions *prometheus.CounterVec

	// ContextSourceFailures counts degraded context sources.
	// Labels: source
	ContextSourceFailures *prometheus.CounterVec

	// ContextCompressions counts compressor activations.
	// Labels: mode (semantic|truncate|skipped)
	ContextCompressions *prometheus.CounterVec

	// RequestsInFlight gauges admitted, unfinished requests.
	RequestsInFlight prometheus.Gauge
}

// NewMetrics registers all collectors on the given registerer. Passing
// nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesInbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "messages_inbound_total",
			Help:      "Inbound messages by transport.",
		}, []string{"transport"}),

		AdmissionRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "admission_rejections_total",
			Help:      "Requests rejected by the concurrency governor.",
		}, []string{"reason"}),

		ModelRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "model_request_duration_seconds",
			Help:      "Model API call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ModelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "model_requests_total",
			Help:      "Model API calls by outcome.",
		}, []string{"provider", "model", "status"}),

		ModelTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by model calls.",
		}, []string{"provider", "model", "type"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "tool_executions_total",
			Help:      "Tool invocations by outcome.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),

		ToolCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "tool_cache_hits_total",
			Help:      "Tool results served from cache.",
		}, []string{"tool"}),

		SynthesisDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "synthesis_decisions_total",
			Help:      "Synthesis controller state per request.",
		}, []string{"state"}),

		ContextSourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "context_source_failures_total",
			Help:      "Context sources that degraded to absent.",
		}, []string{"source"}),

		ContextCompressions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "context_compressions_total",
			Help:      "Compressor activations by mode.",
		}, []string{"mode"}),

		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "requests_in_flight",
			Help:      "Admitted requests currently being processed.",
		}),
	}
}
