// Package tools provides the tool registry and the concurrent execution
// engine: per-tool timeouts, caching, adapter-specific retry policies,
// and duplicate suppression.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/pkg/models"
)

// SynthesisPolicy declares whether a tool's raw output can stand alone
// as the final reply or needs a second model pass to phrase it.
type SynthesisPolicy string

const (
	// SelfContained output is user-ready as-is.
	SelfContained SynthesisPolicy = "self-contained"

	// RequiresSynthesis output must be merged into natural language.
	// Presentation tools always carry this policy.
	RequiresSynthesis SynthesisPolicy = "requires-synthesis"
)

// Category groups tools for intent-based selection.
type Category string

const (
	// CategoryComputational tools fetch or compute data.
	CategoryComputational Category = "computational"

	// CategoryPresentation tools produce visual artifacts.
	CategoryPresentation Category = "presentation"
)

// TTLClass buckets cache lifetimes by how fast a tool's data goes stale.
type TTLClass string

const (
	// TTLVolatile suits rapidly changing data (live scores).
	TTLVolatile TTLClass = "volatile"

	// TTLStandard suits data stable for minutes (weather, search).
	TTLStandard TTLClass = "standard"

	// TTLStable suits near-static data (deterministic renders).
	TTLStable TTLClass = "stable"

	// TTLNone disables caching entirely, for tools whose output must
	// differ on every call.
	TTLNone TTLClass = "none"
)

// Duration maps a TTL class to its lifetime.
func (c TTLClass) Duration() time.Duration {
	switch c {
	case TTLVolatile:
		return time.Minute
	case TTLStandard:
		return 15 * time.Minute
	case TTLStable:
		return 6 * time.Hour
	default:
		return 0
	}
}

// Descriptor is the static metadata for one registered tool. The
// registry is built once at startup and read-only thereafter.
type Descriptor struct {
	Name        string
	Description string

	Synthesis SynthesisPolicy
	Category  Category

	// Timeout bounds one execution of this tool. Zero uses the
	// executor's default.
	Timeout time.Duration

	// TTL selects the cache lifetime for results.
	TTL TTLClass

	// Rate and RateBurst pace outbound calls to this tool's backend,
	// in calls per second. Zero leaves the tool unpaced.
	Rate      float64
	RateBurst int

	// Retry is this adapter's own retry policy for transient failures.
	// Nil means a single attempt.
	Retry *infra.RetryConfig
}

// Output is what an adapter produces on success.
type Output struct {
	Content   string            `json:"content"`
	Artifacts []models.Artifact `json:"artifacts,omitempty"`
}

// Adapter executes one tool. Adapters own their external protocol
// entirely; the engine only supplies the timeout context.
type Adapter interface {
	// Schema returns the JSON Schema for the argument payload.
	Schema() json.RawMessage

	// Execute runs the tool with schema-valid arguments.
	Execute(ctx context.Context, args json.RawMessage) (*Output, error)
}
