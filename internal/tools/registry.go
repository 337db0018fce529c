package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/parleyhq/parley/internal/infra"
)

// Argument payload limits to prevent resource exhaustion.
const (
	// MaxNameLength is the maximum length of a tool name.
	MaxNameLength = 256

	// MaxArgsSize is the maximum size of an argument payload (1MB).
	MaxArgsSize = 1 << 20
)

// Registration pairs a descriptor with its adapter and compiled schema.
type Registration struct {
	Descriptor Descriptor
	Adapter    Adapter

	schema *jsonschema.Schema
	pace   *infra.TokenBucket
}

// Registry maps tool names to registrations. It is populated once at
// startup and immutable afterwards, so lookups need no locking.
type Registry struct {
	entries map[string]*Registration
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Registration)}
}

// Register adds a tool, compiling its argument schema for validation.
// Duplicate names and registration after Seal are errors.
func (r *Registry) Register(desc Descriptor, adapter Adapter) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed")
	}
	if desc.Name == "" || len(desc.Name) > MaxNameLength {
		return fmt.Errorf("invalid tool name %q", desc.Name)
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("tool %q already registered", desc.Name)
	}
	if desc.Synthesis == "" {
		desc.Synthesis = SelfContained
	}
	if desc.Category == "" {
		desc.Category = CategoryComputational
	}
	if desc.Category == CategoryPresentation && desc.Synthesis != RequiresSynthesis {
		return fmt.Errorf("presentation tool %q must require synthesis", desc.Name)
	}

	reg := &Registration{Descriptor: desc, Adapter: adapter}
	if desc.Rate > 0 {
		burst := desc.RateBurst
		if burst <= 0 {
			burst = 1
		}
		reg.pace = infra.NewTokenBucket(desc.Rate, burst)
	}
	raw := adapter.Schema()
	if len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "tool://" + desc.Name + "/schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tool %q schema: %w", desc.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("tool %q schema: %w", desc.Name, err)
		}
		reg.schema = schema
	}

	r.entries[desc.Name] = reg
	return nil
}

// Seal marks the registry immutable. Called once wiring is complete.
func (r *Registry) Seal() { r.sealed = true }

// Get returns the registration for a tool name.
func (r *Registry) Get(name string) (*Registration, bool) {
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns descriptors matching the filter. A nil filter
// returns everything. Results are sorted by name for stable prompts.
func (r *Registry) Descriptors(filter func(Descriptor) bool) []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, name := range r.Names() {
		desc := r.entries[name].Descriptor
		if filter == nil || filter(desc) {
			out = append(out, desc)
		}
	}
	return out
}

// ValidateArgs checks an argument payload against the tool's schema.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	reg, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if len(args) > MaxArgsSize {
		return fmt.Errorf("arguments exceed maximum size of %d bytes", MaxArgsSize)
	}
	if reg.schema == nil {
		return nil
	}
	payload := args
	if len(strings.TrimSpace(string(payload))) == 0 {
		payload = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("invalid argument payload: %w", err)
	}
	if err := reg.schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
