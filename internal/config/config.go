// Package config loads and validates Parley's configuration from YAML
// or JSON5 files with environment expansion and $include support.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
	Discord  DiscordConfig  `yaml:"discord" json:"discord"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Tools    ToolsConfig    `yaml:"tools" json:"tools"`
	History  HistoryConfig  `yaml:"history" json:"history"`
}

type ServerConfig struct {
	// MetricsAddr serves /metrics when non-empty (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BotToken string `yaml:"bot_token" json:"bot_token"`
}

// LLMConfig configures model backends. Providers are tried in order;
// fatal auth/billing failures fail over to the next entry.
type LLMConfig struct {
	Providers    []ProviderConfig `yaml:"providers" json:"providers"`
	SystemPrompt string           `yaml:"system_prompt" json:"system_prompt"`
	MaxTokens    int              `yaml:"max_tokens" json:"max_tokens"`

	// RetryCeiling is the wall-clock bound for a whole retry sequence.
	RetryCeiling time.Duration `yaml:"retry_ceiling" json:"retry_ceiling"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoff  time.Duration `yaml:"base_backoff" json:"base_backoff"`

	// RequestsPerSecond smooths bursts toward the provider API.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

type ProviderConfig struct {
	// Name is "openai" or "anthropic".
	Name   string `yaml:"name" json:"name"`
	APIKey string `yaml:"api_key" json:"api_key"`
	Model  string `yaml:"model" json:"model"`
}

// PipelineConfig bounds concurrency and context assembly.
type PipelineConfig struct {
	// ChannelSlots is the per-channel concurrent request budget.
	ChannelSlots int `yaml:"channel_slots" json:"channel_slots"`

	// AdmissionWait bounds how long a request waits for a channel slot.
	AdmissionWait time.Duration `yaml:"admission_wait" json:"admission_wait"`

	// UserCooldown is the minimum interval between one user's requests.
	UserCooldown time.Duration `yaml:"user_cooldown" json:"user_cooldown"`

	// UserWindowLimit caps requests per user per UserWindow.
	UserWindowLimit int           `yaml:"user_window_limit" json:"user_window_limit"`
	UserWindow      time.Duration `yaml:"user_window" json:"user_window"`

	// SourceWait bounds each context source fetch.
	SourceWait time.Duration `yaml:"source_wait" json:"source_wait"`

	// HistoryTurns is how many prior turns the assembler requests.
	HistoryTurns int `yaml:"history_turns" json:"history_turns"`

	// TokenBudget triggers compression when exceeded.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// KeepRecentTurns are preserved verbatim by the compressor.
	KeepRecentTurns int `yaml:"keep_recent_turns" json:"keep_recent_turns"`

	// MinTurnsForCompression avoids compressing short exchanges.
	MinTurnsForCompression int `yaml:"min_turns_for_compression" json:"min_turns_for_compression"`

	// ReductionTarget is the compressor's target size ratio (0-1).
	ReductionTarget float64 `yaml:"reduction_target" json:"reduction_target"`
}

// ToolsConfig configures the tool layer.
type ToolsConfig struct {
	// DefaultTimeout bounds an individual tool execution.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// Concurrency caps simultaneous tool executions per batch.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// CacheMaxEntries caps the shared tool result cache.
	CacheMaxEntries int `yaml:"cache_max_entries" json:"cache_max_entries"`

	// Intent keyword tables; defaults apply when empty.
	VisualizationKeywords []string `yaml:"visualization_keywords" json:"visualization_keywords"`
	ComputationalKeywords []string `yaml:"computational_keywords" json:"computational_keywords"`

	Weather   WeatherToolConfig   `yaml:"weather" json:"weather"`
	GameStats GameStatsToolConfig `yaml:"gamestats" json:"gamestats"`
}

type WeatherToolConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

type GameStatsToolConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
}

type HistoryConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			MaxTokens:         1024,
			RetryCeiling:      60 * time.Second,
			MaxAttempts:       4,
			BaseBackoff:       500 * time.Millisecond,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Pipeline: PipelineConfig{
			ChannelSlots:           3,
			AdmissionWait:          2 * time.Second,
			UserCooldown:           3 * time.Second,
			UserWindowLimit:        10,
			UserWindow:             time.Minute,
			SourceWait:             3 * time.Second,
			HistoryTurns:           20,
			TokenBudget:            6000,
			KeepRecentTurns:        4,
			MinTurnsForCompression: 8,
			ReductionTarget:        0.5,
		},
		Tools: ToolsConfig{
			DefaultTimeout:  10 * time.Second,
			Concurrency:     4,
			CacheMaxEntries: 2048,
		},
		History: HistoryConfig{Driver: "memory"},
	}
}

// ApplyDefaults fills zero-valued fields from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.RetryCeiling <= 0 {
		c.LLM.RetryCeiling = d.LLM.RetryCeiling
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = d.LLM.MaxAttempts
	}
	if c.LLM.BaseBackoff <= 0 {
		c.LLM.BaseBackoff = d.LLM.BaseBackoff
	}
	if c.LLM.RequestsPerSecond <= 0 {
		c.LLM.RequestsPerSecond = d.LLM.RequestsPerSecond
	}
	if c.LLM.Burst <= 0 {
		c.LLM.Burst = d.LLM.Burst
	}
	if c.Pipeline.ChannelSlots <= 0 {
		c.Pipeline.ChannelSlots = d.Pipeline.ChannelSlots
	}
	if c.Pipeline.AdmissionWait <= 0 {
		c.Pipeline.AdmissionWait = d.Pipeline.AdmissionWait
	}
	if c.Pipeline.UserCooldown <= 0 {
		c.Pipeline.UserCooldown = d.Pipeline.UserCooldown
	}
	if c.Pipeline.UserWindowLimit <= 0 {
		c.Pipeline.UserWindowLimit = d.Pipeline.UserWindowLimit
	}
	if c.Pipeline.UserWindow <= 0 {
		c.Pipeline.UserWindow = d.Pipeline.UserWindow
	}
	if c.Pipeline.SourceWait <= 0 {
		c.Pipeline.SourceWait = d.Pipeline.SourceWait
	}
	if c.Pipeline.HistoryTurns <= 0 {
		c.Pipeline.HistoryTurns = d.Pipeline.HistoryTurns
	}
	if c.Pipeline.TokenBudget <= 0 {
		c.Pipeline.TokenBudget = d.Pipeline.TokenBudget
	}
	if c.Pipeline.KeepRecentTurns <= 0 {
		c.Pipeline.KeepRecentTurns = d.Pipeline.KeepRecentTurns
	}
	if c.Pipeline.MinTurnsForCompression <= 0 {
		c.Pipeline.MinTurnsForCompression = d.Pipeline.MinTurnsForCompression
	}
	if c.Pipeline.ReductionTarget <= 0 || c.Pipeline.ReductionTarget >= 1 {
		c.Pipeline.ReductionTarget = d.Pipeline.ReductionTarget
	}
	if c.Tools.DefaultTimeout <= 0 {
		c.Tools.DefaultTimeout = d.Tools.DefaultTimeout
	}
	if c.Tools.Concurrency <= 0 {
		c.Tools.Concurrency = d.Tools.Concurrency
	}
	if c.Tools.CacheMaxEntries <= 0 {
		c.Tools.CacheMaxEntries = d.Tools.CacheMaxEntries
	}
	if c.History.Driver == "" {
		c.History.Driver = d.History.Driver
	}
}

// Validate checks settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm: at least one provider is required")
	}
	for i, p := range c.LLM.Providers {
		switch p.Name {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("llm: provider %d has unknown name %q", i, p.Name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("llm: provider %q has no api_key", p.Name)
		}
	}
	if c.Discord.Enabled && c.Discord.BotToken == "" {
		return fmt.Errorf("discord: enabled but bot_token is empty")
	}
	switch c.History.Driver {
	case "memory":
	case "sqlite":
		if c.History.Path == "" {
			return fmt.Errorf("history: sqlite driver requires path")
		}
	default:
		return fmt.Errorf("history: unknown driver %q", c.History.Driver)
	}
	return nil
}
