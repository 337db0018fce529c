// Package gamestats implements a player-statistics tool against a
// configurable stats API. The backend is deployment-specific; the
// adapter speaks a small JSON contract (GET /players/{name}/stats) and
// formats whatever fields come back.
package gamestats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/tools"
)

// Name is the tool identifier the model calls.
const Name = "game_stats"

// Config holds stats API settings.
type Config struct {
	// BaseURL is the stats API base, e.g. "https://stats.example.com".
	// Required.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single HTTP request. Default 6s.
	Timeout time.Duration
}

// Adapter fetches per-player statistics.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *tools.NetGuard
}

// New creates a stats adapter. guard may be nil to skip address
// vetting of the backend host.
func New(cfg Config, guard *tools.NetGuard) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gamestats: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	return &Adapter{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		guard:   guard,
	}, nil
}

// Descriptor returns the registration descriptor.
func Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Look up a player's game statistics by player name.",
		Synthesis:   tools.SelfContained,
		Category:    tools.CategoryComputational,
		Timeout:     8 * time.Second,
		TTL:         tools.TTLVolatile,
		Retry: &infra.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 200 * time.Millisecond,
			Strategy:     infra.BackoffExponential,
		},
	}
}

type statsParams struct {
	Player string `json:"player"`
	Mode   string `json:"mode,omitempty"`
}

// Schema returns the JSON schema for stats parameters.
func (a *Adapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"player": {
				"type": "string",
				"minLength": 1,
				"description": "Player name to look up"
			},
			"mode": {
				"type": "string",
				"description": "Optional game mode filter, e.g. \"ranked\""
			}
		},
		"required": ["player"]
	}`)
}

type statsResponse struct {
	Player  string             `json:"player"`
	Mode    string             `json:"mode,omitempty"`
	Stats   map[string]float64 `json:"stats"`
	Updated string             `json:"updated_at,omitempty"`
}

// Execute fetches and formats a player's statistics.
func (a *Adapter) Execute(ctx context.Context, args json.RawMessage) (*tools.Output, error) {
	var params statsParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.Player) == "" {
		return nil, fmt.Errorf("player is required")
	}

	if a.guard != nil {
		if err := a.guard.CheckURL(ctx, a.baseURL); err != nil {
			return nil, err
		}
	}

	target := a.baseURL + "/players/" + url.PathEscape(params.Player) + "/stats"
	if params.Mode != "" {
		target += "?mode=" + url.QueryEscape(params.Mode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("no stats found for player %q", params.Player)
	default:
		return nil, fmt.Errorf("stats backend returned status %d", resp.StatusCode)
	}

	var decoded statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.Player == "" {
		decoded.Player = params.Player
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Stats for %s", decoded.Player)
	if decoded.Mode != "" {
		fmt.Fprintf(&sb, " (%s)", decoded.Mode)
	}
	sb.WriteString(":\n")

	keys := make([]string, 0, len(decoded.Stats))
	for k := range decoded.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", strings.ReplaceAll(k, "_", " "), formatStat(decoded.Stats[k]))
	}
	if decoded.Updated != "" {
		fmt.Fprintf(&sb, "Last updated: %s", decoded.Updated)
	}
	return &tools.Output{Content: strings.TrimRight(sb.String(), "\n")}, nil
}

func formatStat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
