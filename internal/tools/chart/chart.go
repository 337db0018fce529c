// Package chart implements a chart rendering tool backed by QuickChart.
// It is a presentation tool: the rendered image is an artifact and the
// surrounding narration always comes from a synthesis pass.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

// Name is the tool identifier the model calls.
const Name = "chart"

const (
	defaultBaseURL = "https://quickchart.io"

	// maxImageBytes caps the downloaded render (4MB).
	maxImageBytes = 4 << 20
)

// Config holds chart rendering settings.
type Config struct {
	// BaseURL overrides the QuickChart base. Used in tests.
	BaseURL string

	// Timeout bounds a single render request. Default 10s.
	Timeout time.Duration
}

// Adapter renders Chart.js configurations to PNG artifacts.
type Adapter struct {
	baseURL string
	client  *http.Client
	guard   *tools.NetGuard
}

// New creates a chart adapter. guard may be nil to skip address vetting
// of the render host.
func New(cfg Config, guard *tools.NetGuard) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		guard:   guard,
	}
}

// Descriptor returns the registration descriptor. Renders are
// deterministic for a given configuration, so they cache long.
func Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Render a chart image from labels and numeric series. Supported types: bar, line, pie, doughnut, radar.",
		Synthesis:   tools.RequiresSynthesis,
		Category:    tools.CategoryPresentation,
		Timeout:     12 * time.Second,
		TTL:         tools.TTLStable,
	}
}

type chartParams struct {
	Type   string   `json:"type"`
	Title  string   `json:"title,omitempty"`
	Labels []string `json:"labels"`
	Series []series `json:"series"`
}

type series struct {
	Label  string    `json:"label,omitempty"`
	Values []float64 `json:"values"`
}

// Schema returns the JSON schema for chart parameters.
func (a *Adapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"type": {
				"type": "string",
				"enum": ["bar", "line", "pie", "doughnut", "radar"],
				"description": "Chart type"
			},
			"title": {
				"type": "string",
				"description": "Optional chart title"
			},
			"labels": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"description": "Axis or segment labels"
			},
			"series": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"label": {"type": "string"},
						"values": {
							"type": "array",
							"items": {"type": "number"},
							"minItems": 1
						}
					},
					"required": ["values"]
				},
				"description": "One or more numeric series aligned with labels"
			}
		},
		"required": ["type", "labels", "series"]
	}`)
}

// Execute renders the chart and returns the image as an artifact.
func (a *Adapter) Execute(ctx context.Context, args json.RawMessage) (*tools.Output, error) {
	var params chartParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	for i, s := range params.Series {
		if len(s.Values) != len(params.Labels) {
			return nil, fmt.Errorf("series %d has %d values for %d labels", i, len(s.Values), len(params.Labels))
		}
	}

	if a.guard != nil {
		if err := a.guard.CheckURL(ctx, a.baseURL); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(map[string]any{
		"chart":           buildChartJS(params),
		"format":          "png",
		"width":           600,
		"height":          400,
		"backgroundColor": "white",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chart", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render backend returned status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read render: %w", err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("render backend returned an empty image")
	}

	caption := params.Title
	if caption == "" {
		caption = fmt.Sprintf("%s chart of %d series", params.Type, len(params.Series))
	}
	return &tools.Output{
		Content: fmt.Sprintf("Rendered %s.", caption),
		Artifacts: []models.Artifact{{
			ID:       uuid.NewString(),
			Type:     "image",
			MimeType: "image/png",
			Filename: "chart.png",
			Data:     image,
		}},
	}, nil
}

// buildChartJS translates the tool parameters into a Chart.js config.
func buildChartJS(params chartParams) map[string]any {
	palette := []string{"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f", "#edc948"}

	datasets := make([]map[string]any, 0, len(params.Series))
	for i, s := range params.Series {
		color := palette[i%len(palette)]
		ds := map[string]any{
			"label": s.Label,
			"data":  s.Values,
		}
		// Pie-family charts color per segment, not per series.
		if params.Type == "pie" || params.Type == "doughnut" {
			colors := make([]string, len(s.Values))
			for j := range colors {
				colors[j] = palette[j%len(palette)]
			}
			ds["backgroundColor"] = colors
		} else {
			ds["backgroundColor"] = color
			ds["borderColor"] = color
		}
		datasets = append(datasets, ds)
	}

	config := map[string]any{
		"type": params.Type,
		"data": map[string]any{
			"labels":   params.Labels,
			"datasets": datasets,
		},
	}
	if params.Title != "" {
		config["options"] = map[string]any{
			"title": map[string]any{"display": true, "text": params.Title},
		}
	}
	return config
}
