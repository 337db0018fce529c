// Package trivia implements a trivia question tool backed by the Open
// Trivia Database. Questions are random per call, so results are never
// cached.
package trivia

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/tools"
)

// Name is the tool identifier the model calls.
const Name = "trivia"

const defaultBaseURL = "https://opentdb.com"

var categoryIDs = map[string]string{
	"general":    "9",
	"science":    "17",
	"computers":  "18",
	"sports":     "21",
	"geography":  "22",
	"history":    "23",
	"videogames": "15",
}

// Config holds trivia tool settings.
type Config struct {
	// BaseURL overrides the API base. Used in tests.
	BaseURL string

	// Timeout bounds a single HTTP request. Default 6s.
	Timeout time.Duration
}

// Adapter fetches random trivia questions.
type Adapter struct {
	baseURL string
	client  *http.Client
}

// New creates a trivia adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	return &Adapter{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Descriptor returns the registration descriptor. Questions are random
// per call; caching would hand every user the same question.
func Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Fetch a random trivia question with its answer.",
		Synthesis:   tools.SelfContained,
		Category:    tools.CategoryComputational,
		Timeout:     8 * time.Second,
		TTL:         tools.TTLNone,
	}
}

type triviaParams struct {
	Category   string `json:"category,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Schema returns the JSON schema for trivia parameters.
func (a *Adapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"category": {
				"type": "string",
				"enum": ["general", "science", "computers", "sports", "geography", "history", "videogames"],
				"description": "Question category (default: any)"
			},
			"difficulty": {
				"type": "string",
				"enum": ["easy", "medium", "hard"],
				"description": "Question difficulty (default: any)"
			}
		}
	}`)
}

type apiResponse struct {
	ResponseCode int `json:"response_code"`
	Results      []struct {
		Category         string   `json:"category"`
		Difficulty       string   `json:"difficulty"`
		Question         string   `json:"question"`
		CorrectAnswer    string   `json:"correct_answer"`
		IncorrectAnswers []string `json:"incorrect_answers"`
	} `json:"results"`
}

// Execute fetches one random question.
func (a *Adapter) Execute(ctx context.Context, args json.RawMessage) (*tools.Output, error) {
	var params triviaParams
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
	}

	q := url.Values{}
	q.Set("amount", "1")
	q.Set("type", "multiple")
	if id, ok := categoryIDs[params.Category]; ok {
		q.Set("category", id)
	}
	if params.Difficulty != "" {
		q.Set("difficulty", params.Difficulty)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api.php?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trivia backend returned status %d", resp.StatusCode)
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.ResponseCode != 0 || len(decoded.Results) == 0 {
		return nil, fmt.Errorf("no questions available for those criteria")
	}

	item := decoded.Results[0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "Trivia (%s, %s): %s\n", item.Category, item.Difficulty, html.UnescapeString(item.Question))
	choices := append(append([]string{}, item.IncorrectAnswers...), item.CorrectAnswer)
	rand.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })
	sb.WriteString("Choices:\n")
	for _, choice := range choices {
		fmt.Fprintf(&sb, "- %s\n", html.UnescapeString(choice))
	}
	fmt.Fprintf(&sb, "Answer: ||%s||", html.UnescapeString(item.CorrectAnswer))
	return &tools.Output{Content: sb.String()}, nil
}
