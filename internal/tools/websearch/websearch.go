// Package websearch implements a web search tool backed by the
// DuckDuckGo HTML endpoint. No API key is required; results are parsed
// out of the returned markup.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/tools"
)

const (
	// Name is the tool identifier the model calls.
	Name = "web_search"

	endpoint    = "https://html.duckduckgo.com/html/"
	userAgent   = "Mozilla/5.0 (compatible; ParleyBot/1.0)"
	maxResults  = 10
	defaultHits = 5
)

// Config holds web search settings.
type Config struct {
	// Endpoint overrides the search backend URL. Used in tests.
	Endpoint string

	// Timeout bounds a single HTTP request. Default 8s.
	Timeout time.Duration
}

// Result is a single parsed search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Adapter performs searches and formats hits for synthesis.
type Adapter struct {
	endpoint string
	client   *http.Client
	guard    *tools.NetGuard
}

// New creates a search adapter. guard may be nil to skip address
// vetting of the backend host.
func New(cfg Config, guard *tools.NetGuard) *Adapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Adapter{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		guard:    guard,
	}
}

// Descriptor returns the registration descriptor. Search hits are raw
// material, so the result always goes through a synthesis pass.
func Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Search the web and return titles, URLs, and snippets for the top results.",
		Synthesis:   tools.RequiresSynthesis,
		Category:    tools.CategoryComputational,
		Timeout:     10 * time.Second,
		TTL:         tools.TTLStandard,
		// Scraping an HTML endpoint; stay well under abuse thresholds.
		Rate:      2,
		RateBurst: 2,
		Retry: &infra.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 250 * time.Millisecond,
			Strategy:     infra.BackoffExponential,
		},
	}
}

type searchParams struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count,omitempty"`
}

// Schema returns the JSON schema for search parameters.
func (a *Adapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"minLength": 1,
				"description": "The search query"
			},
			"result_count": {
				"type": "integer",
				"minimum": 1,
				"maximum": 10,
				"description": "Number of results to return (default: 5)"
			}
		},
		"required": ["query"]
	}`)
}

// Execute runs the search and returns formatted results.
func (a *Adapter) Execute(ctx context.Context, args json.RawMessage) (*tools.Output, error) {
	var params searchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if params.ResultCount <= 0 {
		params.ResultCount = defaultHits
	}
	if params.ResultCount > maxResults {
		params.ResultCount = maxResults
	}

	if a.guard != nil {
		if err := a.guard.CheckURL(ctx, a.endpoint); err != nil {
			return nil, err
		}
	}

	results, err := a.search(ctx, params.Query, params.ResultCount)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &tools.Output{Content: fmt.Sprintf("No results found for %q.", params.Query)}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", params.Query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return &tools.Output{Content: sb.String()}, nil
}

func (a *Adapter) search(ctx context.Context, query string, count int) ([]Result, error) {
	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	return parseResults(doc, count), nil
}

// parseResults pulls hits out of the DuckDuckGo HTML layout. Result
// links are redirect URLs carrying the real target in the uddg query
// parameter.
func parseResults(doc *goquery.Document, count int) []Result {
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		result := Result{
			Title:   strings.TrimSpace(link.Text()),
			URL:     resolveRedirect(href),
			Snippet: strings.TrimSpace(sel.Find(".result__snippet").First().Text()),
		}
		if result.Title == "" || result.URL == "" {
			return true
		}
		results = append(results, result)
		return len(results) < count
	})
	return results
}

func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		// Protocol-relative redirect links.
		return "https:" + href
	}
	return href
}
