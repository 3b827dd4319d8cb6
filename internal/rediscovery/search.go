package rediscovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
)

// Candidate is one search hit.
type Candidate struct {
	URL   string
	Title string
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Getter is the HTTP client the searcher uses.
type Getter interface {
	Get(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// SearchConfig describes a JSON search API.
type SearchConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	EngineID string        `mapstructure:"engine_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPSearcher queries a Custom Search style JSON API: endpoint?key=..&cx=..&q=..
// It understands both {"items":[{"link","title"}]} and {"results":[{"url","title"}]}.
type HTTPSearcher struct {
	cfg    SearchConfig
	getter Getter
}

type searchResponse struct {
	Items []struct {
		Link  string `json:"link"`
		Title string `json:"title"`
	} `json:"items"`
	Results []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"results"`
}

// NewHTTPSearcher builds an HTTPSearcher.
func NewHTTPSearcher(cfg SearchConfig, getter Getter) (*HTTPSearcher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("search endpoint is required")
	}
	if getter == nil {
		return nil, errors.New("search getter is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPSearcher{cfg: cfg, getter: getter}, nil
}

// Endpoint returns the configured API endpoint.
func (s *HTTPSearcher) Endpoint() string {
	return s.cfg.Endpoint
}

// Search runs query and returns the hits in rank order.
func (s *HTTPSearcher) Search(ctx context.Context, query string) ([]Candidate, error) {
	endpoint, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	if s.cfg.APIKey != "" {
		q.Set("key", s.cfg.APIKey)
	}
	if s.cfg.EngineID != "" {
		q.Set("cx", s.cfg.EngineID)
	}
	endpoint.RawQuery = q.Encode()

	resp, err := s.getter.Get(ctx, collyfetcher.Request{URL: endpoint.String(), Timeout: s.cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search request: status %d", resp.StatusCode)
	}
	var body searchResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]Candidate, 0, len(body.Items)+len(body.Results))
	for _, item := range body.Items {
		out = append(out, Candidate{URL: item.Link, Title: item.Title})
	}
	for _, item := range body.Results {
		out = append(out, Candidate{URL: item.URL, Title: item.Title})
	}
	return out, nil
}
