// Package proxy implements the Rendering Proxy and Unblocking Proxy channels.
// Both delegate the fetch to an external scraping API of the form
// endpoint?api_key=...&url=...&<params>.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/JakeFAU/article-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Config describes one proxy service.
type Config struct {
	Endpoint string            `mapstructure:"endpoint"`
	APIKey   string            `mapstructure:"api_key"`
	Params   map[string]string `mapstructure:"params"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	// OriginalStatusHeader names the response header carrying the target
	// site's status, when the service reports one.
	OriginalStatusHeader string `mapstructure:"original_status_header"`
}

// Validate reports missing fields.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	return nil
}

// Getter is the HTTP client the channel uses.
type Getter interface {
	Get(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Channel is a proxy-backed retrieval channel.
type Channel struct {
	id        retrieval.ChannelID
	cfg       Config
	getter    Getter
	extractor *extract.Extractor
}

// NewRendering builds the Rendering Proxy channel.
func NewRendering(cfg Config, getter Getter, extractor *extract.Extractor) (*Channel, error) {
	return newChannel(retrieval.ChannelRenderingProxy, cfg, getter, extractor)
}

// NewUnblocking builds the Unblocking Proxy channel.
func NewUnblocking(cfg Config, getter Getter, extractor *extract.Extractor) (*Channel, error) {
	return newChannel(retrieval.ChannelUnblockingProxy, cfg, getter, extractor)
}

func newChannel(id retrieval.ChannelID, cfg Config, getter Getter, extractor *extract.Extractor) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configure %s: %w", id, err)
	}
	if getter == nil {
		return nil, fmt.Errorf("configure %s: getter is required", id)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if extractor == nil {
		extractor = extract.New(nil, nil)
	}
	return &Channel{id: id, cfg: cfg, getter: getter, extractor: extractor}, nil
}

// ID implements retrieval.Channel.
func (c *Channel) ID() retrieval.ChannelID {
	return c.id
}

// Attempt fetches target.URL through the service.
func (c *Channel) Attempt(ctx context.Context, target retrieval.Target) (retrieval.RetrievalResult, error) {
	requestURL, err := c.requestURL(target.URL)
	if err != nil {
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindNotFound, c.id, err)
	}
	resp, err := c.getter.Get(ctx, collyfetcher.Request{URL: requestURL, Timeout: c.cfg.Timeout})
	if err != nil {
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindTransient, c.id, err)
	}

	status := resp.StatusCode
	if h := c.cfg.OriginalStatusHeader; h != "" {
		var original int
		if _, err := fmt.Sscanf(resp.Headers.Get(h), "%d", &original); err == nil && original > 0 {
			status = original
		}
	}
	if err := retrieval.StatusFailure(c.id, status); err != nil {
		return retrieval.RetrievalResult{}, err
	}

	text, err := c.extractor.Extract(resp.Body, target.URL)
	switch {
	case errors.Is(err, extract.ErrNoContent):
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindBlocked, c.id, err)
	case err != nil:
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindTransient, c.id, err)
	}
	return retrieval.RetrievalResult{
		RawContent:    resp.Body,
		ExtractedText: text,
		Provenance: retrieval.Provenance{
			FinalURL:   target.URL,
			StatusCode: status,
		},
	}, nil
}

// requestURL builds endpoint?api_key=..&url=..&params with params in key order.
func (c *Channel) requestURL(target string) (string, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("api_key", c.cfg.APIKey)
	query.Set("url", target)
	keys := make([]string, 0, len(c.cfg.Params))
	for k := range c.cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, c.cfg.Params[k])
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}
