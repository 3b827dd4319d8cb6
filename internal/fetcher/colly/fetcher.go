// Package collyfetcher is the shared one-shot HTTP getter used by the proxy,
// snapshot and search clients. It is built on gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// MaxBodyBytes truncates larger bodies; zero selects 10 MiB.
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// Request is a single GET.
type Request struct {
	URL     string
	Headers http.Header
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
}

// Response is what came back. Non-2xx statuses are returned as responses,
// not errors, so callers can map them.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher issues GETs through a cloned Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil transport uses a pooled default.
func New(cfg Config, transport http.RoundTripper) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if transport == nil {
		transport = newHTTPTransport()
	}
	c := colly.NewCollector(colly.Async(false), colly.MaxBodySize(cfg.MaxBodyBytes))
	c.WithTransport(transport)
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, base: c}
}

// Get executes a single HTTP GET. It returns early when ctx ends; the
// abandoned request is still bounded by the collector timeout.
func (f *Fetcher) Get(ctx context.Context, request Request) (Response, error) {
	// Clone keeps transport, limits and user agent but drops callbacks.
	collector := f.base.Clone()
	timeout := f.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	collector.SetRequestTimeout(timeout)

	state := &fetchState{start: time.Now()}
	state.attach(collector, request)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Response{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return Response{}, fmt.Errorf("colly response failed: %w", state.err)
		}
		return state.resp, nil
	}
}

// fetchState collects the outcome of one visit. Callbacks run on the
// visiting goroutine and are read only after Visit returns.
type fetchState struct {
	start time.Time
	resp  Response
	err   error
}

func (s *fetchState) attach(hooks collectorHooks, request Request) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		s.resp = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(s.start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		s.err = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
