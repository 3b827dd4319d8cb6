// Package rediscovery looks for a replacement URL when a target's link is
// confirmed dead. It issues at most one rate-limited search per target and
// accepts only same-site, on-topic, review-like candidates.
package rediscovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// ErrRunCapReached is returned once the per-run search cap is used up.
var ErrRunCapReached = errors.New("rediscovery search cap reached")

// DefaultIndicators mark a page as review-like.
var DefaultIndicators = []string{"review", "critic", "critique", "verdict", "rating"}

// Config bounds search usage.
type Config struct {
	MaxPerRun  int              `mapstructure:"max_per_run"`
	RateLimit  ratelimit.Config `mapstructure:"rate_limit"`
	Indicators []string         `mapstructure:"indicators"`
}

// Rediscoverer finds replacement URLs.
type Rediscoverer struct {
	cfg      Config
	searcher Searcher
	limiter  *ratelimit.Limiter
	endpoint string
	logger   *zap.Logger
	onSearch func(found bool)

	mu   sync.Mutex
	used int
}

// Option customizes a Rediscoverer.
type Option func(*Rediscoverer)

// WithSearchHook is called after every search with whether a match was found.
func WithSearchHook(fn func(found bool)) Option {
	return func(r *Rediscoverer) { r.onSearch = fn }
}

// WithLimiter overrides the rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(r *Rediscoverer) { r.limiter = l }
}

// New builds a Rediscoverer. endpoint keys the rate limiter.
func New(cfg Config, searcher Searcher, endpoint string, logger *zap.Logger, opts ...Option) *Rediscoverer {
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = DefaultIndicators
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rediscoverer{
		cfg:      cfg,
		searcher: searcher,
		endpoint: endpoint,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = ratelimit.New(cfg.RateLimit)
	}
	return r
}

// Eligible reports whether err is a terminal failure caused by a dead link.
func Eligible(err error) bool {
	var exhausted *retrieval.ExhaustedError
	return errors.As(err, &exhausted) && exhausted.NotFound()
}

// Query builds the search query for target.
func Query(target retrieval.Target) string {
	host := strings.TrimPrefix(retrieval.HostOf(target.URL), "www.")
	topic := strings.TrimSpace(target.TopicKeyword)
	switch {
	case topic == "":
		return "site:" + host
	case host == "":
		return topic
	default:
		return topic + " site:" + host
	}
}

// Find searches for a replacement for target.URL. It returns the first
// plausible candidate, or ok=false when there is none.
func (r *Rediscoverer) Find(ctx context.Context, target retrieval.Target) (string, bool, error) {
	if strings.TrimSpace(target.TopicKeyword) == "" {
		return "", false, nil
	}
	if !r.reserve() {
		return "", false, ErrRunCapReached
	}
	if err := r.limiter.Wait(ctx, r.endpoint); err != nil {
		return "", false, err
	}

	query := Query(target)
	candidates, err := r.searcher.Search(ctx, query)
	if err != nil {
		r.report(false)
		return "", false, err
	}
	for _, c := range candidates {
		if r.plausible(target, c) {
			r.logger.Info("replacement url found",
				zap.String("target_id", target.ID),
				zap.String("old_url", target.URL),
				zap.String("new_url", c.URL),
			)
			r.report(true)
			return c.URL, true, nil
		}
	}
	r.logger.Debug("no plausible replacement",
		zap.String("target_id", target.ID),
		zap.String("query", query),
		zap.Int("candidates", len(candidates)),
	)
	r.report(false)
	return "", false, nil
}

// Used returns the number of searches issued this run.
func (r *Rediscoverer) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

func (r *Rediscoverer) reserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.MaxPerRun > 0 && r.used >= r.cfg.MaxPerRun {
		return false
	}
	r.used++
	return true
}

func (r *Rediscoverer) report(found bool) {
	if r.onSearch != nil {
		r.onSearch(found)
	}
}

func (r *Rediscoverer) plausible(target retrieval.Target, c Candidate) bool {
	u, err := url.Parse(c.URL)
	if err != nil || u.Hostname() == "" || c.URL == target.URL {
		return false
	}
	if !sameSite(retrieval.HostOf(target.URL), strings.ToLower(u.Hostname())) {
		return false
	}
	haystack := strings.ToLower(c.Title + " " + strings.NewReplacer("-", " ", "_", " ", "/", " ").Replace(u.Path))
	for _, word := range strings.Fields(strings.ToLower(target.TopicKeyword)) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	for _, indicator := range r.cfg.Indicators {
		if strings.Contains(haystack, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

func sameSite(a, b string) bool {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	return a != "" && (a == b || strings.HasSuffix(b, "."+a) || strings.HasSuffix(a, "."+b))
}
