// Package browser implements the Direct Browser and Managed Remote Browser
// channels on top of chromedp. Both share one page flow: stealth setup,
// optional realm login, navigation, lazy-load scrolling and extraction.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/extract"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Config controls both browser channels.
type Config struct {
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ContentWait       time.Duration `mapstructure:"content_wait"`
	ContentSelectors  []string      `mapstructure:"content_selectors"`
	ScrollSteps       int           `mapstructure:"scroll_steps"`
	ScrollPause       time.Duration `mapstructure:"scroll_pause"`
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	// RemoteURL is the DevTools WebSocket endpoint of the managed browser.
	RemoteURL string `mapstructure:"remote_url"`
	// Realms maps realm names to login flows.
	Realms map[string]Realm `mapstructure:"realms"`
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ContentWait <= 0 {
		c.ContentWait = 8 * time.Second
	}
	if len(c.ContentSelectors) == 0 {
		c.ContentSelectors = []string{"article", "main", "[itemprop='articleBody']", ".article-body"}
	}
	if c.ScrollSteps < 0 {
		c.ScrollSteps = 0
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 400 * time.Millisecond
	}
	return c
}

// Option customizes a Browser.
type Option func(*Browser)

// WithExtractor overrides the content extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(b *Browser) { b.extractor = e }
}

// WithSites supplies the realm lookup.
func WithSites(sites *retrieval.SiteTable) Option {
	return func(b *Browser) { b.sites = sites }
}

// WithCredentials supplies realm credentials.
func WithCredentials(src retrieval.CredentialSource) Option {
	return func(b *Browser) { b.creds = src }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Browser) { b.logger = logger }
}

type allocatorFunc func(ctx context.Context) (context.Context, context.CancelFunc)

// Browser is a chromedp-backed retrieval channel.
type Browser struct {
	id         retrieval.ChannelID
	cfg        Config
	allocate   allocatorFunc
	persistent bool
	extractor  *extract.Extractor
	sites      *retrieval.SiteTable
	creds      retrieval.CredentialSource
	logger     *zap.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	authed        map[string]bool
}

// NewDirect builds the local headless browser channel. The browser process
// is started lazily and kept for the whole run.
func NewDirect(cfg Config, opts ...Option) *Browser {
	cfg = cfg.withDefaults()
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocate := func(ctx context.Context) (context.Context, context.CancelFunc) {
		return chromedp.NewExecAllocator(ctx, execOpts...)
	}
	return newBrowser(retrieval.ChannelDirectBrowser, cfg, allocate, true, opts)
}

// NewRemote builds the managed remote browser channel. Every attempt opens a
// fresh session against cfg.RemoteURL and closes it afterwards.
func NewRemote(cfg Config, opts ...Option) (*Browser, error) {
	cfg = cfg.withDefaults()
	if cfg.RemoteURL == "" {
		return nil, errors.New("remote browser url is required")
	}
	allocate := func(ctx context.Context) (context.Context, context.CancelFunc) {
		return chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	}
	return newBrowser(retrieval.ChannelRemoteBrowser, cfg, allocate, false, opts), nil
}

func newBrowser(id retrieval.ChannelID, cfg Config, allocate allocatorFunc, persistent bool, opts []Option) *Browser {
	b := &Browser{
		id:         id,
		cfg:        cfg,
		allocate:   allocate,
		persistent: persistent,
		logger:     zap.NewNop(),
		authed:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.extractor == nil {
		b.extractor = extract.New(nil, nil)
	}
	return b
}

// ID implements retrieval.Channel.
func (b *Browser) ID() retrieval.ChannelID {
	return b.id
}

// Attempt renders target.URL and extracts its article text.
func (b *Browser) Attempt(ctx context.Context, target retrieval.Target) (retrieval.RetrievalResult, error) {
	browserCtx, release, err := b.session(ctx)
	if err != nil {
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindTransient, b.id, err)
	}
	defer release()

	if realm, ok := b.sites.Realm(target.URL); ok {
		if err := b.authenticate(ctx, browserCtx, realm); err != nil {
			b.logger.Warn("realm login failed; continuing unauthenticated",
				zap.String("channel", string(b.id)),
				zap.String("realm", realm),
				zap.Error(err),
			)
		}
	}

	tabCtx, cancel := b.tab(ctx, browserCtx, b.cfg.NavigationTimeout)
	defer cancel()

	page, err := b.render(tabCtx, target.URL)
	if err != nil {
		return retrieval.RetrievalResult{}, navigationFailure(b.id, err)
	}
	if err := retrieval.StatusFailure(b.id, page.status); err != nil {
		return retrieval.RetrievalResult{}, err
	}

	text, err := b.extractor.Extract([]byte(page.html), page.url)
	switch {
	case errors.Is(err, extract.ErrNoContent):
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindBlocked, b.id, err)
	case err != nil:
		return retrieval.RetrievalResult{}, retrieval.Fail(retrieval.KindTransient, b.id, err)
	}
	return retrieval.RetrievalResult{
		RawContent:    []byte(page.html),
		ExtractedText: text,
		Provenance: retrieval.Provenance{
			FinalURL:   page.url,
			StatusCode: page.status,
		},
	}, nil
}

// Ping evaluates a trivial expression in the running browser.
func (b *Browser) Ping(ctx context.Context) error {
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		return b.start(ctx)
	}
	pingCtx, cancel := bind(browserCtx, ctx)
	defer cancel()
	var out int
	if err := chromedp.Run(pingCtx, chromedp.Evaluate(`1 + 1`, &out)); err != nil {
		return fmt.Errorf("ping browser: %w", err)
	}
	if out != 2 {
		return fmt.Errorf("ping browser: unexpected result %d", out)
	}
	return nil
}

// Restart tears down the browser process and launches a new one.
func (b *Browser) Restart(ctx context.Context) error {
	b.Close()
	return b.start(ctx)
}

// Close stops the browser process, if any.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Browser) stopLocked() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx, b.browserCancel, b.allocCancel = nil, nil, nil
	b.authed = make(map[string]bool)
}

// session returns a browser context for one attempt and a release func.
// Persistent browsers are shared; remote sessions are per attempt.
func (b *Browser) session(ctx context.Context) (context.Context, func(), error) {
	if !b.persistent {
		allocCtx, allocCancel := b.allocate(context.Background())
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		release := func() {
			browserCancel()
			allocCancel()
		}
		if err := launch(ctx, browserCtx); err != nil {
			release()
			return nil, nil, err
		}
		return browserCtx, release, nil
	}

	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		if err := b.start(ctx); err != nil {
			return nil, nil, err
		}
		b.mu.Lock()
		browserCtx = b.browserCtx
		b.mu.Unlock()
	}
	return browserCtx, func() {}, nil
}

func (b *Browser) start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()

	allocCtx, allocCancel := b.allocate(context.Background())
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := launch(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return err
	}
	b.allocCancel, b.browserCtx, b.browserCancel = allocCancel, browserCtx, browserCancel
	return nil
}

// launch starts the browser behind browserCtx, giving up when ctx ends. The
// launch itself runs on browserCtx so the process outlives ctx.
func launch(ctx context.Context, browserCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(browserCtx) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("launch browser: %w", ctx.Err())
	}
}

// tab opens a new tab bounded by timeout and by ctx.
func (b *Browser) tab(ctx, browserCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, tabCancel)
	return tabCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}
}

// bind derives a context from parent that also ends when ctx ends.
func bind(parent, ctx context.Context) (context.Context, context.CancelFunc) {
	out, cancel := context.WithCancel(parent)
	if deadline, ok := ctx.Deadline(); ok {
		var timeoutCancel context.CancelFunc
		out, timeoutCancel = context.WithDeadline(out, deadline)
		prev := cancel
		cancel = func() {
			timeoutCancel()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return out, func() {
		stop()
		cancel()
	}
}
