// Package app assembles the harvester's long-lived services from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/api"
	"github.com/JakeFAU/article-harvester/internal/budget"
	"github.com/JakeFAU/article-harvester/internal/channel/browser"
	"github.com/JakeFAU/article-harvester/internal/channel/proxy"
	"github.com/JakeFAU/article-harvester/internal/channel/snapshot"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/engine"
	"github.com/JakeFAU/article-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/health"
	"github.com/JakeFAU/article-harvester/internal/metrics"
	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/progress/sinks"
	"github.com/JakeFAU/article-harvester/internal/publisher"
	pubmemory "github.com/JakeFAU/article-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/article-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/article-harvester/internal/quality"
	"github.com/JakeFAU/article-harvester/internal/rediscovery"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
	"github.com/JakeFAU/article-harvester/internal/runstate"
	"github.com/JakeFAU/article-harvester/internal/storage"
	"github.com/JakeFAU/article-harvester/internal/storage/gcs"
	"github.com/JakeFAU/article-harvester/internal/storage/memory"
	"github.com/JakeFAU/article-harvester/internal/storage/postgres"
	"github.com/JakeFAU/article-harvester/internal/storage/sqlite"
)

// ErrLocked is returned when another run holds the state directory.
var ErrLocked = errors.New("another harvester run holds the state lock")

// App holds the services for one harvester process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	lock      *flock.Flock
	store     storage.Store
	publisher publisher.Publisher
	ledger    *budget.Ledger
	monitor   *health.Monitor
	direct    *browser.Browser
	engine    *engine.Engine
	server    *api.Server
	hub       *progress.Hub
	runID     atomic.Value
	closers   []func() error
}

const hubCloseTimeout = 5 * time.Second

// New acquires the state lock and builds every service. On error anything
// already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.acquireLock(); err != nil {
		return nil, err
	}
	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.publisher, err = a.openPublisher(ctx); err != nil {
		return nil, err
	}

	metrics.Init()
	if err := a.openHub(); err != nil {
		return nil, err
	}
	clock := retrieval.SystemClock{}
	a.ledger = budget.New(cfg.BudgetLedgerConfig(), a.store, clock, logger.Named("budget"))
	state := runstate.New(cfg.Run.State, a.store, logger.Named("runstate"))

	orch, err := a.buildOrchestrator(clock)
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Retriever:  orch,
		Classifier: quality.NewClassifier(cfg.Quality.Thresholds),
		Ledger:     a.ledger,
		State:      state,
		Publisher:  a.publisher,
	}
	if cfg.Rediscovery.Enabled {
		rd, err := a.buildRediscoverer()
		if err != nil {
			return nil, err
		}
		deps.Rediscoverer = rd
	}
	a.engine, err = engine.New(cfg.Run.Config, deps, logger.Named("engine"),
		engine.WithClock(clock),
		engine.WithReportHook(a.observeTarget),
		engine.WithRunHook(a.observeRun),
	)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	if cfg.Metrics.Enabled {
		var checks []api.ReadinessCheck
		if a.monitor != nil {
			checks = append(checks, api.ReadinessCheck{Name: "direct_browser", Check: a.browserReady})
		}
		a.server = api.NewServer(a.engine, a.ledger, checks, cfg.Metrics.Config, logger.Named("api"))
	}
	return a, nil
}

// Engine returns the run loop.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Server returns the operator HTTP server, or nil when disabled.
func (a *App) Server() *api.Server {
	return a.server
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases every service in reverse order of acquisition.
func (a *App) Close() {
	if a.direct != nil {
		a.direct.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) acquireLock() error {
	dir := a.cfg.Store.Dir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	lockPath := filepath.Join(dir, "harvester.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	a.lock = lock
	a.closers = append(a.closers, lock.Unlock)
	a.logger.Debug("state lock acquired", zap.String("lock", lockPath))
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreMemory:
		a.logger.Warn("using in-memory store; budget and run state will not survive restarts")
		return memory.New(), nil
	case config.StoreSQLite:
		path := sc.SQLite.Path
		if path == "" {
			path = filepath.Join(sc.Dir, "harvester.db")
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.logger.Info("using sqlite store", zap.String("path", s.Path()))
		return s, nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             sc.Postgres.DSN,
			Table:           sc.Postgres.Table,
			MaxConns:        sc.Postgres.MaxConns,
			MaxConnLifetime: sc.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.logger.Info("using postgres store", zap.String("table", sc.Postgres.Table))
		return s, nil
	case config.StoreGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		s, err := gcs.New(client, gcs.Config{Bucket: sc.GCS.Bucket, Prefix: sc.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open gcs store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.logger.Info("using gcs store", zap.String("bucket", sc.GCS.Bucket))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", sc.Backend)
	}
}

func (a *App) openPublisher(ctx context.Context) (publisher.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("pubsub disabled; reports are kept in memory")
		return pubmemory.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("publishing reports to pubsub",
		zap.String("project_id", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.Run.Topic),
	)
	return pub, nil
}

func (a *App) buildOrchestrator(clock retrieval.Clock) (*retrieval.Orchestrator, error) {
	cfg := a.cfg
	sites := retrieval.NewSiteTable(cfg.Sites)
	extractor := extract.New(extract.NewRanked(cfg.Extract), extract.NewConverter())
	getter := collyfetcher.New(cfg.HTTP, nil)

	browserOpts := []browser.Option{
		browser.WithExtractor(extractor),
		browser.WithSites(sites),
		browser.WithCredentials(cfg.CredentialSource()),
	}

	var channels []retrieval.Channel
	if cfg.Browser.Enabled {
		bc := cfg.Browser.Config
		bc.Realms = cfg.Realms
		a.direct = browser.NewDirect(bc, append(browserOpts, browser.WithLogger(a.logger.Named("direct_browser")))...)
		a.monitor = health.New(cfg.Health, a.direct, a.logger.Named("health"),
			health.WithRestartHook(metrics.ObserveBrowserRestart))
		channels = append(channels, a.direct)
	}
	if cfg.RemoteBrowser.Enabled {
		bc := cfg.RemoteBrowser.Config
		bc.Realms = cfg.Realms
		remote, err := browser.NewRemote(bc, append(browserOpts, browser.WithLogger(a.logger.Named("remote_browser")))...)
		if err != nil {
			return nil, fmt.Errorf("build remote browser: %w", err)
		}
		channels = append(channels, remote)
	}
	if cfg.RenderingProxy.Enabled {
		ch, err := proxy.NewRendering(cfg.RenderingProxy.Config, getter, extractor)
		if err != nil {
			return nil, fmt.Errorf("build rendering proxy: %w", err)
		}
		channels = append(channels, ch)
	}
	if cfg.UnblockingProxy.Enabled {
		ch, err := proxy.NewUnblocking(cfg.UnblockingProxy.Config, getter, extractor)
		if err != nil {
			return nil, fmt.Errorf("build unblocking proxy: %w", err)
		}
		channels = append(channels, ch)
	}
	if cfg.Snapshot.Enabled {
		ch, err := snapshot.New(cfg.Snapshot.Config, getter, extractor)
		if err != nil {
			return nil, fmt.Errorf("build snapshot channel: %w", err)
		}
		channels = append(channels, ch)
	}

	opts := []retrieval.Option{
		retrieval.WithBudget(a.ledger),
		retrieval.WithGate(quality.NewGate(cfg.Quality)),
		retrieval.WithClock(clock),
		retrieval.WithObserver(a.observeAttempt),
	}
	if a.monitor != nil {
		opts = append(opts, retrieval.WithHealth(a.monitor))
	}
	return retrieval.NewOrchestrator(
		retrieval.OrchestratorConfig{TargetTimeout: cfg.Orchestrator.TargetTimeout},
		retrieval.NewSelector(cfg.SelectorConfig(), sites),
		channels,
		retrieval.NewExponentialRetryPolicy(cfg.Orchestrator.MaxTries, cfg.Orchestrator.BackoffBase, cfg.Orchestrator.BackoffMax),
		a.logger.Named("orchestrator"),
		opts...,
	), nil
}

func (a *App) buildRediscoverer() (*rediscovery.Rediscoverer, error) {
	rc := a.cfg.Rediscovery
	searchGetter := collyfetcher.New(collyfetcher.Config{UserAgent: a.cfg.HTTP.UserAgent, Timeout: rc.Search.Timeout}, nil)
	searcher, err := rediscovery.NewHTTPSearcher(rc.Search, searchGetter)
	if err != nil {
		return nil, fmt.Errorf("build search client: %w", err)
	}
	limiter := ratelimit.New(rc.RateLimit, ratelimit.WithObserver(metrics.ObserveRateLimitDelay))
	return rediscovery.New(rc.Config, searcher, searcher.Endpoint(), a.logger.Named("rediscovery"),
		rediscovery.WithLimiter(limiter),
		rediscovery.WithSearchHook(metrics.ObserveRediscovery),
	), nil
}

// openHub starts the progress hub. The Prometheus sink joins the log sink
// only when the metrics endpoint is served.
func (a *App) openHub() error {
	list := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress"))}
	if a.cfg.Metrics.Enabled {
		prom, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("build progress metrics: %w", err)
		}
		list = append(list, prom)
	}
	pc := a.cfg.Progress
	pc.Logger = a.logger.Named("progress")
	a.hub = progress.NewHub(pc, list...)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
		defer cancel()
		return a.hub.Close(ctx)
	})
	return nil
}

func (a *App) observeRun(s engine.Summary) {
	a.runID.Store(s.RunID)
	a.hub.Emit(progress.RunEvent(s))
}

func (a *App) observeTarget(r engine.TargetReport) {
	metrics.ObserveTarget(string(r.Status))
	if r.Status != retrieval.TargetSkipped {
		metrics.ObserveTier(string(r.Verdict.Tier))
	}
	a.hub.Emit(progress.TargetEvent(r))
}

func (a *App) observeAttempt(target retrieval.Target, rec retrieval.AttemptRecord) {
	metrics.ObserveAttempt(string(rec.Channel), string(rec.Outcome), string(rec.ErrorKind), rec.Duration)
	if rec.Outcome != retrieval.OutcomeSkipped && a.ledger.Metered(rec.Channel) {
		metrics.ObserveBudgetCharge(string(rec.Channel))
	}
	runID, _ := a.runID.Load().(string)
	a.hub.Emit(progress.AttemptEvent(runID, target, rec))
}

func (a *App) browserReady(context.Context) error {
	if a.monitor.Available() {
		return nil
	}
	return fmt.Errorf("browser %s after %d crashes", a.monitor.State(), a.monitor.Crashes())
}
