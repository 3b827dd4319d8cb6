// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/article-harvester/internal/api"
	"github.com/JakeFAU/article-harvester/internal/budget"
	"github.com/JakeFAU/article-harvester/internal/channel/browser"
	"github.com/JakeFAU/article-harvester/internal/channel/proxy"
	"github.com/JakeFAU/article-harvester/internal/channel/snapshot"
	"github.com/JakeFAU/article-harvester/internal/engine"
	"github.com/JakeFAU/article-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/health"
	"github.com/JakeFAU/article-harvester/internal/logging"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/quality"
	"github.com/JakeFAU/article-harvester/internal/rediscovery"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
	"github.com/JakeFAU/article-harvester/internal/runstate"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "HARVESTER"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreGCS      = "gcs"
)

// Config captures every harvester knob loaded via Viper.
type Config struct {
	Logging         logging.Config           `mapstructure:"logging"`
	Run             RunConfig                `mapstructure:"run"`
	HTTP            collyfetcher.Config      `mapstructure:"http"`
	Orchestrator    OrchestratorConfig       `mapstructure:"orchestrator"`
	Browser         BrowserConfig            `mapstructure:"browser"`
	RemoteBrowser   BrowserConfig            `mapstructure:"remote_browser"`
	RenderingProxy  ProxyConfig              `mapstructure:"rendering_proxy"`
	UnblockingProxy ProxyConfig              `mapstructure:"unblocking_proxy"`
	Snapshot        SnapshotConfig           `mapstructure:"snapshot"`
	Extract         extract.Config           `mapstructure:"extract"`
	Budget          BudgetConfig             `mapstructure:"budget"`
	Health          health.Config            `mapstructure:"health"`
	Quality         quality.GateConfig       `mapstructure:"quality"`
	Rediscovery     RediscoveryConfig        `mapstructure:"rediscovery"`
	Sites           []retrieval.SiteRule     `mapstructure:"sites"`
	Realms          map[string]browser.Realm `mapstructure:"realms"`
	Store           StoreConfig              `mapstructure:"store"`
	PubSub          PubSubConfig             `mapstructure:"pubsub"`
	Metrics         MetricsConfig            `mapstructure:"metrics"`
	Progress        progress.Config          `mapstructure:"progress"`

	credentials *Credentials
}

// RunConfig controls the run loop and resumption.
type RunConfig struct {
	engine.Config `mapstructure:",squash"`
	State         runstate.Config `mapstructure:"state"`
}

// OrchestratorConfig controls escalation.
type OrchestratorConfig struct {
	TargetTimeout time.Duration `mapstructure:"target_timeout"`
	MaxTries      int           `mapstructure:"max_tries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	// Forced restricts every target to one channel.
	Forced     string `mapstructure:"forced_channel"`
	Aggressive bool   `mapstructure:"aggressive"`
}

// BrowserConfig enables a browser channel.
type BrowserConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	browser.Config `mapstructure:",squash"`
}

// ProxyConfig enables a proxy channel.
type ProxyConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	proxy.Config `mapstructure:",squash"`
}

// SnapshotConfig enables the snapshot channel.
type SnapshotConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	snapshot.Config `mapstructure:",squash"`
}

// BudgetConfig holds per-channel ceilings keyed by channel name.
type BudgetConfig struct {
	Channels    map[string]budget.Ceiling `mapstructure:"channels"`
	HistoryDays int                       `mapstructure:"history_days"`
	Key         string                    `mapstructure:"key"`
}

// RediscoveryConfig enables dead-link rediscovery.
type RediscoveryConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	rediscovery.Config `mapstructure:",squash"`
	Search             rediscovery.SearchConfig `mapstructure:"search"`
}

// StoreConfig selects the durable Store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Dir holds the run lock and the default SQLite database.
	Dir      string         `mapstructure:"dir"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// SQLiteConfig locates the SQLite database.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls the Postgres backend.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// GCSConfig controls the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig enables publishing reports to Cloud Pub/Sub.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// MetricsConfig controls the operator HTTP server.
type MetricsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	api.Config `mapstructure:",squash"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.credentials = &Credentials{v: v}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("run.batch_size", 25)
	v.SetDefault("run.inter_target_delay", 2*time.Second)
	v.SetDefault("run.wall_clock_budget", 4*time.Hour)
	v.SetDefault("run.topic", "harvest-results")
	v.SetDefault("run.state.freshness_window", 24*time.Hour)
	v.SetDefault("run.state.key", "run_state")

	v.SetDefault("http.user_agent", "article-harvester/0.1")
	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("orchestrator.target_timeout", 4*time.Minute)
	v.SetDefault("orchestrator.max_tries", 3)
	v.SetDefault("orchestrator.backoff_base", 500*time.Millisecond)
	v.SetDefault("orchestrator.backoff_max", 10*time.Second)

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.content_wait", 8*time.Second)
	v.SetDefault("browser.scroll_steps", 4)
	v.SetDefault("browser.scroll_pause", 400*time.Millisecond)
	v.SetDefault("remote_browser.enabled", false)
	v.SetDefault("remote_browser.navigation_timeout", 60*time.Second)
	v.SetDefault("remote_browser.content_wait", 10*time.Second)
	v.SetDefault("remote_browser.scroll_steps", 4)
	v.SetDefault("remote_browser.scroll_pause", 400*time.Millisecond)

	v.SetDefault("rendering_proxy.enabled", false)
	v.SetDefault("rendering_proxy.timeout", 60*time.Second)
	v.SetDefault("unblocking_proxy.enabled", false)
	v.SetDefault("unblocking_proxy.timeout", 90*time.Second)
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.availability_url", snapshot.DefaultAvailabilityURL)
	v.SetDefault("snapshot.timeout", 45*time.Second)

	v.SetDefault("extract.min_block_chars", 200)

	v.SetDefault("budget.history_days", 30)
	v.SetDefault("budget.key", "budget")

	v.SetDefault("health.ping_timeout", 5*time.Second)
	v.SetDefault("health.restart_timeout", 30*time.Second)
	v.SetDefault("health.restart_attempts", 2)
	v.SetDefault("health.crash_ceiling", 3)

	d := quality.DefaultThresholds()
	v.SetDefault("quality.full_min_chars", d.FullMinChars)
	v.SetDefault("quality.full_min_words", d.FullMinWords)
	v.SetDefault("quality.excerpt_max_chars", d.ExcerptMaxChars)
	v.SetDefault("quality.paywall_gate_max_chars", d.PaywallGateMaxChars)
	v.SetDefault("quality.trailing_window", d.TrailingWindow)
	v.SetDefault("quality.strip_max_iterations", d.StripMaxIterations)
	v.SetDefault("quality.excerpt_ratio", d.ExcerptRatio)
	v.SetDefault("quality.min_letter_ratio", d.MinLetterRatio)
	v.SetDefault("quality.max_script_residue", d.MaxScriptResidue)

	v.SetDefault("rediscovery.enabled", false)
	v.SetDefault("rediscovery.max_per_run", 50)
	v.SetDefault("rediscovery.rate_limit.rps", 1.0)
	v.SetDefault("rediscovery.rate_limit.burst", 1)
	v.SetDefault("rediscovery.search.timeout", 15*time.Second)

	v.SetDefault("store.backend", StoreSQLite)
	v.SetDefault("store.dir", ".harvester")
	v.SetDefault("store.postgres.table", "harvester_state")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.gcs.prefix", "harvester")

	v.SetDefault("pubsub.enabled", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.request_timeout", 30*time.Second)

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Run.BatchSize <= 0 {
		errs = append(errs, errors.New("run.batch_size must be > 0"))
	}
	if c.Run.InterTargetDelay < 0 {
		errs = append(errs, errors.New("run.inter_target_delay must be >= 0"))
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 {
		errs = append(errs, errors.New("progress.buffer_size and progress.max_batch_events must be >= 0"))
	}
	if c.Orchestrator.MaxTries <= 0 {
		errs = append(errs, errors.New("orchestrator.max_tries must be > 0"))
	}
	if c.Orchestrator.Forced != "" {
		if _, ok := retrieval.ParseChannelID(c.Orchestrator.Forced); !ok {
			errs = append(errs, fmt.Errorf("orchestrator.forced_channel %q is not a channel", c.Orchestrator.Forced))
		}
	}
	if len(c.EnabledChannels()) == 0 {
		errs = append(errs, errors.New("at least one retrieval channel must be enabled"))
	}
	if c.RemoteBrowser.Enabled && c.RemoteBrowser.RemoteURL == "" {
		errs = append(errs, errors.New("remote_browser.remote_url must be set when the remote browser is enabled"))
	}
	if c.RemoteBrowser.Enabled {
		ceiling, ok := c.Budget.Channels[string(retrieval.ChannelRemoteBrowser)]
		if !ok || (ceiling.DailySessions <= 0 && ceiling.RunSessions <= 0 && ceiling.DailyMinutes <= 0) {
			errs = append(errs, errors.New("budget.channels.remote_browser needs a positive ceiling when the remote browser is enabled"))
		}
	}
	for name, p := range map[string]ProxyConfig{"rendering_proxy": c.RenderingProxy, "unblocking_proxy": c.UnblockingProxy} {
		if !p.Enabled {
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name := range c.Budget.Channels {
		if _, ok := retrieval.ParseChannelID(name); !ok {
			errs = append(errs, fmt.Errorf("budget.channels.%s is not a channel", name))
		}
	}
	for name, realm := range c.Realms {
		if err := realm.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("realms.%s: %w", name, err))
		}
	}
	if c.Health.CrashCeiling < 0 || c.Health.RestartAttempts < 0 {
		errs = append(errs, errors.New("health ceilings must be >= 0"))
	}
	if c.Rediscovery.Enabled && c.Rediscovery.Search.Endpoint == "" {
		errs = append(errs, errors.New("rediscovery.search.endpoint must be set when rediscovery is enabled"))
	}
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn must be set for the postgres backend"))
		}
	case StoreGCS:
		if c.Store.GCS.Bucket == "" {
			errs = append(errs, errors.New("store.gcs.bucket must be set for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", c.Store.Backend))
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub is enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		errs = append(errs, errors.New("metrics.port must be > 0"))
	}
	return errors.Join(errs...)
}

// EnabledChannels lists enabled channels in default escalation order.
func (c Config) EnabledChannels() []retrieval.ChannelID {
	enabled := map[retrieval.ChannelID]bool{
		retrieval.ChannelDirectBrowser:   c.Browser.Enabled,
		retrieval.ChannelRemoteBrowser:   c.RemoteBrowser.Enabled,
		retrieval.ChannelRenderingProxy:  c.RenderingProxy.Enabled,
		retrieval.ChannelUnblockingProxy: c.UnblockingProxy.Enabled,
		retrieval.ChannelSnapshot:        c.Snapshot.Enabled,
	}
	var out []retrieval.ChannelID
	for _, id := range retrieval.AllChannels {
		if enabled[id] {
			out = append(out, id)
		}
	}
	return out
}

// SelectorConfig converts the orchestrator section for the Selector.
func (c Config) SelectorConfig() retrieval.SelectorConfig {
	forced, _ := retrieval.ParseChannelID(c.Orchestrator.Forced)
	return retrieval.SelectorConfig{Forced: forced, Aggressive: c.Orchestrator.Aggressive}
}

// BudgetLedgerConfig converts the budget section for the ledger.
func (c Config) BudgetLedgerConfig() budget.Config {
	channels := make(map[retrieval.ChannelID]budget.Ceiling, len(c.Budget.Channels))
	for name, ceiling := range c.Budget.Channels {
		if id, ok := retrieval.ParseChannelID(name); ok {
			channels[id] = ceiling
		}
	}
	return budget.Config{Channels: channels, HistoryDays: c.Budget.HistoryDays, Key: c.Budget.Key}
}

// CredentialSource returns the viper-backed credential lookup.
func (c Config) CredentialSource() retrieval.CredentialSource {
	if c.credentials == nil {
		return &Credentials{v: viper.New()}
	}
	return c.credentials
}
