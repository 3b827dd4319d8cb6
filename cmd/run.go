package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/app"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/logging"
	"github.com/JakeFAU/article-harvester/internal/report"
)

type runOptions struct {
	targetsPath string
	channel     string
	aggressive  bool
	retryFailed bool
	limit       int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest every target in a JSON Lines inventory",
		Long: `Reads targets (one JSON object per line with id, url, hints, topic_keyword
and excerpt) and processes them sequentially. A run interrupted within the
freshness window resumes where it stopped; already processed targets are
skipped, and failed ones too unless --retry-failed is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := opts.apply(&cfg); err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cfg, opts.targetsPath, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.targetsPath, "targets", "", "JSON Lines target inventory (- for stdin)")
	flags.StringVar(&opts.channel, "channel", "", "force every target through a single channel")
	flags.BoolVar(&opts.aggressive, "aggressive", false, "skip the local browser on known-blocked sites")
	flags.BoolVar(&opts.retryFailed, "retry-failed", false, "re-attempt targets that failed earlier in a resumed run")
	flags.IntVar(&opts.limit, "limit", 0, "process at most this many targets (0 means all)")
	_ = cmd.MarkFlagRequired("targets")
	return cmd
}

// apply layers flag overrides on top of the loaded configuration.
func (o *runOptions) apply(cfg *config.Config) error {
	if o.channel != "" {
		cfg.Orchestrator.Forced = o.channel
	}
	if o.aggressive {
		cfg.Orchestrator.Aggressive = true
	}
	if o.retryFailed {
		cfg.Run.RetryFailed = true
	}
	if o.limit < 0 {
		return errors.New("--limit must be >= 0")
	}
	if o.limit > 0 {
		cfg.Run.Limit = o.limit
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runHarvest(parent context.Context, cfg config.Config, targetsPath string, out io.Writer) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	targets, err := loadTargets(targetsPath)
	if err != nil {
		return err
	}
	logger.Info("targets loaded", zap.Int("count", len(targets)), zap.String("path", targetsPath))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	serverCtx, stopServer := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	if srv := a.Server(); srv != nil {
		go func() {
			defer close(serverDone)
			if err := srv.ListenAndServe(serverCtx); err != nil {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}
	defer func() {
		stopServer()
		<-serverDone
	}()

	summary, err := a.Engine().Run(ctx, targets)
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}
	return report.Render(out, summary)
}
