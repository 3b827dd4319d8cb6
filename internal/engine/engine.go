// Package engine runs batches of targets through the retrieval orchestrator,
// classifies and publishes each result, and keeps the budget ledger and run
// state durable between batches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/budget"
	"github.com/JakeFAU/article-harvester/internal/publisher"
	"github.com/JakeFAU/article-harvester/internal/rediscovery"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
	"github.com/JakeFAU/article-harvester/internal/runstate"
)

// Config controls the run loop.
type Config struct {
	BatchSize        int           `mapstructure:"batch_size"`
	InterTargetDelay time.Duration `mapstructure:"inter_target_delay"`
	WallClockBudget  time.Duration `mapstructure:"wall_clock_budget"`
	Topic            string        `mapstructure:"topic"`
	RetryFailed      bool          `mapstructure:"retry_failed"`
	// Limit caps the number of targets processed; zero means no cap.
	Limit int `mapstructure:"limit"`
}

// Retriever runs the channel escalation for one target.
type Retriever interface {
	Retrieve(ctx context.Context, target retrieval.Target) (retrieval.RetrievalResult, []retrieval.AttemptRecord, error)
}

// Classifier grades extracted text.
type Classifier interface {
	Classify(text, topic, excerpt string) retrieval.QualityVerdict
}

// Rediscoverer looks up a replacement URL for a dead link.
type Rediscoverer interface {
	Find(ctx context.Context, target retrieval.Target) (string, bool, error)
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Retriever    Retriever
	Classifier   Classifier
	Ledger       *budget.Ledger
	State        *runstate.Store
	Publisher    publisher.Publisher
	Rediscoverer Rediscoverer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(c retrieval.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSleeper overrides how the inter-target delay is waited out.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithReportHook registers a callback invoked after every target.
func WithReportHook(fn func(TargetReport)) Option {
	return func(e *Engine) { e.hook = fn }
}

// WithRunHook is called with a summary snapshot when a run starts and again
// when it finishes. FinishedAt is zero on the first call.
func WithRunHook(fn func(Summary)) Option {
	return func(e *Engine) { e.runHook = fn }
}

// RunContext is the state owned by a single Run call.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	// Deadline is zero when the run has no wall-clock budget.
	Deadline time.Time
	Ledger   *budget.Ledger
	State    *runstate.Store

	tally      *tally
	processed  int
	sinceFlush int
}

// Engine processes targets strictly one at a time.
type Engine struct {
	cfg     Config
	deps    Deps
	clock   retrieval.Clock
	sleep   func(ctx context.Context, d time.Duration) error
	hook    func(TargetReport)
	runHook func(Summary)
	logger  *zap.Logger

	mu      sync.Mutex
	current *RunContext
}

// New constructs an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if deps.Retriever == nil {
		return nil, errors.New("engine requires a retriever")
	}
	if deps.Classifier == nil {
		return nil, errors.New("engine requires a classifier")
	}
	if deps.Ledger == nil || deps.State == nil {
		return nil, errors.New("engine requires a budget ledger and run state")
	}
	if deps.Publisher == nil {
		return nil, errors.New("engine requires a publisher")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		clock:  retrieval.SystemClock{},
		sleep:  sleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run processes targets in order until the list is exhausted, the context
// is cancelled, the wall-clock budget runs out or the limit is reached.
// Cancellation and the deadline are only checked between targets.
func (e *Engine) Run(ctx context.Context, targets []retrieval.Target) (Summary, error) {
	rc, err := e.begin(ctx)
	if err != nil {
		return Summary{}, err
	}
	logger := e.logger.With(zap.String("run_id", rc.RunID))
	logger.Info("run started",
		zap.Int("targets", len(targets)),
		zap.Time("deadline", rc.Deadline),
	)
	if e.runHook != nil {
		e.runHook(rc.tally.snapshot())
	}

	reason := StopCompleted
	for _, target := range targets {
		if stop := e.stopReason(ctx, rc); stop != "" {
			reason = stop
			break
		}
		if !rc.State.Eligible(target.ID, e.cfg.RetryFailed) {
			rc.tally.alreadyDone()
			continue
		}
		if rc.processed > 0 && e.cfg.InterTargetDelay > 0 {
			if err := e.sleep(ctx, e.cfg.InterTargetDelay); err != nil {
				reason = StopCancelled
				break
			}
		}

		e.process(ctx, rc, target)
		rc.processed++
		rc.sinceFlush++
		if rc.sinceFlush >= e.cfg.BatchSize {
			e.flush(ctx, rc)
		}
	}

	e.flush(ctx, rc)
	rc.tally.finish(e.clock.Now(), reason, rc.Ledger.Snapshot())
	summary := rc.tally.snapshot()
	logger.Info("run finished",
		zap.String("stop_reason", reason),
		zap.Int("processed", summary.Processed()),
		zap.Int("already_done", summary.AlreadyDone),
	)
	if e.runHook != nil {
		e.runHook(summary)
	}
	return summary, nil
}

// Summary returns a snapshot of the current or most recent run.
func (e *Engine) Summary() (Summary, bool) {
	e.mu.Lock()
	rc := e.current
	e.mu.Unlock()
	if rc == nil {
		return Summary{}, false
	}
	s := rc.tally.snapshot()
	if s.FinishedAt.IsZero() {
		s.Budget = rc.Ledger.Snapshot()
	}
	return s, true
}

func (e *Engine) begin(ctx context.Context) (*RunContext, error) {
	now := e.clock.Now()
	if err := e.deps.Ledger.Load(ctx); err != nil {
		return nil, fmt.Errorf("load budget ledger: %w", err)
	}
	resumed, err := e.deps.State.Load(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load run state: %w", err)
	}
	rc := &RunContext{
		RunID:     e.deps.State.RunID(),
		StartedAt: e.deps.State.StartedAt(),
		Ledger:    e.deps.Ledger,
		State:     e.deps.State,
		tally:     newTally(e.deps.State.RunID(), now, resumed),
	}
	if e.cfg.WallClockBudget > 0 {
		rc.Deadline = now.Add(e.cfg.WallClockBudget)
	}
	e.mu.Lock()
	e.current = rc
	e.mu.Unlock()
	return rc, nil
}

func (e *Engine) stopReason(ctx context.Context, rc *RunContext) string {
	switch {
	case ctx.Err() != nil:
		return StopCancelled
	case !rc.Deadline.IsZero() && !e.clock.Now().Before(rc.Deadline):
		return StopDeadline
	case e.cfg.Limit > 0 && rc.processed >= e.cfg.Limit:
		return StopLimit
	}
	return ""
}

// process runs one target to a terminal status. The attempt itself ignores
// cancellation of ctx; every channel and the orchestrator bound it instead.
func (e *Engine) process(ctx context.Context, rc *RunContext, target retrieval.Target) {
	attemptCtx := context.WithoutCancel(ctx)
	logger := e.logger.With(zap.String("run_id", rc.RunID), zap.String("target_id", target.ID))

	res, attempts, err := e.deps.Retriever.Retrieve(attemptCtx, target)
	report := TargetReport{
		RunID:    rc.RunID,
		TargetID: target.ID,
		URL:      target.URL,
	}

	if err != nil && e.deps.Rediscoverer != nil && rediscovery.Eligible(err) {
		res, attempts, err = e.rediscover(attemptCtx, logger, target, attempts, err, &report)
	}

	if err == nil && strings.TrimSpace(res.ExtractedText) == "" {
		// Never count an empty body as harvested.
		err = retrieval.Failf(retrieval.KindBlocked, res.ChannelUsed, "empty extracted text")
	}

	report.Attempts = attempts
	report.CompletedAt = e.clock.Now()
	switch {
	case err == nil:
		report.Status = retrieval.TargetSuccess
		report.Channel = res.ChannelUsed
		prov := res.Provenance
		report.Provenance = &prov
		report.Verdict = e.deps.Classifier.Classify(res.ExtractedText, target.TopicKeyword, target.Excerpt)
	case skipped(err, attempts):
		report.Status = retrieval.TargetSkipped
		report.Verdict = retrieval.QualityVerdict{Tier: retrieval.TierMissing}
	default:
		report.Status = retrieval.TargetFailed
		report.Verdict = retrieval.QualityVerdict{Tier: retrieval.TierMissing}
	}
	if err != nil {
		report.ErrorKind = retrieval.KindOf(err)
		report.Error = err.Error()
	}

	publishFailed := false
	if _, perr := e.deps.Publisher.Publish(attemptCtx, e.cfg.Topic, report); perr != nil {
		publishFailed = true
		logger.Error("publish report failed", zap.Error(perr))
	}

	switch {
	case report.Status == retrieval.TargetSuccess && !publishFailed:
		rc.State.MarkProcessed(target.ID)
	case report.Status == retrieval.TargetSkipped:
		// Left eligible for a later run once budget frees up.
	default:
		rc.State.MarkFailed(target.ID)
	}

	rc.tally.record(report, publishFailed)
	if e.hook != nil {
		e.hook(report)
	}

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.String("tier", string(report.Verdict.Tier)),
		zap.Int("attempts", len(attempts)),
	}
	if report.Channel != "" {
		fields = append(fields, zap.String("channel", string(report.Channel)))
	}
	if err != nil {
		fields = append(fields, zap.String("kind", string(report.ErrorKind)), zap.Error(err))
	}
	logger.Info("target finished", fields...)
}

// rediscover searches for a replacement URL and re-enters the orchestrator
// exactly once. The report's URL changes only when the re-entry succeeds.
func (e *Engine) rediscover(
	ctx context.Context,
	logger *zap.Logger,
	target retrieval.Target,
	attempts []retrieval.AttemptRecord,
	cause error,
	report *TargetReport,
) (retrieval.RetrievalResult, []retrieval.AttemptRecord, error) {
	replacement, ok, err := e.deps.Rediscoverer.Find(ctx, target)
	if err != nil {
		logger.Warn("rediscovery failed", zap.Error(err))
		return retrieval.RetrievalResult{}, attempts, cause
	}
	if !ok || replacement == target.URL {
		return retrieval.RetrievalResult{}, attempts, cause
	}

	moved := target
	moved.URL = replacement
	moved.PriorAttempts = append(append([]retrieval.AttemptRecord(nil), target.PriorAttempts...), attempts...)
	res, more, err := e.deps.Retriever.Retrieve(ctx, moved)
	attempts = append(attempts, more...)
	if err != nil {
		logger.Info("replacement url failed", zap.String("new_url", replacement), zap.Error(err))
		return retrieval.RetrievalResult{}, attempts, err
	}
	report.OriginalURL = target.URL
	report.URL = replacement
	report.Rediscovered = true
	return res, attempts, nil
}

// flush persists the ledger and run state. Failures are logged; the next
// flush retries with the newer state.
func (e *Engine) flush(ctx context.Context, rc *RunContext) {
	ctx = context.WithoutCancel(ctx)
	rc.sinceFlush = 0
	if err := rc.Ledger.Flush(ctx); err != nil {
		e.logger.Error("flush budget ledger failed", zap.String("run_id", rc.RunID), zap.Error(err))
	}
	if err := rc.State.Flush(ctx, e.clock.Now()); err != nil {
		e.logger.Error("flush run state failed", zap.String("run_id", rc.RunID), zap.Error(err))
	}
}

// skipped reports a target for which no channel was ever attempted.
func skipped(err error, attempts []retrieval.AttemptRecord) bool {
	if retrieval.KindOf(err) != retrieval.KindBudgetExhausted {
		return false
	}
	for _, a := range attempts {
		if a.Outcome != retrieval.OutcomeSkipped {
			return false
		}
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
