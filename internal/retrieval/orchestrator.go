package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OrchestratorConfig bounds the work spent on one target.
type OrchestratorConfig struct {
	// TargetTimeout bounds the total attempt time across all channels.
	TargetTimeout time.Duration
}

// Observer is notified of every recorded attempt.
type Observer func(target Target, record AttemptRecord)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithBudget gates metered channels through b.
func WithBudget(b Budget) Option {
	return func(o *Orchestrator) { o.budget = b }
}

// WithHealth guards the Direct Browser channel with h.
func WithHealth(h Health) Option {
	return func(o *Orchestrator) { o.health = h }
}

// WithGate validates every successful channel result with g.
func WithGate(g Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithObserver registers an attempt observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithSleeper overrides how backoff waits are performed.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// Orchestrator walks the selected channel order for a target, one channel at
// a time, retrying transient failures and short-circuiting on success.
type Orchestrator struct {
	cfg      OrchestratorConfig
	selector *Selector
	channels map[ChannelID]Channel
	retry    RetryPolicy
	budget   Budget
	health   Health
	gate     Gate
	clock    Clock
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// NewOrchestrator wires the escalation engine.
func NewOrchestrator(
	cfg OrchestratorConfig,
	selector *Selector,
	channels []Channel,
	retry RetryPolicy,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	o := &Orchestrator{
		cfg:      cfg,
		selector: selector,
		channels: make(map[ChannelID]Channel, len(channels)),
		retry:    retry,
		clock:    SystemClock{},
		sleep:    sleepContext,
		logger:   logger,
	}
	for _, ch := range channels {
		if ch != nil {
			o.channels[ch.ID()] = ch
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Available reports whether a channel can be used right now.
func (o *Orchestrator) Available(id ChannelID) bool {
	if _, ok := o.channels[id]; !ok {
		return false
	}
	if o.budget != nil && o.budget.Metered(id) && !o.budget.Admit(id) {
		return false
	}
	if id == ChannelDirectBrowser && o.health != nil && !o.health.Available() {
		return false
	}
	return true
}

// Order returns the channel order the next Retrieve call would start with.
func (o *Orchestrator) Order(target Target) []ChannelID {
	return o.selector.Select(target, nil, o.Available)
}

// Retrieve runs the escalation for target. On success it returns the result
// and the attempt log. When every channel fails it returns *ExhaustedError;
// garbage content is returned as a terminal *Failure; when no channel could be
// attempted at all the error kind is KindBudgetExhausted.
func (o *Orchestrator) Retrieve(ctx context.Context, target Target) (RetrievalResult, []AttemptRecord, error) {
	if o.cfg.TargetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TargetTimeout)
		defer cancel()
	}

	var (
		log      []AttemptRecord
		last     error
		notFound bool
	)
	tried := make(map[ChannelID]bool)
	for ctx.Err() == nil {
		id, ok := o.next(target, log, tried, notFound)
		if !ok {
			break
		}
		tried[id] = true

		res, err := o.runChannel(ctx, target, id, notFound, &log)
		if err == nil {
			return res, log, nil
		}
		switch KindOf(err) {
		case KindBudgetExhausted:
			continue
		case KindGarbage:
			return RetrievalResult{}, log, err
		case KindNotFound:
			// A missing capture says nothing about the live link.
			notFound = notFound || id != ChannelSnapshot
		}
		last = err
	}

	if attempted(log) == 0 {
		if last == nil && ctx.Err() != nil {
			last = ctx.Err()
		}
		return RetrievalResult{}, log, Fail(KindBudgetExhausted, "", errors.Join(ErrNoChannels, last))
	}
	return RetrievalResult{}, log, &ExhaustedError{TargetID: target.ID, Attempts: log, Last: last}
}

// next picks the first untried channel of the current order. After a
// confirmed dead link only the Snapshot channel remains eligible.
func (o *Orchestrator) next(target Target, log []AttemptRecord, tried map[ChannelID]bool, notFound bool) (ChannelID, bool) {
	for _, id := range o.selector.Select(target, log, o.Available) {
		if tried[id] {
			continue
		}
		if notFound && id != ChannelSnapshot {
			continue
		}
		return id, true
	}
	return "", false
}

func (o *Orchestrator) runChannel(
	ctx context.Context,
	target Target,
	id ChannelID,
	single bool,
	log *[]AttemptRecord,
) (RetrievalResult, error) {
	channel := o.channels[id]
	maxTries := o.retry.MaxAttempts()
	if single {
		maxTries = 1
	}

	for try := 1; ; try++ {
		if err := ctx.Err(); err != nil {
			return RetrievalResult{}, Fail(KindTransient, id, err)
		}
		skip, unhealthy := o.admit(ctx, target, id, try, log)
		if skip != nil {
			return RetrievalResult{}, skip
		}

		start := o.clock.Now()
		var res RetrievalResult
		err := unhealthy
		if err == nil {
			res, err = channel.Attempt(ctx, target)
			if err == nil {
				err = o.validate(id, res)
			}
		}
		err = normalize(id, err)

		rec := AttemptRecord{
			Channel:   id,
			URL:       target.URL,
			Try:       try,
			Timestamp: start,
			Duration:  o.clock.Now().Sub(start),
		}
		if err == nil {
			rec.Outcome = OutcomeSuccess
			o.record(target, rec, log)
			res.ChannelUsed = id
			if res.Provenance.RetrievedAt.IsZero() {
				res.Provenance.RetrievedAt = start
			}
			return res, nil
		}

		kind := KindOf(err)
		exhausted := kind == KindTransient && try >= maxTries
		if exhausted {
			kind = KindExhaustedRetries
			err = Fail(KindExhaustedRetries, id, err)
		}
		rec.Outcome = OutcomeFailure
		rec.ErrorKind = kind
		rec.Error = err.Error()
		o.record(target, rec, log)

		if kind != KindTransient {
			return RetrievalResult{}, err
		}
		if serr := o.sleep(ctx, o.retry.Backoff(try)); serr != nil {
			return RetrievalResult{}, Fail(KindTransient, id, serr)
		}
	}
}

// validate rejects successful results that carry no text, then applies the
// content gate.
func (o *Orchestrator) validate(id ChannelID, res RetrievalResult) error {
	if strings.TrimSpace(res.ExtractedText) == "" {
		return Failf(KindBlocked, id, "no extractable content")
	}
	if o.gate != nil {
		return o.gate.Check(id, res.RawContent, res.ExtractedText)
	}
	return nil
}

// admit performs budget admission and charging and the browser health check.
// skip is non-nil when the try must not run at all; unhealthy is a transient
// failure for a try on a browser that failed its health check but is not exhausted.
func (o *Orchestrator) admit(ctx context.Context, target Target, id ChannelID, try int, log *[]AttemptRecord) (skip, unhealthy error) {
	skipped := func(cause error) error {
		o.record(target, AttemptRecord{
			Channel:   id,
			Outcome:   OutcomeSkipped,
			ErrorKind: KindBudgetExhausted,
			Error:     cause.Error(),
			URL:       target.URL,
			Try:       try,
			Timestamp: o.clock.Now(),
		}, log)
		return Fail(KindBudgetExhausted, id, cause)
	}

	if o.budget != nil && o.budget.Metered(id) {
		if !o.budget.Admit(id) {
			return skipped(fmt.Errorf("budget denied %s", id)), nil
		}
		if err := o.budget.ChargeAttempt(id); err != nil {
			return skipped(err), nil
		}
	}
	if id == ChannelDirectBrowser && o.health != nil {
		if err := o.health.Check(ctx); err != nil {
			if !o.health.Available() {
				return skipped(err), nil
			}
			o.logger.Warn("browser health check failed",
				zap.String("target_id", target.ID),
				zap.Error(err),
			)
			return nil, Fail(KindTransient, id, fmt.Errorf("browser unhealthy: %w", err))
		}
	}
	return nil, nil
}

func (o *Orchestrator) record(target Target, rec AttemptRecord, log *[]AttemptRecord) {
	*log = append(*log, rec)
	fields := []zap.Field{
		zap.String("target_id", target.ID),
		zap.String("channel", string(rec.Channel)),
		zap.Int("try", rec.Try),
		zap.String("outcome", string(rec.Outcome)),
	}
	if rec.ErrorKind != "" {
		fields = append(fields, zap.String("kind", string(rec.ErrorKind)), zap.String("error", rec.Error))
	}
	o.logger.Debug("attempt recorded", fields...)
	if o.observer != nil {
		o.observer(target, rec)
	}
}

func normalize(id ChannelID, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if f.Channel == "" {
			return &Failure{Kind: f.Kind, Channel: id, Err: f.Err}
		}
		return err
	}
	return Fail(KindTransient, id, err)
}

func attempted(log []AttemptRecord) int {
	n := 0
	for _, rec := range log {
		if rec.Outcome != OutcomeSkipped {
			n++
		}
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	}
}
