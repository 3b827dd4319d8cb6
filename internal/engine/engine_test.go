package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/budget"
	pubmemory "github.com/JakeFAU/article-harvester/internal/publisher/memory"
	"github.com/JakeFAU/article-harvester/internal/quality"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
	"github.com/JakeFAU/article-harvester/internal/runstate"
	"github.com/JakeFAU/article-harvester/internal/storage"
	"github.com/JakeFAU/article-harvester/internal/storage/memory"
)

var article = strings.Repeat("The ramen at Kato is rich, balanced and worth the wait. ", 40)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outcome struct {
	text     string
	err      error
	attempts []retrieval.AttemptRecord
}

type fakeRetriever struct {
	mu       sync.Mutex
	byURL    map[string]outcome
	calls    []string
	onCall   func(ctx context.Context)
	fallback outcome
}

func (f *fakeRetriever) Retrieve(ctx context.Context, target retrieval.Target) (retrieval.RetrievalResult, []retrieval.AttemptRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target.URL)
	out, ok := f.byURL[target.URL]
	if !ok {
		out = f.fallback
	}
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	attempts := out.attempts
	if attempts == nil {
		rec := retrieval.AttemptRecord{Channel: retrieval.ChannelDirectBrowser, URL: target.URL, Try: 1}
		if out.err == nil {
			rec.Outcome = retrieval.OutcomeSuccess
		} else {
			rec.Outcome = retrieval.OutcomeFailure
			rec.ErrorKind = retrieval.KindOf(out.err)
		}
		attempts = []retrieval.AttemptRecord{rec}
	}
	if out.err != nil {
		return retrieval.RetrievalResult{}, attempts, out.err
	}
	return retrieval.RetrievalResult{
		ExtractedText: out.text,
		ChannelUsed:   retrieval.ChannelDirectBrowser,
		Provenance:    retrieval.Provenance{FinalURL: target.URL, StatusCode: 200},
	}, attempts, nil
}

func (f *fakeRetriever) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRediscoverer struct {
	url   string
	calls int
}

func (f *fakeRediscoverer) Find(context.Context, retrieval.Target) (string, bool, error) {
	f.calls++
	return f.url, f.url != "", nil
}

type failingStore struct{ storage.Store }

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

type harness struct {
	clock     *fakeClock
	store     storage.Store
	ledger    *budget.Ledger
	state     *runstate.Store
	publisher *pubmemory.Publisher
	retriever *fakeRetriever
	reports   []TargetReport
}

func newHarness(store storage.Store) *harness {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	if store == nil {
		store = memory.New()
	}
	return &harness{
		clock: clock,
		store: store,
		ledger: budget.New(budget.Config{
			Channels: map[retrieval.ChannelID]budget.Ceiling{
				retrieval.ChannelRemoteBrowser: {DailySessions: 30},
			},
		}, store, clock, zap.NewNop()),
		state:     runstate.New(runstate.Config{}, store, zap.NewNop()),
		publisher: pubmemory.New(),
		retriever: &fakeRetriever{byURL: map[string]outcome{}, fallback: outcome{text: article}},
	}
}

func (h *harness) engine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	return h.engineWith(t, cfg, nil, opts...)
}

func (h *harness) engineWith(t *testing.T, cfg Config, rd Rediscoverer, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithClock(h.clock),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithReportHook(func(r TargetReport) { h.reports = append(h.reports, r) }),
	}, opts...)
	e, err := New(cfg, Deps{
		Retriever:    h.retriever,
		Classifier:   quality.NewClassifier(quality.DefaultThresholds()),
		Ledger:       h.ledger,
		State:        h.state,
		Publisher:    h.publisher,
		Rediscoverer: rd,
	}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return e
}

func targets(ids ...string) []retrieval.Target {
	out := make([]retrieval.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, retrieval.Target{
			ID:           id,
			URL:          "https://example.com/" + id,
			TopicKeyword: "ramen",
		})
	}
	return out
}

func TestRunClassifiesPublishesAndRecordsState(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.retriever.byURL["https://example.com/dead"] = outcome{
		err: &retrieval.ExhaustedError{TargetID: "dead", Last: retrieval.Failf(retrieval.KindBlocked, retrieval.ChannelDirectBrowser, "403")},
	}
	h.retriever.byURL["https://example.com/broke"] = outcome{
		err: retrieval.Fail(retrieval.KindBudgetExhausted, "", retrieval.ErrNoChannels),
		attempts: []retrieval.AttemptRecord{{
			Channel: retrieval.ChannelRemoteBrowser, Outcome: retrieval.OutcomeSkipped, ErrorKind: retrieval.KindBudgetExhausted,
		}},
	}

	e := h.engine(t, Config{Topic: "harvest-results"})
	summary, err := e.Run(context.Background(), targets("ok", "dead", "broke"))
	require.NoError(t, err)

	require.Equal(t, StopCompleted, summary.StopReason)
	require.Equal(t, map[retrieval.TargetStatus]int{
		retrieval.TargetSuccess: 1,
		retrieval.TargetFailed:  1,
		retrieval.TargetSkipped: 1,
	}, summary.Statuses)
	require.Equal(t, 1, summary.Tiers[retrieval.TierFull])
	require.Equal(t, 1, summary.Tiers[retrieval.TierMissing])
	require.Equal(t, ChannelStats{Attempts: 2, Successes: 1, Failures: 1}, summary.Channels[retrieval.ChannelDirectBrowser])
	require.Equal(t, ChannelStats{Skips: 1}, summary.Channels[retrieval.ChannelRemoteBrowser])
	require.Len(t, summary.Budget, 1)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "harvest-results", msgs[0].Topic)
	first := msgs[0].Payload.(TargetReport)
	require.Equal(t, retrieval.TierFull, first.Verdict.Tier)
	require.Equal(t, retrieval.ChannelDirectBrowser, first.Channel)
	require.Equal(t, "full", first.Attributes()["tier"])

	snap := h.state.Snapshot()
	require.Equal(t, []string{"ok"}, snap.Processed)
	require.Equal(t, []string{"dead"}, snap.Failed)
	require.Len(t, h.reports, 3)
}

func TestRunResumesWithoutReattempting(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.retriever.byURL["https://example.com/b"] = outcome{err: retrieval.Failf(retrieval.KindGarbage, retrieval.ChannelDirectBrowser, "noise")}
	_, err := h.engine(t, Config{}).Run(context.Background(), targets("a", "b"))
	require.NoError(t, err)
	require.Len(t, h.retriever.Calls(), 2)

	h.clock.Advance(time.Hour)
	h.state = runstate.New(runstate.Config{}, h.store, zap.NewNop())
	summary, err := h.engine(t, Config{}).Run(context.Background(), targets("a", "b", "c"))
	require.NoError(t, err)
	require.True(t, summary.Resumed)
	require.Equal(t, 2, summary.AlreadyDone)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, h.retriever.Calls())
}

func TestRunRetryFailedReattemptsFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.retriever.byURL["https://example.com/b"] = outcome{err: retrieval.Failf(retrieval.KindGarbage, retrieval.ChannelDirectBrowser, "noise")}
	_, err := h.engine(t, Config{}).Run(context.Background(), targets("a", "b"))
	require.NoError(t, err)

	delete(h.retriever.byURL, "https://example.com/b")
	summary, err := h.engine(t, Config{RetryFailed: true}).Run(context.Background(), targets("a", "b"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.AlreadyDone)
	require.Equal(t, 1, summary.Statuses[retrieval.TargetSuccess])

	snap := h.state.Snapshot()
	require.Equal(t, []string{"a", "b"}, snap.Processed)
	require.Empty(t, snap.Failed)
}

func TestRunStopsAtWallClockBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.retriever.onCall = func(context.Context) { h.clock.Advance(10 * time.Minute) }

	summary, err := h.engine(t, Config{WallClockBudget: 15 * time.Minute}).Run(context.Background(), targets("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, StopDeadline, summary.StopReason)
	require.Equal(t, 2, summary.Processed())
}

func TestRunCancellationFinishesInFlightTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attemptErr error
	h.retriever.onCall = func(attemptCtx context.Context) {
		cancel()
		attemptErr = attemptCtx.Err()
	}

	summary, err := h.engine(t, Config{}).Run(ctx, targets("a", "b"))
	require.NoError(t, err)
	require.NoError(t, attemptErr)
	require.Equal(t, StopCancelled, summary.StopReason)
	require.Equal(t, 1, summary.Processed())

	_, err = h.store.Get(context.Background(), "run_state")
	require.NoError(t, err)
}

func TestRunHonorsLimitAndDelay(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	var waits []time.Duration
	sleeper := WithSleeper(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})

	summary, err := h.engine(t, Config{Limit: 2, InterTargetDelay: 3 * time.Second}, sleeper).
		Run(context.Background(), targets("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, StopLimit, summary.StopReason)
	require.Equal(t, 2, summary.Processed())
	require.Equal(t, []time.Duration{3 * time.Second}, waits)
}

func TestRunFlushesEveryBatch(t *testing.T) {
	t.Parallel()

	store := memory.New()
	h := newHarness(store)

	_, err := h.engine(t, Config{BatchSize: 2}).Run(context.Background(), targets("a", "b", "c"))
	require.NoError(t, err)
	// ledger + run state after the first batch and again at exit
	require.Equal(t, 4, store.Puts())
}

func TestRunSurvivesFlushFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(failingStore{Store: memory.New()})
	summary, err := h.engine(t, Config{BatchSize: 1}).Run(context.Background(), targets("a", "b"))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Statuses[retrieval.TargetSuccess])
}

func TestRunPublishFailureMarksTargetFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.publisher.FailWith(errors.New("broker down"))

	summary, err := h.engine(t, Config{}).Run(context.Background(), targets("a"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.PublishFailures)
	require.Equal(t, []string{"a"}, h.state.Snapshot().Failed)
}

func TestRunEmptyTextIsNeverProcessed(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.retriever.byURL["https://example.com/blank"] = outcome{text: "  \n "}

	e := h.engine(t, Config{Topic: "harvest-results"})
	summary, err := e.Run(context.Background(), targets("blank"))
	require.NoError(t, err)

	require.Equal(t, 1, summary.Statuses[retrieval.TargetFailed])
	require.Zero(t, summary.Statuses[retrieval.TargetSuccess])
	require.Len(t, h.reports, 1)
	require.Equal(t, retrieval.KindBlocked, h.reports[0].ErrorKind)
	require.Equal(t, retrieval.TierMissing, h.reports[0].Verdict.Tier)

	snap := h.state.Snapshot()
	require.Empty(t, snap.Processed)
	require.Equal(t, []string{"blank"}, snap.Failed)
}

func TestRunRediscoversDeadLinkOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	dead := &retrieval.ExhaustedError{
		TargetID: "a",
		Attempts: []retrieval.AttemptRecord{{
			Channel: retrieval.ChannelDirectBrowser, Outcome: retrieval.OutcomeFailure, ErrorKind: retrieval.KindNotFound,
		}},
		Last: retrieval.Failf(retrieval.KindNotFound, retrieval.ChannelDirectBrowser, "404"),
	}
	h.retriever.byURL["https://example.com/a"] = outcome{err: dead, attempts: dead.Attempts}
	rd := &fakeRediscoverer{url: "https://example.com/reviews/a"}

	summary, err := h.engineWith(t, Config{}, rd).Run(context.Background(), targets("a"))
	require.NoError(t, err)
	require.Equal(t, 1, rd.calls)
	require.Equal(t, 1, summary.Rediscovered)

	report := h.reports[0]
	require.Equal(t, retrieval.TargetSuccess, report.Status)
	require.Equal(t, "https://example.com/reviews/a", report.URL)
	require.Equal(t, "https://example.com/a", report.OriginalURL)
	require.Len(t, report.Attempts, 2)
}

func TestRunKeepsURLWhenReplacementFails(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	dead := &retrieval.ExhaustedError{
		TargetID: "a",
		Attempts: []retrieval.AttemptRecord{{
			Channel: retrieval.ChannelDirectBrowser, Outcome: retrieval.OutcomeFailure, ErrorKind: retrieval.KindNotFound,
		}},
		Last: retrieval.Failf(retrieval.KindNotFound, retrieval.ChannelDirectBrowser, "404"),
	}
	h.retriever.byURL["https://example.com/a"] = outcome{err: dead, attempts: dead.Attempts}
	h.retriever.byURL["https://example.com/reviews/a"] = outcome{err: dead, attempts: dead.Attempts}
	rd := &fakeRediscoverer{url: "https://example.com/reviews/a"}

	_, err := h.engineWith(t, Config{}, rd).Run(context.Background(), targets("a"))
	require.NoError(t, err)
	require.Equal(t, 1, rd.calls)
	require.Len(t, h.retriever.Calls(), 2)

	report := h.reports[0]
	require.Equal(t, retrieval.TargetFailed, report.Status)
	require.Equal(t, "https://example.com/a", report.URL)
	require.False(t, report.Rediscovered)
}

func TestSummaryAvailableDuringRun(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	e := h.engine(t, Config{})
	_, ok := e.Summary()
	require.False(t, ok)

	var mid Summary
	h.retriever.onCall = func(context.Context) {
		mid, _ = e.Summary()
	}
	_, err := e.Run(context.Background(), targets("a"))
	require.NoError(t, err)
	require.NotEmpty(t, mid.RunID)
	require.True(t, mid.FinishedAt.IsZero())

	final, ok := e.Summary()
	require.True(t, ok)
	require.Equal(t, StopCompleted, final.StopReason)
}

func TestRunHookSeesStartAndFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	var seen []Summary
	e := h.engine(t, Config{}, WithRunHook(func(s Summary) { seen = append(seen, s) }))
	_, err := e.Run(context.Background(), targets("a", "b"))
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.True(t, seen[0].FinishedAt.IsZero())
	require.Equal(t, 0, seen[0].Processed())
	require.Equal(t, seen[0].RunID, seen[1].RunID)
	require.Equal(t, StopCompleted, seen[1].StopReason)
	require.Equal(t, 2, seen[1].Processed())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
}
