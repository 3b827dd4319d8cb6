package runstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestLoadStartsCleanWithoutState(t *testing.T) {
	t.Parallel()

	s := New(Config{}, memory.New(), nil)
	resumed, err := s.Load(context.Background(), t0)
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEmpty(t, s.RunID())
	require.Equal(t, t0, s.StartedAt())
	require.True(t, s.Eligible("a", false))
}

func TestResumeWithinFreshnessWindow(t *testing.T) {
	t.Parallel()

	store := memory.New()
	first := New(Config{FreshnessWindow: time.Hour}, store, nil)
	_, err := first.Load(context.Background(), t0)
	require.NoError(t, err)
	first.MarkProcessed("a")
	first.MarkFailed("b")
	require.NoError(t, first.Flush(context.Background(), t0.Add(10*time.Minute)))

	second := New(Config{FreshnessWindow: time.Hour}, store, nil)
	resumed, err := second.Load(context.Background(), t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, first.RunID(), second.RunID())

	require.False(t, second.Eligible("a", false))
	require.False(t, second.Eligible("a", true))
	require.False(t, second.Eligible("b", false))
	require.True(t, second.Eligible("b", true))
	require.True(t, second.Eligible("c", false))
	require.True(t, second.Done("a"))
	require.True(t, second.Done("b"))
}

func TestStaleStateIsDiscarded(t *testing.T) {
	t.Parallel()

	store := memory.New()
	first := New(Config{FreshnessWindow: time.Hour}, store, nil)
	_, err := first.Load(context.Background(), t0)
	require.NoError(t, err)
	first.MarkProcessed("a")
	require.NoError(t, first.Flush(context.Background(), t0))

	second := New(Config{FreshnessWindow: time.Hour}, store, nil)
	resumed, err := second.Load(context.Background(), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEqual(t, first.RunID(), second.RunID())
	require.True(t, second.Eligible("a", false))
}

func TestFreshnessCountsFromRunStart(t *testing.T) {
	t.Parallel()

	store := memory.New()
	first := New(Config{FreshnessWindow: time.Hour}, store, nil)
	_, err := first.Load(context.Background(), t0)
	require.NoError(t, err)
	first.MarkProcessed("a")
	require.NoError(t, first.Flush(context.Background(), t0.Add(3*time.Hour)))

	second := New(Config{FreshnessWindow: time.Hour}, store, nil)
	resumed, err := second.Load(context.Background(), t0.Add(3*time.Hour+10*time.Minute))
	require.NoError(t, err)
	require.False(t, resumed)
	require.NotEqual(t, first.RunID(), second.RunID())
	require.True(t, second.Eligible("a", false))
}

func TestProcessedAndFailedAreExclusive(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil)
	_, err := s.Load(context.Background(), t0)
	require.NoError(t, err)

	s.MarkFailed("a")
	s.MarkProcessed("a")
	s.MarkFailed("a")
	s.MarkFailed("b")

	snap := s.Snapshot()
	require.Equal(t, []string{"a"}, snap.Processed)
	require.Equal(t, []string{"b"}, snap.Failed)
}

func TestLoadRepairsOverlappingState(t *testing.T) {
	t.Parallel()

	store := memory.New()
	raw, err := json.Marshal(State{RunID: "r1", StartedAt: t0, UpdatedAt: t0, Processed: []string{"a"}, Failed: []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "run_state", raw))

	s := New(Config{}, store, nil)
	resumed, err := s.Load(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, resumed)
	snap := s.Snapshot()
	require.Equal(t, []string{"a"}, snap.Processed)
	require.Equal(t, []string{"b"}, snap.Failed)
}

func TestLoadCorruptState(t *testing.T) {
	t.Parallel()

	store := memory.New()
	require.NoError(t, store.Put(context.Background(), "run_state", []byte("{")))
	_, err := New(Config{}, store, nil).Load(context.Background(), t0)
	require.Error(t, err)
}
