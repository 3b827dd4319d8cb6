// Package runstate keeps the per-target processing ledger that makes a long
// batch run restartable.
package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/storage"
)

// Config controls resumption.
type Config struct {
	// FreshnessWindow is the maximum age of persisted state that is resumed.
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	Key             string        `mapstructure:"key"`
}

// State is the persisted form.
type State struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Processed []string  `json:"processed"`
	Failed    []string  `json:"failed"`
}

// Store tracks which targets reached a terminal outcome. Every id is in at
// most one of processed and failed.
type Store struct {
	cfg    Config
	store  storage.Store
	logger *zap.Logger
	newID  func() (string, error)

	mu        sync.Mutex
	runID     string
	startedAt time.Time
	updatedAt time.Time
	processed map[string]struct{}
	failed    map[string]struct{}
}

// New builds a Store. Call Load before use.
func New(cfg Config, store storage.Store, logger *zap.Logger) *Store {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 24 * time.Hour
	}
	if cfg.Key == "" {
		cfg.Key = "run_state"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		newID:     newRunID,
		processed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// Load resumes persisted state when it was last updated within the
// freshness window, and otherwise starts a clean run. It reports whether
// state was resumed.
func (s *Store) Load(ctx context.Context, now time.Time) (bool, error) {
	var prior *State
	if s.store != nil {
		raw, err := s.store.Get(ctx, s.cfg.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return false, fmt.Errorf("load run state: %w", err)
		default:
			var st State
			if err := json.Unmarshal(raw, &st); err != nil {
				return false, fmt.Errorf("decode run state: %w", err)
			}
			prior = &st
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{})
	s.failed = make(map[string]struct{})

	if prior != nil && fresh(*prior, now, s.cfg.FreshnessWindow) {
		s.runID, s.startedAt, s.updatedAt = prior.RunID, prior.StartedAt, prior.UpdatedAt
		for _, id := range prior.Processed {
			s.processed[id] = struct{}{}
		}
		for _, id := range prior.Failed {
			if _, done := s.processed[id]; !done {
				s.failed[id] = struct{}{}
			}
		}
		s.logger.Info("resuming run",
			zap.String("run_id", s.runID),
			zap.Int("processed", len(s.processed)),
			zap.Int("failed", len(s.failed)),
		)
		return true, nil
	}

	id, err := s.newID()
	if err != nil {
		return false, err
	}
	s.runID, s.startedAt, s.updatedAt = id, now, now
	if prior != nil {
		s.logger.Info("discarding stale run state",
			zap.String("previous_run_id", prior.RunID),
			zap.Time("previous_started_at", prior.StartedAt),
		)
	}
	return false, nil
}

// fresh measures age from the run's start, so a run that keeps
// checkpointing still expires.
func fresh(st State, now time.Time, window time.Duration) bool {
	return !st.StartedAt.IsZero() && now.Sub(st.StartedAt) < window
}

// RunID returns the current run id.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// StartedAt returns when the current run began.
func (s *Store) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Done reports whether id reached a terminal outcome.
func (s *Store) Done(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, processed := s.processed[id]
	_, failed := s.failed[id]
	return processed || failed
}

// Eligible reports whether id should be attempted. Failed ids are retried
// only when retryFailed is set; processed ids never are.
func (s *Store) Eligible(id string, retryFailed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[id]; ok {
		return false
	}
	if _, ok := s.failed[id]; ok {
		return retryFailed
	}
	return true
}

// MarkProcessed records a success.
func (s *Store) MarkProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, id)
	s.processed[id] = struct{}{}
}

// MarkFailed records a terminal failure. A processed id stays processed.
func (s *Store) MarkFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[id]; ok {
		return
	}
	s.failed[id] = struct{}{}
}

// Snapshot returns the state as it would be persisted.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	return State{
		RunID:     s.runID,
		StartedAt: s.startedAt,
		UpdatedAt: s.updatedAt,
		Processed: sortedKeys(s.processed),
		Failed:    sortedKeys(s.failed),
	}
}

// Flush persists the state, stamping it with now.
func (s *Store) Flush(ctx context.Context, now time.Time) error {
	if s.store == nil {
		return nil
	}
	s.mu.Lock()
	s.updatedAt = now
	raw, err := json.Marshal(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := s.store.Put(ctx, s.cfg.Key, raw); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
