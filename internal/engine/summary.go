package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/article-harvester/internal/budget"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Stop reasons recorded on the Summary.
const (
	StopCompleted = "completed"
	StopCancelled = "cancelled"
	StopDeadline  = "wall_clock_budget"
	StopLimit     = "limit"
)

// ChannelStats counts attempts for one channel.
type ChannelStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	Skips     int `json:"skips"`
}

// Summary describes a run. Values returned by the engine are copies.
type Summary struct {
	RunID           string                               `json:"run_id"`
	Resumed         bool                                 `json:"resumed"`
	StartedAt       time.Time                            `json:"started_at"`
	FinishedAt      time.Time                            `json:"finished_at,omitzero"`
	StopReason      string                               `json:"stop_reason,omitempty"`
	Channels        map[retrieval.ChannelID]ChannelStats `json:"channels"`
	Tiers           map[retrieval.Tier]int               `json:"tiers"`
	Statuses        map[retrieval.TargetStatus]int       `json:"statuses"`
	AlreadyDone     int                                  `json:"already_done"`
	Rediscovered    int                                  `json:"rediscovered"`
	PublishFailures int                                  `json:"publish_failures"`
	Budget          []budget.State                       `json:"budget"`
}

// Processed returns the number of targets that reached a status this run.
func (s Summary) Processed() int {
	n := 0
	for _, c := range s.Statuses {
		n += c
	}
	return n
}

// tally accumulates a Summary behind a mutex so the HTTP server can read it
// while the run loop writes.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func newTally(runID string, startedAt time.Time, resumed bool) *tally {
	return &tally{s: Summary{
		RunID:     runID,
		Resumed:   resumed,
		StartedAt: startedAt,
		Channels:  make(map[retrieval.ChannelID]ChannelStats),
		Tiers:     make(map[retrieval.Tier]int),
		Statuses:  make(map[retrieval.TargetStatus]int),
	}}
}

func (t *tally) record(report TargetReport, publishFailed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range report.Attempts {
		stats := t.s.Channels[a.Channel]
		switch a.Outcome {
		case retrieval.OutcomeSuccess:
			stats.Attempts++
			stats.Successes++
		case retrieval.OutcomeFailure:
			stats.Attempts++
			stats.Failures++
		case retrieval.OutcomeSkipped:
			stats.Skips++
		}
		t.s.Channels[a.Channel] = stats
	}
	t.s.Statuses[report.Status]++
	if report.Status != retrieval.TargetSkipped {
		t.s.Tiers[report.Verdict.Tier]++
	}
	if report.Rediscovered {
		t.s.Rediscovered++
	}
	if publishFailed {
		t.s.PublishFailures++
	}
}

func (t *tally) alreadyDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.AlreadyDone++
}

func (t *tally) finish(at time.Time, reason string, spend []budget.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.FinishedAt = at
	t.s.StopReason = reason
	t.s.Budget = spend
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.Channels = maps.Clone(t.s.Channels)
	out.Tiers = maps.Clone(t.s.Tiers)
	out.Statuses = maps.Clone(t.s.Statuses)
	out.Budget = append([]budget.State(nil), t.s.Budget...)
	return out
}
