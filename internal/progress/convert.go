package progress

import (
	"time"

	"github.com/JakeFAU/article-harvester/internal/engine"
	"github.com/JakeFAU/article-harvester/internal/metrics"
	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// RunEvent converts an engine summary into a run start or run done event
// depending on whether the run has finished.
func RunEvent(s engine.Summary) Event {
	if s.FinishedAt.IsZero() {
		note := ""
		if s.Resumed {
			note = "resumed"
		}
		return Event{RunID: s.RunID, TS: s.StartedAt.UTC(), Stage: StageRunStart, Note: note}
	}
	return Event{
		RunID: s.RunID,
		TS:    s.FinishedAt.UTC(),
		Stage: StageRunDone,
		Dur:   s.FinishedAt.Sub(s.StartedAt),
		Note:  s.StopReason,
	}
}

// AttemptEvent converts a single channel attempt.
func AttemptEvent(runID string, target retrieval.Target, rec retrieval.AttemptRecord) Event {
	url := rec.URL
	if url == "" {
		url = target.URL
	}
	return Event{
		RunID:    runID,
		TS:       rec.Timestamp.UTC(),
		Stage:    StageAttempt,
		TargetID: target.ID,
		Site:     metrics.SanitizeSite(url),
		Channel:  string(rec.Channel),
		Outcome:  string(rec.Outcome),
		Kind:     string(rec.ErrorKind),
		Dur:      rec.Duration,
	}
}

// TargetEvent converts a finished target report.
func TargetEvent(r engine.TargetReport) Event {
	var elapsed time.Duration
	for _, a := range r.Attempts {
		elapsed += a.Duration
	}
	return Event{
		RunID:    r.RunID,
		TS:       r.CompletedAt.UTC(),
		Stage:    StageTargetDone,
		TargetID: r.TargetID,
		Site:     metrics.SanitizeSite(r.URL),
		Channel:  string(r.Channel),
		Kind:     string(r.ErrorKind),
		Status:   string(r.Status),
		Tier:     string(r.Verdict.Tier),
		Dur:      elapsed,
	}
}
