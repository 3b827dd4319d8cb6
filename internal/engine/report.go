package engine

import (
	"time"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// TargetReport is published once per attempted target.
type TargetReport struct {
	RunID        string                    `json:"run_id"`
	TargetID     string                    `json:"target_id"`
	URL          string                    `json:"url"`
	OriginalURL  string                    `json:"original_url,omitempty"`
	Status       retrieval.TargetStatus    `json:"status"`
	Channel      retrieval.ChannelID       `json:"channel,omitempty"`
	Provenance   *retrieval.Provenance     `json:"provenance,omitempty"`
	Verdict      retrieval.QualityVerdict  `json:"verdict"`
	Attempts     []retrieval.AttemptRecord `json:"attempts"`
	ErrorKind    retrieval.ErrorKind       `json:"error_kind,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Rediscovered bool                      `json:"rediscovered,omitempty"`
	CompletedAt  time.Time                 `json:"completed_at"`
}

// Attributes implements publisher.Attributed.
func (r TargetReport) Attributes() map[string]string {
	attrs := map[string]string{
		"run_id":    r.RunID,
		"target_id": r.TargetID,
		"status":    string(r.Status),
		"tier":      string(r.Verdict.Tier),
	}
	if r.Channel != "" {
		attrs["channel"] = string(r.Channel)
	}
	return attrs
}
