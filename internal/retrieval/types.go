// Package retrieval defines the core retrieval types, the failure taxonomy, the
// channel contract and the escalation engine that walks channels for a Target.
package retrieval

import (
	"time"
)

// ChannelID names one retrieval backend.
type ChannelID string

// Known channels.
const (
	ChannelDirectBrowser   ChannelID = "direct_browser"
	ChannelRemoteBrowser   ChannelID = "remote_browser"
	ChannelRenderingProxy  ChannelID = "rendering_proxy"
	ChannelUnblockingProxy ChannelID = "unblocking_proxy"
	ChannelSnapshot        ChannelID = "snapshot"
)

// AllChannels lists every channel in default escalation order.
var AllChannels = []ChannelID{
	ChannelDirectBrowser,
	ChannelRemoteBrowser,
	ChannelRenderingProxy,
	ChannelUnblockingProxy,
	ChannelSnapshot,
}

// ParseChannelID validates a channel name from configuration or flags.
func ParseChannelID(raw string) (ChannelID, bool) {
	for _, id := range AllChannels {
		if string(id) == raw {
			return id, true
		}
	}
	return "", false
}

// SiteHints describe what is known about a target's site.
type SiteHints struct {
	Paywalled        bool `json:"paywalled" mapstructure:"paywalled"`
	KnownBlocked     bool `json:"known_blocked" mapstructure:"known_blocked"`
	ArchivePreferred bool `json:"archive_preferred" mapstructure:"archive_preferred"`
}

// Merge returns the union of both hint sets.
func (h SiteHints) Merge(other SiteHints) SiteHints {
	return SiteHints{
		Paywalled:        h.Paywalled || other.Paywalled,
		KnownBlocked:     h.KnownBlocked || other.KnownBlocked,
		ArchivePreferred: h.ArchivePreferred || other.ArchivePreferred,
	}
}

// Target is one URL-bearing unit of retrieval work. Only URL may change, and
// only through rediscovery.
type Target struct {
	ID            string          `json:"id"`
	URL           string          `json:"url"`
	Hints         SiteHints       `json:"hints"`
	TopicKeyword  string          `json:"topic_keyword"`
	Excerpt       string          `json:"excerpt,omitempty"`
	PriorAttempts []AttemptRecord `json:"prior_attempts,omitempty"`
}

// TargetStatus is the terminal state of a target within a run.
type TargetStatus string

// Target lifecycle values.
const (
	TargetQueued  TargetStatus = "queued"
	TargetSuccess TargetStatus = "success"
	TargetFailed  TargetStatus = "failed"
	TargetSkipped TargetStatus = "skipped"
)

// Outcome is the result of a single attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// AttemptRecord is appended for every attempt, successful or not.
type AttemptRecord struct {
	Channel   ChannelID     `json:"channel"`
	Outcome   Outcome       `json:"outcome"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	URL       string        `json:"url"`
	Try       int           `json:"try"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Provenance records where a retrieval came from.
type Provenance struct {
	FinalURL          string    `json:"final_url"`
	StatusCode        int       `json:"status_code"`
	SnapshotTimestamp string    `json:"snapshot_timestamp,omitempty"`
	RetrievedAt       time.Time `json:"retrieved_at"`
}

// RetrievalResult is produced by a successful channel call.
type RetrievalResult struct {
	RawContent    []byte     `json:"-"`
	ExtractedText string     `json:"extracted_text"`
	ChannelUsed   ChannelID  `json:"channel_used"`
	Provenance    Provenance `json:"provenance"`
}

// Tier classifies the completeness of retrieved text.
type Tier string

// Quality tiers.
const (
	TierFull      Tier = "full"
	TierPartial   Tier = "partial"
	TierExcerpt   Tier = "excerpt"
	TierTruncated Tier = "truncated"
	TierMissing   Tier = "missing"
)

// AllTiers lists tiers from best to worst.
var AllTiers = []Tier{TierFull, TierPartial, TierExcerpt, TierTruncated, TierMissing}

// QualityVerdict replaces the raw text before persistence.
type QualityVerdict struct {
	Tier        Tier     `json:"tier"`
	Signals     []string `json:"signals,omitempty"`
	CleanedText string   `json:"cleaned_text"`
}
