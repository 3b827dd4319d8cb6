// Package budget implements admission control and spend accounting for
// metered retrieval channels. Usage is charged when an attempt starts and is
// persisted across runs through a storage.Store.
package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
	"github.com/JakeFAU/article-harvester/internal/storage"
)

// ErrCeilingExceeded is returned when a charge would cross a ceiling.
var ErrCeilingExceeded = errors.New("budget ceiling exceeded")

const dateLayout = "2006-01-02"

// Ceiling bounds spend on one channel. Zero values mean unlimited.
type Ceiling struct {
	DailySessions     int     `mapstructure:"daily_sessions"`
	RunSessions       int     `mapstructure:"run_sessions"`
	DailyMinutes      float64 `mapstructure:"daily_minutes"`
	MinutesPerSession float64 `mapstructure:"minutes_per_session"`
}

// Config lists the metered channels and persistence options.
type Config struct {
	Channels    map[retrieval.ChannelID]Ceiling
	HistoryDays int
	Key         string
}

// Cost is what one charge consumes.
type Cost struct {
	Sessions int
	Minutes  float64
}

// Usage is the persisted counter set for one channel.
type Usage struct {
	SessionsToday   int     `json:"sessions_today"`
	SessionsThisRun int     `json:"sessions_this_run"`
	MinutesToday    float64 `json:"minutes_today"`
}

// Day is an archived day of usage.
type Day struct {
	Date       string                        `json:"date"`
	PerChannel map[retrieval.ChannelID]Usage `json:"per_channel"`
}

type document struct {
	Date       string                        `json:"date"`
	PerChannel map[retrieval.ChannelID]Usage `json:"per_channel"`
	History    []Day                         `json:"history,omitempty"`
}

// State is a read-only view of one channel's budget.
type State struct {
	ChannelID           retrieval.ChannelID `json:"channel_id"`
	Date                string              `json:"date"`
	SessionsUsedToday   int                 `json:"sessions_used_today"`
	SessionsUsedThisRun int                 `json:"sessions_used_this_run"`
	MinutesUsed         float64             `json:"minutes_used"`
	Ceiling             Ceiling             `json:"ceiling"`
}

// Ledger enforces ceilings and records spend.
type Ledger struct {
	mu     sync.Mutex
	cfg    Config
	store  storage.Store
	clock  retrieval.Clock
	logger *zap.Logger
	doc    document
}

// New builds a Ledger. Call Load before use to pick up persisted usage.
func New(cfg Config, store storage.Store, clock retrieval.Clock, logger *zap.Logger) *Ledger {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 30
	}
	if cfg.Key == "" {
		cfg.Key = "budget"
	}
	if clock == nil {
		clock = retrieval.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		logger: logger,
		doc:    document{PerChannel: make(map[retrieval.ChannelID]Usage)},
	}
}

// Load reads persisted usage, rolls the day over when needed and starts a
// new run (per-run counters reset to zero).
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		raw, err := l.store.Get(ctx, l.cfg.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load budget ledger: %w", err)
		default:
			var doc document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode budget ledger: %w", err)
			}
			if doc.PerChannel == nil {
				doc.PerChannel = make(map[retrieval.ChannelID]Usage)
			}
			l.doc = doc
		}
	}
	for id, usage := range l.doc.PerChannel {
		usage.SessionsThisRun = 0
		l.doc.PerChannel[id] = usage
	}
	l.rollLocked()
	return nil
}

// Flush persists the ledger.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	raw, err := json.Marshal(l.doc)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode budget ledger: %w", err)
	}
	if err := l.store.Put(ctx, l.cfg.Key, raw); err != nil {
		return fmt.Errorf("persist budget ledger: %w", err)
	}
	return nil
}

// Metered reports whether the channel has a configured ceiling.
func (l *Ledger) Metered(id retrieval.ChannelID) bool {
	_, ok := l.cfg.Channels[id]
	return ok
}

// AttemptCost is the cost of starting one session on the channel.
func (l *Ledger) AttemptCost(id retrieval.ChannelID) Cost {
	return Cost{Sessions: 1, Minutes: l.cfg.Channels[id].MinutesPerSession}
}

// Admit reports whether one more session fits under every ceiling.
func (l *Ledger) Admit(id retrieval.ChannelID) bool {
	if !l.Metered(id) {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.fitsLocked(id, l.AttemptCost(id))
}

// Charge records cost against the channel. A charge that would cross a
// ceiling is refused with ErrCeilingExceeded and nothing is recorded.
func (l *Ledger) Charge(id retrieval.ChannelID, cost Cost) error {
	if !l.Metered(id) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	if !l.fitsLocked(id, cost) {
		return fmt.Errorf("charge %s: %w", id, ErrCeilingExceeded)
	}
	usage := l.doc.PerChannel[id]
	usage.SessionsToday += cost.Sessions
	usage.SessionsThisRun += cost.Sessions
	usage.MinutesToday += cost.Minutes
	l.doc.PerChannel[id] = usage
	l.logger.Debug("budget charged",
		zap.String("channel", string(id)),
		zap.Int("sessions_today", usage.SessionsToday),
		zap.Int("sessions_this_run", usage.SessionsThisRun),
		zap.Float64("minutes_today", usage.MinutesToday),
	)
	return nil
}

// ChargeAttempt charges the cost of one attempt.
func (l *Ledger) ChargeAttempt(id retrieval.ChannelID) error {
	return l.Charge(id, l.AttemptCost(id))
}

// State returns the current view of one channel.
func (l *Ledger) State(id retrieval.ChannelID) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	usage := l.doc.PerChannel[id]
	return State{
		ChannelID:           id,
		Date:                l.doc.Date,
		SessionsUsedToday:   usage.SessionsToday,
		SessionsUsedThisRun: usage.SessionsThisRun,
		MinutesUsed:         usage.MinutesToday,
		Ceiling:             l.cfg.Channels[id],
	}
}

// Snapshot returns every metered channel's state sorted by channel id.
func (l *Ledger) Snapshot() []State {
	ids := make([]retrieval.ChannelID, 0, len(l.cfg.Channels))
	for id := range l.cfg.Channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]State, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.State(id))
	}
	return out
}

// History returns archived days, oldest first.
func (l *Ledger) History() []Day {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Day(nil), l.doc.History...)
}

func (l *Ledger) fitsLocked(id retrieval.ChannelID, cost Cost) bool {
	ceiling := l.cfg.Channels[id]
	usage := l.doc.PerChannel[id]
	if ceiling.DailySessions > 0 && usage.SessionsToday+cost.Sessions > ceiling.DailySessions {
		return false
	}
	if ceiling.RunSessions > 0 && usage.SessionsThisRun+cost.Sessions > ceiling.RunSessions {
		return false
	}
	if ceiling.DailyMinutes > 0 && usage.MinutesToday+cost.Minutes > ceiling.DailyMinutes {
		return false
	}
	return true
}

// rollLocked archives the previous day and resets daily counters when the
// calendar date has changed. Per-run counters survive the rollover.
func (l *Ledger) rollLocked() {
	today := l.clock.Now().Format(dateLayout)
	if l.doc.Date == today {
		return
	}
	if l.doc.Date != "" && hasUsage(l.doc.PerChannel) {
		archived := Day{Date: l.doc.Date, PerChannel: make(map[retrieval.ChannelID]Usage, len(l.doc.PerChannel))}
		for id, usage := range l.doc.PerChannel {
			archived.PerChannel[id] = Usage{SessionsToday: usage.SessionsToday, MinutesToday: usage.MinutesToday}
		}
		l.doc.History = append(l.doc.History, archived)
		if over := len(l.doc.History) - l.cfg.HistoryDays; over > 0 {
			l.doc.History = append([]Day(nil), l.doc.History[over:]...)
		}
		l.logger.Info("budget day rolled over",
			zap.String("previous", l.doc.Date),
			zap.String("today", today),
		)
	}
	for id, usage := range l.doc.PerChannel {
		l.doc.PerChannel[id] = Usage{SessionsThisRun: usage.SessionsThisRun}
	}
	l.doc.Date = today
}

func hasUsage(per map[retrieval.ChannelID]Usage) bool {
	for _, usage := range per {
		if usage.SessionsToday > 0 || usage.MinutesToday > 0 {
			return true
		}
	}
	return false
}
