package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

// PrometheusSink exports run lifecycle and per-site collectors. The global
// metrics package counts attempts by channel; this sink adds the site
// dimension and run-level gauges.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runWallTime   *prometheus.HistogramVec

	siteAttempts *prometheus.CounterVec
	siteTargets  *prometheus.CounterVec
	siteDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
// Collectors that are already registered are reused so several sinks may
// share one registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{tracker: newRunTracker()}
	var err error
	if s.runsStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvester_runs_started_total",
		Help: "Total harvest runs started.",
	})); err != nil {
		return nil, err
	}
	if s.runsCompleted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_runs_completed_total",
		Help: "Total harvest runs finished, partitioned by stop reason.",
	}, []string{"stop_reason"})); err != nil {
		return nil, err
	}
	if s.runsActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_runs_active",
		Help: "Runs currently in progress.",
	})); err != nil {
		return nil, err
	}
	if s.runWallTime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_run_wall_time_seconds",
		Help:    "Wall time per finished run.",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
	}, []string{"stop_reason"})); err != nil {
		return nil, err
	}
	if s.siteAttempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_site_attempts_total",
		Help: "Channel attempts partitioned by site, channel and outcome.",
	}, []string{"site", "channel", "outcome"})); err != nil {
		return nil, err
	}
	if s.siteTargets, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_site_targets_total",
		Help: "Finished targets partitioned by site and status.",
	}, []string{"site", "status"})); err != nil {
		return nil, err
	}
	if s.siteDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_site_attempt_duration_seconds",
		Help:    "Attempt latency partitioned by site and channel.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"site", "channel"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		reason := evt.Note
		if reason == "" {
			reason = "unknown"
		}
		s.runsCompleted.WithLabelValues(reason).Inc()
		if evt.Dur > 0 {
			s.runWallTime.WithLabelValues(reason).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
	case progress.StageAttempt:
		site := siteLabel(evt.Site)
		s.siteAttempts.WithLabelValues(site, evt.Channel, evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.siteDuration.WithLabelValues(site, evt.Channel).Observe(evt.Dur.Seconds())
		}
	case progress.StageTargetDone:
		s.siteTargets.WithLabelValues(siteLabel(evt.Site), evt.Status).Inc()
	}
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
