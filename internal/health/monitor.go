// Package health tracks the liveness of the local browser session and decides
// when the Direct Browser channel must be abandoned for the rest of a run.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is returned once the crash ceiling has been crossed.
var ErrExhausted = errors.New("browser session exhausted")

// State is the monitor's view of the browser session.
type State string

// Monitor states.
const (
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateExhausted State = "exhausted"
)

// Browser is the session the monitor supervises.
type Browser interface {
	Ping(ctx context.Context) error
	Restart(ctx context.Context) error
}

// Config bounds probing and recovery.
type Config struct {
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	RestartTimeout  time.Duration `mapstructure:"restart_timeout"`
	RestartAttempts int           `mapstructure:"restart_attempts"`
	CrashCeiling    int           `mapstructure:"crash_ceiling"`
}

// Monitor is the Healthy/Unhealthy/Exhausted state machine. Exhausted is
// absorbing for the life of the monitor.
type Monitor struct {
	cfg       Config
	browser   Browser
	logger    *zap.Logger
	onRestart func(ok bool)

	mu      sync.Mutex
	state   State
	crashes int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithRestartHook is called after every restart attempt.
func WithRestartHook(fn func(ok bool)) Option {
	return func(m *Monitor) { m.onRestart = fn }
}

// New builds a Monitor in the Healthy state.
func New(cfg Config, browser Browser, logger *zap.Logger, opts ...Option) *Monitor {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.RestartTimeout <= 0 {
		cfg.RestartTimeout = 30 * time.Second
	}
	if cfg.RestartAttempts <= 0 {
		cfg.RestartAttempts = 2
	}
	if cfg.CrashCeiling <= 0 {
		cfg.CrashCeiling = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{cfg: cfg, browser: browser, logger: logger, state: StateHealthy}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check pings the browser. A failed check counts as a crash and triggers
// bounded restart attempts. It returns nil when the browser is usable.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateExhausted {
		return ErrExhausted
	}
	err := m.ping(ctx)
	if err == nil {
		m.state = StateHealthy
		return nil
	}
	m.crashes++
	m.state = StateUnhealthy
	m.logger.Warn("browser liveness check failed",
		zap.Int("crashes", m.crashes),
		zap.Error(err),
	)
	if m.crashes > m.cfg.CrashCeiling {
		return m.exhaust()
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.RestartAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("restart browser: %w", ctx.Err())
		}
		lastErr = m.restart(ctx)
		if m.onRestart != nil {
			m.onRestart(lastErr == nil)
		}
		if lastErr == nil {
			lastErr = m.ping(ctx)
		}
		if lastErr == nil {
			m.state = StateHealthy
			m.logger.Info("browser restarted", zap.Int("attempt", attempt), zap.Int("crashes", m.crashes))
			return nil
		}
		m.logger.Warn("browser restart failed", zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	return m.exhaust()
}

// Available reports whether the Direct Browser may still be used.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateExhausted
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Crashes returns the number of failed checks seen so far.
func (m *Monitor) Crashes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crashes
}

func (m *Monitor) exhaust() error {
	m.state = StateExhausted
	m.logger.Error("browser session exhausted; direct browser disabled for this run",
		zap.Int("crashes", m.crashes),
	)
	return ErrExhausted
}

func (m *Monitor) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
	defer cancel()
	return m.browser.Ping(pingCtx)
}

func (m *Monitor) restart(ctx context.Context) error {
	restartCtx, cancel := context.WithTimeout(ctx, m.cfg.RestartTimeout)
	defer cancel()
	if err := m.browser.Restart(restartCtx); err != nil {
		return fmt.Errorf("restart browser: %w", err)
	}
	return nil
}
