// Package netmon tracks whether the authority is reachable and fires a
// callback when connectivity comes back.
package netmon

import (
	"context"
	"sync"
	"time"

	"zt-go/internal/metrics"
	"zt-go/internal/zt"
)

// Prober checks reachability. zt.Authority satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// Transitions is the debounced connectivity state machine. It holds no
// clock; callers pass the observation time.
type Transitions struct {
	Debounce time.Duration
	Cooldown time.Duration

	online         bool
	candidateSince time.Time
	lastFired      time.Time
}

// Observe records one probe result and reports whether it completes a
// stable offline->online transition that should fire. Flapping shorter
// than Debounce never fires, and firings are at least Cooldown apart.
func (t *Transitions) Observe(online bool, now time.Time) bool {
	if !online {
		t.online = false
		t.candidateSince = time.Time{}
		return false
	}
	if t.online {
		return false
	}
	if t.candidateSince.IsZero() {
		t.candidateSince = now
	}
	if now.Sub(t.candidateSince) < t.Debounce {
		return false
	}

	t.online = true
	t.candidateSince = time.Time{}
	if !t.lastFired.IsZero() && now.Sub(t.lastFired) < t.Cooldown {
		return false
	}
	t.lastFired = now
	return true
}

// Online reports the debounced state.
func (t *Transitions) Online() bool { return t.online }

// Confirming reports whether an online observation is waiting out the
// debounce period.
func (t *Transitions) Confirming() bool { return !t.candidateSince.IsZero() }

// Config holds the monitor timings.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Debounce      time.Duration
	Cooldown      time.Duration
}

// Monitor probes the authority on an interval.
type Monitor struct {
	prober   Prober
	cfg      Config
	clock    zt.Clock
	logger   zt.Logger
	onOnline func(ctx context.Context)
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state Transitions
}

// New creates a Monitor. onOnline runs on the probe goroutine each time the
// monitor fires; it may be nil.
func New(prober Prober, cfg Config, clock zt.Clock, logger zt.Logger, onOnline func(ctx context.Context)) *Monitor {
	if clock == nil {
		clock = zt.RealClock{}
	}
	if logger == nil {
		logger = zt.NewNopLogger()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = min(cfg.ProbeInterval, 10*time.Second)
	}
	return &Monitor{
		prober:   prober,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		onOnline: onOnline,
		sleep:    sleepContext,
		state:    Transitions{Debounce: cfg.Debounce, Cooldown: cfg.Cooldown},
	}
}

// Online reports whether the authority is considered reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online()
}

// Check probes once and applies the result. It returns whether the probe
// fired the online callback.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.prober.Ping(probeCtx)
	cancel()

	m.mu.Lock()
	wasOnline := m.state.Online()
	fire := m.state.Observe(err == nil, m.clock.Now())
	online := m.state.Online()
	m.mu.Unlock()

	if online {
		metrics.NetworkOnline.Set(1)
	} else {
		metrics.NetworkOnline.Set(0)
	}
	switch {
	case wasOnline && !online:
		m.logger.Warn("authority unreachable", "error", err)
	case !wasOnline && online:
		m.logger.Info("authority reachable")
	}

	if fire && m.onOnline != nil {
		m.onOnline(ctx)
	}
	return fire
}

// Run probes until ctx is cancelled. While an online observation is being
// confirmed it re-probes after the debounce period instead of waiting a
// full interval.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("network monitor started", "interval", m.cfg.ProbeInterval, "debounce", m.cfg.Debounce)
	for {
		m.Check(ctx)

		wait := m.cfg.ProbeInterval
		m.mu.Lock()
		if m.state.Confirming() && m.cfg.Debounce < wait {
			wait = m.cfg.Debounce
		}
		m.mu.Unlock()

		if err := m.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
