package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"zt-go/internal/api"
	"zt-go/internal/config"
	"zt-go/internal/netmon"
	"zt-go/internal/scheduler"
	"zt-go/internal/zt"
)

const (
	familyCapture = "capture"
	familySync    = "sync"
	syncJobName   = "sync"

	syncJobTimeout  = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// Daemon hosts the scheduler, the network monitor and the local API.
type Daemon struct {
	app       *ZTApp
	scheduler *scheduler.Scheduler
	monitor   *netmon.Monitor
	server    *http.Server
}

// NewDaemon registers every job from the config. Jobs are rebuilt from the
// config on each start, so a restart picks up changed capture times.
func (a *ZTApp) NewDaemon() (*Daemon, error) {
	d := &Daemon{
		app:       a,
		scheduler: scheduler.New(a.db, a.clock, a.logger),
	}

	online := func() bool { return false }
	if a.authority != nil {
		d.monitor = netmon.New(a.authority, netmon.Config{
			ProbeInterval: a.cfg.Network.ProbeInterval.Duration,
			Debounce:      a.cfg.Network.Debounce.Duration,
			Cooldown:      a.cfg.Network.Cooldown.Duration,
		}, a.clock, a.logger, d.onOnline)
		online = d.monitor.Online
	}

	families, err := BuildJobs(a.cfg, a.service, a.logger, online, a.authority != nil)
	if err != nil {
		return nil, err
	}
	for _, family := range []string{familyCapture, familySync} {
		if jobs := families[family]; len(jobs) > 0 {
			if err := d.scheduler.Register(family, jobs...); err != nil {
				return nil, fmt.Errorf("registering %s jobs: %w", family, err)
			}
		}
	}

	d.server = &http.Server{
		Addr:              a.cfg.API.Listen,
		Handler:           api.NewHandler(a.service, a.logger, a.clock).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// Scheduler exposes the job scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// onOnline pushes pending work as soon as the authority is reachable again.
func (d *Daemon) onOnline(ctx context.Context) {
	d.app.logger.Info("connectivity restored, syncing")
	if err := d.scheduler.Fire(ctx, syncJobName); err != nil {
		d.app.logger.Warn("sync after reconnect failed", "error", err)
	}
}

// Run blocks until ctx is cancelled, then shuts the API server down.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.scheduler.Run(ctx) })
	if d.monitor != nil {
		g.Go(func() error { return d.monitor.Run(ctx) })
	}
	g.Go(func() error {
		d.app.logger.Info("local API listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("local API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	d.app.logger.Info("daemon stopped")
	return err
}

// BuildJobs turns the config into job families: one capture job per
// configured time of day and, when an authority is configured, a periodic
// sync gated on connectivity.
func BuildJobs(cfg *config.Config, svc *zt.Service, logger zt.Logger, online func() bool, withSync bool) (map[string][]scheduler.Job, error) {
	families := make(map[string][]scheduler.Job)

	capture := func(ctx context.Context) error {
		res, err := svc.Capture(ctx)
		if err != nil {
			return err
		}
		logger.Info("scheduled capture", "action", res.Action)
		if withSync && online() {
			if _, err := svc.Sync(ctx, zt.SyncOptions{}); err != nil {
				logger.Warn("sync after capture failed", "error", err)
			}
		}
		return nil
	}

	for _, at := range cfg.Capture.Times {
		rec, err := scheduler.ParseDailyAt(at, time.Local)
		if err != nil {
			return nil, err
		}
		families[familyCapture] = append(families[familyCapture], scheduler.Job{
			Name:       "capture-" + at,
			Recurrence: rec,
			Run:        capture,
			Retry: scheduler.Retry{
				MaxAttempts: 3,
				Backoff:     scheduler.BackoffPolicy{Min: time.Minute, Max: 10 * time.Minute, Multiplier: 2},
				Retryable:   func(err error) bool { return !errors.Is(err, zt.ErrValidation) },
			},
			Timeout: 2 * cfg.Capture.Timeout.Duration,
		})
	}

	if withSync {
		families[familySync] = []scheduler.Job{{
			Name:       syncJobName,
			Recurrence: scheduler.Every{Interval: cfg.Sync.Interval.Duration},
			Condition:  online,
			Run: func(ctx context.Context) error {
				out, err := svc.Sync(ctx, zt.SyncOptions{})
				if err != nil {
					return err
				}
				if out.Conflicts > 0 {
					logger.Warn("sync reported conflicts", "conflicts", out.Conflicts)
				}
				return nil
			},
			Retry: scheduler.Retry{
				MaxAttempts: cfg.Sync.MaxAttempts,
				Backoff: scheduler.BackoffPolicy{
					Min:        cfg.Sync.BackoffMin.Duration,
					Max:        cfg.Sync.BackoffMax.Duration,
					Multiplier: 2,
				},
				Retryable: zt.IsTransient,
			},
			Timeout: syncJobTimeout,
		}}
	}
	return families, nil
}
