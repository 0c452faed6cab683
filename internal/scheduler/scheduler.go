// Package scheduler runs recurring background jobs. Jobs are grouped into
// families; each family runs in its own goroutine so a slow capture never
// delays a sync. Every attempt is recorded as a job run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"zt-go/internal/metrics"
	"zt-go/internal/zt"
)

// Recorder persists job attempts. zt.Store satisfies it.
type Recorder interface {
	StartJobRun(job string, attempt int, startedAt time.Time) (int64, error)
	FinishJobRun(id int64, state string, detail string, finishedAt time.Time) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ErrPanic wraps a recovered panic from a job.
var ErrPanic = errors.New("job panicked")

type entry struct {
	job    Job
	family string
	status JobStatus
}

// Scheduler owns the registered jobs.
type Scheduler struct {
	recorder Recorder
	clock    zt.Clock
	logger   zt.Logger
	sleep    SleepFunc

	mu       sync.Mutex
	families map[string][]*entry
	byName   map[string]*entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSleep replaces the timer used between firings and retries.
func WithSleep(fn SleepFunc) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// New creates a Scheduler. A nil recorder skips persistence.
func New(recorder Recorder, clock zt.Clock, logger zt.Logger, opts ...Option) *Scheduler {
	if clock == nil {
		clock = zt.RealClock{}
	}
	if logger == nil {
		logger = zt.NewNopLogger()
	}
	s := &Scheduler{
		recorder: recorder,
		clock:    clock,
		logger:   logger,
		sleep:    sleepContext,
		families: make(map[string][]*entry),
		byName:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds jobs to a family. Job names must be unique.
func (s *Scheduler) Register(family string, jobs ...Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil || j.Recurrence == nil {
			return fmt.Errorf("job %q: name, recurrence and run are required", j.Name)
		}
		if _, dup := s.byName[j.Name]; dup {
			return fmt.Errorf("job %q already registered", j.Name)
		}
		e := &entry{job: j, family: family, status: JobStatus{Name: j.Name, Family: family, State: StateRegistered}}
		s.families[family] = append(s.families[family], e)
		s.byName[j.Name] = e
	}
	return nil
}

// Jobs returns a snapshot of every registered job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run blocks until ctx is cancelled or a family loop fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	families := make(map[string][]*entry, len(s.families))
	for name, entries := range s.families {
		families[name] = entries
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for name, entries := range families {
		g.Go(func() error {
			return s.runFamily(ctx, name, entries)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runFamily fires the family's jobs one at a time, earliest first.
func (s *Scheduler) runFamily(ctx context.Context, family string, entries []*entry) error {
	s.logger.Info("job family started", "family", family, "jobs", len(entries))

	for _, e := range entries {
		s.arm(e, s.clock.Now())
	}

	for {
		next := s.earliest(entries)
		wait := s.nextFire(next).Sub(s.clock.Now())
		if wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		for _, e := range entries {
			if s.nextFire(e).After(now) {
				continue
			}
			s.Fire(ctx, e.job.Name)
			s.arm(e, s.clock.Now())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Fire runs one firing of the named job, with retries, and returns the
// error of the last attempt. Conditions are honoured.
func (s *Scheduler) Fire(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	if e.job.Condition != nil && !e.job.Condition() {
		s.setState(e, StateSkipped, "")
		metrics.JobRuns.WithLabelValues(name, string(StateSkipped)).Inc()
		s.logger.Debug("job skipped", "job", name)
		return nil
	}

	maxAttempts := e.job.Retry.attempts()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.attempt(ctx, e, attempt)
		if err == nil {
			s.finish(e, StateSucceeded, "")
			return nil
		}
		if ctx.Err() != nil {
			s.finish(e, StateFailed, err.Error())
			return err
		}
		if attempt == maxAttempts || !e.job.Retry.retryable(err) {
			break
		}

		delay := e.job.Retry.Backoff.Delay(attempt)
		s.setState(e, StateRetrying, err.Error())
		s.logger.Warn("job attempt failed, retrying", "job", name, "attempt", attempt, "delay", delay, "error", err)
		if serr := s.sleep(ctx, delay); serr != nil {
			s.finish(e, StateFailed, err.Error())
			return err
		}
	}

	s.finish(e, StateFailed, err.Error())
	s.logger.Error("job failed", "job", name, "error", err)
	return err
}

// attempt runs the job once, recording the run and recovering panics.
func (s *Scheduler) attempt(ctx context.Context, e *entry, attempt int) (err error) {
	name := e.job.Name
	s.setState(e, StateRunning, "")

	var runID int64
	if s.recorder != nil {
		id, rerr := s.recorder.StartJobRun(name, attempt, s.clock.Now())
		if rerr != nil {
			s.logger.Warn("recording job start failed", "job", name, "error", rerr)
		}
		runID = id
	}

	runCtx := ctx
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}

		state := StateSucceeded
		detail := ""
		if err != nil {
			state = StateFailed
			if attempt < e.job.Retry.attempts() && e.job.Retry.retryable(err) && ctx.Err() == nil {
				state = StateRetrying
			}
			detail = err.Error()
		}
		metrics.JobRuns.WithLabelValues(name, string(state)).Inc()
		if s.recorder != nil && runID != 0 {
			if ferr := s.recorder.FinishJobRun(runID, string(state), detail, s.clock.Now()); ferr != nil {
				s.logger.Warn("recording job finish failed", "job", name, "error", ferr)
			}
		}
	}()

	return e.job.Run(runCtx)
}

func (s *Scheduler) arm(e *entry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.status.NextFire = NextFireTime(e.job.Recurrence, now)
	if e.status.State == StateRegistered {
		e.status.State = StatePending
	}
}

func (s *Scheduler) nextFire(e *entry) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.status.NextFire
}

func (s *Scheduler) earliest(entries []*entry) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := entries[0]
	for _, e := range entries[1:] {
		if e.status.NextFire.Before(first.status.NextFire) {
			first = e
		}
	}
	return first
}

func (s *Scheduler) setState(e *entry, state State, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.status.State = state
	if lastErr != "" {
		e.status.LastErr = lastErr
	}
}

func (s *Scheduler) finish(e *entry, state State, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.status.State = state
	e.status.LastErr = lastErr
	e.status.LastRun = s.clock.Now()
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
