package scheduler

import (
	"context"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateRegistered State = "registered"
	StatePending    State = "pending" // armed, waiting for its fire time
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateRetrying   State = "retrying"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped" // condition not met at fire time
)

// Job is one recurring unit of background work.
type Job struct {
	Name       string
	Recurrence Recurrence
	Run        func(ctx context.Context) error

	// Condition gates a firing. A nil Condition always runs.
	Condition func() bool

	Retry Retry

	// Timeout bounds each attempt. Zero means no limit.
	Timeout time.Duration
}

// Retry controls what happens after a failed attempt.
type Retry struct {
	// MaxAttempts is the total number of attempts per firing. Values
	// below 1 mean a single attempt.
	MaxAttempts int
	Backoff     BackoffPolicy

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
}

func (r Retry) attempts() int {
	if r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

func (r Retry) retryable(err error) bool {
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	Name     string
	Family   string
	State    State
	NextFire time.Time
	LastRun  time.Time
	LastErr  string
}
