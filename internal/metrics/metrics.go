// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturesTotal counts capture attempts by outcome
	// (created, extended, unchanged, none, no_fix, timeout, error).
	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zt_captures_total",
		Help: "Total number of location capture attempts by outcome",
	}, []string{"outcome"})

	// CaptureDuration measures fix + geocode + store time.
	CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zt_capture_duration_seconds",
		Help:    "Duration of successful captures in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SyncRuns counts sync runs by result (ok, transient, rejected, error).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zt_sync_runs_total",
		Help: "Total number of sync runs by result",
	}, []string{"result"})

	// SyncRecords counts per-record sync outcomes
	// (synced, failed, released, conflict, applied).
	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zt_sync_records_total",
		Help: "Total number of records processed by sync, by entity and outcome",
	}, []string{"entity", "outcome"})

	// SyncDuration measures a full sync round trip.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zt_sync_duration_seconds",
		Help:    "Duration of sync runs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PendingRecords is the number of records waiting to be synced.
	// A growing value while online means the authority keeps failing.
	PendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zt_pending_records",
		Help: "Current number of trips and readings not yet synced",
	})

	// OpenConflicts is the number of unresolved sync conflicts.
	OpenConflicts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zt_open_conflicts",
		Help: "Current number of unresolved sync conflicts",
	})

	// DaysUsed is the zone day count of the last computed snapshot.
	DaysUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zt_days_used",
		Help: "Days spent in the zone within the current window",
	})

	// NetworkOnline is 1 while the authority is reachable.
	NetworkOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zt_network_online",
		Help: "Authority reachability (1 online, 0 offline)",
	})

	// JobRuns counts scheduler job attempts by job and final state.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zt_job_runs_total",
		Help: "Total number of scheduler job attempts by job and state",
	}, []string{"job", "state"})
)
