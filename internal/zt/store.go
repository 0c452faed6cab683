package zt

import (
	"time"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
)

// Store is the on-device source of truth for trips and location readings.
// It is the only writer of SyncStatus. Every method runs in its own
// transaction, so a failed call leaves no partial state behind.
type Store interface {
	// Trip operations

	// CreateTrip inserts a new local trip as pending. LocalID must be set.
	CreateTrip(trip *model.Trip) error

	// UpdateTrip stores a user edit: the revision is bumped and the trip is
	// marked pending, whatever its previous status.
	UpdateTrip(trip *model.Trip) error

	// DeleteTrip removes a never-synced trip outright, or turns a synced
	// trip into a pending tombstone.
	DeleteTrip(localID string) error

	// FindTrip returns a trip by localId, or nil if it does not exist.
	FindTrip(localID string) (*model.Trip, error)

	// ListTrips returns live trips (not deleted, not quarantined) ordered by
	// start date. Rows that cannot be parsed are quarantined and skipped.
	ListTrips() ([]model.Trip, error)

	// PendingSyncCount counts trips and readings not yet synced.
	PendingSyncCount() (int, error)

	// Capture operations

	// RecordCapture inserts reading and, when candidate is non-nil, merges it
	// into a contiguous trip for the same country or inserts it.
	RecordCapture(reading *model.LocationReading, candidate *model.Trip, mergeGapDays int) (*CaptureRecord, error)

	// ListReadings returns the most recent readings, newest first.
	ListReadings(limit int) ([]model.LocationReading, error)

	// Sync bookkeeping

	// RequeueFailed moves failed records back to pending.
	RequeueFailed() (int, error)

	// ClaimPendingTrips marks pending trips without an open conflict as
	// syncing and returns them with their current revision.
	ClaimPendingTrips() ([]model.Trip, error)

	// ClaimPendingReadings marks pending readings as syncing.
	ClaimPendingReadings() ([]model.LocationReading, error)

	// ReleaseTrips returns syncing trips to pending.
	ReleaseTrips(localIDs []string) error

	// ReleaseReadings returns syncing readings to pending.
	ReleaseReadings(localIDs []string) error

	// AckTrip records a successful push. The server id and base version are
	// always stored; the trip only becomes synced if its revision still
	// matches, otherwise the newer local edit stays pending.
	AckTrip(localID string, revision int64, server *model.Trip) error

	// AckTripDelete removes an acknowledged tombstone.
	AckTripDelete(localID string) error

	// FailTrip marks a trip failed after a definite rejection. Local data is
	// left untouched.
	FailTrip(localID string, revision int64, reason string) error

	// AckReading stores the server id of a reading and marks it synced.
	AckReading(localID string, id int64) error

	// FailReading marks a reading failed.
	FailReading(localID string, reason string) error

	// ApplyServerTrip applies a remote trip version. Local records with
	// unsynced edits are not overwritten.
	ApplyServerTrip(server *model.Trip) (*ApplyResult, error)

	// ApplyServerDelete applies a remote delete, matched by id or localId.
	ApplyServerDelete(id int64, localID string) (*ApplyResult, error)

	// RecordConflict stores a conflict, replacing any earlier one for the
	// same localId. The local trip itself is not modified beyond returning
	// it to pending.
	RecordConflict(c *model.Conflict) error

	// ListConflicts returns unresolved conflicts.
	ListConflicts() ([]model.Conflict, error)

	// ResolveConflict applies the user's choice and clears the conflict.
	ResolveConflict(localID string, resolution model.Resolution) error

	// LastSync returns the server time of the last successful sync, or nil.
	LastSync() (*time.Time, error)

	// SetLastSync stores the server time of a successful sync.
	SetLastSync(t time.Time) error

	// Compliance cache

	// SaveSnapshot caches the latest computed snapshot for offline display.
	SaveSnapshot(snap *compliance.Snapshot) error

	// LoadSnapshot returns the cached snapshot, or nil.
	LoadSnapshot() (*compliance.Snapshot, error)

	// Job runs

	// StartJobRun records the start of a scheduled or manual job attempt.
	StartJobRun(job string, attempt int, startedAt time.Time) (int64, error)

	// FinishJobRun records the final state of a job attempt.
	FinishJobRun(id int64, state string, detail string, finishedAt time.Time) error

	// ListJobRuns returns the most recent job runs, newest first.
	ListJobRuns(limit int) ([]model.JobRun, error)

	// MaxJobRunID returns the highest job run id, or 0 if none exist.
	// It versions store snapshots uploaded to the vault.
	MaxJobRunID() (int64, error)

	// BackupTo writes a consistent copy of the store to destPath.
	BackupTo(destPath string) error

	// Close closes the underlying database.
	Close() error
}

// CaptureAction describes what a capture did to the trip list.
type CaptureAction string

const (
	CaptureNone      CaptureAction = "none"      // reading only, no trip touched
	CaptureCreated   CaptureAction = "created"   // new trip started today
	CaptureExtended  CaptureAction = "extended"  // existing trip extended to today
	CaptureUnchanged CaptureAction = "unchanged" // existing trip already covers today
)

// CaptureRecord is the result of Store.RecordCapture.
type CaptureRecord struct {
	Action CaptureAction
	Trip   *model.Trip
}

// ApplyAction describes how a server change was applied locally.
type ApplyAction string

const (
	ApplyInserted ApplyAction = "inserted"
	ApplyUpdated  ApplyAction = "updated"
	ApplyDeleted  ApplyAction = "deleted"
	ApplySkipped  ApplyAction = "skipped"
	ApplyConflict ApplyAction = "conflict"
)

// ApplyResult is the outcome of applying one server change. Local is set
// when the change hit a record with unsynced local edits.
type ApplyResult struct {
	Action ApplyAction
	Local  *model.Trip
}
