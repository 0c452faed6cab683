// Package model holds the records kept by the local store and exchanged with
// the remote authority. It has no dependencies on storage or transport.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks a record that fails a business rule.
var ErrValidation = errors.New("validation error")

// SyncStatus describes a record's relationship to the remote authority.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// CanTransition reports whether a record may move from s to next.
// A record never becomes synced without passing through syncing.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncSyncing || next == SyncPending
	case SyncSyncing:
		// syncing -> pending covers transport failures and edits made mid-sync.
		return next == SyncSynced || next == SyncFailed || next == SyncPending
	case SyncSynced:
		return next == SyncPending
	case SyncFailed:
		return next == SyncPending
	}
	return false
}

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSyncing, SyncSynced, SyncFailed:
		return true
	}
	return false
}

// Category classifies a stay.
type Category string

const (
	CategorySchengen    Category = "schengen"
	CategoryNonSchengen Category = "non_schengen"
	CategoryHome        Category = "home"
	CategoryTransit     Category = "transit"
)

// CountsTowardZone reports whether days in this category are counted
// against the allowance.
func (c Category) CountsTowardZone() bool { return c == CategorySchengen }

func (c Category) Valid() bool {
	switch c {
	case CategorySchengen, CategoryNonSchengen, CategoryHome, CategoryTransit:
		return true
	}
	return false
}

// ParseCategory accepts the canonical names plus "zone" as an alias.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "zone" {
		return CategorySchengen, nil
	}
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
	}
	return c, nil
}

// LocationSource records how a trip was detected.
type LocationSource string

const (
	SourceManual   LocationSource = "manual"
	SourceGPS      LocationSource = "gps"
	SourcePhoto    LocationSource = "photo_exif"
	SourceCalendar LocationSource = "calendar"
	SourceNetwork  LocationSource = "network"
)

// Trip is an interval of presence in one country. StartDate and EndDate are
// inclusive.
type Trip struct {
	ID               int64 // server id, 0 until first successful sync
	LocalID          string
	StartDate        Date
	EndDate          Date
	Country          string
	Category         Category
	Notes            string
	LocationSource   LocationSource
	LocationLat      *float64
	LocationLng      *float64
	LocationAccuracy *float64
	SyncStatus       SyncStatus
	CreatedAt        *time.Time // server timestamps, nil on purely local records
	UpdatedAt        *time.Time

	// Local bookkeeping, never sent as trip data.
	Deleted        bool      // tombstone awaiting server acknowledgement
	Revision       int64     // bumped on every local mutation
	LocalUpdatedAt time.Time // when the local copy last changed
	Base           *Trip     // last version acknowledged by the server
	Quarantined    bool
}

// Validate checks the fields a user may set.
func (t *Trip) Validate() error {
	if t.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if t.EndDate.IsZero() {
		return fmt.Errorf("%w: end date is required", ErrValidation)
	}
	if t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrValidation, t.EndDate, t.StartDate)
	}
	if len(t.Country) != 2 {
		return fmt.Errorf("%w: country must be an ISO 3166 alpha-2 code, got %q", ErrValidation, t.Country)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}
	return nil
}

// Duration returns the unclipped length in days. A corrupt interval with
// EndDate before StartDate counts as a single day.
func (t *Trip) Duration() int {
	if t.EndDate.Before(t.StartDate) {
		return 1
	}
	return t.EndDate.DaysSince(t.StartDate) + 1
}

// Covers reports whether d falls inside the trip.
func (t *Trip) Covers(d Date) bool {
	return !d.Before(t.StartDate) && !d.After(t.EndDate)
}

// SameContent compares the user-visible fields of two trips.
func (t *Trip) SameContent(o *Trip) bool {
	return t.StartDate.Equal(o.StartDate) &&
		t.EndDate.Equal(o.EndDate) &&
		t.Country == o.Country &&
		t.Category == o.Category &&
		t.Notes == o.Notes &&
		t.LocationSource == o.LocationSource &&
		floatPtrEqual(t.LocationLat, o.LocationLat) &&
		floatPtrEqual(t.LocationLng, o.LocationLng) &&
		floatPtrEqual(t.LocationAccuracy, o.LocationAccuracy)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// LocationReading is a single GPS/geocode sample. Readings are never edited
// after they are recorded; only their sync columns change.
type LocationReading struct {
	ID         int64
	LocalID    string
	Lat        float64
	Lng        float64
	Accuracy   float64
	Country    string // empty when the coordinate could not be geocoded
	City       string
	IsSchengen bool
	RecordedAt time.Time
	SyncStatus SyncStatus
}

// Conflict is a trip changed both locally and on the server since the last
// sync. Both versions are kept until the user resolves it.
type Conflict struct {
	LocalID    string
	TripID     int64
	Local      *Trip
	Server     *Trip // nil when the server deleted the record
	Reason     string
	DetectedAt time.Time
}

// Resolution is the user's answer to a Conflict.
type Resolution string

const (
	KeepLocal  Resolution = "local"
	KeepServer Resolution = "server"
)

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(s)); r {
	case KeepLocal, KeepServer:
		return r, nil
	}
	return "", fmt.Errorf("%w: resolution must be %q or %q", ErrValidation, KeepLocal, KeepServer)
}

// JobRun is one attempt of a scheduled or manual job.
type JobRun struct {
	ID         int64
	Job        string
	Attempt    int
	State      string
	Detail     string
	StartedAt  time.Time
	FinishedAt *time.Time
}
