// Package compliance computes rolling-window day counts for the zone rule.
//
// Compute is pure: the same trips, reference date and rule always produce the
// same Snapshot. Callers decide what to do with reported anomalies.
package compliance

import (
	"fmt"
	"sort"
	"time"

	"zt-go/internal/model"
)

// Status is the severity tier of a snapshot.
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusDanger   Status = "danger"
	StatusCritical Status = "critical"
)

// Rule parameterizes the calculator.
type Rule struct {
	WindowDays    int // length of the trailing window, reference date included
	AllowedDays   int // zone days allowed inside the window
	WarningMargin int // days below the limit at which warning starts
	DangerMargin  int // days over the limit still reported as danger
	RecentLimit   int // number of trips returned in RecentTrips
}

// DefaultRule is the Schengen 90/180 rule.
func DefaultRule() Rule {
	return Rule{
		WindowDays:    180,
		AllowedDays:   90,
		WarningMargin: 5,
		DangerMargin:  5,
		RecentLimit:   5,
	}
}

// Validate rejects rules that cannot produce a meaningful window.
func (r Rule) Validate() error {
	if r.WindowDays < 1 {
		return fmt.Errorf("window_days must be positive, got %d", r.WindowDays)
	}
	if r.AllowedDays < 0 || r.AllowedDays > r.WindowDays {
		return fmt.Errorf("allowed_days must be between 0 and window_days, got %d", r.AllowedDays)
	}
	if r.WarningMargin < 0 || r.DangerMargin < 0 || r.RecentLimit < 0 {
		return fmt.Errorf("margins and recent limit must not be negative")
	}
	return nil
}

// RecentTrip is a zone trip with its unclipped duration for display.
type RecentTrip struct {
	Trip     model.Trip
	Duration int
}

// Snapshot is the derived compliance state. It is cached for offline display
// but never treated as a source of truth.
type Snapshot struct {
	DaysUsed      int
	DaysRemaining int
	WindowStart   model.Date
	WindowEnd     model.Date
	Status        Status
	RecentTrips   []RecentTrip
	LastVerified  time.Time
	Anomalies     []string
}

// Compute sums the in-window days of every zone trip.
//
// Overlapping trips are not deduplicated: each record contributes its own
// clipped interval, which errs on the side of over-counting. Overlaps are
// listed in Anomalies so they can be surfaced and corrected.
func Compute(trips []model.Trip, ref model.Date, rule Rule) Snapshot {
	windowStart := ref.AddDays(-(rule.WindowDays - 1))
	windowEnd := ref

	snap := Snapshot{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	var counted []model.Trip
	for _, t := range trips {
		if t.Deleted || t.Quarantined || !t.Category.CountsTowardZone() {
			continue
		}
		start, end := t.StartDate, t.EndDate
		if end.Before(start) {
			snap.Anomalies = append(snap.Anomalies,
				fmt.Sprintf("trip %s ends (%s) before it starts (%s); counted as one day", t.LocalID, end, start))
			end = start
		}
		counted = append(counted, t)

		clippedStart := model.MaxDate(start, windowStart)
		clippedEnd := model.MinDate(end, windowEnd)
		if clippedEnd.Before(clippedStart) {
			continue
		}
		snap.DaysUsed += clippedEnd.DaysSince(clippedStart) + 1
	}

	snap.Anomalies = append(snap.Anomalies, overlaps(counted, windowStart, windowEnd)...)

	snap.DaysRemaining = max(0, rule.AllowedDays-snap.DaysUsed)
	snap.Status = rule.status(snap.DaysUsed)
	snap.RecentTrips = recent(counted, rule.RecentLimit)
	return snap
}

func (r Rule) status(used int) Status {
	switch {
	case used <= r.AllowedDays-r.WarningMargin:
		return StatusSafe
	case used < r.AllowedDays:
		return StatusWarning
	case used <= r.AllowedDays+r.DangerMargin:
		return StatusDanger
	default:
		return StatusCritical
	}
}

func recent(trips []model.Trip, limit int) []RecentTrip {
	sorted := make([]model.Trip, len(trips))
	copy(sorted, trips)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartDate.Equal(sorted[j].StartDate) {
			return sorted[i].LocalID < sorted[j].LocalID
		}
		return sorted[i].StartDate.After(sorted[j].StartDate)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]RecentTrip, len(sorted))
	for i := range sorted {
		out[i] = RecentTrip{Trip: sorted[i], Duration: sorted[i].Duration()}
	}
	return out
}

// overlaps reports pairs of counted trips sharing at least one in-window day.
func overlaps(trips []model.Trip, windowStart, windowEnd model.Date) []string {
	type span struct {
		id         string
		start, end model.Date
	}
	var spans []span
	for _, t := range trips {
		end := t.EndDate
		if end.Before(t.StartDate) {
			end = t.StartDate
		}
		s := model.MaxDate(t.StartDate, windowStart)
		e := model.MinDate(end, windowEnd)
		if e.Before(s) {
			continue
		}
		spans = append(spans, span{id: t.LocalID, start: s, end: e})
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start.Equal(spans[j].start) {
			return spans[i].id < spans[j].id
		}
		return spans[i].start.Before(spans[j].start)
	})

	var out []string
	for i := range spans {
		for j := i + 1; j < len(spans) && !spans[j].start.After(spans[i].end); j++ {
			days := model.MinDate(spans[i].end, spans[j].end).DaysSince(spans[j].start) + 1
			out = append(out, fmt.Sprintf("trips %s and %s overlap on %d day(s) starting %s; both are counted",
				spans[i].id, spans[j].id, days, spans[j].start))
		}
	}
	return out
}

// Compare lists the headline fields on which two snapshots disagree.
func (s Snapshot) Compare(other Snapshot) []string {
	var diffs []string
	if s.DaysUsed != other.DaysUsed {
		diffs = append(diffs, fmt.Sprintf("days used: %d vs %d", s.DaysUsed, other.DaysUsed))
	}
	if s.DaysRemaining != other.DaysRemaining {
		diffs = append(diffs, fmt.Sprintf("days remaining: %d vs %d", s.DaysRemaining, other.DaysRemaining))
	}
	if !s.WindowStart.Equal(other.WindowStart) || !s.WindowEnd.Equal(other.WindowEnd) {
		diffs = append(diffs, fmt.Sprintf("window: %s..%s vs %s..%s", s.WindowStart, s.WindowEnd, other.WindowStart, other.WindowEnd))
	}
	if s.Status != other.Status {
		diffs = append(diffs, fmt.Sprintf("status: %s vs %s", s.Status, other.Status))
	}
	return diffs
}
