package scheduler

import (
	"fmt"
	"time"
)

// Recurrence computes when a job fires next.
type Recurrence interface {
	// Next returns the first fire time strictly after now.
	Next(now time.Time) time.Time
	String() string
}

// NextFireTime is the pure scheduling function used by the run loop.
func NextFireTime(r Recurrence, now time.Time) time.Time {
	return r.Next(now)
}

// DailyAt fires once a day at a fixed local wall-clock time.
type DailyAt struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next returns today's occurrence if it has not passed yet, else tomorrow's.
func (d DailyAt) Next(now time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !t.After(local) {
		t = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return t
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// ParseDailyAt parses an "HH:MM" local time.
func ParseDailyAt(s string, loc *time.Location) (DailyAt, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return DailyAt{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return DailyAt{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

// Every fires at a fixed interval measured from the previous run.
type Every struct {
	Interval time.Duration
}

func (e Every) Next(now time.Time) time.Time {
	return now.Add(e.Interval)
}

func (e Every) String() string {
	return "every " + e.Interval.String()
}
