package zt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zt-go/internal/metrics"
	"zt-go/internal/model"
	"zt-go/internal/zone"
)

// Fix is a single coordinate reported by a LocationProvider.
type Fix struct {
	Lat      float64
	Lng      float64
	Accuracy float64 // meters
	At       time.Time
}

// LocationProvider acquires the device's current position.
type LocationProvider interface {
	CurrentFix(ctx context.Context) (*Fix, error)
}

// Place is the result of reverse geocoding a coordinate.
type Place struct {
	Country string // any form accepted by zone.Normalize
	City    string
}

// Geocoder resolves a coordinate to a country.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*Place, error)
}

// ZoneReference answers zone membership for ISO alpha-2 codes.
type ZoneReference interface {
	Contains(code string) bool
}

// CaptureOptions tunes the capture pipeline.
type CaptureOptions struct {
	// Timeout bounds the whole capture. Zero means DefaultCaptureTimeout.
	Timeout time.Duration
	// MergeGapDays is how many days may separate the end of an existing trip
	// from today for the trip to be extended rather than a new one started.
	// Zero means DefaultMergeGapDays; a negative value disables extension.
	MergeGapDays int
}

const (
	DefaultCaptureTimeout = 30 * time.Second
	DefaultMergeGapDays   = 1

	autoDetectedNote = "Auto-detected"
)

// CapturedLocation is the outcome of one capture.
type CapturedLocation struct {
	Reading *model.LocationReading
	Trip    *model.Trip // nil when no trip was touched
	Action  CaptureAction

	// GeocodeErr is set when the reading was stored without a country.
	GeocodeErr error
}

// CapturePipeline turns a position fix into a stored reading and, when the
// device is inside the zone, a created or extended trip.
type CapturePipeline struct {
	store    Store
	provider LocationProvider
	geocoder Geocoder
	zone     ZoneReference
	clock    Clock
	idgen    IDGenerator
	logger   Logger
	opts     CaptureOptions
}

// NewCapturePipeline creates a pipeline. provider is the default used by
// Capture; CaptureFrom accepts any other.
func NewCapturePipeline(store Store, provider LocationProvider, geocoder Geocoder, zone ZoneReference, clock Clock, idgen IDGenerator, logger Logger, opts CaptureOptions) *CapturePipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCaptureTimeout
	}
	switch {
	case opts.MergeGapDays == 0:
		opts.MergeGapDays = DefaultMergeGapDays
	case opts.MergeGapDays < 0:
		opts.MergeGapDays = 0
	}
	return &CapturePipeline{
		store:    store,
		provider: provider,
		geocoder: geocoder,
		zone:     zone,
		clock:    clock,
		idgen:    idgen,
		logger:   logger,
		opts:     opts,
	}
}

// Capture runs the pipeline with the default provider.
func (p *CapturePipeline) Capture(ctx context.Context) (*CapturedLocation, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("%w: no location provider configured", ErrLocationUnavailable)
	}
	return p.CaptureFrom(ctx, p.provider)
}

// CaptureFrom runs the pipeline with the given provider. Nothing is written
// unless the fix (and the geocode attempt) completed before the deadline.
func (p *CapturePipeline) CaptureFrom(ctx context.Context, provider LocationProvider) (*CapturedLocation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	fix, err := provider.CurrentFix(ctx)
	if err != nil {
		metrics.CapturesTotal.WithLabelValues("no_fix").Inc()
		return nil, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}

	reading := &model.LocationReading{
		LocalID:    p.idgen.New(),
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		Accuracy:   fix.Accuracy,
		RecordedAt: fix.At,
		SyncStatus: model.SyncPending,
	}
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = p.clock.Now()
	}

	var geocodeErr error
	place, err := p.geocode(ctx, fix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.CapturesTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: %w", ErrLocationUnavailable, ctxErr)
		}
		geocodeErr = err
		p.logger.Warn("reverse geocoding failed, recording raw reading", "lat", fix.Lat, "lng", fix.Lng, "error", err)
	} else {
		reading.Country = place.Country
		reading.City = place.City
		reading.IsSchengen = p.zone.Contains(place.Country)
	}

	if err := ctx.Err(); err != nil {
		metrics.CapturesTotal.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}

	var candidate *model.Trip
	if reading.IsSchengen {
		candidate = p.candidateTrip(reading)
	}

	rec, err := p.store.RecordCapture(reading, candidate, p.opts.MergeGapDays)
	if err != nil {
		metrics.CapturesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("recording capture: %w", err)
	}

	metrics.CapturesTotal.WithLabelValues(string(rec.Action)).Inc()
	metrics.CaptureDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("location captured",
		"country", reading.Country,
		"zone", reading.IsSchengen,
		"action", rec.Action,
	)

	return &CapturedLocation{
		Reading:    reading,
		Trip:       rec.Trip,
		Action:     rec.Action,
		GeocodeErr: geocodeErr,
	}, nil
}

// geocode resolves the fix and normalizes the country code.
func (p *CapturePipeline) geocode(ctx context.Context, fix *Fix) (*Place, error) {
	if p.geocoder == nil {
		return nil, ErrGeocodeUnavailable
	}
	place, err := p.geocoder.Reverse(ctx, fix.Lat, fix.Lng)
	if err != nil {
		if errors.Is(err, ErrGeocodeUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrGeocodeUnavailable, err)
	}
	if place == nil || place.Country == "" {
		return nil, fmt.Errorf("%w: no country at %.5f,%.5f", ErrGeocodeUnavailable, fix.Lat, fix.Lng)
	}
	code, err := zone.Normalize(place.Country)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeocodeUnavailable, err)
	}
	return &Place{Country: code, City: place.City}, nil
}

// candidateTrip is the single-day trip a capture creates when no contiguous
// trip exists. The day is taken in the device's local time zone.
func (p *CapturePipeline) candidateTrip(r *model.LocationReading) *model.Trip {
	today := model.DateOf(r.RecordedAt.In(p.clock.Now().Location()))
	lat, lng, acc := r.Lat, r.Lng, r.Accuracy
	return &model.Trip{
		LocalID:          p.idgen.New(),
		StartDate:        today,
		EndDate:          today,
		Country:          r.Country,
		Category:         model.CategorySchengen,
		Notes:            autoDetectedNote,
		LocationSource:   model.SourceGPS,
		LocationLat:      &lat,
		LocationLng:      &lng,
		LocationAccuracy: &acc,
		SyncStatus:       model.SyncPending,
	}
}
