package zt

import (
	"context"
	"fmt"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
	"zt-go/internal/zone"
)

// Deps bundles the collaborators of a Service. Authority, Vault, Encryptor,
// Provider and Geocoder may be nil; the operations needing them then fail.
type Deps struct {
	Store     Store
	Authority Authority
	Vault     Vault
	Encryptor Encryptor
	Zone      ZoneReference
	Provider  LocationProvider
	Geocoder  Geocoder
	Clock     Clock
	IDGen     IDGenerator
	Logger    Logger
	DeviceID  string
	Rule      compliance.Rule
	Capture   CaptureOptions
}

// Service is the orchestration layer used by the CLI, the daemon and the
// local API. It owns the trip lifecycle, compliance queries, sync and
// capture.
type Service struct {
	store     Store
	authority Authority
	vault     Vault
	encryptor Encryptor
	zone      ZoneReference
	rule      compliance.Rule
	clock     Clock
	idgen     IDGenerator
	logger    Logger
	deviceID  string

	syncer  *SyncEngine
	capture *CapturePipeline
}

// NewService creates a Service. Zero-valued Rule, Clock, IDGen and Logger
// fall back to the defaults.
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.IDGen == nil {
		d.IDGen = UUIDGenerator{}
	}
	if d.Logger == nil {
		d.Logger = NewNopLogger()
	}
	if d.Zone == nil {
		d.Zone = zone.Schengen()
	}
	if d.Rule == (compliance.Rule{}) {
		d.Rule = compliance.DefaultRule()
	}

	s := &Service{
		store:     d.Store,
		authority: d.Authority,
		vault:     d.Vault,
		encryptor: d.Encryptor,
		zone:      d.Zone,
		rule:      d.Rule,
		clock:     d.Clock,
		idgen:     d.IDGen,
		logger:    d.Logger,
		deviceID:  d.DeviceID,
	}
	if d.Authority != nil {
		s.syncer = NewSyncEngine(d.Store, d.Authority, d.Clock, d.Logger, d.DeviceID)
	}
	s.capture = NewCapturePipeline(d.Store, d.Provider, d.Geocoder, d.Zone, d.Clock, d.IDGen, d.Logger, d.Capture)
	return s
}

// TripInput is a user-entered trip.
type TripInput struct {
	StartDate        model.Date
	EndDate          model.Date
	Country          string
	Category         model.Category // empty derives it from the country
	Notes            string
	LocationSource   model.LocationSource
	LocationLat      *float64
	LocationLng      *float64
	LocationAccuracy *float64
}

// TripEdit changes selected fields of a trip. Nil means unchanged.
type TripEdit struct {
	StartDate     *model.Date
	EndDate       *model.Date
	Country       *string
	Category      *model.Category
	Notes         *string
	ClearLocation bool
}

// AddTrip records a new trip locally. It is pushed on the next sync.
func (s *Service) AddTrip(in TripInput) (*model.Trip, error) {
	country, err := s.normalizeCountry(in.Country)
	if err != nil {
		return nil, err
	}

	t := &model.Trip{
		LocalID:          s.idgen.New(),
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		Country:          country,
		Category:         in.Category,
		Notes:            in.Notes,
		LocationSource:   in.LocationSource,
		LocationLat:      in.LocationLat,
		LocationLng:      in.LocationLng,
		LocationAccuracy: in.LocationAccuracy,
		SyncStatus:       model.SyncPending,
	}
	if t.Category == "" {
		t.Category = s.defaultCategory(country)
	}
	if t.LocationSource == "" {
		t.LocationSource = model.SourceManual
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateTrip(t); err != nil {
		return nil, fmt.Errorf("creating trip: %w", err)
	}

	s.logger.Info("trip added", "local_id", t.LocalID, "country", t.Country, "start", t.StartDate, "end", t.EndDate)
	return s.store.FindTrip(t.LocalID)
}

// EditTrip applies a user edit. Trips with an open conflict must be
// resolved first.
func (s *Service) EditTrip(localID string, edit TripEdit) (*model.Trip, error) {
	t, err := s.liveTrip(localID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoConflict(localID); err != nil {
		return nil, err
	}

	if edit.StartDate != nil {
		t.StartDate = *edit.StartDate
	}
	if edit.EndDate != nil {
		t.EndDate = *edit.EndDate
	}
	if edit.Country != nil {
		country, err := s.normalizeCountry(*edit.Country)
		if err != nil {
			return nil, err
		}
		t.Country = country
		if edit.Category == nil {
			t.Category = s.defaultCategory(country)
		}
	}
	if edit.Category != nil {
		t.Category = *edit.Category
	}
	if edit.Notes != nil {
		t.Notes = *edit.Notes
	}
	if edit.ClearLocation {
		t.LocationLat, t.LocationLng, t.LocationAccuracy = nil, nil, nil
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateTrip(t); err != nil {
		return nil, fmt.Errorf("updating trip: %w", err)
	}

	s.logger.Info("trip edited", "local_id", localID)
	return s.store.FindTrip(localID)
}

// RemoveTrip deletes a trip. Synced trips become tombstones until the
// server acknowledges the delete.
func (s *Service) RemoveTrip(localID string) error {
	if _, err := s.liveTrip(localID); err != nil {
		return err
	}
	if err := s.ensureNoConflict(localID); err != nil {
		return err
	}
	if err := s.store.DeleteTrip(localID); err != nil {
		return fmt.Errorf("deleting trip: %w", err)
	}
	s.logger.Info("trip removed", "local_id", localID)
	return nil
}

// GetTrip returns a live trip by localId.
func (s *Service) GetTrip(localID string) (*model.Trip, error) {
	return s.liveTrip(localID)
}

// ListTrips returns all live trips ordered by start date.
func (s *Service) ListTrips() ([]model.Trip, error) {
	trips, err := s.store.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	return trips, nil
}

// PendingCount returns the number of records not yet synced.
func (s *Service) PendingCount() (int, error) {
	return s.store.PendingSyncCount()
}

// Sync reconciles with the authority.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (*SyncOutcome, error) {
	if s.syncer == nil {
		return nil, fmt.Errorf("no authority configured")
	}
	return s.syncer.Sync(ctx, opts)
}

// Capture records the device's current position with the configured
// provider.
func (s *Service) Capture(ctx context.Context) (*CapturedLocation, error) {
	return s.capture.Capture(ctx)
}

// CaptureFrom records a position obtained from provider, such as a manual
// check-in.
func (s *Service) CaptureFrom(ctx context.Context, provider LocationProvider) (*CapturedLocation, error) {
	return s.capture.CaptureFrom(ctx, provider)
}

// Conflicts lists unresolved sync conflicts.
func (s *Service) Conflicts() ([]model.Conflict, error) {
	cs, err := s.store.ListConflicts()
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	return cs, nil
}

// ResolveConflict applies the user's choice for one conflicting trip.
func (s *Service) ResolveConflict(localID string, res model.Resolution) error {
	if err := s.store.ResolveConflict(localID, res); err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}
	s.logger.Info("conflict resolved", "local_id", localID, "resolution", res)
	return nil
}

// DeviceInfo describes this installation to the authority.
type DeviceInfo struct {
	Platform   string
	AppVersion string
	OSVersion  string
	PushToken  string
}

func (s *Service) liveTrip(localID string) (*model.Trip, error) {
	t, err := s.store.FindTrip(localID)
	if err != nil {
		return nil, fmt.Errorf("finding trip: %w", err)
	}
	if t == nil || t.Deleted {
		return nil, fmt.Errorf("%w: trip %s", ErrNotFound, localID)
	}
	return t, nil
}

func (s *Service) ensureNoConflict(localID string) error {
	cs, err := s.store.ListConflicts()
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}
	for _, c := range cs {
		if c.LocalID == localID {
			return fmt.Errorf("%w: %s", ErrConflictPending, localID)
		}
	}
	return nil
}

func (s *Service) normalizeCountry(code string) (string, error) {
	c, err := zone.Normalize(code)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return c, nil
}

func (s *Service) defaultCategory(country string) model.Category {
	if s.zone.Contains(country) {
		return model.CategorySchengen
	}
	return model.CategoryNonSchengen
}
