package zt

import (
	"context"
	"fmt"
	"sort"

	"zt-go/internal/compliance"
	"zt-go/internal/metrics"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
)

// Today returns the current civil date in the device's time zone.
func (s *Service) Today() model.Date {
	return model.DateOf(s.clock.Now())
}

// Status computes the compliance snapshot for ref, or for today when ref is
// nil. Today's snapshot is cached for offline display.
func (s *Service) Status(ref *model.Date) (*compliance.Snapshot, error) {
	s.logger.Debug("computing status")

	trips, err := s.store.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}

	today := s.Today()
	date := today
	if ref != nil {
		date = *ref
	}

	snap := compliance.Compute(trips, date, s.rule)
	for _, a := range snap.Anomalies {
		s.logger.Warn("trip anomaly", "detail", a)
	}

	cached, err := s.store.LoadSnapshot()
	if err != nil {
		s.logger.Warn("loading cached snapshot", "error", err)
	}
	if cached != nil {
		snap.LastVerified = cached.LastVerified
	}

	if date.Equal(today) {
		metrics.DaysUsed.Set(float64(snap.DaysUsed))
		if err := s.store.SaveSnapshot(&snap); err != nil {
			s.logger.Warn("caching snapshot", "error", err)
		}
	}
	return &snap, nil
}

// CachedStatus returns the last cached snapshot, or nil if none exists.
func (s *Service) CachedStatus() (*compliance.Snapshot, error) {
	return s.store.LoadSnapshot()
}

// Verification is the result of cross-checking local state with the
// authority.
type Verification struct {
	Local         compliance.Snapshot
	Server        compliance.Snapshot
	Differences   []string
	MissingRemote []string // localIds synced here but absent on the server
	MissingLocal  []string // server ids absent from the local store
	Pending       int
}

// Consistent reports whether both sides agree.
func (v *Verification) Consistent() bool {
	return len(v.Differences) == 0 && len(v.MissingRemote) == 0 && len(v.MissingLocal) == 0
}

// Verify compares the local snapshot with the server's passport-control
// computation and audits the synced trip set. A consistent result updates
// LastVerified on the cached snapshot.
func (s *Service) Verify(ctx context.Context) (*Verification, error) {
	if s.authority == nil {
		return nil, fmt.Errorf("no authority configured")
	}

	pc, err := s.authority.PassportControl(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching passport control: %w", err)
	}
	remote, err := s.authority.ListTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing server trips: %w", err)
	}

	ref := s.Today()
	if !pc.WindowEnd.IsZero() {
		ref = pc.WindowEnd
	}
	local, err := s.Status(&ref)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		Local:  *local,
		Server: pc.ToSnapshot(),
	}
	v.Differences = v.Local.Compare(v.Server)

	trips, err := s.store.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	v.MissingRemote, v.MissingLocal = auditTrips(trips, remote)

	if v.Pending, err = s.store.PendingSyncCount(); err != nil {
		return nil, fmt.Errorf("counting pending records: %w", err)
	}

	if v.Consistent() && v.Pending == 0 {
		today, err := s.Status(nil)
		if err != nil {
			return nil, err
		}
		today.LastVerified = s.clock.Now()
		if err := s.store.SaveSnapshot(today); err != nil {
			return nil, fmt.Errorf("caching verified snapshot: %w", err)
		}
		v.Local.LastVerified = today.LastVerified
	} else {
		s.logger.Warn("local state differs from server",
			"differences", len(v.Differences),
			"missing_remote", len(v.MissingRemote),
			"missing_local", len(v.MissingLocal),
			"pending", v.Pending,
		)
	}
	return v, nil
}

// auditTrips compares synced local trips with the server's list.
func auditTrips(local []model.Trip, remote []protocol.TripData) (missingRemote, missingLocal []string) {
	remoteIDs := make(map[int64]bool, len(remote))
	for _, r := range remote {
		remoteIDs[r.ID] = true
	}
	localIDs := make(map[int64]bool, len(local))
	for _, t := range local {
		if t.ID == 0 {
			continue
		}
		localIDs[t.ID] = true
		if t.SyncStatus == model.SyncSynced && !remoteIDs[t.ID] {
			missingRemote = append(missingRemote, t.LocalID)
		}
	}
	for _, r := range remote {
		if !localIDs[r.ID] {
			missingLocal = append(missingLocal, fmt.Sprintf("%d", r.ID))
		}
	}
	sort.Strings(missingRemote)
	sort.Strings(missingLocal)
	return missingRemote, missingLocal
}

// RegisterDevice announces this device to the authority.
func (s *Service) RegisterDevice(ctx context.Context, info DeviceInfo) error {
	if s.authority == nil {
		return fmt.Errorf("no authority configured")
	}
	reg := &protocol.DeviceRegistration{
		DeviceID:   s.deviceID,
		Platform:   info.Platform,
		AppVersion: info.AppVersion,
		OSVersion:  info.OSVersion,
		PushToken:  info.PushToken,
	}
	if err := s.authority.RegisterDevice(ctx, reg); err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	s.logger.Info("device registered", "device_id", s.deviceID)
	return nil
}

// UnregisterDevice removes this device from the authority.
func (s *Service) UnregisterDevice(ctx context.Context) error {
	if s.authority == nil {
		return fmt.Errorf("no authority configured")
	}
	if err := s.authority.UnregisterDevice(ctx, s.deviceID); err != nil {
		return fmt.Errorf("unregistering device: %w", err)
	}
	s.logger.Info("device unregistered", "device_id", s.deviceID)
	return nil
}
