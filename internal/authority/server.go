// Package authority is an in-memory implementation of the remote authority
// contract. It holds the trip history of a single user shared by all of that
// user's devices, and is used for local development and end-to-end tests.
package authority

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

var (
	errNotFound   = errors.New("not found")
	errValidation = errors.New("validation error")
)

type tripRecord struct {
	data       protocol.TripData
	deleted    bool
	lastDevice string
	updatedAt  time.Time
}

// Server is the authority's state. All methods are safe for concurrent use.
type Server struct {
	mu     sync.Mutex
	clock  zt.Clock
	logger zt.Logger
	rule   compliance.Rule

	nextTripID    int64
	trips         map[int64]*tripRecord
	byLocalID     map[string]int64
	nextReadingID int64
	readings      map[string]protocol.LocationData
	devices       map[string]protocol.DeviceRegistration
}

// NewServer creates an empty authority. A nil clock uses the real clock and
// a nil logger discards output.
func NewServer(clock zt.Clock, logger zt.Logger, rule compliance.Rule) *Server {
	if clock == nil {
		clock = zt.RealClock{}
	}
	if logger == nil {
		logger = zt.NewNopLogger()
	}
	return &Server{
		clock:     clock,
		logger:    logger,
		rule:      rule,
		trips:     make(map[int64]*tripRecord),
		byLocalID: make(map[string]int64),
		readings:  make(map[string]protocol.LocationData),
		devices:   make(map[string]protocol.DeviceRegistration),
	}
}

func (s *Server) now() time.Time {
	return s.clock.Now().UTC()
}

// Sync applies a device's changes and returns the changes made by other
// devices since req.LastSync.
func (s *Server) Sync(req *protocol.SyncRequest) *protocol.SyncResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	resp := &protocol.SyncResponse{
		Success:       true,
		SyncResults:   []protocol.SyncResult{},
		ServerChanges: []protocol.ServerChange{},
		Conflicts:     []protocol.SyncConflict{},
		ServerTime:    now,
	}

	touched := make(map[int64]bool)
	for _, c := range req.Changes {
		if c.Entity != "" && c.Entity != protocol.EntityTrip {
			resp.SyncResults = append(resp.SyncResults, failure(c.LocalID, protocol.CodeBadRequest, "unsupported entity "+c.Entity))
			continue
		}
		result, conflict := s.applyChange(req.DeviceID, c, now)
		if conflict != nil {
			resp.Conflicts = append(resp.Conflicts, *conflict)
			if conflict.ID != 0 {
				touched[conflict.ID] = true
			}
			continue
		}
		resp.SyncResults = append(resp.SyncResults, result)
		if result.ID != 0 {
			touched[result.ID] = true
		}
	}

	for _, id := range s.sortedIDs() {
		rec := s.trips[id]
		if touched[id] || rec.lastDevice == req.DeviceID {
			continue
		}
		if req.LastSync != nil && !rec.updatedAt.After(*req.LastSync) {
			continue
		}
		change := protocol.ServerChange{
			Entity:    protocol.EntityTrip,
			ID:        id,
			LocalID:   rec.data.LocalID,
			UpdatedAt: rec.updatedAt,
		}
		switch {
		case rec.deleted:
			change.Action = protocol.ActionDelete
		case req.LastSync != nil && rec.data.CreatedAt != nil && !rec.data.CreatedAt.After(*req.LastSync):
			change.Action = protocol.ActionUpdate
		default:
			change.Action = protocol.ActionCreate
		}
		if !rec.deleted {
			data := rec.data
			change.Trip = &data
		}
		resp.ServerChanges = append(resp.ServerChanges, change)
	}

	s.logger.Info("sync", "device_id", req.DeviceID, "changes", len(req.Changes),
		"results", len(resp.SyncResults), "conflicts", len(resp.Conflicts), "server_changes", len(resp.ServerChanges))
	return resp
}

func failure(localID, code, message string) protocol.SyncResult {
	return protocol.SyncResult{LocalID: localID, Error: &protocol.ErrorBody{Code: code, Message: message}}
}

func (s *Server) lookup(id int64, localID string) (int64, *tripRecord) {
	if id != 0 {
		if rec, ok := s.trips[id]; ok {
			return id, rec
		}
	}
	if localID != "" {
		if id, ok := s.byLocalID[localID]; ok {
			return id, s.trips[id]
		}
	}
	return 0, nil
}

// stale reports whether rec was changed by another device after the version
// the client based its change on.
func stale(rec *tripRecord, deviceID string, base *time.Time) bool {
	if rec.lastDevice == deviceID {
		return false
	}
	return base == nil || rec.updatedAt.After(*base)
}

func (s *Server) applyChange(deviceID string, c protocol.SyncChange, now time.Time) (protocol.SyncResult, *protocol.SyncConflict) {
	id, rec := s.lookup(c.ID, c.LocalID)

	switch c.Action {
	case protocol.ActionCreate:
		if c.Trip == nil {
			return failure(c.LocalID, protocol.CodeBadRequest, "create without trip data"), nil
		}
		if rec != nil && !rec.deleted {
			// Replays of an acknowledged create upsert by localId.
			return s.write(id, rec, deviceID, *c.Trip, now)
		}
		if rec != nil && rec.deleted {
			return s.restore(id, rec, deviceID, *c.Trip, now)
		}
		data := *c.Trip
		data.LocalID = c.LocalID
		if err := validate(&data); err != nil {
			return failure(c.LocalID, protocol.CodeValidation, err.Error()), nil
		}
		s.nextTripID++
		id = s.nextTripID
		data.ID = id
		data.CreatedAt = &now
		data.UpdatedAt = &now
		s.trips[id] = &tripRecord{data: data, lastDevice: deviceID, updatedAt: now}
		s.byLocalID[c.LocalID] = id
		return success(c.LocalID, data), nil

	case protocol.ActionUpdate:
		if rec == nil {
			return failure(c.LocalID, protocol.CodeNotFound, fmt.Sprintf("trip %d not found", c.ID)), nil
		}
		if rec.deleted {
			return protocol.SyncResult{}, &protocol.SyncConflict{
				LocalID: c.LocalID, ID: id, Entity: protocol.EntityTrip, Reason: "deleted on the server",
			}
		}
		if stale(rec, deviceID, c.BaseUpdatedAt) {
			server := rec.data
			return protocol.SyncResult{}, &protocol.SyncConflict{
				LocalID: c.LocalID, ID: id, Entity: protocol.EntityTrip, ServerVersion: &server,
				Reason: "modified on another device",
			}
		}
		next := rec.data
		if c.Patch != nil {
			next = c.Patch.Apply(next)
		} else if c.Trip != nil {
			next = *c.Trip
		}
		return s.write(id, rec, deviceID, next, now)

	case protocol.ActionDelete:
		if rec == nil || rec.deleted {
			return protocol.SyncResult{LocalID: c.LocalID, ID: id, Success: true}, nil
		}
		if c.ID != 0 && stale(rec, deviceID, c.BaseUpdatedAt) {
			server := rec.data
			return protocol.SyncResult{}, &protocol.SyncConflict{
				LocalID: c.LocalID, ID: id, Entity: protocol.EntityTrip, ServerVersion: &server,
				Reason: "modified on another device",
			}
		}
		rec.deleted = true
		rec.lastDevice = deviceID
		rec.updatedAt = now
		return protocol.SyncResult{LocalID: c.LocalID, ID: id, Success: true, UpdatedAt: &now}, nil
	}
	return failure(c.LocalID, protocol.CodeBadRequest, fmt.Sprintf("unknown action %q", c.Action)), nil
}

// write stores data as the new version of rec.
func (s *Server) write(id int64, rec *tripRecord, deviceID string, data protocol.TripData, now time.Time) (protocol.SyncResult, *protocol.SyncConflict) {
	data.ID = id
	data.LocalID = rec.data.LocalID
	data.CreatedAt = rec.data.CreatedAt
	if err := validate(&data); err != nil {
		return failure(data.LocalID, protocol.CodeValidation, err.Error()), nil
	}
	if sameTrip(&rec.data, &data) {
		return success(data.LocalID, rec.data), nil
	}
	data.UpdatedAt = &now
	rec.data = data
	rec.lastDevice = deviceID
	rec.updatedAt = now
	return success(data.LocalID, data), nil
}

// restore brings a deleted record back under its old id.
func (s *Server) restore(id int64, rec *tripRecord, deviceID string, data protocol.TripData, now time.Time) (protocol.SyncResult, *protocol.SyncConflict) {
	data.ID = id
	data.LocalID = rec.data.LocalID
	data.CreatedAt = rec.data.CreatedAt
	if err := validate(&data); err != nil {
		return failure(data.LocalID, protocol.CodeValidation, err.Error()), nil
	}
	data.UpdatedAt = &now
	rec.data = data
	rec.deleted = false
	rec.lastDevice = deviceID
	rec.updatedAt = now
	s.logger.Info("trip restored", "id", id, "local_id", data.LocalID, "device_id", deviceID)
	return success(data.LocalID, data), nil
}

func success(localID string, data protocol.TripData) protocol.SyncResult {
	return protocol.SyncResult{LocalID: localID, ID: data.ID, Success: true, UpdatedAt: data.UpdatedAt, Trip: &data}
}

func sameTrip(a, b *protocol.TripData) bool {
	return a.ToTrip().SameContent(b.ToTrip())
}

func validate(d *protocol.TripData) error {
	if d.LocalID == "" {
		return fmt.Errorf("%w: localId is required", errValidation)
	}
	if err := d.ToTrip().Validate(); err != nil {
		return err
	}
	return nil
}

func (s *Server) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.trips))
	for id := range s.trips {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListTrips returns every live trip ordered by start date.
func (s *Server) ListTrips() []protocol.TripData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveTrips()
}

func (s *Server) liveTrips() []protocol.TripData {
	out := []protocol.TripData{}
	for _, id := range s.sortedIDs() {
		if rec := s.trips[id]; !rec.deleted {
			out = append(out, rec.data)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out
}

// GetTrip returns one live trip.
func (s *Server) GetTrip(id int64) (protocol.TripData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trips[id]
	if !ok || rec.deleted {
		return protocol.TripData{}, fmt.Errorf("%w: trip %d", errNotFound, id)
	}
	return rec.data, nil
}

// CreateTrip stores a trip outside a sync batch. It upserts by localId like
// a sync create.
func (s *Server) CreateTrip(deviceID string, data protocol.TripData) (protocol.TripData, error) {
	return s.single(deviceID, protocol.SyncChange{
		LocalID: data.LocalID, Entity: protocol.EntityTrip, Action: protocol.ActionCreate, Trip: &data,
	})
}

// UpdateTrip replaces a trip's content. The last writer wins.
func (s *Server) UpdateTrip(deviceID string, id int64, data protocol.TripData) (protocol.TripData, error) {
	return s.single(deviceID, protocol.SyncChange{
		Entity: protocol.EntityTrip, Action: protocol.ActionUpdate, ID: id, Trip: &data,
	})
}

// DeleteTrip tombstones a trip.
func (s *Server) DeleteTrip(deviceID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trips[id]
	if !ok || rec.deleted {
		return fmt.Errorf("%w: trip %d", errNotFound, id)
	}
	now := s.now()
	rec.deleted = true
	rec.lastDevice = deviceID
	rec.updatedAt = now
	return nil
}

func (s *Server) single(deviceID string, c protocol.SyncChange) (protocol.TripData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Action == protocol.ActionUpdate {
		// Direct updates are unconditional.
		if _, rec := s.lookup(c.ID, c.LocalID); rec != nil {
			base := rec.updatedAt
			c.BaseUpdatedAt = &base
			c.LocalID = rec.data.LocalID
		}
	}
	result, conflict := s.applyChange(deviceID, c, s.now())
	if conflict != nil {
		return protocol.TripData{}, fmt.Errorf("%w: trip %s was deleted", errNotFound, c.LocalID)
	}
	if !result.Success {
		if result.Error != nil && result.Error.Code == protocol.CodeNotFound {
			return protocol.TripData{}, fmt.Errorf("%w: %s", errNotFound, result.Error.Message)
		}
		return protocol.TripData{}, fmt.Errorf("%w: %s", errValidation, result.Error.Message)
	}
	return *result.Trip, nil
}

// UploadLocations stores readings, upserting by localId.
func (s *Server) UploadLocations(batch *protocol.LocationBatch) *protocol.LocationBatchResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &protocol.LocationBatchResponse{Success: true, Results: make([]protocol.SyncResult, 0, len(batch.Locations))}
	for _, l := range batch.Locations {
		switch {
		case l.LocalID == "":
			resp.Results = append(resp.Results, failure("", protocol.CodeValidation, "localId is required"))
			continue
		case l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180:
			resp.Results = append(resp.Results, failure(l.LocalID, protocol.CodeValidation, "coordinate out of range"))
			continue
		}
		if existing, ok := s.readings[l.LocalID]; ok {
			resp.Results = append(resp.Results, protocol.SyncResult{LocalID: l.LocalID, ID: existing.ID, Success: true})
			continue
		}
		s.nextReadingID++
		l.ID = s.nextReadingID
		s.readings[l.LocalID] = l
		resp.Results = append(resp.Results, protocol.SyncResult{LocalID: l.LocalID, ID: l.ID, Success: true})
	}
	return resp
}

// ReadingCount returns how many readings the server holds.
func (s *Server) ReadingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

// PassportControl computes the compliance snapshot from the server's trips
// as of today in UTC.
func (s *Server) PassportControl() protocol.PassportControlData {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := s.liveTrips()
	trips := make([]model.Trip, len(live))
	for i := range live {
		trips[i] = *live[i].ToTrip()
	}
	snap := compliance.Compute(trips, model.DateOf(now), s.rule)
	return protocol.FromSnapshot(snap, now)
}

// RegisterDevice records a device. Registering again replaces the record.
func (s *Server) RegisterDevice(reg protocol.DeviceRegistration) error {
	if reg.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", errValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[reg.DeviceID] = reg
	s.logger.Info("device registered", "device_id", reg.DeviceID, "platform", reg.Platform)
	return nil
}

// UnregisterDevice forgets a device.
func (s *Server) UnregisterDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		return fmt.Errorf("%w: device %s", errNotFound, deviceID)
	}
	delete(s.devices, deviceID)
	return nil
}

// Devices returns the registered devices ordered by id.
func (s *Server) Devices() []protocol.DeviceRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.DeviceRegistration, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
