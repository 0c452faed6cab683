package zt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"zt-go/internal/metrics"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
)

// SyncOptions controls one sync run.
type SyncOptions struct {
	// RetryFailed moves failed records back to pending before claiming.
	// Manual syncs set it; automatic triggers leave failed records alone.
	RetryFailed bool
}

// SyncOutcome summarizes one sync run.
type SyncOutcome struct {
	Requeued       int
	Pushed         int // trip changes sent
	Synced         int // trip changes acknowledged
	Failed         int // trip changes rejected
	Released       int // trip changes returned to pending unanswered
	Applied        int // server changes applied locally
	Conflicts      int
	ReadingsSynced int
	ReadingsFailed int
	ServerTime     time.Time
	Shared         bool // joined a run started by another trigger
}

// SyncRunTimeout bounds one sync run, independent of the callers sharing it.
const SyncRunTimeout = 5 * time.Minute

// SyncEngine reconciles the local store with the remote authority.
// At most one run is in flight; concurrent callers share its outcome.
type SyncEngine struct {
	store     Store
	authority Authority
	clock     Clock
	logger    Logger
	deviceID  string
	group     singleflight.Group
}

func NewSyncEngine(store Store, authority Authority, clock Clock, logger Logger, deviceID string) *SyncEngine {
	return &SyncEngine{
		store:     store,
		authority: authority,
		clock:     clock,
		logger:    logger,
		deviceID:  deviceID,
	}
}

// Sync runs a sync, or joins the one already in flight. The run is bounded
// by SyncRunTimeout, not by ctx: a caller that gives up returns ctx.Err()
// while the run finishes for everyone else sharing it.
func (e *SyncEngine) Sync(ctx context.Context, opts SyncOptions) (*SyncOutcome, error) {
	ch := e.group.DoChan("sync", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SyncRunTimeout)
		defer cancel()
		return e.run(runCtx, opts)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(*SyncOutcome)
		if out != nil && res.Shared {
			cp := *out
			cp.Shared = true
			out = &cp
		}
		return out, res.Err
	}
}

func (e *SyncEngine) run(ctx context.Context, opts SyncOptions) (*SyncOutcome, error) {
	start := time.Now()
	out := &SyncOutcome{}

	err := e.syncTrips(ctx, opts, out)
	if err == nil {
		err = e.syncReadings(ctx, out)
	}

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	e.refreshGauges()

	switch {
	case err == nil:
		metrics.SyncRuns.WithLabelValues("ok").Inc()
		e.logger.Info("sync complete",
			"pushed", out.Pushed,
			"synced", out.Synced,
			"failed", out.Failed,
			"applied", out.Applied,
			"conflicts", out.Conflicts,
			"readings", out.ReadingsSynced,
		)
	case IsTransient(err):
		metrics.SyncRuns.WithLabelValues("transient").Inc()
		e.logger.Warn("sync deferred", "error", err)
	case IsRejection(err):
		metrics.SyncRuns.WithLabelValues("rejected").Inc()
		e.logger.Error("sync rejected", "error", err)
	default:
		metrics.SyncRuns.WithLabelValues("error").Inc()
		e.logger.Error("sync failed", "error", err)
	}
	return out, err
}

func (e *SyncEngine) syncTrips(ctx context.Context, opts SyncOptions, out *SyncOutcome) error {
	if opts.RetryFailed {
		n, err := e.store.RequeueFailed()
		if err != nil {
			return fmt.Errorf("requeueing failed records: %w", err)
		}
		out.Requeued = n
	}

	lastSync, err := e.store.LastSync()
	if err != nil {
		return fmt.Errorf("reading last sync time: %w", err)
	}

	trips, err := e.store.ClaimPendingTrips()
	if err != nil {
		return fmt.Errorf("claiming pending trips: %w", err)
	}

	claimed := make(map[string]*model.Trip, len(trips))
	req := &protocol.SyncRequest{
		LastSync: lastSync,
		DeviceID: e.deviceID,
		Changes:  make([]protocol.SyncChange, 0, len(trips)),
	}
	for i := range trips {
		t := &trips[i]
		claimed[t.LocalID] = t
		req.Changes = append(req.Changes, buildChange(t))
	}
	out.Pushed = len(req.Changes)

	resp, err := e.authority.Sync(ctx, req)
	if err == nil && !resp.Success {
		err = &RejectionError{Status: 200, Code: "sync_failed", Message: "server reported an unsuccessful sync"}
	}
	if err != nil {
		return e.abortTrips(claimed, err, out)
	}

	handled := make(map[string]bool, len(claimed))
	for _, r := range resp.SyncResults {
		t, ok := claimed[r.LocalID]
		if !ok {
			e.logger.Warn("sync result for unknown record", "local_id", r.LocalID)
			continue
		}
		handled[r.LocalID] = true
		if err := e.applyResult(t, r, out); err != nil {
			return err
		}
	}

	conflicted := make(map[string]bool)
	for _, c := range resp.Conflicts {
		if c.Entity != "" && c.Entity != protocol.EntityTrip {
			continue
		}
		if conflicted[c.LocalID] {
			continue
		}
		var server *model.Trip
		if c.ServerVersion != nil {
			server = c.ServerVersion.ToTrip()
		}
		if err := e.recordConflict(c.LocalID, c.ID, claimed[c.LocalID], server, c.Reason); err != nil {
			return err
		}
		conflicted[c.LocalID] = true
		handled[c.LocalID] = true
		out.Conflicts++
	}

	var release []string
	for id := range claimed {
		if !handled[id] {
			release = append(release, id)
		}
	}
	if len(release) > 0 {
		if err := e.store.ReleaseTrips(release); err != nil {
			return fmt.Errorf("releasing unanswered trips: %w", err)
		}
		out.Released = len(release)
		metrics.SyncRecords.WithLabelValues(protocol.EntityTrip, "released").Add(float64(len(release)))
	}

	for _, sc := range resp.ServerChanges {
		if sc.Entity != "" && sc.Entity != protocol.EntityTrip {
			continue
		}
		if conflicted[sc.LocalID] {
			continue
		}
		if err := e.applyServerChange(sc, conflicted, out); err != nil {
			return err
		}
	}

	out.ServerTime = resp.ServerTime
	if !resp.ServerTime.IsZero() {
		if err := e.store.SetLastSync(resp.ServerTime); err != nil {
			return fmt.Errorf("storing last sync time: %w", err)
		}
	}
	return nil
}

// abortTrips undoes a claim after the request as a whole failed. Rejected
// requests fail every claimed record; anything else returns them to pending.
func (e *SyncEngine) abortTrips(claimed map[string]*model.Trip, cause error, out *SyncOutcome) error {
	if IsRejection(cause) {
		for _, t := range claimed {
			if err := e.store.FailTrip(t.LocalID, t.Revision, cause.Error()); err != nil {
				return errors.Join(cause, fmt.Errorf("marking trip failed: %w", err))
			}
		}
		out.Failed = len(claimed)
		metrics.SyncRecords.WithLabelValues(protocol.EntityTrip, "failed").Add(float64(len(claimed)))
		return cause
	}

	ids := make([]string, 0, len(claimed))
	for id := range claimed {
		ids = append(ids, id)
	}
	if err := e.store.ReleaseTrips(ids); err != nil {
		return errors.Join(cause, fmt.Errorf("releasing trips: %w", err))
	}
	out.Released = len(ids)
	if !IsTransient(cause) && !errors.Is(cause, context.Canceled) {
		cause = Transient(cause)
	}
	return cause
}

func (e *SyncEngine) applyResult(t *model.Trip, r protocol.SyncResult, out *SyncOutcome) error {
	if !r.Success {
		reason := "rejected by server"
		if r.Error != nil {
			reason = fmt.Sprintf("%s: %s", r.Error.Code, r.Error.Message)
		}
		if err := e.store.FailTrip(t.LocalID, t.Revision, reason); err != nil {
			return fmt.Errorf("marking trip %s failed: %w", t.LocalID, err)
		}
		out.Failed++
		metrics.SyncRecords.WithLabelValues(protocol.EntityTrip, "failed").Inc()
		e.logger.Warn("trip rejected", "local_id", t.LocalID, "reason", reason)
		return nil
	}

	if t.Deleted {
		if err := e.store.AckTripDelete(t.LocalID); err != nil {
			return fmt.Errorf("acknowledging delete of %s: %w", t.LocalID, err)
		}
	} else if err := e.store.AckTrip(t.LocalID, t.Revision, acknowledgedVersion(t, r)); err != nil {
		return fmt.Errorf("acknowledging trip %s: %w", t.LocalID, err)
	}
	out.Synced++
	metrics.SyncRecords.WithLabelValues(protocol.EntityTrip, "synced").Inc()
	return nil
}

func (e *SyncEngine) applyServerChange(sc protocol.ServerChange, conflicted map[string]bool, out *SyncOutcome) error {
	var (
		res    *ApplyResult
		server *model.Trip
		err    error
	)
	switch sc.Action {
	case protocol.ActionDelete:
		res, err = e.store.ApplyServerDelete(sc.ID, sc.LocalID)
	default:
		if sc.Trip == nil {
			e.logger.Warn("server change without trip data", "id", sc.ID, "local_id", sc.LocalID)
			return nil
		}
		server = sc.Trip.ToTrip()
		if server.ID == 0 {
			server.ID = sc.ID
		}
		if server.LocalID == "" {
			server.LocalID = sc.LocalID
		}
		if server.UpdatedAt == nil && !sc.UpdatedAt.IsZero() {
			ts := sc.UpdatedAt
			server.UpdatedAt = &ts
		}
		if verr := server.Validate(); verr != nil {
			e.logger.Warn("ignoring invalid server change", "id", sc.ID, "error", verr)
			return nil
		}
		res, err = e.store.ApplyServerTrip(server)
	}
	if err != nil {
		return fmt.Errorf("applying server change %d: %w", sc.ID, err)
	}

	switch res.Action {
	case ApplyConflict:
		localID := sc.LocalID
		if res.Local != nil {
			localID = res.Local.LocalID
		}
		if conflicted[localID] {
			return nil
		}
		reason := "modified locally and on the server"
		if sc.Action == protocol.ActionDelete {
			reason = "deleted on the server while modified locally"
		}
		if err := e.recordConflict(localID, sc.ID, res.Local, server, reason); err != nil {
			return err
		}
		conflicted[localID] = true
		out.Conflicts++
	case ApplySkipped:
	default:
		out.Applied++
		metrics.SyncRecords.WithLabelValues(protocol.EntityTrip, "applied").Inc()
	}
	return nil
}

func (e *SyncEngine) recordConflict(localID string, id int64, local, server *model.Trip, reason string) error {
	if local == nil {
		found, err := e.store.FindTrip(localID)
		if err != nil {
			return fmt.Errorf("loading conflicting trip %s: %w", localID, err)
		}
		local = found
	}
	if local == nil {
		e.logger.Warn("conflict for unknown trip", "local_id", localID)
		return nil
	}
	if reason == "" {
		reason = "modified locally and on the server"
	}
	c := &model.Conflict{
		LocalID:    localID,
		TripID:     id,
		Local:      local,
		Server:     server,
		Reason:     reason,
		DetectedAt: e.clock.Now(),
	}
	if err := e.store.RecordConflict(c); err != nil {
		return fmt.Errorf("recording conflict for %s: %w", localID, err)
	}
	metrics.SyncRecords.WithLabelValues(protocol.EntityTrip, "conflict").Inc()
	e.logger.Warn("sync conflict", "local_id", localID, "reason", reason)
	return nil
}

func (e *SyncEngine) syncReadings(ctx context.Context, out *SyncOutcome) error {
	readings, err := e.store.ClaimPendingReadings()
	if err != nil {
		return fmt.Errorf("claiming pending readings: %w", err)
	}
	if len(readings) == 0 {
		return nil
	}

	batch := &protocol.LocationBatch{Locations: make([]protocol.LocationData, len(readings))}
	ids := make([]string, len(readings))
	for i := range readings {
		batch.Locations[i] = protocol.FromReading(&readings[i])
		ids[i] = readings[i].LocalID
	}

	resp, err := e.authority.UploadLocations(ctx, batch)
	if err != nil {
		if IsRejection(err) {
			for _, id := range ids {
				if ferr := e.store.FailReading(id, err.Error()); ferr != nil {
					return errors.Join(err, ferr)
				}
			}
			out.ReadingsFailed = len(ids)
			return err
		}
		if rerr := e.store.ReleaseReadings(ids); rerr != nil {
			return errors.Join(err, rerr)
		}
		if !IsTransient(err) {
			err = Transient(err)
		}
		return err
	}

	handled := make(map[string]bool, len(ids))
	for _, r := range resp.Results {
		handled[r.LocalID] = true
		if r.Success {
			if err := e.store.AckReading(r.LocalID, r.ID); err != nil {
				return fmt.Errorf("acknowledging reading %s: %w", r.LocalID, err)
			}
			out.ReadingsSynced++
			continue
		}
		reason := "rejected by server"
		if r.Error != nil {
			reason = r.Error.Message
		}
		if err := e.store.FailReading(r.LocalID, reason); err != nil {
			return fmt.Errorf("marking reading %s failed: %w", r.LocalID, err)
		}
		out.ReadingsFailed++
	}
	metrics.SyncRecords.WithLabelValues(protocol.EntityLocation, "synced").Add(float64(out.ReadingsSynced))
	metrics.SyncRecords.WithLabelValues(protocol.EntityLocation, "failed").Add(float64(out.ReadingsFailed))

	var release []string
	for _, id := range ids {
		if !handled[id] {
			release = append(release, id)
		}
	}
	if len(release) > 0 {
		if err := e.store.ReleaseReadings(release); err != nil {
			return fmt.Errorf("releasing unanswered readings: %w", err)
		}
	}
	return nil
}

func (e *SyncEngine) refreshGauges() {
	if n, err := e.store.PendingSyncCount(); err == nil {
		metrics.PendingRecords.Set(float64(n))
	}
	if cs, err := e.store.ListConflicts(); err == nil {
		metrics.OpenConflicts.Set(float64(len(cs)))
	}
}

// buildChange turns a claimed trip into the change the server expects:
// a delete for tombstones, a full create for never-synced trips, and a
// minimal patch against the last acknowledged version otherwise.
func buildChange(t *model.Trip) protocol.SyncChange {
	c := protocol.SyncChange{
		LocalID: t.LocalID,
		Entity:  protocol.EntityTrip,
		ID:      t.ID,
	}
	base := t.Base
	if base != nil {
		c.BaseUpdatedAt = base.UpdatedAt
	} else {
		c.BaseUpdatedAt = t.UpdatedAt
	}

	switch {
	case t.Deleted:
		c.Action = protocol.ActionDelete
	case t.ID == 0:
		c.Action = protocol.ActionCreate
		c.Trip = protocol.FromTrip(t)
	default:
		c.Action = protocol.ActionUpdate
		if base == nil {
			base = &model.Trip{}
		}
		c.Patch = protocol.Diff(base, t)
	}
	return c
}

// acknowledgedVersion is the server's view of a trip after a successful
// push. It becomes the trip's new base.
func acknowledgedVersion(t *model.Trip, r protocol.SyncResult) *model.Trip {
	if r.Trip != nil {
		v := r.Trip.ToTrip()
		v.LocalID = t.LocalID
		if v.ID == 0 {
			v.ID = r.ID
		}
		return v
	}
	v := *t
	v.Base = nil
	if r.ID != 0 {
		v.ID = r.ID
	}
	if r.UpdatedAt != nil {
		v.UpdatedAt = r.UpdatedAt
		if v.CreatedAt == nil {
			v.CreatedAt = r.UpdatedAt
		}
	}
	return &v
}
