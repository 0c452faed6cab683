package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
	"zt-go/internal/zt"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", nil, &fixedClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func newTrip(localID, country, start, end string) *model.Trip {
	return &model.Trip{
		LocalID:        localID,
		StartDate:      model.MustParseDate(start),
		EndDate:        model.MustParseDate(end),
		Country:        country,
		Category:       model.CategorySchengen,
		LocationSource: model.SourceManual,
	}
}

func mustCreate(t *testing.T, db *SQLiteDatabase, trip *model.Trip) {
	t.Helper()
	if err := db.CreateTrip(trip); err != nil {
		t.Fatalf("CreateTrip() error = %v", err)
	}
}

func mustFind(t *testing.T, db *SQLiteDatabase, localID string) *model.Trip {
	t.Helper()
	got, err := db.FindTrip(localID)
	if err != nil {
		t.Fatalf("FindTrip() error = %v", err)
	}
	if got == nil {
		t.Fatalf("FindTrip(%q) = nil", localID)
	}
	return got
}

// syncTrip claims every pending trip and acknowledges localID with the
// given server id.
func syncTrip(t *testing.T, db *SQLiteDatabase, localID string, id int64, updatedAt time.Time) {
	t.Helper()
	claimed, err := db.ClaimPendingTrips()
	if err != nil {
		t.Fatalf("ClaimPendingTrips() error = %v", err)
	}
	for _, c := range claimed {
		if c.LocalID != localID {
			continue
		}
		server := c
		server.ID = id
		server.UpdatedAt = &updatedAt
		server.CreatedAt = &updatedAt
		if err := db.AckTrip(localID, c.Revision, &server); err != nil {
			t.Fatalf("AckTrip() error = %v", err)
		}
		return
	}
	t.Fatalf("trip %s was not claimed", localID)
}

func TestSQLiteDatabase_TripCRUD(t *testing.T) {
	t.Run("returns nil when trip not found", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.FindTrip("missing")
		if err != nil {
			t.Fatalf("FindTrip() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindTrip() = %v, want nil", got)
		}
	})

	t.Run("created trip is pending at revision 1", func(t *testing.T) {
		db := newTestDB(t)
		lat := 45.46
		trip := newTrip("t1", "IT", "2024-05-01", "2024-05-03")
		trip.LocationLat = &lat
		mustCreate(t, db, trip)

		got := mustFind(t, db, "t1")
		if got.SyncStatus != model.SyncPending || got.Revision != 1 {
			t.Errorf("status/revision = %s/%d, want pending/1", got.SyncStatus, got.Revision)
		}
		if !got.SameContent(trip) {
			t.Errorf("FindTrip() = %+v, want %+v", got, trip)
		}
	})

	t.Run("update bumps revision and marks synced trip pending", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))
		syncTrip(t, db, "t1", 11, time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))

		got := mustFind(t, db, "t1")
		if got.SyncStatus != model.SyncSynced {
			t.Fatalf("status = %s, want synced", got.SyncStatus)
		}

		got.Notes = "Paris"
		if err := db.UpdateTrip(got); err != nil {
			t.Fatalf("UpdateTrip() error = %v", err)
		}
		updated := mustFind(t, db, "t1")
		if updated.SyncStatus != model.SyncPending || updated.Revision != 2 || updated.Notes != "Paris" {
			t.Errorf("after update = %s/%d/%q", updated.SyncStatus, updated.Revision, updated.Notes)
		}
		if updated.ID != 11 || updated.Base == nil || updated.Base.Notes != "" {
			t.Errorf("update must keep server id and base, got id=%d base=%+v", updated.ID, updated.Base)
		}
	})

	t.Run("update of missing trip", func(t *testing.T) {
		db := newTestDB(t)
		err := db.UpdateTrip(newTrip("nope", "FR", "2024-05-01", "2024-05-03"))
		if !errors.Is(err, zt.ErrNotFound) {
			t.Errorf("UpdateTrip() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("deleting a never-synced trip removes it", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))

		if err := db.DeleteTrip("t1"); err != nil {
			t.Fatalf("DeleteTrip() error = %v", err)
		}
		if got, _ := db.FindTrip("t1"); got != nil {
			t.Errorf("FindTrip() = %+v, want nil", got)
		}
	})

	t.Run("deleting a synced trip leaves a pending tombstone", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))
		syncTrip(t, db, "t1", 5, time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC))

		if err := db.DeleteTrip("t1"); err != nil {
			t.Fatalf("DeleteTrip() error = %v", err)
		}
		got := mustFind(t, db, "t1")
		if !got.Deleted || got.SyncStatus != model.SyncPending {
			t.Errorf("tombstone = deleted:%v status:%s", got.Deleted, got.SyncStatus)
		}
		trips, _ := db.ListTrips()
		if len(trips) != 0 {
			t.Errorf("ListTrips() returned %d trips, want tombstone hidden", len(trips))
		}

		if err := db.AckTripDelete("t1"); err != nil {
			t.Fatalf("AckTripDelete() error = %v", err)
		}
		if got, _ := db.FindTrip("t1"); got != nil {
			t.Error("tombstone should be removed after acknowledgement")
		}
	})
}

func TestSQLiteDatabase_Quarantine(t *testing.T) {
	db := newTestDB(t)
	mustCreate(t, db, newTrip("good", "FR", "2024-05-01", "2024-05-03"))
	mustCreate(t, db, newTrip("bad", "DE", "2024-05-01", "2024-05-03"))

	if _, err := db.db.Exec(`UPDATE trips SET start_date = 'yesterday' WHERE local_id = 'bad'`); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	trips, err := db.ListTrips()
	if err != nil {
		t.Fatalf("ListTrips() error = %v", err)
	}
	if len(trips) != 1 || trips[0].LocalID != "good" {
		t.Fatalf("ListTrips() = %+v, want only the good trip", trips)
	}

	var quarantined bool
	var reason string
	if err := db.db.QueryRow(`SELECT quarantined, quarantine_reason FROM trips WHERE local_id = 'bad'`).Scan(&quarantined, &reason); err != nil {
		t.Fatalf("reading quarantine flag: %v", err)
	}
	if !quarantined || reason == "" {
		t.Errorf("quarantined = %v (%q), want flagged with a reason", quarantined, reason)
	}

	claimed, err := db.ClaimPendingTrips()
	if err != nil {
		t.Fatalf("ClaimPendingTrips() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Errorf("ClaimPendingTrips() claimed %d trips, want quarantined row excluded", len(claimed))
	}
}

func TestSQLiteDatabase_RecordCapture(t *testing.T) {
	reading := func(id string) *model.LocationReading {
		return &model.LocationReading{
			LocalID:    id,
			Lat:        48.85,
			Lng:        2.35,
			Accuracy:   10,
			Country:    "FR",
			IsSchengen: true,
			RecordedAt: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
		}
	}
	candidate := func(id, day string) *model.Trip {
		c := newTrip(id, "FR", day, day)
		c.LocationSource = model.SourceGPS
		return c
	}

	t.Run("reading without candidate", func(t *testing.T) {
		db := newTestDB(t)
		rec, err := db.RecordCapture(reading("r1"), nil, 1)
		if err != nil {
			t.Fatalf("RecordCapture() error = %v", err)
		}
		if rec.Action != zt.CaptureNone || rec.Trip != nil {
			t.Errorf("RecordCapture() = %+v, want none", rec)
		}
		rs, _ := db.ListReadings(10)
		if len(rs) != 1 || rs[0].SyncStatus != model.SyncPending {
			t.Errorf("ListReadings() = %+v", rs)
		}
	})

	t.Run("creates then leaves unchanged on the same day", func(t *testing.T) {
		db := newTestDB(t)
		rec, err := db.RecordCapture(reading("r1"), candidate("c1", "2024-05-10"), 1)
		if err != nil {
			t.Fatalf("RecordCapture() error = %v", err)
		}
		if rec.Action != zt.CaptureCreated {
			t.Fatalf("Action = %s, want created", rec.Action)
		}

		rec, err = db.RecordCapture(reading("r2"), candidate("c2", "2024-05-10"), 1)
		if err != nil {
			t.Fatalf("second RecordCapture() error = %v", err)
		}
		if rec.Action != zt.CaptureUnchanged || rec.Trip.LocalID != "c1" {
			t.Errorf("second capture = %s on %s, want unchanged on c1", rec.Action, rec.Trip.LocalID)
		}

		trips, _ := db.ListTrips()
		if len(trips) != 1 {
			t.Errorf("ListTrips() = %d trips, want 1", len(trips))
		}
	})

	t.Run("extends a contiguous trip", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-05", "2024-05-09"))
		syncTrip(t, db, "t1", 3, time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC))

		rec, err := db.RecordCapture(reading("r1"), candidate("c1", "2024-05-10"), 1)
		if err != nil {
			t.Fatalf("RecordCapture() error = %v", err)
		}
		if rec.Action != zt.CaptureExtended {
			t.Fatalf("Action = %s, want extended", rec.Action)
		}
		got := mustFind(t, db, "t1")
		if got.EndDate.String() != "2024-05-10" || got.SyncStatus != model.SyncPending {
			t.Errorf("extended trip = %s %s", got.EndDate, got.SyncStatus)
		}
	})

	t.Run("gap larger than merge window starts a new trip", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-07"))

		rec, err := db.RecordCapture(reading("r1"), candidate("c1", "2024-05-10"), 1)
		if err != nil {
			t.Fatalf("RecordCapture() error = %v", err)
		}
		if rec.Action != zt.CaptureCreated {
			t.Errorf("Action = %s, want created", rec.Action)
		}
	})

	t.Run("failed insert leaves nothing behind", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("dup", "FR", "2024-01-01", "2024-01-02"))

		_, err := db.RecordCapture(reading("r1"), candidate("dup", "2024-05-10"), 1)
		if err == nil {
			t.Fatal("RecordCapture() expected error for duplicate local id")
		}
		rs, _ := db.ListReadings(10)
		if len(rs) != 0 {
			t.Errorf("reading was written despite failed transaction: %+v", rs)
		}
	})
}

func TestSQLiteDatabase_SyncBookkeeping(t *testing.T) {
	t.Run("edit during sync keeps trip pending", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))

		claimed, err := db.ClaimPendingTrips()
		if err != nil || len(claimed) != 1 {
			t.Fatalf("ClaimPendingTrips() = %v, %v", claimed, err)
		}
		if claimed[0].SyncStatus != model.SyncSyncing {
			t.Errorf("claimed status = %s, want syncing", claimed[0].SyncStatus)
		}

		edited := mustFind(t, db, "t1")
		edited.Notes = "edited mid-sync"
		if err := db.UpdateTrip(edited); err != nil {
			t.Fatalf("UpdateTrip() error = %v", err)
		}

		server := claimed[0]
		server.ID = 9
		if err := db.AckTrip("t1", claimed[0].Revision, &server); err != nil {
			t.Fatalf("AckTrip() error = %v", err)
		}

		got := mustFind(t, db, "t1")
		if got.SyncStatus != model.SyncPending {
			t.Errorf("status = %s, want pending", got.SyncStatus)
		}
		if got.ID != 9 {
			t.Errorf("ID = %d, want 9 learned from the ack", got.ID)
		}
		if got.Notes != "edited mid-sync" {
			t.Errorf("Notes = %q, local edit lost", got.Notes)
		}
	})

	t.Run("release and fail", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("a", "FR", "2024-05-01", "2024-05-03"))
		mustCreate(t, db, newTrip("b", "DE", "2024-05-04", "2024-05-06"))

		claimed, _ := db.ClaimPendingTrips()
		revs := map[string]int64{}
		for _, c := range claimed {
			revs[c.LocalID] = c.Revision
		}
		if err := db.ReleaseTrips([]string{"a"}); err != nil {
			t.Fatalf("ReleaseTrips() error = %v", err)
		}
		if err := db.FailTrip("b", revs["b"], "validation_error: bad"); err != nil {
			t.Fatalf("FailTrip() error = %v", err)
		}

		if got := mustFind(t, db, "a"); got.SyncStatus != model.SyncPending {
			t.Errorf("a status = %s, want pending", got.SyncStatus)
		}
		if got := mustFind(t, db, "b"); got.SyncStatus != model.SyncFailed {
			t.Errorf("b status = %s, want failed", got.SyncStatus)
		}

		n, err := db.RequeueFailed()
		if err != nil || n != 1 {
			t.Fatalf("RequeueFailed() = %d, %v, want 1", n, err)
		}
		if got := mustFind(t, db, "b"); got.SyncStatus != model.SyncPending {
			t.Errorf("b status after requeue = %s, want pending", got.SyncStatus)
		}
	})

	t.Run("pending count covers trips and readings", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("a", "FR", "2024-05-01", "2024-05-03"))
		if _, err := db.RecordCapture(&model.LocationReading{LocalID: "r1", RecordedAt: time.Now()}, nil, 1); err != nil {
			t.Fatalf("RecordCapture() error = %v", err)
		}

		n, err := db.PendingSyncCount()
		if err != nil || n != 2 {
			t.Fatalf("PendingSyncCount() = %d, %v, want 2", n, err)
		}

		readings, _ := db.ClaimPendingReadings()
		if len(readings) != 1 {
			t.Fatalf("ClaimPendingReadings() = %d, want 1", len(readings))
		}
		if err := db.AckReading("r1", 77); err != nil {
			t.Fatalf("AckReading() error = %v", err)
		}
		syncTrip(t, db, "a", 1, time.Now())

		if n, _ := db.PendingSyncCount(); n != 0 {
			t.Errorf("PendingSyncCount() = %d, want 0", n)
		}
	})

	t.Run("last sync round trip", func(t *testing.T) {
		db := newTestDB(t)
		got, err := db.LastSync()
		if err != nil || got != nil {
			t.Fatalf("LastSync() = %v, %v, want nil", got, err)
		}
		ts := time.Date(2024, 5, 10, 12, 0, 0, 123, time.UTC)
		if err := db.SetLastSync(ts); err != nil {
			t.Fatalf("SetLastSync() error = %v", err)
		}
		got, _ = db.LastSync()
		if got == nil || !got.Equal(ts) {
			t.Errorf("LastSync() = %v, want %v", got, ts)
		}
	})
}

func TestSQLiteDatabase_ApplyServerChanges(t *testing.T) {
	t1 := time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	t.Run("unknown server trip is inserted as synced", func(t *testing.T) {
		db := newTestDB(t)
		server := newTrip("other-device-1", "ES", "2024-04-01", "2024-04-05")
		server.ID = 40
		server.UpdatedAt = &t1

		res, err := db.ApplyServerTrip(server)
		if err != nil {
			t.Fatalf("ApplyServerTrip() error = %v", err)
		}
		if res.Action != zt.ApplyInserted {
			t.Errorf("Action = %s, want inserted", res.Action)
		}
		got := mustFind(t, db, "other-device-1")
		if got.SyncStatus != model.SyncSynced || got.ID != 40 {
			t.Errorf("inserted = %s id %d", got.SyncStatus, got.ID)
		}

		res, _ = db.ApplyServerTrip(server)
		if res.Action != zt.ApplySkipped {
			t.Errorf("replayed change Action = %s, want skipped", res.Action)
		}
	})

	t.Run("synced trip is overwritten", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))
		syncTrip(t, db, "t1", 5, t1)

		server := newTrip("t1", "FR", "2024-05-01", "2024-05-06")
		server.ID = 5
		server.UpdatedAt = &t2
		res, err := db.ApplyServerTrip(server)
		if err != nil {
			t.Fatalf("ApplyServerTrip() error = %v", err)
		}
		if res.Action != zt.ApplyUpdated {
			t.Errorf("Action = %s, want updated", res.Action)
		}
		if got := mustFind(t, db, "t1"); got.EndDate.String() != "2024-05-06" {
			t.Errorf("EndDate = %s, want 2024-05-06", got.EndDate)
		}
	})

	t.Run("pending local edit is not clobbered", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))
		syncTrip(t, db, "t1", 5, t1)
		local := mustFind(t, db, "t1")
		local.Notes = "local"
		if err := db.UpdateTrip(local); err != nil {
			t.Fatalf("UpdateTrip() error = %v", err)
		}

		server := newTrip("t1", "FR", "2024-05-01", "2024-05-03")
		server.ID = 5
		server.Notes = "server"
		server.UpdatedAt = &t2
		res, err := db.ApplyServerTrip(server)
		if err != nil {
			t.Fatalf("ApplyServerTrip() error = %v", err)
		}
		if res.Action != zt.ApplyConflict || res.Local == nil {
			t.Fatalf("Action = %s, want conflict with local copy", res.Action)
		}
		if got := mustFind(t, db, "t1"); got.Notes != "local" {
			t.Errorf("Notes = %q, local data must be unchanged", got.Notes)
		}
	})

	t.Run("server delete", func(t *testing.T) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))
		syncTrip(t, db, "t1", 5, t1)

		res, err := db.ApplyServerDelete(5, "")
		if err != nil {
			t.Fatalf("ApplyServerDelete() error = %v", err)
		}
		if res.Action != zt.ApplyDeleted {
			t.Errorf("Action = %s, want deleted", res.Action)
		}
		if got, _ := db.FindTrip("t1"); got != nil {
			t.Error("trip should be gone")
		}

		res, _ = db.ApplyServerDelete(5, "t1")
		if res.Action != zt.ApplySkipped {
			t.Errorf("second delete Action = %s, want skipped", res.Action)
		}
	})
}

func TestSQLiteDatabase_Conflicts(t *testing.T) {
	t1 := time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	setup := func(t *testing.T) (*SQLiteDatabase, *model.Trip) {
		db := newTestDB(t)
		mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))
		syncTrip(t, db, "t1", 5, t1)
		local := mustFind(t, db, "t1")
		local.Notes = "local"
		if err := db.UpdateTrip(local); err != nil {
			t.Fatalf("UpdateTrip() error = %v", err)
		}

		server := newTrip("t1", "FR", "2024-05-01", "2024-05-08")
		server.ID = 5
		server.Notes = "server"
		server.UpdatedAt = &t2
		err := db.RecordConflict(&model.Conflict{
			LocalID: "t1", TripID: 5, Server: server, Reason: "modified on both sides", DetectedAt: t2,
		})
		if err != nil {
			t.Fatalf("RecordConflict() error = %v", err)
		}
		return db, server
	}

	t.Run("conflict is listed once with both versions", func(t *testing.T) {
		db, server := setup(t)
		// Recording again replaces rather than duplicates.
		if err := db.RecordConflict(&model.Conflict{LocalID: "t1", TripID: 5, Server: server, Reason: "again", DetectedAt: t2}); err != nil {
			t.Fatalf("RecordConflict() error = %v", err)
		}

		cs, err := db.ListConflicts()
		if err != nil {
			t.Fatalf("ListConflicts() error = %v", err)
		}
		if len(cs) != 1 {
			t.Fatalf("ListConflicts() = %d, want 1", len(cs))
		}
		if cs[0].Local == nil || cs[0].Local.Notes != "local" {
			t.Errorf("Local = %+v", cs[0].Local)
		}
		if cs[0].Server == nil || cs[0].Server.Notes != "server" {
			t.Errorf("Server = %+v", cs[0].Server)
		}

		claimed, _ := db.ClaimPendingTrips()
		if len(claimed) != 0 {
			t.Errorf("conflicting trip was claimed for sync")
		}
	})

	t.Run("keep server", func(t *testing.T) {
		db, _ := setup(t)
		if err := db.ResolveConflict("t1", model.KeepServer); err != nil {
			t.Fatalf("ResolveConflict() error = %v", err)
		}
		got := mustFind(t, db, "t1")
		if got.Notes != "server" || got.EndDate.String() != "2024-05-08" || got.SyncStatus != model.SyncSynced {
			t.Errorf("after keep server = %q %s %s", got.Notes, got.EndDate, got.SyncStatus)
		}
		if cs, _ := db.ListConflicts(); len(cs) != 0 {
			t.Errorf("conflict not cleared")
		}
	})

	t.Run("keep local rebases on the server version", func(t *testing.T) {
		db, _ := setup(t)
		if err := db.ResolveConflict("t1", model.KeepLocal); err != nil {
			t.Fatalf("ResolveConflict() error = %v", err)
		}
		got := mustFind(t, db, "t1")
		if got.Notes != "local" || got.SyncStatus != model.SyncPending {
			t.Errorf("after keep local = %q %s", got.Notes, got.SyncStatus)
		}
		if got.Base == nil || got.Base.Notes != "server" || got.UpdatedAt == nil || !got.UpdatedAt.Equal(t2) {
			t.Errorf("Base = %+v, want server version", got.Base)
		}
	})

	t.Run("resolving unknown conflict", func(t *testing.T) {
		db := newTestDB(t)
		err := db.ResolveConflict("nope", model.KeepLocal)
		if !errors.Is(err, zt.ErrNotFound) {
			t.Errorf("ResolveConflict() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteDatabase_SnapshotCache(t *testing.T) {
	db := newTestDB(t)

	if got, err := db.LoadSnapshot(); err != nil || got != nil {
		t.Fatalf("LoadSnapshot() = %v, %v, want nil", got, err)
	}

	trips := []model.Trip{*newTrip("t1", "FR", "2024-05-01", "2024-05-03")}
	snap := compliance.Compute(trips, model.MustParseDate("2024-05-10"), compliance.DefaultRule())
	if err := db.SaveSnapshot(&snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	got, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if got.DaysUsed != 3 || !got.WindowEnd.Equal(snap.WindowEnd) || len(got.RecentTrips) != 1 {
		t.Errorf("LoadSnapshot() = %+v, want %+v", got, snap)
	}
}

func TestSQLiteDatabase_JobRuns(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	if id, _ := db.MaxJobRunID(); id != 0 {
		t.Errorf("MaxJobRunID() = %d, want 0", id)
	}

	id1, err := db.StartJobRun("capture@08:00", 1, start)
	if err != nil {
		t.Fatalf("StartJobRun() error = %v", err)
	}
	if err := db.FinishJobRun(id1, "succeeded", "", start.Add(time.Second)); err != nil {
		t.Fatalf("FinishJobRun() error = %v", err)
	}
	id2, _ := db.StartJobRun("sync", 2, start.Add(time.Minute))

	runs, err := db.ListJobRuns(10)
	if err != nil {
		t.Fatalf("ListJobRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != id2 || runs[1].ID != id1 {
		t.Fatalf("ListJobRuns() = %+v, want newest first", runs)
	}
	if runs[0].State != "running" || runs[0].FinishedAt != nil {
		t.Errorf("unfinished run = %+v", runs[0])
	}
	if runs[1].State != "succeeded" || runs[1].FinishedAt == nil {
		t.Errorf("finished run = %+v", runs[1])
	}
	if latest, _ := db.MaxJobRunID(); latest != id2 {
		t.Errorf("MaxJobRunID() = %d, want %d", latest, id2)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	mustCreate(t, db, newTrip("t1", "FR", "2024-05-01", "2024-05-03"))

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest, nil, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copyDB.Close()

	if err := copyDB.CheckMigrations(); err != nil {
		t.Errorf("backup CheckMigrations() error = %v", err)
	}
	if got, _ := copyDB.FindTrip("t1"); got == nil {
		t.Error("backup is missing trip t1")
	}
}
