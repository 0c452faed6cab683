package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"zt-go/internal/compliance"
	"zt-go/internal/database/migrations"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
	"zt-go/internal/zt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements zt.Store using SQLite. The connection pool is
// limited to a single connection, which makes the store single-writer.
type SQLiteDatabase struct {
	db     *sql.DB
	path   string
	logger zt.Logger
	clock  zt.Clock
}

// NewSQLiteDatabase opens the database at path, which can be a file path or
// ":memory:". A nil logger or clock falls back to the no-op logger and the
// real clock.
func NewSQLiteDatabase(path string, logger zt.Logger, clock zt.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteDatabaseFromDB(db, logger, clock)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection. The caller is
// responsible for configuring it.
func NewSQLiteDatabaseFromDB(db *sql.DB, logger zt.Logger, clock zt.Clock) *SQLiteDatabase {
	if logger == nil {
		logger = zt.NewNopLogger()
	}
	if clock == nil {
		clock = zt.RealClock{}
	}
	return &SQLiteDatabase{db: db, logger: logger, clock: clock}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

func (s *SQLiteDatabase) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Row mapping

const tripColumns = `local_id, server_id, start_date, end_date, country, category, notes,
	location_source, location_lat, location_lng, location_accuracy, sync_status,
	deleted, revision, created_at, updated_at, local_updated_at, base_json, quarantined`

type scanner interface {
	Scan(dest ...any) error
}

// scanTrip reads one trips row. Rows that scan but hold invalid values are
// returned together with a non-empty corruption reason.
func scanTrip(row scanner) (*model.Trip, string, error) {
	var (
		t                        model.Trip
		serverID                 sql.NullInt64
		start, end               string
		category, source, status string
		lat, lng, acc            sql.NullFloat64
		createdAt, updatedAt     sql.NullTime
		base                     sql.NullString
	)
	err := row.Scan(&t.LocalID, &serverID, &start, &end, &t.Country, &category, &t.Notes,
		&source, &lat, &lng, &acc, &status,
		&t.Deleted, &t.Revision, &createdAt, &updatedAt, &t.LocalUpdatedAt, &base, &t.Quarantined)
	if err != nil {
		return nil, "", err
	}

	t.ID = serverID.Int64
	t.Category = model.Category(category)
	t.LocationSource = model.LocationSource(source)
	t.SyncStatus = model.SyncStatus(status)
	t.LocationLat = nullFloat(lat)
	t.LocationLng = nullFloat(lng)
	t.LocationAccuracy = nullFloat(acc)
	t.CreatedAt = nullTime(createdAt)
	t.UpdatedAt = nullTime(updatedAt)

	var problems []string
	if t.StartDate, err = model.ParseDate(start); err != nil {
		problems = append(problems, fmt.Sprintf("start_date %q", start))
	}
	if t.EndDate, err = model.ParseDate(end); err != nil {
		problems = append(problems, fmt.Sprintf("end_date %q", end))
	}
	if !t.Category.Valid() {
		problems = append(problems, fmt.Sprintf("category %q", category))
	}
	if !t.SyncStatus.Valid() {
		problems = append(problems, fmt.Sprintf("sync_status %q", status))
	}
	if base.Valid {
		var data protocol.TripData
		if err := json.Unmarshal([]byte(base.String), &data); err != nil {
			problems = append(problems, "base_json")
		} else {
			t.Base = data.ToTrip()
		}
	}
	if len(problems) > 0 {
		return &t, "invalid " + strings.Join(problems, ", "), nil
	}
	return &t, "", nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func idArg(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func encodeTrip(t *model.Trip) (any, error) {
	if t == nil {
		return nil, nil
	}
	data, err := json.Marshal(protocol.FromTrip(t))
	if err != nil {
		return nil, fmt.Errorf("encoding trip: %w", err)
	}
	return string(data), nil
}

func decodeTrip(v sql.NullString) (*model.Trip, error) {
	if !v.Valid {
		return nil, nil
	}
	var data protocol.TripData
	if err := json.Unmarshal([]byte(v.String), &data); err != nil {
		return nil, fmt.Errorf("decoding trip: %w", err)
	}
	return data.ToTrip(), nil
}

// queryTrips runs a trips query and quarantines rows that fail to parse.
// Quarantined rows are logged and left out of the result.
func queryTrips(tx *sql.Tx, logger zt.Logger, where string, args ...any) ([]model.Trip, error) {
	rows, err := tx.Query("SELECT "+tripColumns+" FROM trips "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}

	var (
		trips   []model.Trip
		corrupt = map[string]string{}
	)
	for rows.Next() {
		t, reason, err := scanTrip(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		if reason != "" {
			corrupt[t.LocalID] = reason
			continue
		}
		trips = append(trips, *t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating trips: %w", err)
	}
	rows.Close()

	for id, reason := range corrupt {
		logger.Error("quarantining corrupt trip", "local_id", id, "reason", reason)
		if _, err := tx.Exec(`UPDATE trips SET quarantined = 1, quarantine_reason = ? WHERE local_id = ?`, reason, id); err != nil {
			return nil, fmt.Errorf("quarantining trip %s: %w", id, err)
		}
	}
	return trips, nil
}

func findTripTx(tx *sql.Tx, localID string) (*model.Trip, string, error) {
	row := tx.QueryRow("SELECT "+tripColumns+" FROM trips WHERE local_id = ?", localID)
	t, reason, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("finding trip: %w", err)
	}
	return t, reason, nil
}

// findByServerOrLocal matches a server record by id first, then by localId.
func findByServerOrLocal(tx *sql.Tx, id int64, localID string) (*model.Trip, error) {
	if id != 0 {
		row := tx.QueryRow("SELECT "+tripColumns+" FROM trips WHERE server_id = ?", id)
		t, _, err := scanTrip(row)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("finding trip by server id: %w", err)
		}
	}
	if localID == "" {
		return nil, nil
	}
	t, _, err := findTripTx(tx, localID)
	return t, err
}

// Trip operations

func (s *SQLiteDatabase) CreateTrip(t *model.Trip) error {
	if t.LocalID == "" {
		return fmt.Errorf("%w: trip has no local id", zt.ErrValidation)
	}
	t.Revision = 1
	t.SyncStatus = model.SyncPending
	t.LocalUpdatedAt = s.clock.Now()
	return s.withTx(func(tx *sql.Tx) error {
		return insertTrip(tx, t)
	})
}

func insertTrip(tx *sql.Tx, t *model.Trip) error {
	base, err := encodeTrip(t.Base)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO trips (`+tripColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.LocalID, idArg(t.ID), t.StartDate.String(), t.EndDate.String(), t.Country, string(t.Category), t.Notes,
		string(t.LocationSource), floatArg(t.LocationLat), floatArg(t.LocationLng), floatArg(t.LocationAccuracy), string(t.SyncStatus),
		t.Deleted, t.Revision, timeArg(t.CreatedAt), timeArg(t.UpdatedAt), t.LocalUpdatedAt, base, t.Quarantined)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateTrip(t *model.Trip) error {
	res, err := s.db.Exec(`UPDATE trips SET
			start_date = ?, end_date = ?, country = ?, category = ?, notes = ?, location_source = ?,
			location_lat = ?, location_lng = ?, location_accuracy = ?,
			revision = revision + 1, sync_status = 'pending', sync_error = '', local_updated_at = ?
		WHERE local_id = ? AND deleted = 0`,
		t.StartDate.String(), t.EndDate.String(), t.Country, string(t.Category), t.Notes, string(t.LocationSource),
		floatArg(t.LocationLat), floatArg(t.LocationLng), floatArg(t.LocationAccuracy),
		s.clock.Now(), t.LocalID)
	if err != nil {
		return fmt.Errorf("updating trip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: trip %s", zt.ErrNotFound, t.LocalID)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteTrip(localID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var (
			serverID sql.NullInt64
			status   string
		)
		err := tx.QueryRow(`SELECT server_id, sync_status FROM trips WHERE local_id = ?`, localID).Scan(&serverID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: trip %s", zt.ErrNotFound, localID)
		}
		if err != nil {
			return fmt.Errorf("loading trip: %w", err)
		}

		// A create may be in flight; keep a tombstone so the server copy is
		// deleted once the create is acknowledged.
		if !serverID.Valid && status != string(model.SyncSyncing) {
			if _, err := tx.Exec(`DELETE FROM trips WHERE local_id = ?`, localID); err != nil {
				return fmt.Errorf("deleting trip: %w", err)
			}
			return nil
		}

		_, err = tx.Exec(`UPDATE trips SET deleted = 1, sync_status = 'pending', sync_error = '',
				revision = revision + 1, local_updated_at = ?
			WHERE local_id = ?`, s.clock.Now(), localID)
		if err != nil {
			return fmt.Errorf("marking trip deleted: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) FindTrip(localID string) (*model.Trip, error) {
	var out *model.Trip
	err := s.withTx(func(tx *sql.Tx) error {
		t, reason, err := findTripTx(tx, localID)
		if err != nil || t == nil {
			return err
		}
		if reason != "" && !t.Quarantined {
			s.logger.Error("quarantining corrupt trip", "local_id", localID, "reason", reason)
			if _, err := tx.Exec(`UPDATE trips SET quarantined = 1, quarantine_reason = ? WHERE local_id = ?`, reason, localID); err != nil {
				return fmt.Errorf("quarantining trip: %w", err)
			}
			t.Quarantined = true
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteDatabase) ListTrips() ([]model.Trip, error) {
	var trips []model.Trip
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		trips, err = queryTrips(tx, s.logger, `WHERE deleted = 0 AND quarantined = 0 ORDER BY start_date, local_id`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	return trips, nil
}

func (s *SQLiteDatabase) PendingSyncCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT
			(SELECT COUNT(*) FROM trips WHERE sync_status != 'synced' AND quarantined = 0) +
			(SELECT COUNT(*) FROM location_readings WHERE sync_status != 'synced')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending records: %w", err)
	}
	return n, nil
}

// Capture operations

func (s *SQLiteDatabase) RecordCapture(r *model.LocationReading, candidate *model.Trip, mergeGapDays int) (*zt.CaptureRecord, error) {
	rec := &zt.CaptureRecord{Action: zt.CaptureNone}
	now := s.clock.Now()

	err := s.withTx(func(tx *sql.Tx) error {
		if err := insertReading(tx, r); err != nil {
			return err
		}
		if candidate == nil {
			return nil
		}

		today := candidate.StartDate
		threshold := today.AddDays(-mergeGapDays)
		existing, err := queryTrips(tx, s.logger, `WHERE country = ? AND category = ? AND deleted = 0 AND quarantined = 0
				AND start_date <= ? AND end_date >= ?
			ORDER BY end_date DESC LIMIT 1`,
			candidate.Country, string(candidate.Category), today.String(), threshold.String())
		if err != nil {
			return err
		}

		if len(existing) > 0 && !existing[0].EndDate.Before(today) {
			rec.Action = zt.CaptureUnchanged
			rec.Trip = &existing[0]
			return nil
		}

		// A trip awaiting conflict resolution keeps its data; today starts
		// a new trip instead.
		extend := len(existing) > 0
		if extend {
			conflicted, err := hasConflictTx(tx, existing[0].LocalID)
			if err != nil {
				return err
			}
			extend = !conflicted
		}

		if !extend {
			candidate.Revision = 1
			candidate.SyncStatus = model.SyncPending
			candidate.LocalUpdatedAt = now
			if err := insertTrip(tx, candidate); err != nil {
				return err
			}
			rec.Action = zt.CaptureCreated
			rec.Trip = candidate
			return nil
		}

		t := existing[0]

		_, err = tx.Exec(`UPDATE trips SET end_date = ?, revision = revision + 1, sync_status = 'pending',
				sync_error = '', local_updated_at = ?
			WHERE local_id = ?`, today.String(), now, t.LocalID)
		if err != nil {
			return fmt.Errorf("extending trip: %w", err)
		}
		t.EndDate = today
		t.Revision++
		t.SyncStatus = model.SyncPending
		t.LocalUpdatedAt = now
		rec.Action = zt.CaptureExtended
		rec.Trip = &t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording capture: %w", err)
	}
	return rec, nil
}

func hasConflictTx(tx *sql.Tx, localID string) (bool, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sync_conflicts WHERE local_id = ?`, localID).Scan(&n); err != nil {
		return false, fmt.Errorf("checking conflicts for %s: %w", localID, err)
	}
	return n > 0, nil
}

func insertReading(tx *sql.Tx, r *model.LocationReading) error {
	if r.SyncStatus == "" {
		r.SyncStatus = model.SyncPending
	}
	_, err := tx.Exec(`INSERT INTO location_readings
			(local_id, server_id, lat, lng, accuracy, country, city, is_schengen, recorded_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.LocalID, idArg(r.ID), r.Lat, r.Lng, r.Accuracy, r.Country, r.City, r.IsSchengen, r.RecordedAt, string(r.SyncStatus))
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

const readingColumns = `local_id, server_id, lat, lng, accuracy, country, city, is_schengen, recorded_at, sync_status`

func scanReading(row scanner) (*model.LocationReading, error) {
	var (
		r        model.LocationReading
		serverID sql.NullInt64
		status   string
	)
	if err := row.Scan(&r.LocalID, &serverID, &r.Lat, &r.Lng, &r.Accuracy, &r.Country, &r.City, &r.IsSchengen, &r.RecordedAt, &status); err != nil {
		return nil, err
	}
	r.ID = serverID.Int64
	r.SyncStatus = model.SyncStatus(status)
	return &r, nil
}

func queryReadings(q interface {
	Query(string, ...any) (*sql.Rows, error)
}, where string, args ...any) ([]model.LocationReading, error) {
	rows, err := q.Query("SELECT "+readingColumns+" FROM location_readings "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var out []model.LocationReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) ListReadings(limit int) ([]model.LocationReading, error) {
	rs, err := queryReadings(s.db, `ORDER BY recorded_at DESC, local_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing readings: %w", err)
	}
	return rs, nil
}

// Sync bookkeeping

func (s *SQLiteDatabase) RequeueFailed() (int, error) {
	var total int64
	err := s.withTx(func(tx *sql.Tx) error {
		for _, table := range []string{"trips", "location_readings"} {
			res, err := tx.Exec(`UPDATE ` + table + ` SET sync_status = 'pending' WHERE sync_status = 'failed'`)
			if err != nil {
				return fmt.Errorf("requeueing %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

func (s *SQLiteDatabase) ClaimPendingTrips() ([]model.Trip, error) {
	var trips []model.Trip
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		trips, err = queryTrips(tx, s.logger, `WHERE sync_status = 'pending' AND quarantined = 0
				AND local_id NOT IN (SELECT local_id FROM sync_conflicts)
			ORDER BY local_updated_at, local_id`)
		if err != nil {
			return err
		}
		for i := range trips {
			if _, err := tx.Exec(`UPDATE trips SET sync_status = 'syncing' WHERE local_id = ?`, trips[i].LocalID); err != nil {
				return fmt.Errorf("claiming trip %s: %w", trips[i].LocalID, err)
			}
			trips[i].SyncStatus = model.SyncSyncing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claiming pending trips: %w", err)
	}
	return trips, nil
}

func (s *SQLiteDatabase) ClaimPendingReadings() ([]model.LocationReading, error) {
	var readings []model.LocationReading
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		readings, err = queryReadings(tx, `WHERE sync_status = 'pending' ORDER BY recorded_at, local_id`)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE location_readings SET sync_status = 'syncing' WHERE sync_status = 'pending'`); err != nil {
			return fmt.Errorf("claiming readings: %w", err)
		}
		for i := range readings {
			readings[i].SyncStatus = model.SyncSyncing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claiming pending readings: %w", err)
	}
	return readings, nil
}

func (s *SQLiteDatabase) ReleaseTrips(localIDs []string) error {
	return s.setStatus("trips", localIDs, model.SyncSyncing, model.SyncPending)
}

func (s *SQLiteDatabase) ReleaseReadings(localIDs []string) error {
	return s.setStatus("location_readings", localIDs, model.SyncSyncing, model.SyncPending)
}

// setStatus moves records from one status to another, skipping records no
// longer in the expected state.
func (s *SQLiteDatabase) setStatus(table string, localIDs []string, from, to model.SyncStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("invalid sync transition %s -> %s", from, to)
	}
	return s.withTx(func(tx *sql.Tx) error {
		for _, id := range localIDs {
			_, err := tx.Exec(`UPDATE `+table+` SET sync_status = ? WHERE local_id = ? AND sync_status = ?`,
				string(to), id, string(from))
			if err != nil {
				return fmt.Errorf("updating %s %s: %w", table, id, err)
			}
		}
		return nil
	})
}

func (s *SQLiteDatabase) AckTrip(localID string, revision int64, server *model.Trip) error {
	base, err := encodeTrip(server)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE trips SET
			server_id = ?, created_at = ?, updated_at = ?, base_json = ?, sync_error = '',
			sync_status = CASE WHEN revision = ? AND sync_status = 'syncing' THEN 'synced' ELSE sync_status END
		WHERE local_id = ?`,
		idArg(server.ID), timeArg(server.CreatedAt), timeArg(server.UpdatedAt), base, revision, localID)
	if err != nil {
		return fmt.Errorf("acknowledging trip: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) AckTripDelete(localID string) error {
	if _, err := s.db.Exec(`DELETE FROM trips WHERE local_id = ? AND deleted = 1`, localID); err != nil {
		return fmt.Errorf("removing tombstone: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FailTrip(localID string, revision int64, reason string) error {
	_, err := s.db.Exec(`UPDATE trips SET sync_status = 'failed', sync_error = ?
		WHERE local_id = ? AND revision = ? AND sync_status = 'syncing'`, reason, localID, revision)
	if err != nil {
		return fmt.Errorf("marking trip failed: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) AckReading(localID string, id int64) error {
	_, err := s.db.Exec(`UPDATE location_readings SET server_id = ?, sync_status = 'synced', sync_error = ''
		WHERE local_id = ? AND sync_status = 'syncing'`, idArg(id), localID)
	if err != nil {
		return fmt.Errorf("acknowledging reading: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FailReading(localID string, reason string) error {
	_, err := s.db.Exec(`UPDATE location_readings SET sync_status = 'failed', sync_error = ?
		WHERE local_id = ? AND sync_status = 'syncing'`, reason, localID)
	if err != nil {
		return fmt.Errorf("marking reading failed: %w", err)
	}
	return nil
}

// Server changes

func (s *SQLiteDatabase) ApplyServerTrip(server *model.Trip) (*zt.ApplyResult, error) {
	res := &zt.ApplyResult{}
	err := s.withTx(func(tx *sql.Tx) error {
		local, err := findByServerOrLocal(tx, server.ID, server.LocalID)
		if err != nil {
			return err
		}

		if local == nil {
			t := *server
			if t.LocalID == "" {
				t.LocalID = uuid.New().String()
			}
			t.SyncStatus = model.SyncSynced
			t.Revision = 1
			t.LocalUpdatedAt = s.clock.Now()
			t.Base = server
			if err := insertTrip(tx, &t); err != nil {
				return err
			}
			res.Action = zt.ApplyInserted
			return nil
		}

		if local.SyncStatus != model.SyncSynced || local.Deleted {
			if knownVersion(local.Base, server) {
				res.Action = zt.ApplySkipped
				return nil
			}
			res.Action = zt.ApplyConflict
			res.Local = local
			return nil
		}

		if local.SameContent(server) && knownVersion(local.Base, server) {
			res.Action = zt.ApplySkipped
			return nil
		}
		if err := overwriteWithServer(tx, local.LocalID, server, s.clock.Now()); err != nil {
			return err
		}
		res.Action = zt.ApplyUpdated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("applying server trip: %w", err)
	}
	return res, nil
}

// knownVersion reports whether server is no newer than the acknowledged base.
func knownVersion(base, server *model.Trip) bool {
	if base == nil || base.UpdatedAt == nil || server.UpdatedAt == nil {
		return false
	}
	return !server.UpdatedAt.After(*base.UpdatedAt)
}

func overwriteWithServer(tx *sql.Tx, localID string, server *model.Trip, now time.Time) error {
	base, err := encodeTrip(server)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE trips SET
			server_id = ?, start_date = ?, end_date = ?, country = ?, category = ?, notes = ?, location_source = ?,
			location_lat = ?, location_lng = ?, location_accuracy = ?, created_at = ?, updated_at = ?,
			base_json = ?, deleted = 0, sync_status = 'synced', sync_error = '',
			revision = revision + 1, local_updated_at = ?, quarantined = 0, quarantine_reason = ''
		WHERE local_id = ?`,
		idArg(server.ID), server.StartDate.String(), server.EndDate.String(), server.Country, string(server.Category),
		server.Notes, string(server.LocationSource),
		floatArg(server.LocationLat), floatArg(server.LocationLng), floatArg(server.LocationAccuracy),
		timeArg(server.CreatedAt), timeArg(server.UpdatedAt), base, now, localID)
	if err != nil {
		return fmt.Errorf("overwriting trip with server version: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ApplyServerDelete(id int64, localID string) (*zt.ApplyResult, error) {
	res := &zt.ApplyResult{}
	err := s.withTx(func(tx *sql.Tx) error {
		local, err := findByServerOrLocal(tx, id, localID)
		if err != nil {
			return err
		}
		switch {
		case local == nil:
			res.Action = zt.ApplySkipped
			return nil
		case local.SyncStatus != model.SyncSynced && !local.Deleted:
			res.Action = zt.ApplyConflict
			res.Local = local
			return nil
		}
		if _, err := tx.Exec(`DELETE FROM trips WHERE local_id = ?`, local.LocalID); err != nil {
			return fmt.Errorf("deleting trip: %w", err)
		}
		res.Action = zt.ApplyDeleted
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("applying server delete: %w", err)
	}
	return res, nil
}

// Conflicts

func (s *SQLiteDatabase) RecordConflict(c *model.Conflict) error {
	server, err := encodeTrip(c.Server)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO sync_conflicts (local_id, server_id, server_json, reason, detected_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (local_id) DO UPDATE SET
				server_id = excluded.server_id, server_json = excluded.server_json,
				reason = excluded.reason, detected_at = excluded.detected_at`,
			c.LocalID, idArg(c.TripID), server, c.Reason, c.DetectedAt)
		if err != nil {
			return fmt.Errorf("recording conflict: %w", err)
		}
		_, err = tx.Exec(`UPDATE trips SET sync_status = 'pending'
			WHERE local_id = ? AND sync_status IN ('syncing', 'failed')`, c.LocalID)
		if err != nil {
			return fmt.Errorf("returning conflicting trip to pending: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) ListConflicts() ([]model.Conflict, error) {
	var out []model.Conflict
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT local_id, server_id, server_json, reason, detected_at
			FROM sync_conflicts ORDER BY detected_at, local_id`)
		if err != nil {
			return fmt.Errorf("querying conflicts: %w", err)
		}
		for rows.Next() {
			var (
				c        model.Conflict
				serverID sql.NullInt64
				server   sql.NullString
			)
			if err := rows.Scan(&c.LocalID, &serverID, &server, &c.Reason, &c.DetectedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scanning conflict: %w", err)
			}
			c.TripID = serverID.Int64
			if c.Server, err = decodeTrip(server); err != nil {
				rows.Close()
				return err
			}
			out = append(out, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for i := range out {
			t, _, err := findTripTx(tx, out[i].LocalID)
			if err != nil {
				return err
			}
			out[i].Local = t
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) ResolveConflict(localID string, resolution model.Resolution) error {
	return s.withTx(func(tx *sql.Tx) error {
		var serverJSON sql.NullString
		err := tx.QueryRow(`SELECT server_json FROM sync_conflicts WHERE local_id = ?`, localID).Scan(&serverJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no conflict for trip %s", zt.ErrNotFound, localID)
		}
		if err != nil {
			return fmt.Errorf("loading conflict: %w", err)
		}
		server, err := decodeTrip(serverJSON)
		if err != nil {
			return err
		}
		local, _, err := findTripTx(tx, localID)
		if err != nil {
			return err
		}
		if local == nil {
			return fmt.Errorf("%w: trip %s", zt.ErrNotFound, localID)
		}

		now := s.clock.Now()
		switch resolution {
		case model.KeepServer:
			if server == nil {
				_, err = tx.Exec(`DELETE FROM trips WHERE local_id = ?`, localID)
			} else {
				server.LocalID = localID
				err = overwriteWithServer(tx, localID, server, now)
			}
		case model.KeepLocal:
			err = rebaseOnServer(tx, local, server, now)
		default:
			return fmt.Errorf("%w: unknown resolution %q", zt.ErrValidation, resolution)
		}
		if err != nil {
			return fmt.Errorf("applying resolution: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM sync_conflicts WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("clearing conflict: %w", err)
		}
		return nil
	})
}

// rebaseOnServer keeps the local edit and makes the server version its base
// so the next sync pushes it as an accepted update. When the server deleted
// the trip, a live local copy is re-created and a local tombstone is dropped.
func rebaseOnServer(tx *sql.Tx, local, server *model.Trip, now time.Time) error {
	if server == nil {
		if local.Deleted {
			_, err := tx.Exec(`DELETE FROM trips WHERE local_id = ?`, local.LocalID)
			return err
		}
		_, err := tx.Exec(`UPDATE trips SET server_id = NULL, base_json = NULL, created_at = NULL, updated_at = NULL,
				sync_status = 'pending', sync_error = '', revision = revision + 1, local_updated_at = ?
			WHERE local_id = ?`, now, local.LocalID)
		return err
	}
	base, err := encodeTrip(server)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE trips SET server_id = ?, base_json = ?, created_at = ?, updated_at = ?,
			sync_status = 'pending', sync_error = '', revision = revision + 1, local_updated_at = ?
		WHERE local_id = ?`,
		idArg(server.ID), base, timeArg(server.CreatedAt), timeArg(server.UpdatedAt), now, local.LocalID)
	return err
}

// Sync state

const lastSyncKey = "last_sync"

func (s *SQLiteDatabase) LastSync() (*time.Time, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, lastSyncKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last sync: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		s.logger.Warn("ignoring corrupt last sync time", "value", v)
		return nil, nil
	}
	return &t, nil
}

func (s *SQLiteDatabase) SetLastSync(t time.Time) error {
	_, err := s.db.Exec(`INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		lastSyncKey, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storing last sync: %w", err)
	}
	return nil
}

// Compliance cache

func (s *SQLiteDatabase) SaveSnapshot(snap *compliance.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO compliance_cache (id, snapshot_json, computed_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET snapshot_json = excluded.snapshot_json, computed_at = excluded.computed_at`,
		string(data), s.clock.Now())
	if err != nil {
		return fmt.Errorf("caching snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) LoadSnapshot() (*compliance.Snapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT snapshot_json FROM compliance_cache WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	var snap compliance.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		s.logger.Warn("discarding corrupt snapshot cache", "error", err)
		return nil, nil
	}
	return &snap, nil
}

// Job runs

func (s *SQLiteDatabase) StartJobRun(job string, attempt int, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO job_runs (job, attempt, state, started_at) VALUES (?, ?, 'running', ?)`,
		job, attempt, startedAt)
	if err != nil {
		return 0, fmt.Errorf("creating job run: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteDatabase) FinishJobRun(id int64, state string, detail string, finishedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE job_runs SET state = ?, detail = ?, finished_at = ? WHERE id = ?`,
		state, detail, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finishing job run: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListJobRuns(limit int) ([]model.JobRun, error) {
	rows, err := s.db.Query(`SELECT id, job, attempt, state, detail, started_at, finished_at
		FROM job_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing job runs: %w", err)
	}
	defer rows.Close()

	var out []model.JobRun
	for rows.Next() {
		var (
			r        model.JobRun
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Job, &r.Attempt, &r.State, &r.Detail, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		r.FinishedAt = nullTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteDatabase) MaxJobRunID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM job_runs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max job run ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate applies pending migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements zt.Store
var _ zt.Store = (*SQLiteDatabase)(nil)
