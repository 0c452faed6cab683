package zt_test

import (
	"testing"
	"time"

	"zt-go/internal/authority"
	"zt-go/internal/database"
	"zt-go/internal/model"
	"zt-go/internal/testutil"
	"zt-go/internal/zt"
)

var start = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type device struct {
	id  string
	svc *zt.Service
	db  *database.SQLiteDatabase
}

func newDevice(t *testing.T, clock zt.Clock, auth zt.Authority, id string) *device {
	t.Helper()
	db := testutil.NewTestDatabase(t, clock)
	svc := zt.NewService(zt.Deps{
		Store:     db,
		Authority: auth,
		Vault:     testutil.NewTestVault(),
		Encryptor: testutil.NewTestEncryptor(),
		Clock:     clock,
		DeviceID:  id,
	})
	return &device{id: id, svc: svc, db: db}
}

// newPair returns two devices sharing one in-memory authority.
func newPair(t *testing.T) (*testutil.StubClock, *authority.Server, *device, *device) {
	t.Helper()
	clock := testutil.NewStubClock(start)
	server := testutil.NewTestAuthority(clock)
	a := newDevice(t, clock, server.Local("device-a"), "device-a")
	b := newDevice(t, clock, server.Local("device-b"), "device-b")
	return clock, server, a, b
}

func addTrip(t *testing.T, d *device, startDate, endDate, country string) *model.Trip {
	t.Helper()
	trip, err := d.svc.AddTrip(zt.TripInput{
		StartDate: model.MustParseDate(startDate),
		EndDate:   model.MustParseDate(endDate),
		Country:   country,
	})
	if err != nil {
		t.Fatalf("AddTrip() error = %v", err)
	}
	return trip
}

func mustGet(t *testing.T, d *device, localID string) *model.Trip {
	t.Helper()
	trip, err := d.svc.GetTrip(localID)
	if err != nil {
		t.Fatalf("GetTrip(%s) error = %v", localID, err)
	}
	return trip
}

func pending(t *testing.T, d *device) int {
	t.Helper()
	n, err := d.svc.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	return n
}

func strPtr(s string) *string { return &s }
