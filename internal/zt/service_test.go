package zt_test

import (
	"errors"
	"testing"

	"zt-go/internal/model"
	"zt-go/internal/testutil"
	"zt-go/internal/zt"
)

func TestService_AddTrip(t *testing.T) {
	clock := testutil.NewStubClock(start)
	d := newDevice(t, clock, nil, "device-a")

	tests := []struct {
		name         string
		in           zt.TripInput
		wantErr      error
		wantCountry  string
		wantCategory model.Category
	}{
		{
			name:         "zone country derives category",
			in:           zt.TripInput{StartDate: model.MustParseDate("2024-05-01"), EndDate: model.MustParseDate("2024-05-03"), Country: "fr"},
			wantCountry:  "FR",
			wantCategory: model.CategorySchengen,
		},
		{
			name:         "non-zone country",
			in:           zt.TripInput{StartDate: model.MustParseDate("2024-05-01"), EndDate: model.MustParseDate("2024-05-03"), Country: "GB"},
			wantCountry:  "GB",
			wantCategory: model.CategoryNonSchengen,
		},
		{
			name:         "explicit category wins",
			in:           zt.TripInput{StartDate: model.MustParseDate("2024-05-01"), EndDate: model.MustParseDate("2024-05-01"), Country: "DE", Category: model.CategoryTransit},
			wantCountry:  "DE",
			wantCategory: model.CategoryTransit,
		},
		{
			name:    "end before start",
			in:      zt.TripInput{StartDate: model.MustParseDate("2024-05-03"), EndDate: model.MustParseDate("2024-05-01"), Country: "FR"},
			wantErr: zt.ErrValidation,
		},
		{
			name:    "unknown country",
			in:      zt.TripInput{StartDate: model.MustParseDate("2024-05-01"), EndDate: model.MustParseDate("2024-05-01"), Country: "XX"},
			wantErr: zt.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trip, err := d.svc.AddTrip(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("AddTrip() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddTrip() error = %v", err)
			}
			if trip.Country != tt.wantCountry || trip.Category != tt.wantCategory {
				t.Errorf("AddTrip() = %s/%s, want %s/%s", trip.Country, trip.Category, tt.wantCountry, tt.wantCategory)
			}
			if trip.SyncStatus != model.SyncPending {
				t.Errorf("SyncStatus = %s, want pending", trip.SyncStatus)
			}
			if trip.LocationSource != model.SourceManual {
				t.Errorf("LocationSource = %s, want manual", trip.LocationSource)
			}
		})
	}
}

func TestService_EditAndRemove(t *testing.T) {
	clock := testutil.NewStubClock(start)
	d := newDevice(t, clock, nil, "device-a")

	trip := addTrip(t, d, "2024-05-01", "2024-05-03", "FR")

	t.Run("edit country re-derives category", func(t *testing.T) {
		got, err := d.svc.EditTrip(trip.LocalID, zt.TripEdit{Country: strPtr("ch"), Notes: strPtr("ski")})
		if err != nil {
			t.Fatalf("EditTrip() error = %v", err)
		}
		if got.Country != "CH" || got.Category != model.CategorySchengen || got.Notes != "ski" {
			t.Errorf("EditTrip() = %+v", got)
		}
		if got.Revision <= trip.Revision {
			t.Errorf("Revision = %d, want > %d", got.Revision, trip.Revision)
		}
	})

	t.Run("invalid edit leaves trip unchanged", func(t *testing.T) {
		end := model.MustParseDate("2024-04-01")
		if _, err := d.svc.EditTrip(trip.LocalID, zt.TripEdit{EndDate: &end}); !errors.Is(err, zt.ErrValidation) {
			t.Fatalf("EditTrip() error = %v, want ErrValidation", err)
		}
		if got := mustGet(t, d, trip.LocalID); !got.EndDate.Equal(trip.EndDate) {
			t.Errorf("EndDate = %s, want %s", got.EndDate, trip.EndDate)
		}
	})

	t.Run("unknown trip", func(t *testing.T) {
		if _, err := d.svc.EditTrip("missing", zt.TripEdit{}); !errors.Is(err, zt.ErrNotFound) {
			t.Errorf("EditTrip() error = %v, want ErrNotFound", err)
		}
		if err := d.svc.RemoveTrip("missing"); !errors.Is(err, zt.ErrNotFound) {
			t.Errorf("RemoveTrip() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("remove never-synced trip", func(t *testing.T) {
		if err := d.svc.RemoveTrip(trip.LocalID); err != nil {
			t.Fatalf("RemoveTrip() error = %v", err)
		}
		trips, err := d.svc.ListTrips()
		if err != nil {
			t.Fatalf("ListTrips() error = %v", err)
		}
		if len(trips) != 0 {
			t.Errorf("ListTrips() = %d trips, want 0", len(trips))
		}
		if n := pending(t, d); n != 0 {
			t.Errorf("PendingCount() = %d, want 0", n)
		}
	})
}

func TestService_SyncWithoutAuthority(t *testing.T) {
	d := newDevice(t, testutil.NewStubClock(start), nil, "device-a")
	if _, err := d.svc.Sync(t.Context(), zt.SyncOptions{}); err == nil {
		t.Error("Sync() without authority expected error")
	}
	if _, err := d.svc.Verify(t.Context()); err == nil {
		t.Error("Verify() without authority expected error")
	}
}

func TestService_LocalIDsComeFromGenerator(t *testing.T) {
	clock := testutil.NewStubClock(start)
	svc := zt.NewService(zt.Deps{
		Store: testutil.NewTestDatabase(t, clock),
		Clock: clock,
		IDGen: testutil.NewStubIDGenerator("trip"),
	})

	for i, want := range []string{"trip-1", "trip-2"} {
		trip, err := svc.AddTrip(zt.TripInput{
			StartDate: model.MustParseDate("2024-05-01"),
			EndDate:   model.MustParseDate("2024-05-02"),
			Country:   "FR",
		})
		if err != nil {
			t.Fatalf("AddTrip() #%d error = %v", i, err)
		}
		if trip.LocalID != want {
			t.Errorf("AddTrip() #%d LocalID = %q, want %q", i, trip.LocalID, want)
		}
	}
}
