package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"zt-go/internal/model"
)

func ptr(f float64) *float64 { return &f }

func TestDiff(t *testing.T) {
	base := &model.Trip{
		LocalID:     "l1",
		StartDate:   model.MustParseDate("2024-05-01"),
		EndDate:     model.MustParseDate("2024-05-03"),
		Country:     "IT",
		Category:    model.CategorySchengen,
		LocationLat: ptr(45.0),
		LocationLng: ptr(9.0),
	}

	t.Run("unchanged trip yields empty patch", func(t *testing.T) {
		current := *base
		if p := Diff(base, &current); !p.Empty() {
			t.Errorf("Diff() = %+v, want empty", p)
		}
	})

	t.Run("only changed fields are carried", func(t *testing.T) {
		current := *base
		current.EndDate = model.MustParseDate("2024-05-07")
		current.Notes = "Milan"

		p := Diff(base, &current)
		if p.EndDate == nil || p.EndDate.String() != "2024-05-07" {
			t.Errorf("EndDate = %v, want 2024-05-07", p.EndDate)
		}
		if p.Notes == nil || *p.Notes != "Milan" {
			t.Errorf("Notes = %v, want Milan", p.Notes)
		}
		if p.StartDate != nil || p.Country != nil || p.LocationLat != nil {
			t.Errorf("unexpected fields in patch: %+v", p)
		}

		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if strings.Contains(string(data), "country") {
			t.Errorf("patch JSON %s should not mention country", data)
		}
	})

	t.Run("clearing location", func(t *testing.T) {
		current := *base
		current.LocationLat, current.LocationLng = nil, nil

		p := Diff(base, &current)
		if !p.ClearLocation {
			t.Fatal("ClearLocation = false, want true")
		}

		applied := p.Apply(*FromTrip(base))
		if applied.LocationLat != nil || applied.LocationLng != nil {
			t.Errorf("Apply() kept location: %+v", applied)
		}
	})

	t.Run("apply reproduces current", func(t *testing.T) {
		current := *base
		current.StartDate = model.MustParseDate("2024-04-30")
		current.Category = model.CategoryTransit
		current.LocationLat = ptr(46.1)

		applied := Diff(base, &current).Apply(*FromTrip(base))
		if !applied.ToTrip().SameContent(&current) {
			t.Errorf("Apply(Diff()) = %+v, want %+v", applied, current)
		}
	})
}
