package protocol

import (
	"time"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
)

// FromTrip converts a stored trip to its wire form.
func FromTrip(t *model.Trip) *TripData {
	return &TripData{
		ID:               t.ID,
		LocalID:          t.LocalID,
		StartDate:        t.StartDate,
		EndDate:          t.EndDate,
		Country:          t.Country,
		Category:         t.Category,
		Notes:            t.Notes,
		LocationSource:   t.LocationSource,
		LocationLat:      t.LocationLat,
		LocationLng:      t.LocationLng,
		LocationAccuracy: t.LocationAccuracy,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// ToTrip converts wire data to a trip. Sync bookkeeping is left to the caller.
func (d *TripData) ToTrip() *model.Trip {
	return &model.Trip{
		ID:               d.ID,
		LocalID:          d.LocalID,
		StartDate:        d.StartDate,
		EndDate:          d.EndDate,
		Country:          d.Country,
		Category:         d.Category,
		Notes:            d.Notes,
		LocationSource:   d.LocationSource,
		LocationLat:      d.LocationLat,
		LocationLng:      d.LocationLng,
		LocationAccuracy: d.LocationAccuracy,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// Diff returns the minimal patch turning base into current.
func Diff(base, current *model.Trip) *TripPatch {
	p := &TripPatch{}
	if !current.StartDate.Equal(base.StartDate) {
		d := current.StartDate
		p.StartDate = &d
	}
	if !current.EndDate.Equal(base.EndDate) {
		d := current.EndDate
		p.EndDate = &d
	}
	if current.Country != base.Country {
		c := current.Country
		p.Country = &c
	}
	if current.Category != base.Category {
		c := current.Category
		p.Category = &c
	}
	if current.Notes != base.Notes {
		n := current.Notes
		p.Notes = &n
	}
	if current.LocationSource != base.LocationSource {
		s := current.LocationSource
		p.LocationSource = &s
	}

	cleared := current.LocationLat == nil && current.LocationLng == nil && current.LocationAccuracy == nil
	hadLocation := base.LocationLat != nil || base.LocationLng != nil || base.LocationAccuracy != nil
	if cleared && hadLocation {
		p.ClearLocation = true
		return p
	}
	p.LocationLat = changedFloat(base.LocationLat, current.LocationLat)
	p.LocationLng = changedFloat(base.LocationLng, current.LocationLng)
	p.LocationAccuracy = changedFloat(base.LocationAccuracy, current.LocationAccuracy)
	return p
}

func changedFloat(base, current *float64) *float64 {
	if current == nil {
		return nil
	}
	if base != nil && *base == *current {
		return nil
	}
	v := *current
	return &v
}

// Apply returns a copy of data with the patch applied.
func (p *TripPatch) Apply(data TripData) TripData {
	if p.StartDate != nil {
		data.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		data.EndDate = *p.EndDate
	}
	if p.Country != nil {
		data.Country = *p.Country
	}
	if p.Category != nil {
		data.Category = *p.Category
	}
	if p.Notes != nil {
		data.Notes = *p.Notes
	}
	if p.LocationSource != nil {
		data.LocationSource = *p.LocationSource
	}
	if p.ClearLocation {
		data.LocationLat, data.LocationLng, data.LocationAccuracy = nil, nil, nil
	}
	if p.LocationLat != nil {
		data.LocationLat = p.LocationLat
	}
	if p.LocationLng != nil {
		data.LocationLng = p.LocationLng
	}
	if p.LocationAccuracy != nil {
		data.LocationAccuracy = p.LocationAccuracy
	}
	return data
}

// FromReading converts a reading to its wire form.
func FromReading(r *model.LocationReading) LocationData {
	return LocationData{
		ID:         r.ID,
		LocalID:    r.LocalID,
		Lat:        r.Lat,
		Lng:        r.Lng,
		Accuracy:   r.Accuracy,
		Country:    r.Country,
		City:       r.City,
		IsSchengen: r.IsSchengen,
		RecordedAt: r.RecordedAt,
	}
}

// FromSnapshot converts a computed snapshot to the passport-control document.
func FromSnapshot(s compliance.Snapshot, verified time.Time) PassportControlData {
	out := PassportControlData{
		DaysUsed:      s.DaysUsed,
		DaysRemaining: s.DaysRemaining,
		WindowStart:   s.WindowStart,
		WindowEnd:     s.WindowEnd,
		Status:        string(s.Status),
		RecentTrips:   make([]RecentTripData, len(s.RecentTrips)),
		LastVerified:  verified,
	}
	for i, r := range s.RecentTrips {
		out.RecentTrips[i] = RecentTripData{Trip: *FromTrip(&r.Trip), Duration: r.Duration}
	}
	return out
}

// ToSnapshot converts the passport-control document back to a snapshot.
func (p *PassportControlData) ToSnapshot() compliance.Snapshot {
	s := compliance.Snapshot{
		DaysUsed:      p.DaysUsed,
		DaysRemaining: p.DaysRemaining,
		WindowStart:   p.WindowStart,
		WindowEnd:     p.WindowEnd,
		Status:        compliance.Status(p.Status),
		LastVerified:  p.LastVerified,
	}
	for _, r := range p.RecentTrips {
		s.RecentTrips = append(s.RecentTrips, compliance.RecentTrip{Trip: *r.Trip.ToTrip(), Duration: r.Duration})
	}
	return s
}
