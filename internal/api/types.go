package api

import (
	"fmt"
	"time"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

type healthResponse struct {
	Status  string    `json:"status"`
	Pending int       `json:"pending"`
	Time    time.Time `json:"time"`
}

type statusResponse struct {
	protocol.PassportControlData
	Anomalies []string `json:"anomalies,omitempty"`
	Pending   int      `json:"pending"`
}

func newStatusResponse(s *compliance.Snapshot, pending int) statusResponse {
	return statusResponse{
		PassportControlData: protocol.FromSnapshot(*s, s.LastVerified),
		Anomalies:           s.Anomalies,
		Pending:             pending,
	}
}

type tripResponse struct {
	protocol.TripData
	SyncStatus model.SyncStatus `json:"syncStatus"`
}

func newTripResponse(t *model.Trip) tripResponse {
	return tripResponse{TripData: *protocol.FromTrip(t), SyncStatus: t.SyncStatus}
}

type tripRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Country   string `json:"country"`
	Category  string `json:"category,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (r tripRequest) toInput() (zt.TripInput, error) {
	start, err := model.ParseDate(r.StartDate)
	if err != nil {
		return zt.TripInput{}, fmt.Errorf("%w: startDate: %w", zt.ErrValidation, err)
	}
	end := start
	if r.EndDate != "" {
		if end, err = model.ParseDate(r.EndDate); err != nil {
			return zt.TripInput{}, fmt.Errorf("%w: endDate: %w", zt.ErrValidation, err)
		}
	}
	in := zt.TripInput{StartDate: start, EndDate: end, Country: r.Country, Notes: r.Notes}
	if r.Category != "" {
		if in.Category, err = model.ParseCategory(r.Category); err != nil {
			return zt.TripInput{}, err
		}
	}
	return in, nil
}

type tripEditRequest struct {
	StartDate     *string `json:"startDate,omitempty"`
	EndDate       *string `json:"endDate,omitempty"`
	Country       *string `json:"country,omitempty"`
	Category      *string `json:"category,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	ClearLocation bool    `json:"clearLocation,omitempty"`
}

func (r tripEditRequest) toEdit() (zt.TripEdit, error) {
	edit := zt.TripEdit{Country: r.Country, Notes: r.Notes, ClearLocation: r.ClearLocation}
	if r.StartDate != nil {
		d, err := model.ParseDate(*r.StartDate)
		if err != nil {
			return edit, fmt.Errorf("%w: startDate: %w", zt.ErrValidation, err)
		}
		edit.StartDate = &d
	}
	if r.EndDate != nil {
		d, err := model.ParseDate(*r.EndDate)
		if err != nil {
			return edit, fmt.Errorf("%w: endDate: %w", zt.ErrValidation, err)
		}
		edit.EndDate = &d
	}
	if r.Category != nil {
		c, err := model.ParseCategory(*r.Category)
		if err != nil {
			return edit, err
		}
		edit.Category = &c
	}
	return edit, nil
}

type checkInRequest struct {
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	Accuracy float64  `json:"accuracy,omitempty"`
}

type checkInResponse struct {
	Action       zt.CaptureAction      `json:"action"`
	Reading      protocol.LocationData `json:"reading"`
	Trip         *tripResponse         `json:"trip,omitempty"`
	GeocodeError string                `json:"geocodeError,omitempty"`
}

func newCheckInResponse(c *zt.CapturedLocation) checkInResponse {
	resp := checkInResponse{Action: c.Action, Reading: protocol.FromReading(c.Reading)}
	if c.Trip != nil {
		t := newTripResponse(c.Trip)
		resp.Trip = &t
	}
	if c.GeocodeErr != nil {
		resp.GeocodeError = c.GeocodeErr.Error()
	}
	return resp
}

type syncResponse struct {
	Requeued       int        `json:"requeued"`
	Pushed         int        `json:"pushed"`
	Synced         int        `json:"synced"`
	Failed         int        `json:"failed"`
	Released       int        `json:"released"`
	Applied        int        `json:"applied"`
	Conflicts      int        `json:"conflicts"`
	ReadingsSynced int        `json:"readingsSynced"`
	ServerTime     *time.Time `json:"serverTime,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func newSyncResponse(o *zt.SyncOutcome) syncResponse {
	resp := syncResponse{
		Requeued:       o.Requeued,
		Pushed:         o.Pushed,
		Synced:         o.Synced,
		Failed:         o.Failed,
		Released:       o.Released,
		Applied:        o.Applied,
		Conflicts:      o.Conflicts,
		ReadingsSynced: o.ReadingsSynced,
	}
	if !o.ServerTime.IsZero() {
		ts := o.ServerTime
		resp.ServerTime = &ts
	}
	return resp
}

type conflictResponse struct {
	LocalID    string             `json:"localId"`
	ID         int64              `json:"id,omitempty"`
	Reason     string             `json:"reason"`
	Local      *protocol.TripData `json:"local"`
	Server     *protocol.TripData `json:"server"`
	DetectedAt time.Time          `json:"detectedAt"`
}

func newConflictResponse(c *model.Conflict) conflictResponse {
	resp := conflictResponse{LocalID: c.LocalID, ID: c.TripID, Reason: c.Reason, DetectedAt: c.DetectedAt}
	if c.Local != nil {
		resp.Local = protocol.FromTrip(c.Local)
	}
	if c.Server != nil {
		resp.Server = protocol.FromTrip(c.Server)
	}
	return resp
}

type resolveRequest struct {
	Keep string `json:"keep"` // "local" or "server"
}
