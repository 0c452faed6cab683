// Package protocol defines the JSON documents exchanged with the remote
// authority. Both the HTTP client and the reference authority use them.
package protocol

import (
	"time"

	"zt-go/internal/model"
)

// Entity names carried in sync changes.
const (
	EntityTrip     = "trip"
	EntityLocation = "location"
)

// Action is the kind of mutation a change carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Error codes used in ErrorBody.
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeConflict     = "conflict"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal_error"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TripData is the full wire form of a trip.
type TripData struct {
	ID               int64                `json:"id,omitempty"`
	LocalID          string               `json:"localId"`
	StartDate        model.Date           `json:"startDate"`
	EndDate          model.Date           `json:"endDate"`
	Country          string               `json:"country"`
	Category         model.Category       `json:"category"`
	Notes            string               `json:"notes,omitempty"`
	LocationSource   model.LocationSource `json:"locationSource,omitempty"`
	LocationLat      *float64             `json:"locationLat,omitempty"`
	LocationLng      *float64             `json:"locationLng,omitempty"`
	LocationAccuracy *float64             `json:"locationAccuracy,omitempty"`
	CreatedAt        *time.Time           `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time           `json:"updatedAt,omitempty"`
}

// TripPatch carries only the fields that changed. Nil means unchanged.
// ClearLocation removes all location provenance fields.
type TripPatch struct {
	StartDate        *model.Date           `json:"startDate,omitempty"`
	EndDate          *model.Date           `json:"endDate,omitempty"`
	Country          *string               `json:"country,omitempty"`
	Category         *model.Category       `json:"category,omitempty"`
	Notes            *string               `json:"notes,omitempty"`
	LocationSource   *model.LocationSource `json:"locationSource,omitempty"`
	LocationLat      *float64              `json:"locationLat,omitempty"`
	LocationLng      *float64              `json:"locationLng,omitempty"`
	LocationAccuracy *float64              `json:"locationAccuracy,omitempty"`
	ClearLocation    bool                  `json:"clearLocation,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *TripPatch) Empty() bool {
	return p.StartDate == nil && p.EndDate == nil && p.Country == nil &&
		p.Category == nil && p.Notes == nil && p.LocationSource == nil &&
		p.LocationLat == nil && p.LocationLng == nil && p.LocationAccuracy == nil &&
		!p.ClearLocation
}

// SyncChange is a local mutation not yet acknowledged by the server.
type SyncChange struct {
	LocalID       string     `json:"localId"`
	Entity        string     `json:"entity"`
	Action        Action     `json:"action"`
	ID            int64      `json:"id,omitempty"`
	BaseUpdatedAt *time.Time `json:"baseUpdatedAt,omitempty"`
	Trip          *TripData  `json:"trip,omitempty"`  // create
	Patch         *TripPatch `json:"patch,omitempty"` // update
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	LastSync *time.Time   `json:"lastSync"`
	DeviceID string       `json:"deviceId"`
	Changes  []SyncChange `json:"changes"`
}

// SyncResult reports the outcome of one change.
type SyncResult struct {
	LocalID   string     `json:"localId"`
	ID        int64      `json:"id,omitempty"`
	Success   bool       `json:"success"`
	Error     *ErrorBody `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Trip      *TripData  `json:"trip,omitempty"` // acknowledged version
}

// ServerChange is a remote mutation the client has not applied yet.
type ServerChange struct {
	Entity    string    `json:"entity"`
	Action    Action    `json:"action"`
	ID        int64     `json:"id"`
	LocalID   string    `json:"localId"`
	Trip      *TripData `json:"trip,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncConflict flags a record changed on both sides since lastSync.
type SyncConflict struct {
	LocalID       string    `json:"localId"`
	ID            int64     `json:"id"`
	Entity        string    `json:"entity"`
	ServerVersion *TripData `json:"serverVersion,omitempty"` // nil when deleted on the server
	Reason        string    `json:"reason"`
}

// SyncResponse is the reply to POST /sync.
type SyncResponse struct {
	Success       bool           `json:"success"`
	SyncResults   []SyncResult   `json:"syncResults"`
	ServerChanges []ServerChange `json:"serverChanges"`
	Conflicts     []SyncConflict `json:"conflicts"`
	ServerTime    time.Time      `json:"serverTime"`
}

// LocationData is the wire form of a location reading.
type LocationData struct {
	ID         int64     `json:"id,omitempty"`
	LocalID    string    `json:"localId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
	IsSchengen bool      `json:"isSchengen"`
	RecordedAt time.Time `json:"recordedAt"`
}

// LocationBatch is the body of POST /locations/batch.
type LocationBatch struct {
	Locations []LocationData `json:"locations"`
}

// LocationBatchResponse reports one result per uploaded reading.
type LocationBatchResponse struct {
	Success bool         `json:"success"`
	Results []SyncResult `json:"results"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"serverTime"`
}

// RecentTripData is one entry of PassportControlData.RecentTrips.
type RecentTripData struct {
	Trip     TripData `json:"trip"`
	Duration int      `json:"duration"`
}

// PassportControlData is the server-computed compliance snapshot.
type PassportControlData struct {
	DaysUsed      int              `json:"daysUsed"`
	DaysRemaining int              `json:"daysRemaining"`
	WindowStart   model.Date       `json:"windowStart"`
	WindowEnd     model.Date       `json:"windowEnd"`
	Status        string           `json:"status"`
	RecentTrips   []RecentTripData `json:"recentTrips"`
	LastVerified  time.Time        `json:"lastVerified"`
}

// DeviceRegistration is the body of the device endpoints.
type DeviceRegistration struct {
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
	OSVersion  string `json:"osVersion"`
	PushToken  string `json:"pushToken,omitempty"`
}
