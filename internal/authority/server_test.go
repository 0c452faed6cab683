package authority

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zt-go/internal/compliance"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newTestServer() (*Server, *stepClock) {
	clock := &stepClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewServer(clock, nil, compliance.DefaultRule()), clock
}

func createChange(localID, country, start, end string) protocol.SyncChange {
	return protocol.SyncChange{
		LocalID: localID,
		Entity:  protocol.EntityTrip,
		Action:  protocol.ActionCreate,
		Trip: &protocol.TripData{
			LocalID:   localID,
			StartDate: model.MustParseDate(start),
			EndDate:   model.MustParseDate(end),
			Country:   country,
			Category:  model.CategorySchengen,
		},
	}
}

func TestServer_CreateIsIdempotentByLocalID(t *testing.T) {
	s, clock := newTestServer()
	req := &protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{createChange("l1", "FR", "2024-05-01", "2024-05-03")}}

	first := s.Sync(req)
	require.Len(t, first.SyncResults, 1)
	require.True(t, first.SyncResults[0].Success)

	clock.now = clock.now.Add(time.Minute)
	second := s.Sync(req)
	require.Len(t, second.SyncResults, 1)
	assert.Equal(t, first.SyncResults[0].ID, second.SyncResults[0].ID)
	assert.Len(t, s.ListTrips(), 1)
}

func TestServer_InvalidCreateFailsOnlyThatChange(t *testing.T) {
	s, _ := newTestServer()
	bad := createChange("bad", "FR", "2024-05-05", "2024-05-01")
	resp := s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{
		bad, createChange("good", "DE", "2024-05-01", "2024-05-02"),
	}})

	require.Len(t, resp.SyncResults, 2)
	assert.False(t, resp.SyncResults[0].Success)
	require.NotNil(t, resp.SyncResults[0].Error)
	assert.Equal(t, protocol.CodeValidation, resp.SyncResults[0].Error.Code)
	assert.True(t, resp.SyncResults[1].Success)
}

func TestServer_ServerChangesExcludeOwnDevice(t *testing.T) {
	s, clock := newTestServer()
	s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{createChange("l1", "FR", "2024-05-01", "2024-05-03")}})

	clock.now = clock.now.Add(time.Minute)
	own := s.Sync(&protocol.SyncRequest{DeviceID: "a"})
	assert.Empty(t, own.ServerChanges)

	other := s.Sync(&protocol.SyncRequest{DeviceID: "b"})
	require.Len(t, other.ServerChanges, 1)
	assert.Equal(t, protocol.ActionCreate, other.ServerChanges[0].Action)
	assert.Equal(t, "l1", other.ServerChanges[0].LocalID)

	since := other.ServerTime
	clock.now = clock.now.Add(time.Minute)
	again := s.Sync(&protocol.SyncRequest{DeviceID: "b", LastSync: &since})
	assert.Empty(t, again.ServerChanges)
}

func TestServer_UpdateConflictsWithOtherDevice(t *testing.T) {
	s, clock := newTestServer()
	created := s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{createChange("l1", "FR", "2024-05-01", "2024-05-03")}})
	res := created.SyncResults[0]
	base := *res.UpdatedAt

	notesA, notesB := "from a", "from b"
	clock.now = clock.now.Add(time.Minute)
	fromB := s.Sync(&protocol.SyncRequest{DeviceID: "b", Changes: []protocol.SyncChange{{
		LocalID: "l1", Entity: protocol.EntityTrip, Action: protocol.ActionUpdate, ID: res.ID,
		BaseUpdatedAt: &base, Patch: &protocol.TripPatch{Notes: &notesB},
	}}})
	require.Len(t, fromB.SyncResults, 1)
	require.True(t, fromB.SyncResults[0].Success)

	clock.now = clock.now.Add(time.Minute)
	fromA := s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{{
		LocalID: "l1", Entity: protocol.EntityTrip, Action: protocol.ActionUpdate, ID: res.ID,
		BaseUpdatedAt: &base, Patch: &protocol.TripPatch{Notes: &notesA},
	}}})
	assert.Empty(t, fromA.SyncResults)
	require.Len(t, fromA.Conflicts, 1)
	require.NotNil(t, fromA.Conflicts[0].ServerVersion)
	assert.Equal(t, "from b", fromA.Conflicts[0].ServerVersion.Notes)

	trip, err := s.GetTrip(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "from b", trip.Notes)
}

func TestServer_DeleteTombstone(t *testing.T) {
	s, clock := newTestServer()
	created := s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{createChange("l1", "FR", "2024-05-01", "2024-05-03")}})
	res := created.SyncResults[0]
	first := s.Sync(&protocol.SyncRequest{DeviceID: "b"})
	since := first.ServerTime

	clock.now = clock.now.Add(time.Minute)
	del := s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{{
		LocalID: "l1", Entity: protocol.EntityTrip, Action: protocol.ActionDelete, ID: res.ID, BaseUpdatedAt: res.UpdatedAt,
	}}})
	require.Len(t, del.SyncResults, 1)
	assert.True(t, del.SyncResults[0].Success)
	assert.Empty(t, s.ListTrips())

	clock.now = clock.now.Add(time.Minute)
	changes := s.Sync(&protocol.SyncRequest{DeviceID: "b", LastSync: &since})
	require.Len(t, changes.ServerChanges, 1)
	assert.Equal(t, protocol.ActionDelete, changes.ServerChanges[0].Action)
	assert.Nil(t, changes.ServerChanges[0].Trip)
}

func TestServer_CreateRestoresDeletedTrip(t *testing.T) {
	s, clock := newTestServer()
	created := s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{createChange("l1", "FR", "2024-05-01", "2024-05-03")}})
	res := created.SyncResults[0]

	clock.now = clock.now.Add(time.Minute)
	s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{{
		LocalID: "l1", Entity: protocol.EntityTrip, Action: protocol.ActionDelete, ID: res.ID, BaseUpdatedAt: res.UpdatedAt,
	}}})
	require.Empty(t, s.ListTrips())
	since := clock.now

	clock.now = clock.now.Add(time.Minute)
	again := createChange("l1", "FR", "2024-05-01", "2024-05-04")
	restored := s.Sync(&protocol.SyncRequest{DeviceID: "b", Changes: []protocol.SyncChange{again}})
	require.Empty(t, restored.Conflicts)
	require.Len(t, restored.SyncResults, 1)
	require.True(t, restored.SyncResults[0].Success)
	assert.Equal(t, res.ID, restored.SyncResults[0].ID)

	trip, err := s.GetTrip(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-04", trip.EndDate.String())

	changes := s.Sync(&protocol.SyncRequest{DeviceID: "a", LastSync: &since})
	require.Len(t, changes.ServerChanges, 1)
	assert.NotEqual(t, protocol.ActionDelete, changes.ServerChanges[0].Action)
	require.NotNil(t, changes.ServerChanges[0].Trip)
}

func TestServer_UploadLocations(t *testing.T) {
	s, _ := newTestServer()
	batch := &protocol.LocationBatch{Locations: []protocol.LocationData{
		{LocalID: "r1", Lat: 10, Lng: 10},
		{LocalID: "r2", Lat: 95, Lng: 10},
	}}
	resp := s.UploadLocations(batch)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)

	again := s.UploadLocations(&protocol.LocationBatch{Locations: batch.Locations[:1]})
	assert.Equal(t, resp.Results[0].ID, again.Results[0].ID)
	assert.Equal(t, 1, s.ReadingCount())
}

func TestServer_PassportControl(t *testing.T) {
	s, _ := newTestServer()
	s.Sync(&protocol.SyncRequest{DeviceID: "a", Changes: []protocol.SyncChange{
		createChange("l1", "FR", "2024-05-01", "2024-05-15"),
		createChange("l2", "IT", "2024-05-20", "2024-05-29"),
	}})

	pc := s.PassportControl()
	assert.Equal(t, 25, pc.DaysUsed)
	assert.Equal(t, 65, pc.DaysRemaining)
	assert.Equal(t, string(compliance.StatusSafe), pc.Status)
	assert.Equal(t, "2024-06-01", pc.WindowEnd.String())
}

func TestHandler_Routes(t *testing.T) {
	s, _ := newTestServer()
	h := NewHandler(s, []string{"secret"}).Routes()

	do := func(method, path, token string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set(DeviceHeader, "device-a")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("health needs no token", func(t *testing.T) {
		rec := do(http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("token required", func(t *testing.T) {
		rec := do(http.MethodGet, "/trips", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body struct {
			Error protocol.ErrorBody `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, protocol.CodeUnauthorized, body.Error.Code)
	})

	t.Run("sync takes device id from header", func(t *testing.T) {
		rec := do(http.MethodPost, "/sync", "secret", protocol.SyncRequest{
			Changes: []protocol.SyncChange{createChange("l1", "FR", "2024-05-01", "2024-05-03")},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp protocol.SyncResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.SyncResults, 1)
		assert.True(t, resp.SyncResults[0].Success)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		rec := do(http.MethodPost, "/sync", "secret", map[string]any{"bogus": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("trip crud", func(t *testing.T) {
		rec := do(http.MethodPost, "/trips", "secret", createChange("l2", "ES", "2024-04-01", "2024-04-02").Trip)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created protocol.TripData
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

		path := "/trips/" + jsonNumber(created.ID)
		assert.Equal(t, http.StatusOK, do(http.MethodGet, path, "secret", nil).Code)
		assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, path, "secret", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(http.MethodGet, path, "secret", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/trips/abc", "secret", nil).Code)
	})
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
