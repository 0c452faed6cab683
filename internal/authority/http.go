package authority

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"zt-go/internal/httpx"
	"zt-go/internal/protocol"
)

// DeviceHeader carries the calling device's id.
const DeviceHeader = "X-Device-ID"

// Handler serves the authority contract over HTTP.
type Handler struct {
	server *Server
	tokens []string
}

// NewHandler creates a Handler. When tokens is empty every request is
// accepted.
func NewHandler(server *Server, tokens []string) *Handler {
	return &Handler{server: server, tokens: tokens}
}

// Routes returns the chi router for the authority.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(httpx.RequestLogger(h.server.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/trips", h.handleListTrips)
		r.Post("/trips", h.handleCreateTrip)
		r.Get("/trips/{id}", h.handleGetTrip)
		r.Put("/trips/{id}", h.handleUpdateTrip)
		r.Delete("/trips/{id}", h.handleDeleteTrip)
		r.Post("/sync", h.handleSync)
		r.Post("/locations/batch", h.handleLocations)
		r.Get("/passport-control", h.handlePassportControl)
		r.Post("/device/register", h.handleRegister)
		r.Post("/device/unregister", h.handleUnregister)
	})
	return r
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !h.validToken(token) {
			httpx.WriteError(w, http.StatusUnauthorized, protocol.CodeUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) validToken(token string) bool {
	for _, t := range h.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		httpx.WriteError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
	case errors.Is(err, errValidation):
		httpx.WriteError(w, http.StatusUnprocessableEntity, protocol.CodeValidation, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, protocol.CodeInternal, err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, "invalid trip id")
		return 0, false
	}
	return id, true
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok", ServerTime: h.server.now()})
}

func (h *Handler) handleListTrips(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.server.ListTrips())
}

func (h *Handler) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trip, err := h.server.GetTrip(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trip)
}

func (h *Handler) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var data protocol.TripData
	if err := httpx.DecodeJSON(w, r, &data); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	trip, err := h.server.CreateTrip(r.Header.Get(DeviceHeader), data)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, trip)
}

func (h *Handler) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var data protocol.TripData
	if err := httpx.DecodeJSON(w, r, &data); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	trip, err := h.server.UpdateTrip(r.Header.Get(DeviceHeader), id, data)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trip)
}

func (h *Handler) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.server.DeleteTrip(r.Header.Get(DeviceHeader), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req protocol.SyncRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get(DeviceHeader)
	}
	if req.DeviceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeValidation, "deviceId is required")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.server.Sync(&req))
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	var batch protocol.LocationBatch
	if err := httpx.DecodeJSON(w, r, &batch); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.server.UploadLocations(&batch))
}

func (h *Handler) handlePassportControl(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.server.PassportControl())
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg protocol.DeviceRegistration
	if err := httpx.DecodeJSON(w, r, &reg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	if reg.DeviceID == "" {
		reg.DeviceID = r.Header.Get(DeviceHeader)
	}
	if err := h.server.RegisterDevice(reg); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var reg protocol.DeviceRegistration
	if err := httpx.DecodeJSON(w, r, &reg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	if reg.DeviceID == "" {
		reg.DeviceID = r.Header.Get(DeviceHeader)
	}
	if err := h.server.UnregisterDevice(reg.DeviceID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
