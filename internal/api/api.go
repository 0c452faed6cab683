// Package api is the local HTTP boundary the platform shells talk to. It
// exposes trip management, status, check-in, sync and conflict resolution
// for one device, plus Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zt-go/internal/httpx"
	"zt-go/internal/location"
	"zt-go/internal/model"
	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

// Handler serves the local API for a Service.
type Handler struct {
	svc    *zt.Service
	logger zt.Logger
	clock  zt.Clock
}

// NewHandler creates a Handler. A nil logger discards request logs.
func NewHandler(svc *zt.Service, logger zt.Logger, clock zt.Clock) *Handler {
	if logger == nil {
		logger = zt.NewNopLogger()
	}
	if clock == nil {
		clock = zt.RealClock{}
	}
	return &Handler{svc: svc, logger: logger, clock: clock}
}

// Routes returns the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpx.RequestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		r.Get("/status", h.handleStatus)

		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.handleListTrips)
			r.Post("/", h.handleAddTrip)
			r.Put("/{localId}", h.handleEditTrip)
			r.Delete("/{localId}", h.handleRemoveTrip)
		})

		r.Post("/checkin", h.handleCheckIn)
		r.Post("/sync", h.handleSync)

		r.Get("/conflicts", h.handleListConflicts)
		r.Post("/conflicts/{localId}/resolve", h.handleResolve)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.PendingCount()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Pending: pending, Time: h.clock.Now()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var ref *model.Date
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, "date must be YYYY-MM-DD")
			return
		}
		ref = &d
	}

	snap, err := h.svc.Status(ref)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	pending, err := h.svc.PendingCount()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newStatusResponse(snap, pending))
}

func (h *Handler) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.svc.ListTrips()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	out := make([]tripResponse, len(trips))
	for i := range trips {
		out[i] = newTripResponse(&trips[i])
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAddTrip(w http.ResponseWriter, r *http.Request) {
	var req tripRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}

	trip, err := h.svc.AddTrip(in)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newTripResponse(trip))
}

func (h *Handler) handleEditTrip(w http.ResponseWriter, r *http.Request) {
	var req tripEditRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	edit, err := req.toEdit()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}

	trip, err := h.svc.EditTrip(chi.URLParam(r, "localId"), edit)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTripResponse(trip))
}

func (h *Handler) handleRemoveTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveTrip(chi.URLParam(r, "localId")); err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
			return
		}
	}

	var (
		captured *zt.CapturedLocation
		err      error
	)
	if req.Lat != nil && req.Lng != nil {
		manual, merr := location.NewManual(*req.Lat, *req.Lng, req.Accuracy, h.clock)
		if merr != nil {
			httpx.WriteError(w, http.StatusUnprocessableEntity, protocol.CodeValidation, merr.Error())
			return
		}
		captured, err = h.svc.CaptureFrom(r.Context(), manual)
	} else if req.Lat != nil || req.Lng != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, protocol.CodeValidation, "lat and lng must be given together")
		return
	} else {
		captured, err = h.svc.Capture(r.Context())
	}
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckInResponse(captured))
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Sync(r.Context(), zt.SyncOptions{RetryFailed: true})
	if err != nil && out == nil {
		httpx.WriteServiceError(w, err)
		return
	}
	if err != nil {
		// Partial outcomes are still reported alongside the error.
		resp := newSyncResponse(out)
		resp.Error = err.Error()
		status := http.StatusBadGateway
		if zt.IsTransient(err) {
			status = http.StatusServiceUnavailable
		}
		httpx.WriteJSON(w, status, resp)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newSyncResponse(out))
}

func (h *Handler) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.Conflicts()
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	out := make([]conflictResponse, len(cs))
	for i := range cs {
		out[i] = newConflictResponse(&cs[i])
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	res, err := model.ParseResolution(req.Keep)
	if err != nil {
		httpx.WriteServiceError(w, err)
		return
	}

	localID := chi.URLParam(r, "localId")
	if err := h.svc.ResolveConflict(localID, res); err != nil {
		httpx.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
