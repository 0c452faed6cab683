// Package httpx holds the JSON and middleware helpers shared by the local
// API and the reference authority.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 4 << 20

// ErrorResponse is the envelope of every error body: {"error":{code,message}}.
type ErrorResponse struct {
	Error protocol.ErrorBody `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: protocol.ErrorBody{Code: code, Message: message}})
}

// WriteServiceError maps service errors to status codes.
func WriteServiceError(w http.ResponseWriter, err error) {
	var rej *zt.RejectionError
	switch {
	case errors.Is(err, zt.ErrValidation):
		WriteError(w, http.StatusUnprocessableEntity, protocol.CodeValidation, err.Error())
	case errors.Is(err, zt.ErrNotFound):
		WriteError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
	case errors.Is(err, zt.ErrConflictPending):
		WriteError(w, http.StatusConflict, protocol.CodeConflict, err.Error())
	case errors.Is(err, zt.ErrLocationUnavailable), errors.Is(err, zt.ErrTransient):
		WriteError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.As(err, &rej):
		WriteError(w, http.StatusBadGateway, rej.Code, rej.Message)
	default:
		WriteError(w, http.StatusInternalServerError, protocol.CodeInternal, err.Error())
	}
}

// DecodeJSON decodes a bounded request body into v. Unknown fields are
// rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// RequestLogger logs one line per request. Wire it after
// chimiddleware.RequestID so the request ID is available.
func RequestLogger(logger zt.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
