package zt

import (
	"errors"
	"fmt"

	"zt-go/internal/model"
)

var (
	// ErrTransient marks timeouts, unreachable hosts and 5xx responses.
	// Work that fails this way is retried later and never discarded.
	ErrTransient = errors.New("transient network error")

	// ErrNotFound is returned when a record does not exist locally.
	ErrNotFound = errors.New("not found")

	// ErrValidation is the model's validation sentinel, re-exported so callers
	// only need this package.
	ErrValidation = model.ErrValidation

	// ErrLocationUnavailable means no coordinate could be acquired in time.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrGeocodeUnavailable means the coordinate could not be attributed to a
	// country. Capture still records the raw reading.
	ErrGeocodeUnavailable = errors.New("geocode unavailable")

	// ErrConflictPending is returned when editing a trip that has an
	// unresolved conflict.
	ErrConflictPending = errors.New("trip has an unresolved sync conflict")
)

// RejectionError is a definite refusal by the remote authority, such as a
// validation or authorization failure. It is surfaced to the user and not
// retried automatically.
type RejectionError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by server (%d %s): %s", e.Status, e.Code, e.Message)
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should be retried later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejection reports whether err is a server rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
