package zt

import (
	"context"

	"zt-go/internal/protocol"
)

// Authority is the remote server that holds the shared trip history for all
// of a user's devices. Implementations map network failures to ErrTransient
// and definite refusals to *RejectionError.
type Authority interface {
	// Sync pushes local changes and pulls server changes since req.LastSync.
	Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error)

	// UploadLocations pushes a batch of location readings.
	UploadLocations(ctx context.Context, batch *protocol.LocationBatch) (*protocol.LocationBatchResponse, error)

	// ListTrips returns every live trip the server holds for the user.
	ListTrips(ctx context.Context) ([]protocol.TripData, error)

	// PassportControl returns the server-computed compliance snapshot.
	PassportControl(ctx context.Context) (*protocol.PassportControlData, error)

	// RegisterDevice announces this device to the server.
	RegisterDevice(ctx context.Context, reg *protocol.DeviceRegistration) error

	// UnregisterDevice removes this device from the server.
	UnregisterDevice(ctx context.Context, deviceID string) error

	// Ping checks that the server is reachable.
	Ping(ctx context.Context) error
}
