package authority

import (
	"context"
	"errors"
	"net/http"

	"zt-go/internal/protocol"
	"zt-go/internal/zt"
)

// Local is an in-process zt.Authority bound to one device. It skips HTTP
// but keeps the error contract of the remote client.
type Local struct {
	server   *Server
	deviceID string
}

var _ zt.Authority = (*Local)(nil)

// Local returns a client for deviceID that calls the server directly.
func (s *Server) Local(deviceID string) *Local {
	return &Local{server: s, deviceID: deviceID}
}

func (l *Local) Sync(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, zt.Transient(err)
	}
	r := *req
	if r.DeviceID == "" {
		r.DeviceID = l.deviceID
	}
	return l.server.Sync(&r), nil
}

func (l *Local) UploadLocations(ctx context.Context, batch *protocol.LocationBatch) (*protocol.LocationBatchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, zt.Transient(err)
	}
	return l.server.UploadLocations(batch), nil
}

func (l *Local) ListTrips(ctx context.Context) ([]protocol.TripData, error) {
	if err := ctx.Err(); err != nil {
		return nil, zt.Transient(err)
	}
	return l.server.ListTrips(), nil
}

func (l *Local) PassportControl(ctx context.Context) (*protocol.PassportControlData, error) {
	if err := ctx.Err(); err != nil {
		return nil, zt.Transient(err)
	}
	pc := l.server.PassportControl()
	return &pc, nil
}

func (l *Local) RegisterDevice(ctx context.Context, reg *protocol.DeviceRegistration) error {
	if err := ctx.Err(); err != nil {
		return zt.Transient(err)
	}
	r := *reg
	if r.DeviceID == "" {
		r.DeviceID = l.deviceID
	}
	return rejection(l.server.RegisterDevice(r))
}

func (l *Local) UnregisterDevice(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return zt.Transient(err)
	}
	return rejection(l.server.UnregisterDevice(deviceID))
}

func (l *Local) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return zt.Transient(err)
	}
	return nil
}

func rejection(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFound):
		return &zt.RejectionError{Status: http.StatusNotFound, Code: protocol.CodeNotFound, Message: err.Error()}
	case errors.Is(err, errValidation):
		return &zt.RejectionError{Status: http.StatusUnprocessableEntity, Code: protocol.CodeValidation, Message: err.Error()}
	}
	return err
}
