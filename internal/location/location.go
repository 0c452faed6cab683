// Package location provides zt.LocationProvider implementations.
package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"zt-go/internal/zt"
)

// ErrNoProvider is returned by the provider configured as "none".
var ErrNoProvider = errors.New("no location provider configured")

// Fixed reports the same coordinate on every call. It suits stationary
// hosts and tests.
type Fixed struct {
	Lat      float64
	Lng      float64
	Accuracy float64
	Clock    zt.Clock
}

var _ zt.LocationProvider = (*Fixed)(nil)

func (f *Fixed) CurrentFix(ctx context.Context) (*zt.Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validCoordinate(f.Lat, f.Lng); err != nil {
		return nil, err
	}
	fix := &zt.Fix{Lat: f.Lat, Lng: f.Lng, Accuracy: f.Accuracy}
	if f.Clock != nil {
		fix.At = f.Clock.Now()
	}
	return fix, nil
}

// NewManual returns a provider for a coordinate supplied by the user, as
// with `zt checkin --lat --lng`.
func NewManual(lat, lng, accuracy float64, clock zt.Clock) (*Fixed, error) {
	if err := validCoordinate(lat, lng); err != nil {
		return nil, err
	}
	return &Fixed{Lat: lat, Lng: lng, Accuracy: accuracy, Clock: clock}, nil
}

func validCoordinate(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("coordinate %.5f,%.5f out of range", lat, lng)
	}
	return nil
}

// None always fails. It is used when no provider is configured so
// scheduled captures are recorded as failed runs.
type None struct{}

func (None) CurrentFix(context.Context) (*zt.Fix, error) { return nil, ErrNoProvider }

// GPSD reads a fix from a gpsd daemon over its JSON socket protocol.
type GPSD struct {
	Addr  string // host:port, default localhost:2947
	Clock zt.Clock
}

var _ zt.LocationProvider = (*GPSD)(nil)

// DefaultGPSDAddr is gpsd's standard listen address.
const DefaultGPSDAddr = "localhost:2947"

// tpv is the subset of a gpsd TPV report we need.
type tpv struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"` // 0/1 no fix, 2 = 2D, 3 = 3D
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Epx   float64   `json:"epx"`
	Epy   float64   `json:"epy"`
}

// CurrentFix connects, enables watching and returns the first TPV report
// with at least a 2D fix. The context deadline bounds the whole exchange.
func (g *GPSD) CurrentFix(ctx context.Context) (*zt.Fix, error) {
	addr := g.Addr
	if addr == "" {
		addr = DefaultGPSDAddr
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to gpsd at %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(`?WATCH={"enable":true,"json":true};` + "\n")); err != nil {
		return nil, fmt.Errorf("enabling gpsd watch: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpv
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil || report.Class != "TPV" {
			continue
		}
		if report.Mode < 2 {
			continue
		}
		fix := &zt.Fix{Lat: report.Lat, Lng: report.Lon, Accuracy: max(report.Epx, report.Epy), At: report.Time}
		if fix.At.IsZero() && g.Clock != nil {
			fix.At = g.Clock.Now()
		}
		return fix, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading gpsd reports: %w", err)
	}
	return nil, errors.New("gpsd closed the connection before reporting a fix")
}
