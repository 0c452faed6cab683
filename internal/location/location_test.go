package location

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	f := &Fixed{Lat: 48.85, Lng: 2.35, Accuracy: 12}
	fix, err := f.CurrentFix(context.Background())
	if err != nil {
		t.Fatalf("CurrentFix() error = %v", err)
	}
	if fix.Lat != 48.85 || fix.Lng != 2.35 || fix.Accuracy != 12 {
		t.Errorf("CurrentFix() = %+v", fix)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.CurrentFix(ctx); err == nil {
		t.Error("CurrentFix() with cancelled context expected error")
	}
}

func TestNewManual_RejectsOutOfRange(t *testing.T) {
	if _, err := NewManual(91, 0, 0, nil); err == nil {
		t.Error("NewManual(91, 0) expected error")
	}
	if _, err := NewManual(0, -181, 0, nil); err == nil {
		t.Error("NewManual(0, -181) expected error")
	}
	if _, err := NewManual(-33.9, 151.2, 5, nil); err != nil {
		t.Errorf("NewManual() error = %v", err)
	}
}

func TestNone(t *testing.T) {
	_, err := None{}.CurrentFix(context.Background())
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("CurrentFix() error = %v, want ErrNoProvider", err)
	}
}

// fakeGPSD accepts one connection, waits for the WATCH command and replies
// with the given lines.
func fakeGPSD(t *testing.T, lines ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
			return
		}
		for _, l := range lines {
			if _, err := conn.Write([]byte(l + "\n")); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestGPSD_FirstFix(t *testing.T) {
	addr := fakeGPSD(t,
		`{"class":"VERSION","release":"3.25"}`,
		`{"class":"TPV","mode":1}`,
		`not json`,
		`{"class":"TPV","mode":3,"time":"2024-05-10T08:00:00Z","lat":41.9,"lon":12.5,"epx":8,"epy":11}`,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fix, err := (&GPSD{Addr: addr}).CurrentFix(ctx)
	if err != nil {
		t.Fatalf("CurrentFix() error = %v", err)
	}
	if fix.Lat != 41.9 || fix.Lng != 12.5 {
		t.Errorf("CurrentFix() = %+v, want 41.9,12.5", fix)
	}
	if fix.Accuracy != 11 {
		t.Errorf("Accuracy = %v, want 11", fix.Accuracy)
	}
	if !fix.At.Equal(time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("At = %v", fix.At)
	}
}

func TestGPSD_NoFixBeforeClose(t *testing.T) {
	addr := fakeGPSD(t, `{"class":"TPV","mode":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := (&GPSD{Addr: addr}).CurrentFix(ctx); err == nil {
		t.Error("CurrentFix() expected error when no fix is reported")
	}
}

func TestGPSD_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := (&GPSD{Addr: addr}).CurrentFix(ctx); err == nil {
		t.Error("CurrentFix() expected error for closed port")
	}
}
