package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestZtHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "trip added",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\ttrip added\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "claiming pending trips",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tclaiming pending trips\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "sync finished",
			attrs:   []slog.Attr{slog.String("device", "laptop"), slog.Int("synced", 3)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tsync finished\tdevice=laptop\tsynced=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newZtHandler(&buf, tt.opID, nil)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestZtHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newZtHandler(&buf, "op-1", nil)

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "scheduler")}).(*ztHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "job fired", 0)
	r.AddAttrs(slog.String("job", "sync"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=scheduler") {
		t.Errorf("expected pre-set attr component=scheduler, got: %q", got)
	}
	if !strings.Contains(got, "job=sync") {
		t.Errorf("expected record attr job=sync, got: %q", got)
	}
	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestZtHandler_Enabled(t *testing.T) {
	tests := []struct {
		level string
		check slog.Level
		want  bool
	}{
		{level: "debug", check: slog.LevelDebug, want: true},
		{level: "info", check: slog.LevelDebug, want: false},
		{level: "info", check: slog.LevelInfo, want: true},
		{level: "warn", check: slog.LevelInfo, want: false},
		{level: "error", check: slog.LevelWarn, want: false},
		{level: "ERROR", check: slog.LevelError, want: true},
		{level: "bogus", check: slog.LevelInfo, want: true},
		{level: "bogus", check: slog.LevelDebug, want: false},
	}
	for _, tt := range tests {
		h := newZtHandler(&bytes.Buffer{}, "op", parseLevel(tt.level))
		if got := h.Enabled(context.Background(), tt.check); got != tt.want {
			t.Errorf("level %q: Enabled(%v) = %v, want %v", tt.level, tt.check, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-op", "info")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Debug("hidden")
	logger.Info("visible", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, "zt.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	got := string(data)
	if strings.Contains(got, "hidden") {
		t.Errorf("debug record written at info level: %q", got)
	}
	if !strings.Contains(got, "\ttest-op\tvisible\tk=v") {
		t.Errorf("log file = %q, want info record", got)
	}
}
