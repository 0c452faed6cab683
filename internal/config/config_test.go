package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("device-abc", "/home/user/.local/share/zt")
	original.Authority = AuthorityConfig{URL: "https://zt.example.com/api", Token: "secret", Timeout: Duration{15 * time.Second}}
	original.Capture.Provider = ProviderConfig{Type: "fixed", Lat: 48.85, Lng: 2.35, Accuracy: 20}
	original.Capture.Geocoder = GeocoderConfig{
		Type:    "static",
		Regions: []RegionConfig{{Country: "FR", MinLat: 41, MaxLat: 51, MinLng: -5, MaxLng: 9}},
	}
	original.Sync.Interval = Duration{2 * time.Hour}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `interval = "2h0m0s"`) {
		t.Errorf("durations should be written as strings, got:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.DeviceID != original.DeviceID {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, original.DeviceID)
	}
	if got.Authority.URL != original.Authority.URL {
		t.Errorf("Authority.URL = %q, want %q", got.Authority.URL, original.Authority.URL)
	}
	if got.Authority.Timeout.Duration != 15*time.Second {
		t.Errorf("Authority.Timeout = %v, want 15s", got.Authority.Timeout)
	}
	if got.Sync.Interval.Duration != 2*time.Hour {
		t.Errorf("Sync.Interval = %v, want 2h", got.Sync.Interval)
	}
	if got.Capture.Provider.Type != "fixed" || got.Capture.Provider.Lat != 48.85 {
		t.Errorf("Capture.Provider = %+v", got.Capture.Provider)
	}
	if len(got.Capture.Geocoder.Regions) != 1 || got.Capture.Geocoder.Regions[0].Country != "FR" {
		t.Errorf("Capture.Geocoder.Regions = %+v", got.Capture.Geocoder.Regions)
	}
	if len(got.Vaults) != 1 || got.Vaults[0].Type != "filesystem" {
		t.Fatalf("Vaults = %+v, want one filesystem vault", got.Vaults)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("device-1", "/data/zt")

	if cfg.DeviceID != "device-1" {
		t.Errorf("DeviceID = %q, want %q", cfg.DeviceID, "device-1")
	}
	if cfg.LogDir != "/data/zt/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/zt/log")
	}
	if cfg.Database.DataDir != "/data/zt/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/zt/db")
	}
	if cfg.Encryption.PublicKeyPath != "/data/zt/keys/zt.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Rule.WindowDays != 180 || cfg.Rule.AllowedDays != 90 {
		t.Errorf("Rule = %+v, want 90/180", cfg.Rule)
	}
	if got := strings.Join(cfg.Capture.Times, ","); got != "08:00,14:00,20:00" {
		t.Errorf("Capture.Times = %s", got)
	}
	if cfg.Sync.Interval.Duration != 6*time.Hour {
		t.Errorf("Sync.Interval = %v, want 6h", cfg.Sync.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRead_AppliesDefaults(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
device_id = "d1"
base_dir = "/tmp/zt"

[sync]
interval = "45m"
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Sync.Interval.Duration != 45*time.Minute {
		t.Errorf("Sync.Interval = %v, want 45m", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("Sync.MaxAttempts = %d, want default 5", cfg.Sync.MaxAttempts)
	}
	if cfg.Network.Debounce.Duration != 10*time.Second {
		t.Errorf("Network.Debounce = %v, want 10s", cfg.Network.Debounce)
	}
	if cfg.Capture.Provider.Type != "none" {
		t.Errorf("Capture.Provider.Type = %q, want none", cfg.Capture.Provider.Type)
	}
}

func TestRead_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[sync]\ninterval = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	t.Run("missing device id", func(t *testing.T) {
		cfg := NewConfig("", "/data/zt")
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error")
		}
	})

	t.Run("bad capture time", func(t *testing.T) {
		cfg := NewConfig("d", "/data/zt")
		cfg.Capture.Times = []string{"8am"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error")
		}
	})
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "zt.toml")

		if err := Init(path, NewConfig("d1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "zt.toml")
		cfg := NewConfig("d1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "zt.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.DeviceID != "read-test" {
			t.Errorf("DeviceID = %q, want %q", got.DeviceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/zt.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
