package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for zt.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info, warn, error
	Database   DatabaseConfig   `toml:"database"`
	Authority  AuthorityConfig  `toml:"authority"`
	Rule       RuleConfig       `toml:"rule"`
	Zone       ZoneConfig       `toml:"zone"`
	Capture    CaptureConfig    `toml:"capture"`
	Sync       SyncConfig       `toml:"sync"`
	Network    NetworkConfig    `toml:"network"`
	API        APIConfig        `toml:"api"`
	Server     ServerConfig     `toml:"server"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// Duration is a time.Duration written as a string such as "6h" or "90s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DatabaseConfig represents configuration for the local store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// AuthorityConfig locates the remote authority.
type AuthorityConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// RuleConfig is the rolling-window rule.
type RuleConfig struct {
	WindowDays    int `toml:"window_days"`
	AllowedDays   int `toml:"allowed_days"`
	WarningMargin int `toml:"warning_margin"`
	DangerMargin  int `toml:"danger_margin"`
	RecentLimit   int `toml:"recent_limit"`
}

// ZoneConfig overrides the member list of the zone. Empty means Schengen.
type ZoneConfig struct {
	Members []string `toml:"members,omitempty"`
}

// CaptureConfig controls scheduled location capture.
type CaptureConfig struct {
	Times        []string       `toml:"times"` // local "HH:MM"
	Timeout      Duration       `toml:"timeout"`
	MergeGapDays int            `toml:"merge_gap_days"` // negative disables trip extension
	Provider     ProviderConfig `toml:"provider"`
	Geocoder     GeocoderConfig `toml:"geocoder"`
}

// ProviderConfig selects the location provider.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ProviderConfig struct {
	Type string `toml:"type"` // "none", "fixed" or "gpsd"

	// fixed
	Lat      float64 `toml:"lat,omitempty"`
	Lng      float64 `toml:"lng,omitempty"`
	Accuracy float64 `toml:"accuracy,omitempty"`

	// gpsd
	GPSDAddr string `toml:"gpsd_addr,omitempty"`
}

// GeocoderConfig selects the reverse geocoder.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type GeocoderConfig struct {
	Type string `toml:"type"` // "none", "nominatim" or "static"

	// nominatim
	URL       string `toml:"url,omitempty"`
	UserAgent string `toml:"user_agent,omitempty"`

	// static
	Regions []RegionConfig `toml:"regions,omitempty"`
}

// RegionConfig is a bounding box attributed to one country.
type RegionConfig struct {
	Country string  `toml:"country"`
	City    string  `toml:"city,omitempty"`
	MinLat  float64 `toml:"min_lat"`
	MaxLat  float64 `toml:"max_lat"`
	MinLng  float64 `toml:"min_lng"`
	MaxLng  float64 `toml:"max_lng"`
}

// SyncConfig controls the periodic sync job.
type SyncConfig struct {
	Interval    Duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
	BackoffMin  Duration `toml:"backoff_min"`
	BackoffMax  Duration `toml:"backoff_max"`
}

// NetworkConfig controls the connectivity monitor.
type NetworkConfig struct {
	ProbeInterval Duration `toml:"probe_interval"`
	Debounce      Duration `toml:"debounce"`
	Cooldown      Duration `toml:"cooldown"`
}

// APIConfig is the local HTTP boundary served by the daemon.
type APIConfig struct {
	Listen string `toml:"listen"`
}

// ServerConfig configures `zt authority serve`.
type ServerConfig struct {
	Listen string   `toml:"listen"`
	Tokens []string `toml:"tokens"`
}

// VaultConfig represents configuration for a snapshot vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	S3Profile  string `toml:"s3_profile,omitempty"`

	// Static credentials for S3-compatible stores. When empty the default
	// AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config with every default filled in.
func NewConfig(deviceID, baseDir string) *Config {
	cfg := &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued settings. It is applied after reading a
// file so older configs keep working when settings are added.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" && c.BaseDir != "" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "db")
	}
	setDuration(&c.Authority.Timeout, 30*time.Second)

	if c.Rule == (RuleConfig{}) {
		c.Rule = RuleConfig{WindowDays: 180, AllowedDays: 90, WarningMargin: 5, DangerMargin: 5, RecentLimit: 5}
	}

	if len(c.Capture.Times) == 0 {
		c.Capture.Times = []string{"08:00", "14:00", "20:00"}
	}
	setDuration(&c.Capture.Timeout, 30*time.Second)
	if c.Capture.MergeGapDays == 0 {
		c.Capture.MergeGapDays = 1
	}
	if c.Capture.Provider.Type == "" {
		c.Capture.Provider.Type = "none"
	}
	if c.Capture.Geocoder.Type == "" {
		c.Capture.Geocoder.Type = "none"
	}

	setDuration(&c.Sync.Interval, 6*time.Hour)
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	setDuration(&c.Sync.BackoffMin, 30*time.Second)
	setDuration(&c.Sync.BackoffMax, 30*time.Minute)

	setDuration(&c.Network.ProbeInterval, time.Minute)
	setDuration(&c.Network.Debounce, 10*time.Second)
	setDuration(&c.Network.Cooldown, 5*time.Minute)

	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:7878"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}

	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.Encryption.PublicKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "zt.pub")
	}
	if c.Encryption.PrivateKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "zt.key")
	}
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.Rule.WindowDays <= 0 || c.Rule.AllowedDays <= 0 {
		return fmt.Errorf("rule window_days and allowed_days must be positive")
	}
	for _, t := range c.Capture.Times {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("invalid capture time %q: want HH:MM", t)
		}
	}
	if c.Sync.BackoffMax.Duration < c.Sync.BackoffMin.Duration {
		return fmt.Errorf("sync backoff_max must not be below backoff_min")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold the authority token.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
