package app

import (
	"fmt"
	"os"
	"time"

	"zt-go/internal/compliance"
	"zt-go/internal/config"
	"zt-go/internal/database"
	"zt-go/internal/encryption"
	"zt-go/internal/geocode"
	"zt-go/internal/location"
	"zt-go/internal/model"
	"zt-go/internal/remote"
	"zt-go/internal/vault"
	"zt-go/internal/zone"
	"zt-go/internal/zt"
)

// ZTApp is the application layer between the CLI and zt.Service.
// It constructs all dependencies from config, tracks the running command
// as an operation and manages the store lifecycle on Close.
type ZTApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     zt.Vault
	encryptor zt.Encryptor
	authority zt.Authority
	service   *zt.Service
	clock     zt.Clock
	logger    zt.Logger
	op        *Operation
	logFile   *os.File
}

// NewZTApp creates a fully wired ZTApp from the given config.
// operation identifies the CLI command being run (e.g. "TripAdd", "Sync").
// The caller must call Close when done.
func NewZTApp(cfg *config.Config, operation string) (*ZTApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	clock := zt.RealClock{}

	a := &ZTApp{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		op:      NewOperation(operation, ""),
		logFile: logFile,
	}
	if err := a.wire(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *ZTApp) wire() error {
	cfg := a.cfg

	if len(cfg.Vaults) > 0 {
		v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, a.logger, a.clock)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run `zt db migrate`): %w", err)
	}

	if err := a.checkSnapshotVersion(); err != nil {
		return err
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	if cfg.Authority.URL != "" {
		client, err := remote.NewClient(remote.Options{
			BaseURL:  cfg.Authority.URL,
			Token:    cfg.Authority.Token,
			DeviceID: cfg.DeviceID,
			Timeout:  cfg.Authority.Timeout.Duration,
			Logger:   a.logger,
		})
		if err != nil {
			return fmt.Errorf("creating authority client: %w", err)
		}
		a.authority = client
	}

	ref, err := zoneFromConfig(cfg.Zone)
	if err != nil {
		return err
	}
	rule := ruleFromConfig(cfg.Rule)
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	provider, err := location.NewProviderFromConfig(cfg.Capture.Provider, a.clock)
	if err != nil {
		return fmt.Errorf("creating location provider: %w", err)
	}
	geocoder, err := geocode.NewGeocoderFromConfig(cfg.Capture.Geocoder)
	if err != nil {
		return fmt.Errorf("creating geocoder: %w", err)
	}

	a.service = zt.NewService(zt.Deps{
		Store:     db,
		Authority: a.authority,
		Vault:     a.vault,
		Encryptor: a.encryptor,
		Zone:      ref,
		Provider:  provider,
		Geocoder:  geocoder,
		Clock:     a.clock,
		Logger:    a.logger,
		DeviceID:  cfg.DeviceID,
		Rule:      rule,
		Capture: zt.CaptureOptions{
			Timeout:      cfg.Capture.Timeout.Duration,
			MergeGapDays: cfg.Capture.MergeGapDays,
		},
	})
	return nil
}

// checkSnapshotVersion refuses to run against a local store that is older
// than the snapshot in the vault. An unreachable vault is not fatal.
func (a *ZTApp) checkSnapshotVersion() error {
	if a.vault == nil {
		return nil
	}
	remoteVersion, err := a.vault.SnapshotVersion(a.cfg.DeviceID, zt.SnapshotName)
	if err != nil {
		a.logger.Warn("checking vault snapshot version", "error", err)
		return nil
	}
	localMax, err := a.db.MaxJobRunID()
	if err != nil {
		return fmt.Errorf("checking local store version: %w", err)
	}
	if remoteVersion > localMax {
		return fmt.Errorf("local store is behind the vault snapshot (local=%d, vault=%d): run `zt restore` or re-initialize", localMax, remoteVersion)
	}
	return nil
}

func zoneFromConfig(cfg config.ZoneConfig) (*zone.Reference, error) {
	if len(cfg.Members) == 0 {
		return zone.Schengen(), nil
	}
	ref, err := zone.New(cfg.Members)
	if err != nil {
		return nil, fmt.Errorf("invalid zone members: %w", err)
	}
	return ref, nil
}

func ruleFromConfig(cfg config.RuleConfig) compliance.Rule {
	return compliance.Rule{
		WindowDays:    cfg.WindowDays,
		AllowedDays:   cfg.AllowedDays,
		WarningMargin: cfg.WarningMargin,
		DangerMargin:  cfg.DangerMargin,
		RecentLimit:   cfg.RecentLimit,
	}
}

// Service returns the wired service.
func (a *ZTApp) Service() *zt.Service { return a.service }

// Config returns the config the app was built from.
func (a *ZTApp) Config() *config.Config { return a.cfg }

// Logger returns the app logger.
func (a *ZTApp) Logger() zt.Logger { return a.logger }

// Authority returns the configured authority, or nil when none is set.
func (a *ZTApp) Authority() zt.Authority { return a.authority }

// Begin records the current operation as a job run. Only commands that
// mutate the store call it.
func (a *ZTApp) Begin(params string) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	a.op.Params = params
	id, err := a.db.StartJobRun(a.op.Name, 1, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// Fail marks the current operation failed. It is a no-op for nil errors.
func (a *ZTApp) Fail(err error) { a.op.Fail(err) }

// History returns the most recent job runs.
func (a *ZTApp) History(limit int) ([]model.JobRun, error) {
	return a.service.History(limit)
}

// Backup uploads an encrypted store snapshot and returns its version.
func (a *ZTApp) Backup() (int64, error) {
	return a.service.Backup()
}

// Close finalizes the operation and closes all resources.
// For persisted operations the job run is finished and, when snapshot keys
// are configured, a fresh snapshot is uploaded so the vault never trails a
// mutating command. Snapshot failures are logged, not returned: the
// command itself already succeeded locally.
func (a *ZTApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishJobRun(a.op.ID, a.op.State, a.op.Detail(), a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
		if a.vault != nil && a.encryptor != nil && a.encryptor.IsConfigured() {
			if version, err := a.service.Backup(); err != nil {
				a.logger.Warn("store snapshot upload failed", "error", err)
			} else {
				a.logger.Debug("store snapshot uploaded", "version", version)
			}
		}
	}

	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *ZTApp) closeResources() error {
	var err error
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
		a.db = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return err
}

// MigrateDatabase opens the configured store and applies pending
// migrations.
func MigrateDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, nil, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// NewEncryptor returns the configured snapshot encryptor, for key
// management commands that do not need a store.
func NewEncryptor(cfg *config.Config) (zt.Encryptor, error) {
	return encryption.NewEncryptorFromConfig(cfg.Encryption)
}

// RestoreSnapshot downloads this device's snapshot from the first vault
// and decrypts it to destPath. It does not open the local store, so it
// works when the store is missing or behind the vault.
func RestoreSnapshot(cfg *config.Config, destPath, passphrase string) error {
	if len(cfg.Vaults) == 0 {
		return fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	decryptCtx, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	svc := zt.NewService(zt.Deps{Vault: v, Encryptor: enc, DeviceID: cfg.DeviceID})
	return svc.Restore(destPath, decryptCtx)
}
