package database

import (
	"fmt"
	"os"
	"path/filepath"

	"zt-go/internal/config"
	"zt-go/internal/zt"
)

// NewDatabaseFromConfig opens the store selected by the database config type.
// In-memory stores are migrated immediately since they always start empty.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, deviceID string, logger zt.Logger, clock zt.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(FilePath(cfg, deviceID), logger, clock)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", logger, clock)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// FilePath is where a sqlite store for deviceID lives.
func FilePath(cfg config.DatabaseConfig, deviceID string) string {
	return filepath.Join(cfg.DataDir, deviceID+".db")
}
