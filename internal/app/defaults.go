package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ZT_CONFIG_PATH: config file location (default: ~/.config/zt.toml)
//   - ZT_HOME: base directory for zt data (default: ~/.local/share/zt)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// LoadEnv reads KEY=VALUE overrides from the given .env files before
// defaults are resolved. Missing files are skipped and variables already
// set in the environment win.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// EnvFiles lists the .env files consulted at startup: the working
// directory first, then ZT_HOME.
func EnvFiles() []string {
	files := []string{".env"}
	if home := os.Getenv("ZT_HOME"); home != "" {
		files = append(files, filepath.Join(home, ".env"))
	}
	return files
}

// getConfigPath returns the config file path, checking ZT_CONFIG_PATH env var first,
// then falling back to the default ~/.config/zt.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("ZT_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "zt.toml"), nil
}

// getBaseDir returns the base directory for zt data, checking ZT_HOME env var first,
// then falling back to the XDG default ~/.local/share/zt.
func getBaseDir() (string, error) {
	if path := os.Getenv("ZT_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "zt"), nil
}
