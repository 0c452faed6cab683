package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("ZT_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("ZT_HOME", "/custom/zt")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/zt" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/zt")
		}
		if defaults["log_dir"] != "/custom/zt/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/zt/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("ZT_CONFIG_PATH", "")
		t.Setenv("ZT_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "zt.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "zt")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "ZT_HOME=/from/dotenv\nZT_CONFIG_PATH=/from/dotenv/zt.toml\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Run("missing files are skipped", func(t *testing.T) {
		if err := LoadEnv(filepath.Join(dir, "absent.env")); err != nil {
			t.Errorf("LoadEnv() error = %v", err)
		}
	})

	t.Run("existing environment wins", func(t *testing.T) {
		t.Setenv("ZT_HOME", "/from/shell")
		t.Setenv("ZT_CONFIG_PATH", "")
		os.Unsetenv("ZT_CONFIG_PATH")

		if err := LoadEnv(envFile); err != nil {
			t.Fatalf("LoadEnv() error = %v", err)
		}
		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if defaults["base_dir"] != "/from/shell" {
			t.Errorf("base_dir = %q, want value from the shell", defaults["base_dir"])
		}
		if defaults["config_path"] != "/from/dotenv/zt.toml" {
			t.Errorf("config_path = %q, want value from .env", defaults["config_path"])
		}
	})

	t.Run("env files include ZT_HOME", func(t *testing.T) {
		t.Setenv("ZT_HOME", dir)
		files := EnvFiles()
		if len(files) != 2 || files[1] != envFile {
			t.Errorf("EnvFiles() = %v", files)
		}
	})
}
