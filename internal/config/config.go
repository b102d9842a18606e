package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Migration MigrationConfig
	Sync      SyncConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir             string
	KVQuotaBytes        int
	OpenTimeout         string
	MaintenanceInterval string
}

type MigrationConfig struct {
	BackupSource     bool
	ClearSourceAfter bool
}

type SyncConfig struct {
	HandshakeTimeout string
	PullTimeout      string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir:             defaultDataDir(),
			KVQuotaBytes:        5 << 20,
			OpenTimeout:         "3s",
			MaintenanceInterval: "24h",
		},
		Migration: MigrationConfig{
			BackupSource: true,
		},
		Sync: SyncConfig{
			HandshakeTimeout: "1s",
			PullTimeout:      "5s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.jhm.app) and the API
// token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/jhm/config.json
// and the API token falls back to $XDG_DATA_HOME/jhm/secrets.json.
//
// Variables from .env never replace variables already set in the
// environment. Environment variables (JHM_*) override backend values on all
// platforms.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend(), keychainReader{})
}

// loadDotEnv copies variables from path into the process environment.
// A missing file is not an error.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", path, err)
	}
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for the API token if still empty.
	if cfg.Server.APIToken == "" {
		if tok, err := kc.Get(appName, "api_token"); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid config: server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Storage.DataDir == "" {
		return Config{}, fmt.Errorf("invalid config: storage.data_dir is empty")
	}

	return cfg, nil
}

// OpenTimeoutDuration parses storage.open_timeout.
func (c StorageConfig) OpenTimeoutDuration() time.Duration {
	return parseDuration("storage.open_timeout", c.OpenTimeout, 3*time.Second)
}

// MaintenanceIntervalDuration parses storage.maintenance_interval. Zero
// disables background maintenance.
func (c StorageConfig) MaintenanceIntervalDuration() time.Duration {
	if c.MaintenanceInterval == "0" {
		return 0
	}
	return parseDuration("storage.maintenance_interval", c.MaintenanceInterval, 24*time.Hour)
}

// HandshakeTimeoutDuration parses sync.handshake_timeout.
func (c SyncConfig) HandshakeTimeoutDuration() time.Duration {
	return parseDuration("sync.handshake_timeout", c.HandshakeTimeout, time.Second)
}

// PullTimeoutDuration parses sync.pull_timeout.
func (c SyncConfig) PullTimeoutDuration() time.Duration {
	return parseDuration("sync.pull_timeout", c.PullTimeout, 5*time.Second)
}

func parseDuration(key, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q. Using default value %v.\n", key, raw, def)
		return def
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
