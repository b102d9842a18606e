package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "JHM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "JHM_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "JHM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.kv_quota_bytes", typ: kInt, env: "JHM_STORAGE_KV_QUOTA_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Storage.KVQuotaBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.KVQuotaBytes },
	},
	{
		key: "storage.open_timeout", typ: kDuration, env: "JHM_STORAGE_OPEN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Storage.OpenTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.OpenTimeout },
	},
	{
		key: "storage.maintenance_interval", typ: kDuration, env: "JHM_STORAGE_MAINTENANCE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Storage.MaintenanceInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.MaintenanceInterval },
	},
	{
		key: "migration.backup_source", typ: kBool, env: "JHM_MIGRATION_BACKUP_SOURCE",
		apply:   func(cfg *Config, v any) { cfg.Migration.BackupSource = v.(bool) },
		extract: func(cfg Config) any { return cfg.Migration.BackupSource },
	},
	{
		key: "migration.clear_source_after", typ: kBool, env: "JHM_MIGRATION_CLEAR_SOURCE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Migration.ClearSourceAfter = v.(bool) },
		extract: func(cfg Config) any { return cfg.Migration.ClearSourceAfter },
	},
	{
		key: "sync.handshake_timeout", typ: kDuration, env: "JHM_SYNC_HANDSHAKE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sync.HandshakeTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.HandshakeTimeout },
	},
	{
		key: "sync.pull_timeout", typ: kDuration, env: "JHM_SYNC_PULL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sync.PullTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.PullTimeout },
	},
	{
		key: "log.level", typ: kString, env: "JHM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if _, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, v)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if _, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, raw)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
