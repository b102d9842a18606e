package config

import (
	"os"
	"path/filepath"
)

const appName = "jhm"

// ConfigBackend is where persisted config keys live: the `defaults` domain
// on macOS, a JSON file everywhere else.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// appDir returns the jhm directory under the XDG base directory named by
// env, or under $HOME/rel when env is unset. It returns "" when neither is
// known.
func appDir(env, rel string) string {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, rel)
	}
	return filepath.Join(base, appName)
}
