//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.jhm.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return appName + "-data"
	}
	return filepath.Join(home, "Library", "Application Support", appName)
}

// defaultsBackend reads and writes the com.jhm.app UserDefaults domain
// through the `defaults` tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err != nil {
		// exit status 1 means the key is not set
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
	}
	return out, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

func (b *defaultsBackend) write(key, typ, val string) error {
	if out, err := b.run("write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}
