//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

func defaultDataDir() string {
	if dir := appDir("XDG_DATA_HOME", filepath.Join(".local", "share")); dir != "" {
		return dir
	}
	return appName + "-data"
}

func configFilePath() string {
	dir := appDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		dir = appName
	}
	return filepath.Join(dir, "config.json")
}

// jsonFile is a JSON document on disk readable only by its owner.
type jsonFile string

// load decodes the file into v. A missing file leaves v untouched.
func (f jsonFile) load(v any) error {
	data, err := os.ReadFile(string(f))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", f, err)
	}
	return nil
}

// store replaces the file with v, creating parent directories as needed.
func (f jsonFile) store(v any) error {
	dir := filepath.Dir(string(f))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := string(f) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, string(f))
}

// fileBackend keeps config keys as one flat JSON object at
// $XDG_CONFIG_HOME/jhm/config.json.
type fileBackend struct {
	file jsonFile
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{file: jsonFile(configFilePath())}
	if err := b.file.load(&b.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not load config file %s: %v. Using default values.\n", b.file, err)
		b.data = nil
	}
	if b.data == nil {
		b.data = make(map[string]any)
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt || v > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not an integer in range", key, v)
		}
		return int(v), true, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unexpected %T value", key, v)
	}
}

func (b *fileBackend) set(key string, val any) error {
	if val == nil {
		delete(b.data, key)
	} else {
		b.data[key] = val
	}
	return b.file.store(b.data)
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error { return b.set(key, nil) }
