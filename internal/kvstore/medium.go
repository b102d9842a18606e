package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Medium is the raw string-slot storage underneath a Store. Implementations
// must be safe for concurrent use.
type Medium interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Remove(key string) error
	Keys() ([]string, error)
}

// MemoryMedium keeps slots in process memory. The migration engine uses one
// as the transient backup location.
type MemoryMedium struct {
	mu   sync.Mutex
	data map[string]string

	// Err, when set, is returned by every write. Used to simulate a medium
	// that rejects writes.
	Err error
}

// NewMemoryMedium returns an empty in-memory medium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{data: make(map[string]string)}
}

func (m *MemoryMedium) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryMedium) Set(key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data[key] = val
	return nil
}

func (m *MemoryMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryMedium) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.data), nil
}

// FileMedium stores every slot in one flat JSON object on disk. Each write
// rewrites the whole file through a temp file and rename.
type FileMedium struct {
	mu   sync.Mutex
	path string
}

// NewFileMedium returns a medium backed by the JSON file at path. The file
// is created on first write.
func NewFileMedium(path string) *FileMedium {
	return &FileMedium{path: path}
}

func (f *FileMedium) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	slots := map[string]string{}
	if len(data) == 0 {
		return slots, nil
	}
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return slots, nil
}

func (f *FileMedium) save(slots map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating kv dir: %w", err)
	}
	data, err := json.MarshalIndent(slots, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileMedium) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := slots[key]
	return v, ok, nil
}

func (f *FileMedium) Set(key, val string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if err != nil {
		return err
	}
	slots[key] = val
	return f.save(slots)
}

func (f *FileMedium) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := slots[key]; !ok {
		return nil
	}
	delete(slots, key)
	return f.save(slots)
}

func (f *FileMedium) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if err != nil {
		return nil, err
	}
	return sortedKeys(slots), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
