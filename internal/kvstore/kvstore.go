// Package kvstore is the key-value fallback store: synchronous, quota-limited,
// string-only slots where each logical collection is one serialized blob.
//
// Every record-level write reads the whole collection, mutates it and
// rewrites the blob, so writes are O(collection size). The store is a
// degraded path for small data sets and is not meant to be optimized.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/jhm/internal/record"
)

var (
	// ErrUnavailable is returned when the medium rejects reads or writes.
	ErrUnavailable = errors.New("key-value store unavailable")
	// ErrQuotaExceeded is returned when a write would push the store past its byte quota.
	ErrQuotaExceeded = errors.New("key-value quota exceeded")
	// ErrCorrupt is returned when a slot holds text that does not parse.
	ErrCorrupt = errors.New("key-value slot corrupt")
)

// Slot names.
const (
	SlotJobs         = "jobs"
	SlotResumes      = "resumes"
	SlotLetters      = "letters"
	SlotUserSettings = "userSettings"
	SlotAppSettings  = "appSettings"
	SlotPreferences  = "preferences"
)

// CollectionSlots are the slots holding JSON arrays of records.
var CollectionSlots = []string{SlotJobs, SlotResumes, SlotLetters}

// SettingsSlots are the slots holding a single JSON object.
var SettingsSlots = []string{SlotUserSettings, SlotAppSettings, SlotPreferences}

// DefaultQuota matches the usual per-origin browser storage budget.
const DefaultQuota = 5 * 1024 * 1024

const probeKey = "__kv_probe__"

// Store wraps a Medium with a byte quota and record-collection helpers.
type Store struct {
	medium Medium
	quota  int
	logger *slog.Logger

	mu sync.Mutex
}

// New returns a Store over medium. A quota <= 0 disables the limit.
func New(medium Medium, quota int) *Store {
	return &Store{medium: medium, quota: quota, logger: slog.Default()}
}

// NewMemory returns a Store over a fresh MemoryMedium with no quota.
func NewMemory() *Store {
	return New(NewMemoryMedium(), 0)
}

// IsAvailable writes and removes a probe slot. It reports false instead of
// failing when the medium rejects the write.
func (s *Store) IsAvailable() bool {
	if err := s.SetItem(probeKey, probeKey); err != nil {
		return false
	}
	if err := s.RemoveItem(probeKey); err != nil {
		return false
	}
	return true
}

// GetItem returns the raw text in a slot.
func (s *Store) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

// SetItem replaces the raw text in a slot.
func (s *Store) SetItem(key, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(key, val)
}

// RemoveItem deletes a slot. Removing a missing slot succeeds.
func (s *Store) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.medium.Remove(key); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Keys lists every slot name.
func (s *Store) Keys() ([]string, error) {
	keys, err := s.medium.Keys()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

// Size returns the number of bytes used by all slot names and values.
func (s *Store) Size() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size("")
}

func (s *Store) get(key string) (string, bool, error) {
	v, ok, err := s.medium.Get(key)
	if err != nil {
		return "", false, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, key, err)
	}
	return v, ok, nil
}

func (s *Store) set(key, val string) error {
	if s.quota > 0 {
		used, err := s.size(key)
		if err != nil {
			return err
		}
		if used+len(key)+len(val) > s.quota {
			return fmt.Errorf("%w: writing %s needs %d bytes, quota %d", ErrQuotaExceeded, key, used+len(key)+len(val), s.quota)
		}
	}
	if err := s.medium.Set(key, val); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// size sums key and value lengths, skipping the slot named except.
func (s *Store) size(except string) (int, error) {
	keys, err := s.medium.Keys()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	total := 0
	for _, k := range keys {
		if k == except {
			continue
		}
		v, _, err := s.medium.Get(k)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		total += len(k) + len(v)
	}
	return total, nil
}

// --- Collections ---

// HasData reports whether a slot exists and holds something other than an
// empty array or object.
func (s *Store) HasData(slot string) bool {
	raw, ok, err := s.GetItem(slot)
	if err != nil || !ok {
		return false
	}
	switch raw {
	case "", "[]", "{}", "null":
		return false
	}
	return true
}

// LoadCollection parses the record array in slot. A missing slot is an
// empty collection.
func (s *Store) LoadCollection(slot string) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCollection(slot)
}

func (s *Store) loadCollection(slot string) ([]record.Record, error) {
	raw, ok, err := s.get(slot)
	if err != nil {
		return nil, err
	}
	recs := []record.Record{}
	if !ok || raw == "" || raw == "null" || raw == "{}" {
		return recs, nil
	}
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, slot, err)
	}
	return recs, nil
}

// SaveCollection replaces the whole record array in slot.
func (s *Store) SaveCollection(slot string, recs []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCollection(slot, recs)
}

func (s *Store) saveCollection(slot string, recs []record.Record) error {
	if recs == nil {
		recs = []record.Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrRecordInvalid, err)
	}
	return s.set(slot, string(data))
}

// GetRecord returns the record with id from slot, or nil.
func (s *Store) GetRecord(slot, id string) (record.Record, error) {
	recs, err := s.LoadCollection(slot)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, nil
}

// PutRecord upserts rec by id into slot. rec must already carry an id. A
// replaced record keeps its stored createdAt.
func (s *Store) PutRecord(slot string, rec record.Record) (string, error) {
	id := rec.ID()
	if id == "" {
		return "", fmt.Errorf("%w: %s record has no id", record.ErrRecordInvalid, slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadCollection(slot)
	if err != nil {
		return "", err
	}
	replaced := false
	for i, r := range recs {
		if r.ID() == id {
			if created := r.String("createdAt"); created != "" {
				rec["createdAt"] = created
			}
			recs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		recs = append(recs, rec)
	}
	if err := s.saveCollection(slot, recs); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteRecord removes the record with id from slot.
func (s *Store) DeleteRecord(slot, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadCollection(slot)
	if err != nil {
		return err
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(recs) {
		return nil
	}
	return s.saveCollection(slot, kept)
}

// --- Settings ---

// LoadSettings parses the settings object in slot. A missing slot yields an
// empty map.
func (s *Store) LoadSettings(slot string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSettings(slot)
}

func (s *Store) loadSettings(slot string) (map[string]any, error) {
	raw, ok, err := s.get(slot)
	if err != nil {
		return nil, err
	}
	settings := map[string]any{}
	if !ok || raw == "" || raw == "null" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, slot, err)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

// SaveSettings writes settings into slot. An empty settings object never
// replaces a non-empty one already stored; the existing value is kept.
func (s *Store) SaveSettings(slot string, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(settings) == 0 {
		existing, err := s.loadSettings(slot)
		if err == nil && len(existing) > 0 {
			s.logger.Warn("kvstore: refusing to overwrite settings with an empty object", "slot", slot)
			return nil
		}
		settings = map[string]any{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrRecordInvalid, err)
	}
	return s.set(slot, string(data))
}
