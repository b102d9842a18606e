package kvstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/jhm/internal/record"
)

// TestIsAvailable verifies the probe succeeds on a working medium and
// leaves nothing behind.
func TestIsAvailable(t *testing.T) {
	s := NewMemory()
	if !s.IsAvailable() {
		t.Fatal("IsAvailable = false, want true")
	}
	keys, _ := s.Keys()
	if len(keys) != 0 {
		t.Errorf("keys after probe = %v, want none", keys)
	}
}

// TestIsAvailableRejectedWrite verifies a failing medium reports false
// rather than an error.
func TestIsAvailableRejectedWrite(t *testing.T) {
	m := NewMemoryMedium()
	m.Err = errors.New("storage disabled")
	s := New(m, 0)
	if s.IsAvailable() {
		t.Error("IsAvailable = true, want false")
	}
}

// TestIsAvailableQuotaExhausted verifies a full store reports unavailable.
func TestIsAvailableQuotaExhausted(t *testing.T) {
	s := New(NewMemoryMedium(), 10)
	if err := s.SetItem("k", "1234567890"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("SetItem error = %v, want ErrQuotaExceeded", err)
	}
	if err := s.SetItem("k", "12345678"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if s.IsAvailable() {
		t.Error("IsAvailable = true on a full store")
	}
}

// TestQuotaCountsReplacedSlotOnce verifies rewriting a slot is measured
// against the new value, not old plus new.
func TestQuotaCountsReplacedSlotOnce(t *testing.T) {
	s := New(NewMemoryMedium(), 20)
	if err := s.SetItem("slot", strings.Repeat("a", 14)); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := s.SetItem("slot", strings.Repeat("b", 16)); err != nil {
		t.Errorf("rewrite within quota failed: %v", err)
	}
	n, _ := s.Size()
	if n != 20 {
		t.Errorf("Size = %d, want 20", n)
	}
}

// TestPutRecordUpserts verifies whole-collection upsert by id.
func TestPutRecordUpserts(t *testing.T) {
	s := NewMemory()

	if _, err := s.PutRecord(SlotJobs, record.Record{"id": "j1", "title": "A"}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if _, err := s.PutRecord(SlotJobs, record.Record{"id": "j2", "title": "B"}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if _, err := s.PutRecord(SlotJobs, record.Record{"id": "j1", "title": "A2"}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	recs, err := s.LoadCollection(SlotJobs)
	if err != nil {
		t.Fatalf("LoadCollection: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	got, _ := s.GetRecord(SlotJobs, "j1")
	if got.String("title") != "A2" {
		t.Errorf("title = %q, want A2", got.String("title"))
	}

	if err := s.DeleteRecord(SlotJobs, "j1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	got, _ = s.GetRecord(SlotJobs, "j1")
	if got != nil {
		t.Error("j1 still present after delete")
	}
}

// TestPutRecordKeepsCreatedAt verifies a replacement without createdAt
// inherits the stored one.
func TestPutRecordKeepsCreatedAt(t *testing.T) {
	s := NewMemory()

	s.PutRecord(SlotJobs, record.Record{"id": "j1", "title": "A", "createdAt": "2024-01-01T00:00:00Z"})
	if _, err := s.PutRecord(SlotJobs, record.Record{"id": "j1", "title": "A2"}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, _ := s.GetRecord(SlotJobs, "j1")
	if got.String("createdAt") != "2024-01-01T00:00:00Z" {
		t.Errorf("createdAt = %q, want original", got.String("createdAt"))
	}
	if got.String("title") != "A2" {
		t.Errorf("title = %q, want A2", got.String("title"))
	}
}

// TestPutRecordRequiresID verifies records without ids are rejected.
func TestPutRecordRequiresID(t *testing.T) {
	s := NewMemory()
	_, err := s.PutRecord(SlotJobs, record.Record{"title": "A"})
	if !errors.Is(err, record.ErrRecordInvalid) {
		t.Errorf("err = %v, want ErrRecordInvalid", err)
	}
}

// TestLoadCollectionCorrupt verifies unparseable slots are reported.
func TestLoadCollectionCorrupt(t *testing.T) {
	s := NewMemory()
	s.SetItem(SlotJobs, "{not json")
	if _, err := s.LoadCollection(SlotJobs); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

// TestSaveSettingsNonClobber verifies an empty object does not wipe
// existing settings.
func TestSaveSettingsNonClobber(t *testing.T) {
	s := NewMemory()

	if err := s.SaveSettings(SlotUserSettings, map[string]any{"theme": "dark"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if err := s.SaveSettings(SlotUserSettings, map[string]any{}); err != nil {
		t.Fatalf("SaveSettings(empty): %v", err)
	}

	got, err := s.LoadSettings(SlotUserSettings)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got["theme"] != "dark" {
		t.Errorf("settings = %v, want theme=dark preserved", got)
	}
}

// TestSaveSettingsEmptyOnFreshSlot verifies an empty object can be written
// when nothing is stored yet.
func TestSaveSettingsEmptyOnFreshSlot(t *testing.T) {
	s := NewMemory()
	if err := s.SaveSettings(SlotUserSettings, nil); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	raw, ok, _ := s.GetItem(SlotUserSettings)
	if !ok || raw != "{}" {
		t.Errorf("slot = %q (ok=%v), want {}", raw, ok)
	}
}

// TestHasData verifies empty blobs do not count as legacy data.
func TestHasData(t *testing.T) {
	s := NewMemory()
	if s.HasData(SlotJobs) {
		t.Error("missing slot reported as data")
	}
	s.SetItem(SlotJobs, "[]")
	if s.HasData(SlotJobs) {
		t.Error("empty array reported as data")
	}
	s.SetItem(SlotJobs, `[{"id":"j1"}]`)
	if !s.HasData(SlotJobs) {
		t.Error("non-empty array not reported")
	}
}

// TestFileMediumPersists verifies slots survive a new medium on the same file.
func TestFileMediumPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv", "store.json")

	s1 := New(NewFileMedium(path), DefaultQuota)
	if _, err := s1.PutRecord(SlotResumes, record.Record{"id": "r1", "name": "Main"}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	s2 := New(NewFileMedium(path), DefaultQuota)
	got, err := s2.GetRecord(SlotResumes, "r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.String("name") != "Main" {
		t.Errorf("name = %q, want Main", got.String("name"))
	}
	if !s2.IsAvailable() {
		t.Error("file store not available")
	}
}
