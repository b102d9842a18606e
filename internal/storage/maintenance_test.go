package storage

import (
	"context"
	"testing"

	"github.com/kalambet/jhm/internal/record"
)

// TestRemoveOrphanLetters verifies only letters pointing at missing jobs go.
func TestRemoveOrphanLetters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveJob(ctx, record.Record{"id": "j1", "title": "Eng"})
	s.SaveLetter(ctx, record.Record{"id": "keep", "jobId": "j1"})
	s.SaveLetter(ctx, record.Record{"id": "loose", "body": "no job"})
	s.SaveLetter(ctx, record.Record{"id": "orphan", "jobId": "gone"})

	n, err := s.RemoveOrphanLetters(ctx)
	if err != nil {
		t.Fatalf("RemoveOrphanLetters: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}

	got, _ := s.GetLetter(ctx, "orphan")
	if got != nil {
		t.Error("orphan letter still present")
	}
	left, _ := s.GetLetters(ctx)
	if len(left) != 2 {
		t.Errorf("letters left = %d, want 2", len(left))
	}
}

// TestValidateIntegrity verifies warnings for missing titles and dangling letters.
func TestValidateIntegrity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveJob(ctx, record.Record{"id": "j1"})
	s.SaveResume(ctx, record.Record{"id": "r1", "basics": map[string]any{}})
	s.SaveLetter(ctx, record.Record{"id": "l1", "jobId": "gone"})

	rep, err := s.ValidateIntegrity(ctx)
	if err != nil {
		t.Fatalf("ValidateIntegrity: %v", err)
	}
	if !rep.Valid {
		t.Errorf("Valid = false, issues = %v", rep.Issues)
	}
	if len(rep.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2", rep.Warnings)
	}
}

// TestCheckHealth verifies the probe leaves no residue and counts stores.
func TestCheckHealth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveJob(ctx, record.Record{"title": "Eng"})

	h := s.CheckHealth(ctx)
	if !h.Healthy {
		t.Fatalf("Healthy = false: %s", h.Error)
	}
	if h.Stores[record.Jobs] != 1 {
		t.Errorf("jobs = %d, want 1", h.Stores[record.Jobs])
	}
	if h.Stores[record.Settings] != 0 {
		t.Errorf("settings = %d, want 0 (probe not cleaned up)", h.Stores[record.Settings])
	}
}

// TestCheckHealthUnavailable verifies an unopenable store reports unhealthy.
func TestCheckHealthUnavailable(t *testing.T) {
	s := New(":memory:", WithOpener(failingOpener))

	h := s.CheckHealth(context.Background())
	if h.Healthy || h.Error == "" {
		t.Errorf("health = %+v, want unhealthy with error", h)
	}
}
