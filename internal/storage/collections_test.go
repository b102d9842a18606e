package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/kalambet/jhm/internal/record"
)

// TestSaveJobStampsFields verifies SaveJob generates an id and timestamps.
func TestSaveJobStampsFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := record.Record{"company": "Acme", "status": "applied"}
	id, err := s.SaveJob(ctx, job)
	if err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if !strings.HasPrefix(id, "job-") {
		t.Errorf("id = %q, want job- prefix", id)
	}

	got, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.String("createdAt") == "" || got.String("updatedAt") == "" {
		t.Errorf("timestamps missing: %v", got)
	}
}

// TestSaveJobKeepsCreatedAt verifies a second save leaves createdAt alone.
func TestSaveJobKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := record.Record{"id": "j1", "company": "Acme", "createdAt": "2024-01-01T00:00:00Z"}
	if _, err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	got, _ := s.GetJob(ctx, "j1")
	if got.String("createdAt") != "2024-01-01T00:00:00Z" {
		t.Errorf("createdAt = %q, want original", got.String("createdAt"))
	}
}

// TestSaveJobPartialUpdateKeepsCreatedAt verifies a save that omits
// createdAt does not reset the stored value.
func TestSaveJobPartialUpdateKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveJob(ctx, record.Record{"id": "j1", "company": "Acme", "createdAt": "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	update := record.Record{"id": "j1", "company": "Acme", "status": "applied"}
	if _, err := s.SaveJob(ctx, update); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, _ := s.GetJob(ctx, "j1")
	if got.String("createdAt") != "2024-01-01T00:00:00Z" {
		t.Errorf("stored createdAt = %q, want original", got.String("createdAt"))
	}
	if got.String("status") != "applied" {
		t.Errorf("status = %q, want applied", got.String("status"))
	}
	if update.String("createdAt") != "2024-01-01T00:00:00Z" {
		t.Errorf("caller createdAt = %q, want original", update.String("createdAt"))
	}
}

// TestJobIndexLookups verifies status and company lookups.
func TestJobIndexLookups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	jobs := []record.Record{
		{"id": "1", "company": "Acme", "status": "applied"},
		{"id": "2", "company": "Acme", "status": "offered"},
		{"id": "3", "company": "Globex", "status": "applied"},
	}
	for _, j := range jobs {
		if _, err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	applied, err := s.GetJobsByStatus(ctx, "applied")
	if err != nil {
		t.Fatalf("GetJobsByStatus: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}

	acme, err := s.GetJobsByCompany(ctx, "Acme")
	if err != nil {
		t.Fatalf("GetJobsByCompany: %v", err)
	}
	if len(acme) != 2 {
		t.Errorf("acme = %d, want 2", len(acme))
	}
}

// TestLettersByJob verifies the jobId index.
func TestLettersByJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, l := range []record.Record{
		{"jobId": "j1", "body": "a"},
		{"jobId": "j1", "body": "b"},
		{"jobId": "j2", "body": "c"},
	} {
		if _, err := s.SaveLetter(ctx, l); err != nil {
			t.Fatalf("SaveLetter: %v", err)
		}
	}

	got, err := s.GetLettersByJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetLettersByJob: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("letters for j1 = %d, want 2", len(got))
	}
}

// TestSettingRoundTrip sets a key, overwrites it and reads all settings back.
func TestSettingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSetting(ctx, "theme", "light"); err != nil {
		t.Fatalf("SaveSetting: %v", err)
	}
	if err := s.SaveSetting(ctx, "theme", "dark"); err != nil {
		t.Fatalf("SaveSetting (overwrite): %v", err)
	}
	if err := s.SaveSetting(ctx, "fontSize", 14.0); err != nil {
		t.Fatalf("SaveSetting: %v", err)
	}

	v, err := s.GetSetting(ctx, "theme")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "dark" {
		t.Errorf("theme = %v, want dark", v)
	}

	all, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if len(all) != 2 || all["fontSize"] != 14.0 {
		t.Errorf("settings = %v", all)
	}

	missing, err := s.GetSetting(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetSetting(nope) = %v, %v; want nil, nil", missing, err)
	}
}

// TestMetadataTyped verifies typed values survive the metadata round trip.
func TestMetadataTyped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	type status struct {
		Completed bool   `json:"completed"`
		StartedAt string `json:"startedAt"`
	}

	var empty status
	ok, err := s.GetMetadata(ctx, "m", &empty)
	if err != nil || ok {
		t.Fatalf("GetMetadata before save = %v, %v; want false, nil", ok, err)
	}

	if err := s.SaveMetadata(ctx, "m", status{Completed: true, StartedAt: "t0"}); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	var got status
	ok, err = s.GetMetadata(ctx, "m", &got)
	if err != nil || !ok {
		t.Fatalf("GetMetadata = %v, %v", ok, err)
	}
	if !got.Completed || got.StartedAt != "t0" {
		t.Errorf("got %+v", got)
	}

	if err := s.DeleteMetadata(ctx, "m"); err != nil {
		t.Fatalf("DeleteMetadata: %v", err)
	}
	ok, _ = s.GetMetadata(ctx, "m", &got)
	if ok {
		t.Error("metadata still present after delete")
	}
}
