package record

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStamp_AssignsIDAndTimestamps(t *testing.T) {
	r := Record{"company": "Acme"}
	Stamp(Jobs, r)

	if !strings.HasPrefix(r.ID(), "job-") {
		t.Errorf("id = %q, want job- prefix", r.ID())
	}
	if r.String("createdAt") == "" {
		t.Error("createdAt not set")
	}
	if r.String("updatedAt") == "" {
		t.Error("updatedAt not set")
	}
}

func TestStamp_KeepsCreatedAt(t *testing.T) {
	orig := now
	t.Cleanup(func() { now = orig })

	now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	r := Record{"id": "j1"}
	Stamp(Jobs, r)
	created := r.String("createdAt")

	now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	Stamp(Jobs, r)

	if r.String("createdAt") != created {
		t.Errorf("createdAt changed: %q -> %q", created, r.String("createdAt"))
	}
	if r.String("updatedAt") == created {
		t.Error("updatedAt was not refreshed")
	}
	if r.ID() != "j1" {
		t.Errorf("id = %q, want j1", r.ID())
	}
}

func TestStamp_SettingsHaveNoGeneratedID(t *testing.T) {
	r := Record{"key": "theme", "value": "dark"}
	Stamp(Settings, r)
	if _, ok := r["id"]; ok {
		t.Error("settings record should not get an id")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name       string
		collection string
		rec        Record
		wantErr    bool
	}{
		{"valid job", Jobs, Record{"id": "j1", "status": "applied", "source": "manual"}, false},
		{"job without id", Jobs, Record{"company": "Acme"}, false},
		{"numeric id", Jobs, Record{"id": 3.0}, true},
		{"bad status", Jobs, Record{"id": "j1", "status": "ghosted"}, true},
		{"bad source", Jobs, Record{"id": "j1", "source": "email"}, true},
		{"history not list", Jobs, Record{"statusHistory": "applied"}, true},
		{"history entries", Jobs, Record{"statusHistory": []any{map[string]any{"status": "applied"}}}, false},
		{"setting without key", Settings, Record{"value": 1.0}, true},
		{"setting", Settings, Record{"key": "theme", "value": "dark"}, false},
		{"letter bad jobId", Letters, Record{"jobId": 4.0}, true},
		{"resume basics", Resumes, Record{"basics": map[string]any{"name": "Ada"}}, false},
		{"resume bad basics", Resumes, Record{"basics": "Ada"}, true},
		{"unknown collection", "logs", Record{"id": "x"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.collection, tc.rec)
			if tc.wantErr {
				if !errors.Is(err, ErrRecordInvalid) {
					t.Errorf("err = %v, want ErrRecordInvalid", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestIsDuplicateJob(t *testing.T) {
	existing := Record{"id": "a", "url": "http://x", "title": "T", "company": "C"}

	if !IsDuplicateJob(existing, Record{"id": "b", "url": "http://x", "title": "Other", "company": "Else"}) {
		t.Error("same url should be a duplicate")
	}
	if !IsDuplicateJob(existing, Record{"id": "b", "url": "http://y", "title": "T", "company": "C"}) {
		t.Error("same title+company should be a duplicate")
	}
	if !IsDuplicateJob(existing, Record{"id": "a"}) {
		t.Error("same id should be a duplicate")
	}
	if IsDuplicateJob(existing, Record{"id": "b", "url": "http://y", "title": "T", "company": "D"}) {
		t.Error("nothing matches, should not be a duplicate")
	}
	if IsDuplicateJob(existing, Record{"url": "", "title": "T2", "company": "C"}) {
		t.Error("empty url must not match")
	}
}

func TestClone_IsDeep(t *testing.T) {
	r := Record{"basics": map[string]any{"name": "Ada"}}
	c, err := r.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	c["basics"].(map[string]any)["name"] = "Grace"
	if r["basics"].(map[string]any)["name"] != "Ada" {
		t.Error("Clone shared nested map with original")
	}
}
