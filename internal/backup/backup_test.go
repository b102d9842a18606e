package backup

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

func sampleBundle() *storage.Bundle {
	return &storage.Bundle{
		Jobs: []record.Record{{
			"id":        "j1",
			"title":     "Eng",
			"company":   "Acme",
			"createdAt": "2024-03-01T10:00:00Z",
			"statusHistory": []any{
				map[string]any{"status": "applied", "date": "2024-03-02"},
			},
		}},
		Resumes:    []record.Record{{"id": "r1", "name": "Main", "basics": map[string]any{"name": "Ada"}}},
		Letters:    []record.Record{},
		ExportedAt: "2024-03-05T12:00:00Z",
	}
}

// TestYAMLRoundTrip verifies nested values and timestamps survive YAML.
func TestYAMLRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleBundle(), FormatYAML); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(buf.String(), "company: Acme") {
		t.Errorf("yaml output missing company field:\n%s", buf.String())
	}

	b, err := Decode(&buf, FormatYAML)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Jobs) != 1 {
		t.Fatalf("len(Jobs) = %d, want 1", len(b.Jobs))
	}
	job := b.Jobs[0]
	if got := job.String("createdAt"); got != "2024-03-01T10:00:00Z" {
		t.Errorf("createdAt = %q, want string timestamp", got)
	}
	hist, ok := job["statusHistory"].([]any)
	if !ok || len(hist) != 1 {
		t.Fatalf("statusHistory = %#v", job["statusHistory"])
	}
	if _, ok := hist[0].(map[string]any); !ok {
		t.Errorf("statusHistory[0] is %T, want map[string]any", hist[0])
	}
	if b.ExportedAt != "2024-03-05T12:00:00Z" {
		t.Errorf("ExportedAt = %q", b.ExportedAt)
	}
	if b.Letters == nil {
		t.Error("Letters is nil, want empty slice")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleBundle(), FormatJSON); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Decode(&buf, FormatJSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Resumes) != 1 || b.Resumes[0].String("name") != "Main" {
		t.Errorf("Resumes = %v", b.Resumes)
	}
}

// TestDecode_MissingCollections verifies absent arrays decode as empty.
func TestDecode_MissingCollections(t *testing.T) {
	b, err := Decode(strings.NewReader(`{"jobs":[{"id":"j1"}]}`), FormatJSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Resumes == nil || b.Letters == nil {
		t.Errorf("missing collections decoded as nil: %+v", b)
	}
}

func TestUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleBundle(), "xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Encode(xml) = %v, want ErrUnknownFormat", err)
	}
	if _, err := Decode(&buf, "xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Decode(xml) = %v, want ErrUnknownFormat", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]string{
		"backup.yaml":  FormatYAML,
		"backup.YML":   FormatYAML,
		"backup.json":  FormatJSON,
		"backup":       FormatJSON,
		"dir.yaml/out": FormatJSON,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
