// Package backup reads and writes export bundles as JSON or YAML.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

// Supported bundle formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned for a format other than json or yaml.
var ErrUnknownFormat = errors.New("unknown backup format")

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode writes b to w.
func Encode(w io.Writer, b *storage.Bundle, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Decode reads a bundle from r. YAML documents are normalized through JSON
// so records carry the same value types as the JSON path.
func Decode(r io.Reader, format string) (*storage.Bundle, error) {
	var b storage.Bundle
	switch format {
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&b); err != nil {
			return nil, fmt.Errorf("decoding json bundle: %w", err)
		}
	case FormatYAML:
		var raw map[string]any
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding yaml bundle: %w", err)
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("normalizing yaml bundle: %w", err)
		}
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("normalizing yaml bundle: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if b.Jobs == nil {
		b.Jobs = []record.Record{}
	}
	if b.Resumes == nil {
		b.Resumes = []record.Record{}
	}
	if b.Letters == nil {
		b.Letters = []record.Record{}
	}
	return &b, nil
}
