// Package resumeimport turns a PDF resume into a resume record.
package resumeimport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/kalambet/jhm/internal/record"
)

// SourcePDF marks resumes created by this package.
const SourcePDF = "pdf"

// ErrNoText is returned when a PDF has no extractable text layer.
var ErrNoText = errors.New("pdf has no extractable text")

// ExtractText returns the plain text of every page in the PDF at path.
func ExtractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rd); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// FromPDF extracts the text of path and builds a resume record from it.
// An empty name falls back to the file name without extension.
func FromPDF(path, name string) (record.Record, error) {
	text, err := ExtractText(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return FromText(name, text), nil
}

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d ().\-]{7,}\d`)
	urlRe   = regexp.MustCompile(`https?://[^\s]+`)
)

// FromText builds a resume record from extracted text. The text is NFKC
// normalized so typographic ligatures and full-width forms become plain
// characters. Contact details that can be recognized are copied into basics;
// the full text is kept as rawText.
func FromText(name, text string) record.Record {
	text = norm.NFKC.String(text)
	basics := map[string]any{}
	if first := firstLine(text); first != "" && !emailRe.MatchString(first) {
		basics["name"] = first
	}
	if m := emailRe.FindString(text); m != "" {
		basics["email"] = m
	}
	if m := phoneRe.FindString(text); m != "" {
		basics["phone"] = strings.TrimSpace(m)
	}
	if m := urlRe.FindString(text); m != "" {
		basics["url"] = strings.TrimRight(m, ".,;)")
	}

	return record.Record{
		"name":    name,
		"basics":  basics,
		"rawText": text,
		"source":  SourcePDF,
	}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 80 {
				return ""
			}
			return line
		}
	}
	return ""
}
