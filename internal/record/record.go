// Package record defines the semi-structured records persisted by jhm and the
// rules shared by every storage backend: collection names, key paths,
// validation, id generation and timestamps.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRecordInvalid is returned when a record is missing required fields or
// carries values outside their allowed set. It is always raised before I/O.
var ErrRecordInvalid = errors.New("record invalid")

// Collection names.
const (
	Jobs     = "jobs"
	Resumes  = "resumes"
	Letters  = "letters"
	Settings = "settings"
	Metadata = "metadata"
)

// Collections lists every collection in schema order.
var Collections = []string{Jobs, Resumes, Letters, Settings, Metadata}

// KeyPath returns the name of the primary key field for a collection.
// settings and metadata are keyed by "key"; everything else by "id".
func KeyPath(collection string) string {
	switch collection {
	case Settings, Metadata:
		return "key"
	default:
		return "id"
	}
}

// IsCollection reports whether name is a known collection.
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Record is a single JSON-shaped entity stored in a collection.
type Record map[string]any

// String returns the string value of field, or "" when absent or not a string.
func (r Record) String(field string) string {
	if r == nil {
		return ""
	}
	s, _ := r[field].(string)
	return s
}

// ID returns the record's "id" field.
func (r Record) ID() string { return r.String("id") }

// Key returns the primary key value for the given collection.
func (r Record) Key(collection string) string { return r.String(KeyPath(collection)) }

// Clone returns a deep copy made through a JSON round trip, so that callers
// can stamp fields without mutating the caller's map.
func (r Record) Clone() (Record, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordInvalid, err)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordInvalid, err)
	}
	return out, nil
}

// Decode unmarshals a JSON object into a Record.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

var idPrefixes = map[string]string{
	Jobs:    "job",
	Resumes: "resume",
	Letters: "letter",
}

// NewID generates a fresh id for a record of the given collection.
func NewID(collection string) string {
	prefix, ok := idPrefixes[collection]
	if !ok {
		prefix = "rec"
	}
	return prefix + "-" + uuid.New().String()
}

// now is replaced in tests that need deterministic timestamps.
var now = func() time.Time { return time.Now().UTC() }

// Now returns the current time formatted the way records store timestamps.
func Now() string {
	return now().Format(time.RFC3339Nano)
}

// Stamp assigns an id when absent, sets createdAt once and refreshes
// updatedAt. It mutates r.
func Stamp(collection string, r Record) {
	ts := Now()
	if KeyPath(collection) == "id" && r.ID() == "" {
		r["id"] = NewID(collection)
	}
	if _, ok := r["createdAt"]; !ok || r.String("createdAt") == "" {
		r["createdAt"] = ts
	}
	r["updatedAt"] = ts
}

// Timestamp returns the most recent of updatedAt and createdAt parsed as
// RFC 3339, or the zero time.
func (r Record) Timestamp() time.Time {
	for _, f := range []string{"updatedAt", "createdAt", "lastModified"} {
		if s := r.String(f); s != "" {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
