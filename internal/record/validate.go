package record

import "fmt"

// Job statuses.
const (
	StatusWishlist     = "wishlist"
	StatusApplied      = "applied"
	StatusInterviewing = "interviewing"
	StatusOffered      = "offered"
	StatusRejected     = "rejected"
	StatusAccepted     = "accepted"
	StatusArchived     = "archived"
)

// Job sources.
const (
	SourceManual    = "manual"
	SourceExtension = "extension"
	SourceTest      = "test"
)

var jobStatuses = map[string]bool{
	StatusWishlist:     true,
	StatusApplied:      true,
	StatusInterviewing: true,
	StatusOffered:      true,
	StatusRejected:     true,
	StatusAccepted:     true,
	StatusArchived:     true,
}

var jobSources = map[string]bool{
	SourceManual:    true,
	SourceExtension: true,
	SourceTest:      true,
}

// Validate checks a record against the rules of its collection. Missing ids
// are allowed because callers generate them; a present id must be a string.
func Validate(collection string, r Record) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrRecordInvalid)
	}
	if !IsCollection(collection) {
		return fmt.Errorf("%w: unknown collection %q", ErrRecordInvalid, collection)
	}

	keyPath := KeyPath(collection)
	if v, ok := r[keyPath]; ok {
		if _, isString := v.(string); !isString {
			return fmt.Errorf("%w: %s.%s must be a string, got %T", ErrRecordInvalid, collection, keyPath, v)
		}
	}
	if keyPath == "key" && r.String("key") == "" {
		return fmt.Errorf("%w: %s record requires a key", ErrRecordInvalid, collection)
	}

	switch collection {
	case Jobs:
		return validateJob(r)
	case Letters:
		if v, ok := r["jobId"]; ok && v != nil {
			if _, isString := v.(string); !isString {
				return fmt.Errorf("%w: letters.jobId must be a string", ErrRecordInvalid)
			}
		}
	case Resumes:
		if v, ok := r["basics"]; ok && v != nil {
			if _, isMap := v.(map[string]any); !isMap {
				return fmt.Errorf("%w: resumes.basics must be an object", ErrRecordInvalid)
			}
		}
	}
	return nil
}

func validateJob(r Record) error {
	if v, ok := r["status"]; ok && v != nil {
		s, isString := v.(string)
		if !isString || (s != "" && !jobStatuses[s]) {
			return fmt.Errorf("%w: jobs.status %v is not a known status", ErrRecordInvalid, v)
		}
	}
	if v, ok := r["source"]; ok && v != nil {
		s, isString := v.(string)
		if !isString || (s != "" && !jobSources[s]) {
			return fmt.Errorf("%w: jobs.source %v is not a known source", ErrRecordInvalid, v)
		}
	}
	if v, ok := r["statusHistory"]; ok && v != nil {
		entries, isList := v.([]any)
		if !isList {
			return fmt.Errorf("%w: jobs.statusHistory must be a list", ErrRecordInvalid)
		}
		for i, e := range entries {
			if _, isMap := e.(map[string]any); !isMap {
				return fmt.Errorf("%w: jobs.statusHistory[%d] must be an object", ErrRecordInvalid, i)
			}
		}
	}
	return nil
}

// IsDuplicateJob reports whether incoming refers to the same job as existing:
// same non-empty id, same non-empty url, or the same (title, company) pair.
//
// The title/company clause can merge two genuinely different postings that
// share both values; that behavior is kept as observed.
func IsDuplicateJob(existing, incoming Record) bool {
	if id := incoming.ID(); id != "" && existing.ID() == id {
		return true
	}
	if url := incoming.String("url"); url != "" && existing.String("url") == url {
		return true
	}
	return existing.String("title") == incoming.String("title") &&
		existing.String("company") == incoming.String("company")
}

// FindDuplicateJob returns the first job in existing that incoming duplicates.
func FindDuplicateJob(existing []Record, incoming Record) (Record, bool) {
	for _, e := range existing {
		if IsDuplicateJob(e, incoming) {
			return e, true
		}
	}
	return nil, false
}
