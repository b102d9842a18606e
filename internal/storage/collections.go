package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/jhm/internal/record"
)

// save validates, stamps id and timestamps onto rec, then upserts it.
// rec is mutated so the caller sees the generated id.
func (s *Store) save(ctx context.Context, collection string, rec record.Record) (string, error) {
	if err := record.Validate(collection, rec); err != nil {
		return "", err
	}
	record.Stamp(collection, rec)
	return s.Put(ctx, collection, rec)
}

// --- Jobs ---

// SaveJob upserts a job, generating an id when absent.
func (s *Store) SaveJob(ctx context.Context, job record.Record) (string, error) {
	return s.save(ctx, record.Jobs, job)
}

func (s *Store) GetJob(ctx context.Context, id string) (record.Record, error) {
	return s.Get(ctx, record.Jobs, id)
}

func (s *Store) GetJobs(ctx context.Context) ([]record.Record, error) {
	return s.GetAll(ctx, record.Jobs)
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.Delete(ctx, record.Jobs, id)
}

func (s *Store) GetJobsByStatus(ctx context.Context, status string) ([]record.Record, error) {
	return s.GetByIndex(ctx, record.Jobs, "status", status)
}

func (s *Store) GetJobsByCompany(ctx context.Context, company string) ([]record.Record, error) {
	return s.GetByIndex(ctx, record.Jobs, "company", company)
}

// --- Resumes ---

// SaveResume upserts a resume, generating an id when absent.
func (s *Store) SaveResume(ctx context.Context, resume record.Record) (string, error) {
	return s.save(ctx, record.Resumes, resume)
}

func (s *Store) GetResume(ctx context.Context, id string) (record.Record, error) {
	return s.Get(ctx, record.Resumes, id)
}

func (s *Store) GetResumes(ctx context.Context) ([]record.Record, error) {
	return s.GetAll(ctx, record.Resumes)
}

func (s *Store) DeleteResume(ctx context.Context, id string) error {
	return s.Delete(ctx, record.Resumes, id)
}

// --- Letters ---

// SaveLetter upserts a cover letter, generating an id when absent.
func (s *Store) SaveLetter(ctx context.Context, letter record.Record) (string, error) {
	return s.save(ctx, record.Letters, letter)
}

func (s *Store) GetLetter(ctx context.Context, id string) (record.Record, error) {
	return s.Get(ctx, record.Letters, id)
}

func (s *Store) GetLetters(ctx context.Context) ([]record.Record, error) {
	return s.GetAll(ctx, record.Letters)
}

func (s *Store) DeleteLetter(ctx context.Context, id string) error {
	return s.Delete(ctx, record.Letters, id)
}

func (s *Store) GetLettersByJob(ctx context.Context, jobID string) ([]record.Record, error) {
	return s.GetByIndex(ctx, record.Letters, "jobId", jobID)
}

// --- Settings & metadata ---

// GetSetting returns the value stored under key, or nil when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (any, error) {
	rec, err := s.Get(ctx, record.Settings, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec["value"], nil
}

// SaveSetting stores value under key.
func (s *Store) SaveSetting(ctx context.Context, key string, value any) error {
	_, err := s.Put(ctx, record.Settings, record.Record{
		"key":       key,
		"value":     value,
		"updatedAt": record.Now(),
	})
	return err
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return s.Delete(ctx, record.Settings, key)
}

// GetSettings returns every setting as a key -> value map.
func (s *Store) GetSettings(ctx context.Context) (map[string]any, error) {
	recs, err := s.GetAll(ctx, record.Settings)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(recs))
	for _, r := range recs {
		out[r.Key(record.Settings)] = r["value"]
	}
	return out, nil
}

// GetMetadata decodes the value stored under key into dst. It reports
// whether a value was present.
func (s *Store) GetMetadata(ctx context.Context, key string, dst any) (bool, error) {
	rec, err := s.Get(ctx, record.Metadata, key)
	if err != nil {
		return false, err
	}
	if rec == nil || rec["value"] == nil {
		return false, nil
	}
	b, err := json.Marshal(rec["value"])
	if err != nil {
		return false, fmt.Errorf("encoding metadata %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decoding metadata %s: %w", key, err)
	}
	return true, nil
}

// SaveMetadata stores value, which must be JSON-encodable, under key.
func (s *Store) SaveMetadata(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: metadata %s: %v", record.ErrRecordInvalid, key, err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Errorf("%w: metadata %s: %v", record.ErrRecordInvalid, key, err)
	}
	_, err = s.Put(ctx, record.Metadata, record.Record{
		"key":       key,
		"value":     generic,
		"updatedAt": record.Now(),
	})
	return err
}

func (s *Store) DeleteMetadata(ctx context.Context, key string) error {
	return s.Delete(ctx, record.Metadata, key)
}
