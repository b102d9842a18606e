package storage

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/jhm/internal/record"
)

// Bundle is the portable dump of the user-facing collections.
type Bundle struct {
	Jobs       []record.Record `json:"jobs" yaml:"jobs"`
	Resumes    []record.Record `json:"resumes" yaml:"resumes"`
	Letters    []record.Record `json:"letters" yaml:"letters"`
	ExportedAt string          `json:"exportedAt" yaml:"exportedAt"`
}

// ItemError describes one record that failed inside a batch operation.
type ItemError struct {
	Collection string `json:"type"`
	ID         string `json:"id,omitempty"`
	Error      string `json:"error"`
}

// ImportResult counts the records written per collection by ImportAll.
type ImportResult struct {
	Jobs    int         `json:"jobs"`
	Resumes int         `json:"resumes"`
	Letters int         `json:"letters"`
	Errors  []ItemError `json:"errors"`
}

// Stats reports record counts per collection. A count of -1 means the
// count could not be read.
type Stats struct {
	Jobs         int    `json:"jobs"`
	Resumes      int    `json:"resumes"`
	Letters      int    `json:"letters"`
	Settings     int    `json:"settings"`
	TotalRecords int    `json:"totalRecords"`
	LastUpdated  string `json:"lastUpdated"`
}

var bundleCollections = []string{record.Jobs, record.Resumes, record.Letters}

// ExportAll reads jobs, resumes and letters into a Bundle.
func (s *Store) ExportAll(ctx context.Context) (*Bundle, error) {
	results := make([][]record.Record, len(bundleCollections))

	g, gCtx := errgroup.WithContext(ctx)
	for i, c := range bundleCollections {
		g.Go(func() error {
			recs, err := s.GetAll(gCtx, c)
			if err != nil {
				return fmt.Errorf("exporting %s: %w", c, err)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Bundle{
		Jobs:       results[0],
		Resumes:    results[1],
		Letters:    results[2],
		ExportedAt: record.Now(),
	}, nil
}

// ImportAll upserts every record in b. A failing record is reported in
// Errors and does not stop the rest of the batch; the returned error is
// non-nil only when the store itself cannot be opened.
func (s *Store) ImportAll(ctx context.Context, b *Bundle) (*ImportResult, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	res := &ImportResult{Errors: []ItemError{}}
	if b == nil {
		return res, nil
	}

	importInto := func(collection string, recs []record.Record, count *int) {
		for _, r := range recs {
			if r == nil {
				res.Errors = append(res.Errors, ItemError{Collection: collection, Error: "empty record"})
				continue
			}
			if _, err := s.save(ctx, collection, r); err != nil {
				s.logger.Warn("import: record failed", "collection", collection, "id", r.ID(), "error", err)
				res.Errors = append(res.Errors, ItemError{Collection: collection, ID: r.ID(), Error: err.Error()})
				continue
			}
			*count++
		}
	}

	importInto(record.Jobs, b.Jobs, &res.Jobs)
	importInto(record.Resumes, b.Resumes, &res.Resumes)
	importInto(record.Letters, b.Letters, &res.Letters)
	return res, nil
}

// GetStats returns per-collection counts. It never fails: counts that
// cannot be read are reported as -1 and logged.
func (s *Store) GetStats(ctx context.Context) Stats {
	collections := []string{record.Jobs, record.Resumes, record.Letters, record.Settings}
	counts := make([]int, len(collections))

	var g errgroup.Group
	for i, c := range collections {
		g.Go(func() error {
			n, err := s.Count(ctx, c)
			if err != nil {
				s.logger.Warn("stats: count failed", "collection", c, "error", err)
				n = -1
			}
			counts[i] = n
			return nil
		})
	}
	g.Wait()

	st := Stats{
		Jobs:        counts[0],
		Resumes:     counts[1],
		Letters:     counts[2],
		Settings:    counts[3],
		LastUpdated: record.Now(),
	}
	for _, n := range counts[:3] {
		if n > 0 {
			st.TotalRecords += n
		}
	}
	return st
}

// ClearAll empties every collection except metadata, which carries the
// migration and sync bookkeeping.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, c := range []string{record.Jobs, record.Resumes, record.Letters, record.Settings} {
		if err := s.Clear(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
