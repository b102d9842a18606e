package storage

import (
	"context"
	"fmt"

	"github.com/kalambet/jhm/internal/record"
)

const healthProbeKey = "__health_check__"

// Health is the result of CheckHealth.
type Health struct {
	Healthy bool           `json:"healthy"`
	Error   string         `json:"error,omitempty"`
	Stores  map[string]int `json:"stores,omitempty"`
}

// CheckHealth writes, reads back and deletes a probe setting, then counts
// every collection. Failures are reported in the result, not as an error.
func (s *Store) CheckHealth(ctx context.Context) Health {
	probe := fmt.Sprintf("probe-%s", record.Now())
	if err := s.SaveSetting(ctx, healthProbeKey, probe); err != nil {
		return Health{Error: fmt.Sprintf("write probe: %v", err)}
	}
	got, err := s.GetSetting(ctx, healthProbeKey)
	if err != nil {
		return Health{Error: fmt.Sprintf("read probe: %v", err)}
	}
	if got != probe {
		return Health{Error: "read probe returned a different value"}
	}
	if err := s.DeleteSetting(ctx, healthProbeKey); err != nil {
		return Health{Error: fmt.Sprintf("delete probe: %v", err)}
	}

	h := Health{Healthy: true, Stores: make(map[string]int, len(record.Collections))}
	for _, c := range record.Collections {
		n, err := s.Count(ctx, c)
		if err != nil {
			return Health{Error: fmt.Sprintf("count %s: %v", c, err)}
		}
		h.Stores[c] = n
	}
	return h
}

// RemoveOrphanLetters deletes letters whose non-empty jobId references no
// existing job and returns how many were removed.
func (s *Store) RemoveOrphanLetters(ctx context.Context) (int, error) {
	jobs, err := s.GetJobs(ctx)
	if err != nil {
		return 0, err
	}
	letters, err := s.GetLetters(ctx)
	if err != nil {
		return 0, err
	}

	known := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		known[j.ID()] = true
	}

	removed := 0
	for _, l := range letters {
		jobID := l.String("jobId")
		if jobID == "" || known[jobID] {
			continue
		}
		if err := s.DeleteLetter(ctx, l.ID()); err != nil {
			return removed, fmt.Errorf("removing orphan letter %s: %w", l.ID(), err)
		}
		s.logger.Info("maintenance: removed orphan letter", "id", l.ID(), "jobId", jobID)
		removed++
	}
	return removed, nil
}

// IntegrityReport lists structural problems found by ValidateIntegrity.
// Issues are records that break collection rules; warnings are suspicious
// but usable.
type IntegrityReport struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

// ValidateIntegrity scans resumes, jobs and letters for missing required
// fields and dangling references.
func (s *Store) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	rep := &IntegrityReport{Issues: []string{}, Warnings: []string{}}

	resumes, err := s.GetResumes(ctx)
	if err != nil {
		return nil, err
	}
	for i, r := range resumes {
		if r.ID() == "" {
			rep.Issues = append(rep.Issues, fmt.Sprintf("resume at position %d has no id", i))
		}
		if _, ok := r["basics"]; !ok {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("resume %s has no basics section", r.ID()))
		}
	}

	jobs, err := s.GetJobs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(jobs))
	for i, j := range jobs {
		if j.ID() == "" {
			rep.Issues = append(rep.Issues, fmt.Sprintf("job at position %d has no id", i))
		}
		if j.String("title") == "" {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("job %s has no title", j.ID()))
		}
		if err := record.Validate(record.Jobs, j); err != nil {
			rep.Issues = append(rep.Issues, fmt.Sprintf("job %s: %v", j.ID(), err))
		}
		known[j.ID()] = true
	}

	letters, err := s.GetLetters(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range letters {
		if jobID := l.String("jobId"); jobID != "" && !known[jobID] {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("letter %s references missing job %s", l.ID(), jobID))
		}
	}

	rep.Valid = len(rep.Issues) == 0
	return rep, nil
}

// MaintenanceReport is the result of Maintain.
type MaintenanceReport struct {
	OrphansRemoved int              `json:"orphansRemoved"`
	Integrity      *IntegrityReport `json:"integrity"`
	Health         Health           `json:"health"`
}

// Maintain removes orphaned letters, then validates and probes the store.
func (s *Store) Maintain(ctx context.Context) (*MaintenanceReport, error) {
	removed, err := s.RemoveOrphanLetters(ctx)
	if err != nil {
		return nil, err
	}
	integrity, err := s.ValidateIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("maintenance complete", "orphans_removed", removed, "valid", integrity.Valid)
	return &MaintenanceReport{
		OrphansRemoved: removed,
		Integrity:      integrity,
		Health:         s.CheckHealth(ctx),
	}, nil
}
