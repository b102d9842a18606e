// Package migration copies legacy records from the key-value store into the
// object store exactly once, tracking progress in a persisted status record.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/jhm/internal/kvstore"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

// ErrMigrationFailed wraps any error that aborts a migration run.
var ErrMigrationFailed = errors.New("migration failed")

// ErrNoBackup is returned by RestoreFromBackup when no snapshot exists.
var ErrNoBackup = errors.New("no migration backup")

const (
	// StatusKey is the metadata key holding the migration status.
	StatusKey = "storage_migration_status"
	// BackupKey is the slot in the backup store holding the source snapshot.
	BackupKey = "localStorage_backup"
)

// Target is the object store the engine writes into.
type Target interface {
	SaveJob(ctx context.Context, job record.Record) (string, error)
	SaveResume(ctx context.Context, resume record.Record) (string, error)
	SaveLetter(ctx context.Context, letter record.Record) (string, error)
	SaveSetting(ctx context.Context, key string, value any) error
	GetMetadata(ctx context.Context, key string, dst any) (bool, error)
	SaveMetadata(ctx context.Context, key string, value any) error
}

var _ Target = (*storage.Store)(nil)

// Options control one Migrate call.
type Options struct {
	ClearSourceAfter bool
	BackupSource     bool
	Force            bool
}

// DefaultOptions back up the source and leave it in place.
func DefaultOptions() Options {
	return Options{BackupSource: true}
}

// CollectionResult counts per-record outcomes for one collection.
type CollectionResult struct {
	Migrated int                 `json:"migrated"`
	Failed   int                 `json:"failed"`
	Errors   []storage.ItemError `json:"errors"`
}

func newCollectionResult() CollectionResult {
	return CollectionResult{Errors: []storage.ItemError{}}
}

// Result summarizes a Migrate call.
type Result struct {
	Success   bool             `json:"success"`
	Skipped   bool             `json:"skipped,omitempty"`
	Message   string           `json:"message,omitempty"`
	Jobs      CollectionResult `json:"jobs"`
	Resumes   CollectionResult `json:"resumes"`
	Letters   CollectionResult `json:"letters"`
	Settings  CollectionResult `json:"settings"`
	Backup    bool             `json:"backup"`
	Cleared   []string         `json:"cleared,omitempty"`
	StartTime string           `json:"startTime,omitempty"`
	EndTime   string           `json:"endTime,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Status is the persisted migration state.
type Status struct {
	Completed   bool    `json:"completed"`
	InProgress  bool    `json:"inProgress"`
	StartedAt   string  `json:"startedAt,omitempty"`
	CompletedAt string  `json:"completedAt,omitempty"`
	FailedAt    string  `json:"failedAt,omitempty"`
	Error       string  `json:"error,omitempty"`
	Results     *Result `json:"results,omitempty"`
}

// State names the position in the not-started -> in-progress ->
// completed|failed lifecycle.
func (s Status) State() string {
	switch {
	case s.Completed:
		return "completed"
	case s.InProgress:
		return "in-progress"
	case s.FailedAt != "" || s.Error != "":
		return "failed"
	default:
		return "not-started"
	}
}

// Backup is the snapshot of every legacy slot taken before migrating.
type Backup struct {
	Slots     map[string]string `json:"slots"`
	Timestamp string            `json:"timestamp"`
}

// Engine migrates a key-value source into an object store target.
type Engine struct {
	source *kvstore.Store
	target Target
	backup *kvstore.Store
	logger *slog.Logger

	// serializes Migrate so a concurrent second call observes the first
	// call's completed status and skips.
	mu sync.Mutex
}

// New creates an Engine. Backups go to a transient in-memory store unless
// WithBackupStore is used.
func New(source *kvstore.Store, target Target) *Engine {
	return &Engine{
		source: source,
		target: target,
		backup: kvstore.NewMemory(),
		logger: slog.Default(),
	}
}

// WithBackupStore replaces the store that receives source snapshots.
func (e *Engine) WithBackupStore(b *kvstore.Store) *Engine {
	e.backup = b
	return e
}

// Status returns the persisted status, or the zero Status when no migration
// has ever run.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	if _, err := e.target.GetMetadata(ctx, StatusKey, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// IsComplete reports whether a migration has completed. Read errors count
// as not complete.
func (e *Engine) IsComplete(ctx context.Context) bool {
	st, err := e.Status(ctx)
	if err != nil {
		e.logger.Warn("migration: reading status failed", "error", err)
		return false
	}
	return st.Completed
}

// NeedsMigration reports whether migration is incomplete and at least one
// legacy slot holds data.
func (e *Engine) NeedsMigration(ctx context.Context) bool {
	if e.IsComplete(ctx) {
		return false
	}
	for _, slot := range append(append([]string{}, kvstore.CollectionSlots...), kvstore.SettingsSlots...) {
		if e.source.HasData(slot) {
			return true
		}
	}
	return false
}

// Migrate copies every legacy record into the target. A completed migration
// is skipped unless opts.Force is set. Per-record failures are counted in
// the result; any other failure marks the status failed and is returned
// wrapped in ErrMigrationFailed.
func (e *Engine) Migrate(ctx context.Context, opts Options) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.IsComplete(ctx) && !opts.Force {
		e.logger.Info("migration: already completed, skipping")
		return &Result{Success: true, Skipped: true, Message: "Migration already completed"}, nil
	}

	started := record.Now()
	if err := e.target.SaveMetadata(ctx, StatusKey, Status{InProgress: true, StartedAt: started}); err != nil {
		return nil, fmt.Errorf("%w: recording start: %w", ErrMigrationFailed, err)
	}

	res := &Result{
		Jobs:      newCollectionResult(),
		Resumes:   newCollectionResult(),
		Letters:   newCollectionResult(),
		Settings:  newCollectionResult(),
		StartTime: started,
	}

	if err := e.run(ctx, opts, res); err != nil {
		res.Error = err.Error()
		res.EndTime = record.Now()
		failed := Status{FailedAt: res.EndTime, Error: err.Error()}
		if serr := e.target.SaveMetadata(ctx, StatusKey, failed); serr != nil {
			e.logger.Error("migration: recording failure", "error", serr)
		}
		e.logger.Error("migration failed", "error", err)
		return res, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	res.Success = true
	res.EndTime = record.Now()
	e.logger.Info("migration completed",
		"jobs", res.Jobs.Migrated, "resumes", res.Resumes.Migrated,
		"letters", res.Letters.Migrated, "settings", res.Settings.Migrated,
	)

	if opts.ClearSourceAfter {
		res.Cleared = e.clearMigrated(res)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, opts Options, res *Result) error {
	if opts.BackupSource {
		if err := e.backupSource(); err != nil {
			e.logger.Warn("migration: could not back up source", "error", err)
		} else {
			res.Backup = true
		}
	}

	steps := []struct {
		slot string
		save func(context.Context, record.Record) (string, error)
		out  *CollectionResult
	}{
		{kvstore.SlotJobs, e.target.SaveJob, &res.Jobs},
		{kvstore.SlotResumes, e.target.SaveResume, &res.Resumes},
		{kvstore.SlotLetters, e.target.SaveLetter, &res.Letters},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.migrateCollection(ctx, st.slot, st.save, st.out); err != nil {
			return err
		}
	}
	e.migrateSettings(ctx, &res.Settings)

	done := Status{
		Completed:   true,
		StartedAt:   res.StartTime,
		CompletedAt: record.Now(),
		Results:     res,
	}
	if err := e.target.SaveMetadata(ctx, StatusKey, done); err != nil {
		return fmt.Errorf("recording completion: %w", err)
	}
	return nil
}

// migrateCollection writes each record sequentially. A slot that cannot be
// parsed aborts the migration; a record that cannot be written is counted.
func (e *Engine) migrateCollection(ctx context.Context, slot string, save func(context.Context, record.Record) (string, error), out *CollectionResult) error {
	recs, err := e.source.LoadCollection(slot)
	if err != nil {
		return fmt.Errorf("reading %s: %w", slot, err)
	}
	if len(recs) == 0 {
		return nil
	}
	e.logger.Info("migration: migrating collection", "collection", slot, "count", len(recs))

	for _, r := range recs {
		if r == nil {
			out.Failed++
			out.Errors = append(out.Errors, storage.ItemError{Collection: slot, Error: "empty record"})
			continue
		}
		id := r.ID()
		if _, err := save(ctx, r); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, storage.ItemError{Collection: slot, ID: id, Error: err.Error()})
			e.logger.Warn("migration: record failed", "collection", slot, "id", id, "error", err)
			continue
		}
		out.Migrated++
	}
	return nil
}

// migrateSettings stores each legacy settings object as one settings
// record keyed by slot name. Failures here never abort the migration.
func (e *Engine) migrateSettings(ctx context.Context, out *CollectionResult) {
	for _, slot := range kvstore.SettingsSlots {
		raw, ok, err := e.source.GetItem(slot)
		if err != nil || !ok || raw == "" {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, storage.ItemError{Collection: record.Settings, ID: slot, Error: err.Error()})
			e.logger.Warn("migration: setting failed", "key", slot, "error", err)
			continue
		}
		if err := e.target.SaveSetting(ctx, slot, parsed); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, storage.ItemError{Collection: record.Settings, ID: slot, Error: err.Error()})
			e.logger.Warn("migration: setting failed", "key", slot, "error", err)
			continue
		}
		out.Migrated++
	}
}

func (e *Engine) backupSource() error {
	b := Backup{Slots: map[string]string{}, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	for _, slot := range append(append([]string{}, kvstore.CollectionSlots...), kvstore.SettingsSlots...) {
		raw, ok, err := e.source.GetItem(slot)
		if err != nil {
			return err
		}
		if ok {
			b.Slots[slot] = raw
		}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return e.backup.SetItem(BackupKey, string(data))
}

// LastBackup returns the most recent source snapshot.
func (e *Engine) LastBackup() (*Backup, error) {
	raw, ok, err := e.backup.GetItem(BackupKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoBackup
	}
	var b Backup
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decoding backup: %w", err)
	}
	return &b, nil
}

// RestoreFromBackup writes the last snapshot back into the source store.
func (e *Engine) RestoreFromBackup() error {
	b, err := e.LastBackup()
	if err != nil {
		return err
	}
	for slot, raw := range b.Slots {
		if raw == "" {
			continue
		}
		if err := e.source.SetItem(slot, raw); err != nil {
			return fmt.Errorf("restoring %s: %w", slot, err)
		}
	}
	e.logger.Info("migration: restored source from backup", "timestamp", b.Timestamp)
	return nil
}

// clearMigrated removes source slots whose records all migrated.
func (e *Engine) clearMigrated(res *Result) []string {
	var cleared []string
	remove := func(slot string) {
		if err := e.source.RemoveItem(slot); err != nil {
			e.logger.Warn("migration: could not clear source slot", "slot", slot, "error", err)
			return
		}
		cleared = append(cleared, slot)
	}

	if res.Jobs.Failed == 0 {
		remove(kvstore.SlotJobs)
	}
	if res.Resumes.Failed == 0 {
		remove(kvstore.SlotResumes)
	}
	if res.Letters.Failed == 0 {
		remove(kvstore.SlotLetters)
	}
	if res.Settings.Failed == 0 {
		for _, slot := range kvstore.SettingsSlots {
			remove(slot)
		}
	}
	return cleared
}

// SizeReport describes how much of the source store is in use.
type SizeReport struct {
	Total int            `json:"total"`
	Items map[string]int `json:"items"`
}

// SourceSize measures every slot in the source store.
func (e *Engine) SourceSize() (*SizeReport, error) {
	keys, err := e.source.Keys()
	if err != nil {
		return nil, err
	}
	rep := &SizeReport{Items: make(map[string]int, len(keys))}
	for _, k := range keys {
		v, _, err := e.source.GetItem(k)
		if err != nil {
			return nil, err
		}
		rep.Items[k] = len(v)
		rep.Total += len(v)
	}
	return rep, nil
}
