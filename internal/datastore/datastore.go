// Package datastore is the single persistence API the rest of jhm uses. It
// picks the object store when it opens within a bounded wait and falls back
// to the key-value store otherwise; that choice holds for the life of the
// process.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/jhm/internal/events"
	"github.com/kalambet/jhm/internal/kvstore"
	"github.com/kalambet/jhm/internal/migration"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

// Backend modes reported by Mode.
const (
	ModeUninitialized = "uninitialized"
	ModeObjectStore   = "object-store"
	ModeKeyValue      = "key-value"
)

// DefaultOpenTimeout bounds the object store probe.
const DefaultOpenTimeout = 3 * time.Second

// Options configure a Facade.
type Options struct {
	OpenTimeout time.Duration
	Migration   migration.Options
	Bus         *events.Bus
	Logger      *slog.Logger
}

// Facade routes record operations to the active backend.
type Facade struct {
	primary  *storage.Store
	fallback *kvBackend
	engine   *migration.Engine
	bus      *events.Bus
	logger   *slog.Logger

	openTimeout time.Duration
	migrateOpts migration.Options

	initOnce sync.Once
	initDone chan struct{}

	// set once inside initialize, read only after initDone is closed.
	active  Backend
	mode    string
	initErr error
}

// New builds a Facade over an unopened object store, the key-value fallback
// and the migration engine that connects them. engine may be nil.
func New(primary *storage.Store, fallback *kvstore.Store, engine *migration.Engine, opts Options) *Facade {
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		primary:     primary,
		fallback:    &kvBackend{kv: fallback},
		engine:      engine,
		bus:         opts.Bus,
		logger:      logger,
		openTimeout: opts.OpenTimeout,
		migrateOpts: opts.Migration,
		initDone:    make(chan struct{}),
		mode:        ModeUninitialized,
	}
}

// Init selects the backend exactly once. Concurrent and later callers wait
// for the same outcome. When the object store is selected, Init also waits
// for the migration engine; a migration error is returned here and kept in
// InitError, but the object store stays active.
func (f *Facade) Init(ctx context.Context) error {
	if err := f.ready(ctx); err != nil {
		return err
	}
	return f.initErr
}

// ready starts initialization if needed and waits for it without
// reporting the recorded init error.
func (f *Facade) ready(ctx context.Context) error {
	f.initOnce.Do(func() {
		go func() {
			defer close(f.initDone)
			f.initialize(context.WithoutCancel(ctx))
		}()
	})
	select {
	case <-f.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Facade) initialize(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, f.openTimeout)
	err := f.primary.Open(probeCtx)
	cancel()

	if err != nil {
		f.logger.Warn("object store unavailable, using key-value store", "error", err)
		f.active = f.fallback
		f.mode = ModeKeyValue
		if !f.fallback.kv.IsAvailable() {
			f.initErr = fmt.Errorf("%w: no usable backend", kvstore.ErrUnavailable)
			f.logger.Error("key-value store unavailable too; saving is disabled")
		}
		return
	}

	f.active = f.primary
	f.mode = ModeObjectStore
	f.logger.Info("using object store", "timeout", f.openTimeout)

	if f.engine == nil {
		return
	}
	res, err := f.engine.Migrate(ctx, f.migrateOpts)
	if err != nil {
		f.initErr = err
		f.logger.Error("startup migration failed", "error", err)
		return
	}
	if !res.Skipped {
		f.logger.Info("startup migration finished",
			"jobs", res.Jobs.Migrated, "resumes", res.Resumes.Migrated, "letters", res.Letters.Migrated)
	}
}

// Mode reports the selected backend.
func (f *Facade) Mode() string {
	select {
	case <-f.initDone:
		return f.mode
	default:
		return ModeUninitialized
	}
}

// InitError returns the error recorded during initialization, if any.
func (f *Facade) InitError() error {
	select {
	case <-f.initDone:
		return f.initErr
	default:
		return nil
	}
}

// Store returns the object store, or nil when the key-value store is active.
func (f *Facade) Store() *storage.Store {
	if f.Mode() == ModeObjectStore {
		return f.primary
	}
	return nil
}

// Migrations exposes the migration engine.
func (f *Facade) Migrations() *migration.Engine { return f.engine }

func (f *Facade) usingPrimary() bool {
	return f.active == Backend(f.primary)
}

// degrade reports whether err from the object store should be retried
// against the key-value store.
func degrade(err error) bool {
	return err != nil && !errors.Is(err, record.ErrRecordInvalid) && !errors.Is(err, storage.ErrUnknownCollection)
}

// --- Generic operations ---

// Save validates and stamps rec, then writes it. rec is mutated so the
// caller sees the assigned id and timestamps. A failed object store write
// is retried once against the key-value store.
func (f *Facade) Save(ctx context.Context, collection string, rec record.Record) (string, error) {
	if err := f.ready(ctx); err != nil {
		return "", err
	}
	if err := record.Validate(collection, rec); err != nil {
		return "", err
	}
	record.Stamp(collection, rec)

	key, err := f.active.Put(ctx, collection, rec)
	if f.usingPrimary() && degrade(err) {
		f.logger.Warn("object store write failed, writing to key-value store", "collection", collection, "error", err)
		return f.fallback.Put(ctx, collection, rec)
	}
	return key, err
}

// Load returns the record stored under key, or nil.
func (f *Facade) Load(ctx context.Context, collection, key string) (record.Record, error) {
	if err := f.ready(ctx); err != nil {
		return nil, err
	}
	rec, err := f.active.Get(ctx, collection, key)
	if f.usingPrimary() && degrade(err) {
		f.logger.Warn("object store read failed, reading key-value store", "collection", collection, "error", err)
		return f.fallback.Get(ctx, collection, key)
	}
	return rec, err
}

// List returns every record in a collection.
func (f *Facade) List(ctx context.Context, collection string) ([]record.Record, error) {
	if err := f.ready(ctx); err != nil {
		return nil, err
	}
	recs, err := f.active.GetAll(ctx, collection)
	if f.usingPrimary() && degrade(err) {
		f.logger.Warn("object store read failed, reading key-value store", "collection", collection, "error", err)
		return f.fallback.GetAll(ctx, collection)
	}
	return recs, err
}

// Remove deletes one record.
func (f *Facade) Remove(ctx context.Context, collection, key string) error {
	if err := f.ready(ctx); err != nil {
		return err
	}
	err := f.active.Delete(ctx, collection, key)
	if f.usingPrimary() && degrade(err) {
		f.logger.Warn("object store delete failed, deleting from key-value store", "collection", collection, "error", err)
		return f.fallback.Delete(ctx, collection, key)
	}
	return err
}

// --- Jobs, resumes, letters ---

func (f *Facade) SaveJob(ctx context.Context, job record.Record) (string, error) {
	return f.Save(ctx, record.Jobs, job)
}

func (f *Facade) LoadJob(ctx context.Context, id string) (record.Record, error) {
	return f.Load(ctx, record.Jobs, id)
}

func (f *Facade) ListJobs(ctx context.Context) ([]record.Record, error) {
	return f.List(ctx, record.Jobs)
}

func (f *Facade) DeleteJob(ctx context.Context, id string) error {
	return f.Remove(ctx, record.Jobs, id)
}

func (f *Facade) SaveResume(ctx context.Context, resume record.Record) (string, error) {
	return f.Save(ctx, record.Resumes, resume)
}

func (f *Facade) LoadResume(ctx context.Context, id string) (record.Record, error) {
	return f.Load(ctx, record.Resumes, id)
}

func (f *Facade) ListResumes(ctx context.Context) ([]record.Record, error) {
	return f.List(ctx, record.Resumes)
}

func (f *Facade) DeleteResume(ctx context.Context, id string) error {
	return f.Remove(ctx, record.Resumes, id)
}

func (f *Facade) SaveLetter(ctx context.Context, letter record.Record) (string, error) {
	return f.Save(ctx, record.Letters, letter)
}

func (f *Facade) LoadLetter(ctx context.Context, id string) (record.Record, error) {
	return f.Load(ctx, record.Letters, id)
}

func (f *Facade) ListLetters(ctx context.Context) ([]record.Record, error) {
	return f.List(ctx, record.Letters)
}

func (f *Facade) DeleteLetter(ctx context.Context, id string) error {
	return f.Remove(ctx, record.Letters, id)
}

// LoadLatestResume returns the most recently updated resume, or nil.
func (f *Facade) LoadLatestResume(ctx context.Context) (record.Record, error) {
	resumes, err := f.ListResumes(ctx)
	if err != nil || len(resumes) == 0 {
		return nil, err
	}
	latest := resumes[0]
	for _, r := range resumes[1:] {
		if r.Timestamp().After(latest.Timestamp()) {
			latest = r
		}
	}
	return latest, nil
}

// --- Named resumes ---

// NamedResume is one entry of ListNamedResumes.
type NamedResume struct {
	ID        string        `json:"id"`
	Data      record.Record `json:"data"`
	Timestamp string        `json:"timestamp"`
}

// findNamed scans every resume for one whose name matches. Linear in the
// number of resumes.
func (f *Facade) findNamed(ctx context.Context, name string) (record.Record, error) {
	resumes, err := f.ListResumes(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range resumes {
		if r.String("name") == name {
			return r, nil
		}
	}
	return nil, nil
}

// SaveNamedResume stores resume under name. When resume has no id and a
// resume with that name already exists, the existing record is replaced.
func (f *Facade) SaveNamedResume(ctx context.Context, resume record.Record, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: resume name is required", record.ErrRecordInvalid)
	}
	if resume == nil {
		resume = record.Record{}
	}
	resume["name"] = name
	if resume.ID() == "" {
		existing, err := f.findNamed(ctx, name)
		if err != nil {
			return "", err
		}
		if existing != nil {
			resume["id"] = existing.ID()
			if c := existing.String("createdAt"); c != "" && resume.String("createdAt") == "" {
				resume["createdAt"] = c
			}
		}
	}
	return f.SaveResume(ctx, resume)
}

// LoadNamedResume returns the resume saved under name, or nil.
func (f *Facade) LoadNamedResume(ctx context.Context, name string) (record.Record, error) {
	return f.findNamed(ctx, name)
}

// DeleteNamedResume removes the resume saved under name and reports
// whether one existed.
func (f *Facade) DeleteNamedResume(ctx context.Context, name string) (bool, error) {
	r, err := f.findNamed(ctx, name)
	if err != nil || r == nil {
		return false, err
	}
	if err := f.DeleteResume(ctx, r.ID()); err != nil {
		return false, err
	}
	return true, nil
}

// ListNamedResumes maps each resume name to its record.
func (f *Facade) ListNamedResumes(ctx context.Context) (map[string]NamedResume, error) {
	resumes, err := f.ListResumes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]NamedResume)
	for _, r := range resumes {
		name := r.String("name")
		if name == "" {
			continue
		}
		ts := r.String("updatedAt")
		if ts == "" {
			ts = r.String("createdAt")
		}
		if ts == "" {
			ts = r.String("lastModified")
		}
		out[name] = NamedResume{ID: r.ID(), Data: r, Timestamp: ts}
	}
	return out, nil
}

// ResumeNames returns the names from ListNamedResumes in sorted order.
func (f *Facade) ResumeNames(ctx context.Context) ([]string, error) {
	named, err := f.ListNamedResumes(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(named))
	for n := range named {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// --- Settings ---

// SaveSettings stores each entry as its own setting. On the key-value store
// an empty map never replaces non-empty saved settings.
func (f *Facade) SaveSettings(ctx context.Context, settings map[string]any) error {
	if err := f.ready(ctx); err != nil {
		return err
	}
	if !f.usingPrimary() {
		return f.saveSettingsKV(settings)
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec := record.Record{"key": k, "value": settings[k], "updatedAt": record.Now()}
		if _, err := f.primary.Put(ctx, record.Settings, rec); err != nil {
			if !degrade(err) {
				return err
			}
			f.logger.Warn("object store settings write failed, writing to key-value store", "error", err)
			return f.saveSettingsKV(settings)
		}
	}
	return nil
}

// saveSettingsKV merges settings into the stored object so a partial update
// does not drop other keys.
func (f *Facade) saveSettingsKV(settings map[string]any) error {
	kv := f.fallback.kv
	if len(settings) == 0 {
		return kv.SaveSettings(kvstore.SlotUserSettings, settings)
	}
	merged, err := kv.LoadSettings(kvstore.SlotUserSettings)
	if err != nil {
		merged = map[string]any{}
	}
	for k, v := range settings {
		merged[k] = v
	}
	return kv.SaveSettings(kvstore.SlotUserSettings, merged)
}

// LoadSettings returns every setting as one map. A migrated userSettings
// object is spread into the map so both backends return the same shape;
// settings saved individually take precedence over its entries.
func (f *Facade) LoadSettings(ctx context.Context) (map[string]any, error) {
	recs, err := f.List(ctx, record.Settings)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(recs))
	for _, r := range recs {
		if r.Key(record.Settings) != kvstore.SlotUserSettings {
			continue
		}
		if legacy, ok := r["value"].(map[string]any); ok {
			for k, v := range legacy {
				out[k] = v
			}
		} else {
			out[kvstore.SlotUserSettings] = r["value"]
		}
	}
	for _, r := range recs {
		if key := r.Key(record.Settings); key != kvstore.SlotUserSettings {
			out[key] = r["value"]
		}
	}
	return out, nil
}

// --- Bulk ---

// Export dumps jobs, resumes and letters from the active backend.
func (f *Facade) Export(ctx context.Context) (*storage.Bundle, error) {
	if err := f.ready(ctx); err != nil {
		return nil, err
	}
	if f.usingPrimary() {
		return f.primary.ExportAll(ctx)
	}
	b := &storage.Bundle{ExportedAt: record.Now()}
	var err error
	if b.Jobs, err = f.fallback.GetAll(ctx, record.Jobs); err != nil {
		return nil, err
	}
	if b.Resumes, err = f.fallback.GetAll(ctx, record.Resumes); err != nil {
		return nil, err
	}
	if b.Letters, err = f.fallback.GetAll(ctx, record.Letters); err != nil {
		return nil, err
	}
	return b, nil
}

// Import upserts a bundle with continue-on-error semantics and publishes a
// data-updated event when anything was written.
func (f *Facade) Import(ctx context.Context, b *storage.Bundle) (*storage.ImportResult, error) {
	if err := f.ready(ctx); err != nil {
		return nil, err
	}

	var res *storage.ImportResult
	if f.usingPrimary() {
		var err error
		if res, err = f.primary.ImportAll(ctx, b); err != nil {
			return nil, err
		}
	} else {
		res = &storage.ImportResult{Errors: []storage.ItemError{}}
		if b != nil {
			f.importKV(ctx, record.Jobs, b.Jobs, &res.Jobs, res)
			f.importKV(ctx, record.Resumes, b.Resumes, &res.Resumes, res)
			f.importKV(ctx, record.Letters, b.Letters, &res.Letters, res)
		}
	}

	if n := res.Jobs + res.Resumes + res.Letters; n > 0 {
		f.bus.Publish(events.Event{Source: "import", Count: n, Results: res})
	}
	return res, nil
}

func (f *Facade) importKV(ctx context.Context, collection string, recs []record.Record, count *int, res *storage.ImportResult) {
	for _, r := range recs {
		if r == nil {
			res.Errors = append(res.Errors, storage.ItemError{Collection: collection, Error: "empty record"})
			continue
		}
		if _, err := f.Save(ctx, collection, r); err != nil {
			res.Errors = append(res.Errors, storage.ItemError{Collection: collection, ID: r.ID(), Error: err.Error()})
			continue
		}
		*count++
	}
}

// Stats reports record counts from the active backend. It never fails.
func (f *Facade) Stats(ctx context.Context) storage.Stats {
	if err := f.ready(ctx); err != nil {
		return storage.Stats{Jobs: -1, Resumes: -1, Letters: -1, Settings: -1, LastUpdated: record.Now()}
	}
	if f.usingPrimary() {
		return f.primary.GetStats(ctx)
	}

	count := func(c string) int {
		recs, err := f.fallback.GetAll(ctx, c)
		if err != nil {
			f.logger.Warn("stats: count failed", "collection", c, "error", err)
			return -1
		}
		return len(recs)
	}
	st := storage.Stats{
		Jobs:        count(record.Jobs),
		Resumes:     count(record.Resumes),
		Letters:     count(record.Letters),
		Settings:    count(record.Settings),
		LastUpdated: record.Now(),
	}
	for _, n := range []int{st.Jobs, st.Resumes, st.Letters} {
		if n > 0 {
			st.TotalRecords += n
		}
	}
	return st
}

// Clear empties one collection in the active backend, or jobs, resumes,
// letters and settings when collection is empty. Metadata can only be
// cleared by name.
func (f *Facade) Clear(ctx context.Context, collection string) error {
	if err := f.ready(ctx); err != nil {
		return err
	}
	if collection != "" && !record.IsCollection(collection) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	if f.usingPrimary() {
		if collection == "" {
			return f.primary.ClearAll(ctx)
		}
		return f.primary.Clear(ctx, collection)
	}

	targets := []string{collection}
	if collection == "" {
		targets = []string{record.Jobs, record.Resumes, record.Letters, record.Settings}
	}
	for _, c := range targets {
		var err error
		if slot, isObject := objectSlot(c); isObject {
			err = f.fallback.kv.RemoveItem(slot)
		} else {
			err = f.fallback.kv.SaveCollection(c, nil)
		}
		if err != nil {
			return fmt.Errorf("clearing %s: %w", c, err)
		}
	}
	return nil
}
