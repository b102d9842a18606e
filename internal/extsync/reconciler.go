// Package extsync merges job records pushed by the browser extension into
// the object store without creating duplicates.
package extsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/jhm/internal/events"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

// StatusKey is the metadata key holding the sync status.
const StatusKey = "extension_sync_status"

// EventSource tags notifications published after an import.
const EventSource = "extension-sync"

// Default waits for the handshake and the job pull.
const (
	DefaultHandshakeTimeout = time.Second
	DefaultPullTimeout      = 5 * time.Second
)

// JobStore is the subset of the object store the reconciler writes to.
type JobStore interface {
	GetJobs(ctx context.Context) ([]record.Record, error)
	SaveJob(ctx context.Context, job record.Record) (string, error)
	GetMetadata(ctx context.Context, key string, dst any) (bool, error)
	SaveMetadata(ctx context.Context, key string, value any) error
	DeleteMetadata(ctx context.Context, key string) error
}

var _ JobStore = (*storage.Store)(nil)

// ImportError names one job that could not be written.
type ImportError struct {
	Job   string `json:"job"`
	Error string `json:"error"`
}

// ImportResult counts the outcome of one batch.
type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Errors   []ImportError `json:"errors"`
}

// SyncStatus is persisted after every batch.
type SyncStatus struct {
	LastSync string        `json:"lastSync"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// Options configure a Reconciler.
type Options struct {
	HandshakeTimeout time.Duration
	PullTimeout      time.Duration
	Bus              *events.Bus
}

// Reconciler talks to one extension connection at a time and imports the
// jobs it reports.
type Reconciler struct {
	store  JobStore
	bus    *events.Bus
	logger *slog.Logger

	handshakeTimeout time.Duration
	pullTimeout      time.Duration

	mu        sync.Mutex
	mux       *Mux
	available bool

	// imports are serialized so each duplicate scan sees the previous write.
	importMu sync.Mutex
}

// New creates a Reconciler writing into store.
func New(store JobStore, opts Options) *Reconciler {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = DefaultPullTimeout
	}
	return &Reconciler{
		store:            store,
		bus:              opts.Bus,
		logger:           slog.Default(),
		handshakeTimeout: opts.HandshakeTimeout,
		pullTimeout:      opts.PullTimeout,
	}
}

// Serve attaches t as the extension channel, runs the handshake and initial
// pull, then dispatches pushed messages until ctx ends or t fails.
func (r *Reconciler) Serve(ctx context.Context, t Transport) error {
	mux := NewMux(t, r.HandleMessage)

	r.mu.Lock()
	r.mux = mux
	r.available = false
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.mux == mux {
			r.mux = nil
			r.available = false
		}
		r.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if _, err := r.Start(runCtx); err != nil {
			r.logger.Warn("extsync: initial sync failed", "error", err)
		}
	}()

	err := mux.Run(runCtx)
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Reconciler) currentMux() *Mux {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mux
}

// Available reports whether the last handshake succeeded.
func (r *Reconciler) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

// Start detects the extension and, when present, pulls its jobs.
func (r *Reconciler) Start(ctx context.Context) (*ImportResult, error) {
	if !r.Detect(ctx) {
		r.logger.Info("extsync: extension not detected")
		return &ImportResult{Errors: []ImportError{}}, nil
	}
	return r.Sync(ctx)
}

// Detect pings the extension. A missing reply means the extension is not
// installed; that is reported as false, never as an error.
func (r *Reconciler) Detect(ctx context.Context) bool {
	mux := r.currentMux()
	if mux == nil {
		return false
	}
	reply, err := mux.Request(ctx, Message{Type: TypePing}, TypePong, r.handshakeTimeout)
	ok := err == nil
	if err != nil && !errors.Is(err, ErrSyncTimeout) {
		r.logger.Warn("extsync: handshake failed", "error", err)
	}

	r.mu.Lock()
	if r.mux == mux {
		r.available = ok
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("extsync: extension detected", "version", reply.Version)
	}
	return ok
}

// Sync pulls every job the extension holds and imports it. A pull that
// times out yields an empty result.
func (r *Reconciler) Sync(ctx context.Context) (*ImportResult, error) {
	empty := &ImportResult{Errors: []ImportError{}}
	mux := r.currentMux()
	if mux == nil || !r.Available() {
		return empty, nil
	}

	reply, err := mux.Request(ctx, Message{Type: TypeGetJobs}, TypeData, r.pullTimeout)
	if err != nil {
		if errors.Is(err, ErrSyncTimeout) {
			r.logger.Warn("extsync: pull timed out", "timeout", r.pullTimeout)
			return empty, nil
		}
		return nil, err
	}
	if reply.Error != "" {
		r.logger.Warn("extsync: extension reported an error", "error", reply.Error)
		return empty, nil
	}
	return r.ImportJobs(ctx, reply.Jobs)
}

// ManualSync re-runs detection before pulling.
func (r *Reconciler) ManualSync(ctx context.Context) (*ImportResult, error) {
	return r.Start(ctx)
}

// HandleMessage processes an unsolicited message from the extension.
func (r *Reconciler) HandleMessage(ctx context.Context, msg Message) {
	switch msg.Type {
	case TypeJobSaved:
		if msg.Job == nil {
			return
		}
		// the import may take a while; the dispatch loop must keep reading.
		go func() {
			if _, err := r.ImportJobs(ctx, []record.Record{msg.Job}); err != nil {
				r.logger.Warn("extsync: importing pushed job failed", "error", err)
			}
		}()
	case TypeSyncRequest:
		go func() {
			if _, err := r.Sync(ctx); err != nil {
				r.logger.Warn("extsync: requested sync failed", "error", err)
			}
		}()
	default:
		r.logger.Debug("extsync: ignoring message", "type", msg.Type)
	}
}

// ImportJobs reconciles a batch. A job that fails is counted and the rest
// of the batch continues. The sync status is persisted afterwards and a
// data-updated event is published when anything was imported.
func (r *Reconciler) ImportJobs(ctx context.Context, jobs []record.Record) (*ImportResult, error) {
	r.importMu.Lock()
	defer r.importMu.Unlock()

	res := &ImportResult{Errors: []ImportError{}}
	for _, job := range jobs {
		imported, err := r.importJob(ctx, job)
		switch {
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, ImportError{Job: jobLabel(job), Error: err.Error()})
			r.logger.Warn("extsync: job import failed", "job", jobLabel(job), "error", err)
		case imported:
			res.Imported++
		default:
			res.Skipped++
		}
	}

	r.logger.Info("extsync: import complete", "imported", res.Imported, "skipped", res.Skipped, "failed", res.Failed)

	st := SyncStatus{
		LastSync: record.Now(),
		Imported: res.Imported,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
		Errors:   res.Errors,
	}
	if err := r.store.SaveMetadata(ctx, StatusKey, st); err != nil {
		r.logger.Error("extsync: saving sync status", "error", err)
	}

	if res.Imported > 0 {
		r.bus.Publish(events.Event{Source: EventSource, Count: res.Imported, Results: res})
	}
	return res, nil
}

// ImportJob reconciles a single job and reports whether it was written.
func (r *Reconciler) ImportJob(ctx context.Context, job record.Record) (bool, error) {
	r.importMu.Lock()
	defer r.importMu.Unlock()
	return r.importJob(ctx, job)
}

func (r *Reconciler) importJob(ctx context.Context, job record.Record) (bool, error) {
	if job == nil {
		return false, errors.New("empty job")
	}
	existing, err := r.store.GetJobs(ctx)
	if err != nil {
		return false, err
	}
	if dup, ok := record.FindDuplicateJob(existing, job); ok {
		r.logger.Debug("extsync: skipping duplicate job",
			"title", job.String("title"), "company", job.String("company"), "existing", dup.ID())
		return false, nil
	}

	if job.ID() == "" {
		job["id"] = record.NewID(record.Jobs)
	}
	if job.String("createdAt") == "" {
		job["createdAt"] = record.Now()
	}
	job["source"] = record.SourceExtension
	job["syncedAt"] = record.Now()
	if _, ok := job["descriptionText"]; !ok {
		if text := DescriptionText(job.String("description")); text != "" {
			job["descriptionText"] = text
		}
	}

	if _, err := r.store.SaveJob(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func jobLabel(job record.Record) string {
	if id := job.ID(); id != "" {
		return id
	}
	return job.String("title")
}

// Status returns the persisted sync status, or the zero value.
func (r *Reconciler) Status(ctx context.Context) (SyncStatus, error) {
	var st SyncStatus
	if _, err := r.store.GetMetadata(ctx, StatusKey, &st); err != nil {
		return SyncStatus{}, err
	}
	return st, nil
}

// ClearStatus deletes the persisted sync status.
func (r *Reconciler) ClearStatus(ctx context.Context) error {
	return r.store.DeleteMetadata(ctx, StatusKey)
}
