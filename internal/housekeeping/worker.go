// Package housekeeping runs store maintenance in the background.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/jhm/internal/events"
	"github.com/kalambet/jhm/internal/storage"
)

// EventSource tags events published after orphaned letters are removed.
const EventSource = "maintenance"

// DefaultInterval is used when NewWorker gets a non-positive interval.
const DefaultInterval = 24 * time.Hour

// Maintainer abstracts the store maintenance pass.
type Maintainer interface {
	Maintain(ctx context.Context) (*storage.MaintenanceReport, error)
}

var _ Maintainer = (*storage.Store)(nil)

// Worker runs a maintenance pass at startup and then on every tick.
type Worker struct {
	store    Maintainer
	bus      *events.Bus
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. bus may be nil.
func NewWorker(store Maintainer, interval time.Duration, bus *events.Bus) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		store:    store,
		bus:      bus,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run maintains the store until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("maintenance pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single maintenance pass and logs what it found.
func (w *Worker) RunOnce(ctx context.Context) (*storage.MaintenanceReport, error) {
	rep, err := w.store.Maintain(ctx)
	if err != nil {
		return nil, fmt.Errorf("maintaining store: %w", err)
	}

	if rep.OrphansRemoved > 0 {
		w.bus.Publish(events.Event{Source: EventSource, Count: rep.OrphansRemoved, Results: rep})
	}
	if rep.Integrity != nil && !rep.Integrity.Valid {
		w.logger.Warn("integrity issues found", "issues", len(rep.Integrity.Issues))
		for _, issue := range rep.Integrity.Issues {
			w.logger.Debug("integrity issue", "issue", issue)
		}
	}
	if !rep.Health.Healthy {
		w.logger.Warn("store health check failed", "error", rep.Health.Error)
	}
	return rep, nil
}
