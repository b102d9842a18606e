package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/jhm/internal/bridge"
	"github.com/kalambet/jhm/internal/datastore"
	"github.com/kalambet/jhm/internal/extsync"
	"github.com/kalambet/jhm/internal/migration"
)

// Deps holds what the HTTP API serves.
type Deps struct {
	Data      *datastore.Facade
	Sync      *extsync.Reconciler // nil when the object store is not active
	Hub       *Hub                // optional; enables /ws/events
	Token     string
	Migration migration.Options
}

// NewHandler returns the jhm HTTP API. /health and the websocket endpoints
// are not behind bearer auth; websocket upgrades are limited to loopback
// origins instead.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     bridge.CheckOrigin,
	}
	if deps.Hub != nil {
		r.Get("/ws/events", deps.Hub.ServeWS(upgrader))
	}
	if deps.Sync != nil {
		r.Get("/ws/extension", bridge.Handler(func(ctx context.Context, c *bridge.Conn) {
			deps.Sync.Serve(ctx, c)
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/jobs", handleListJobs(deps))
		r.Post("/jobs", handleSaveRecord(deps.Data.SaveJob))
		r.Get("/jobs/{id}", handleGetRecord(deps.Data.LoadJob, "job"))
		r.Put("/jobs/{id}", handlePutRecord(deps.Data.SaveJob))
		r.Delete("/jobs/{id}", handleDeleteRecord(deps.Data.DeleteJob))

		r.Get("/resumes", handleListRecords(deps.Data.ListResumes))
		r.Post("/resumes", handleSaveRecord(deps.Data.SaveResume))
		r.Get("/resumes/latest", handleLatestResume(deps))
		r.Get("/resumes/named", handleListNamedResumes(deps))
		r.Get("/resumes/named/{name}", handleGetNamedResume(deps))
		r.Put("/resumes/named/{name}", handlePutNamedResume(deps))
		r.Delete("/resumes/named/{name}", handleDeleteNamedResume(deps))
		r.Get("/resumes/{id}", handleGetRecord(deps.Data.LoadResume, "resume"))
		r.Delete("/resumes/{id}", handleDeleteRecord(deps.Data.DeleteResume))

		r.Get("/letters", handleListLetters(deps))
		r.Post("/letters", handleSaveRecord(deps.Data.SaveLetter))
		r.Delete("/letters/{id}", handleDeleteRecord(deps.Data.DeleteLetter))

		r.Get("/settings", handleGetSettings(deps))
		r.Put("/settings", handlePutSettings(deps))

		r.Get("/export", handleExport(deps))
		r.Post("/import", handleImport(deps))
		r.Get("/stats", handleStats(deps))
		r.Delete("/collections", handleClear(deps))
		r.Delete("/collections/{collection}", handleClear(deps))

		r.Get("/migration", handleMigrationStatus(deps))
		r.Post("/migration", handleMigrate(deps))

		r.Get("/sync", handleSyncStatus(deps))
		r.Post("/sync", handleSync(deps))
		r.Delete("/sync", handleClearSync(deps))

		r.Post("/maintenance", handleMaintenance(deps))
	})

	return r
}
