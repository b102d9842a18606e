package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jhm/internal/backup"
	"github.com/kalambet/jhm/internal/datastore"
)

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status": "ok",
			"mode":   deps.Data.Mode(),
		}
		if err := deps.Data.InitError(); err != nil {
			resp["initError"] = err.Error()
		}
		if s := deps.Data.Store(); s != nil {
			h := s.CheckHealth(r.Context())
			resp["storage"] = h
			if !h.Healthy {
				resp["status"] = "degraded"
			}
		}
		if deps.Sync != nil {
			resp["extension"] = deps.Sync.Available()
		}
		writeJSON(w, resp)
	}
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := deps.Data.LoadSettings(r.Context())
		if err != nil {
			storeError(w, "failed to load settings", err)
			return
		}
		writeJSON(w, settings)
	}
}

func handlePutSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var settings map[string]any
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Data.SaveSettings(r.Context(), settings); err != nil {
			storeError(w, "failed to save settings", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func requestFormat(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return backup.FormatYAML
	}
	return backup.FormatJSON
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := requestFormat(r)
		if format != backup.FormatJSON && format != backup.FormatYAML {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown format %q", format)
			return
		}
		b, err := deps.Data.Export(r.Context())
		if err != nil {
			storeError(w, "failed to export", err)
			return
		}
		ct := "application/json"
		if format == backup.FormatYAML {
			ct = "application/yaml"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="jhm-export.%s"`, format))
		backup.Encode(w, b, format)
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		b, err := backup.Decode(r.Body, requestFormat(r))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid bundle: %v", err)
			return
		}
		res, err := deps.Data.Import(r.Context(), b)
		if err != nil {
			storeError(w, "failed to import", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Data.Stats(r.Context()))
	}
}

func handleClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection := chi.URLParam(r, "collection")
		if err := deps.Data.Clear(r.Context(), collection); err != nil {
			storeError(w, "failed to clear", err)
			return
		}
		if collection == "" {
			collection = "all"
		}
		writeJSON(w, map[string]string{"status": "cleared", "collection": collection})
	}
}

func handleMigrationStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := deps.Data.Migrations()
		if engine == nil {
			httpError(w, http.StatusConflict, "unavailable", "migration engine not configured")
			return
		}
		st, err := engine.Status(r.Context())
		if err != nil {
			storeError(w, "failed to read migration status", err)
			return
		}
		resp := map[string]any{
			"state":          st.State(),
			"status":         st,
			"needsMigration": engine.NeedsMigration(r.Context()),
		}
		if size, err := engine.SourceSize(); err == nil {
			resp["source"] = size
		}
		writeJSON(w, resp)
	}
}

func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func handleMigrate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := deps.Data.Migrations()
		if engine == nil || deps.Data.Mode() != datastore.ModeObjectStore {
			httpError(w, http.StatusConflict, "unavailable", "migration requires the object store")
			return
		}
		opts := deps.Migration
		opts.Force = queryBool(r, "force", false)
		opts.ClearSourceAfter = queryBool(r, "clear_source", opts.ClearSourceAfter)
		opts.BackupSource = queryBool(r, "backup", opts.BackupSource)

		res, err := engine.Migrate(r.Context(), opts)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "migration_failed", "%v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleSyncStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sync == nil {
			httpError(w, http.StatusConflict, "unavailable", "extension sync requires the object store")
			return
		}
		st, err := deps.Sync.Status(r.Context())
		if err != nil {
			storeError(w, "failed to read sync status", err)
			return
		}
		writeJSON(w, map[string]any{
			"available": deps.Sync.Available(),
			"status":    st,
		})
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sync == nil {
			httpError(w, http.StatusConflict, "unavailable", "extension sync requires the object store")
			return
		}
		res, err := deps.Sync.ManualSync(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "sync_failed", "%v", err)
			return
		}
		writeJSON(w, res)
	}
}

func handleClearSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sync == nil {
			httpError(w, http.StatusConflict, "unavailable", "extension sync requires the object store")
			return
		}
		if err := deps.Sync.ClearStatus(r.Context()); err != nil {
			storeError(w, "failed to clear sync status", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleMaintenance(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Data.Store()
		if s == nil {
			httpError(w, http.StatusConflict, "unavailable", "maintenance requires the object store")
			return
		}
		rep, err := s.Maintain(r.Context())
		if err != nil {
			storeError(w, "maintenance failed", err)
			return
		}
		writeJSON(w, rep)
	}
}
