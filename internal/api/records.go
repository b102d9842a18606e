package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jhm/internal/record"
)

type (
	saveFunc   func(context.Context, record.Record) (string, error)
	loadFunc   func(context.Context, string) (record.Record, error)
	listFunc   func(context.Context) ([]record.Record, error)
	deleteFunc func(context.Context, string) error
)

func handleSaveRecord(save saveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		id, err := save(r.Context(), rec)
		if err != nil {
			storeError(w, "failed to save record", err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": "saved"})
	}
}

func handlePutRecord(save saveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		rec["id"] = chi.URLParam(r, "id")
		id, err := save(r.Context(), rec)
		if err != nil {
			storeError(w, "failed to save record", err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": "saved"})
	}
}

func handleGetRecord(load loadFunc, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := load(r.Context(), id)
		if err != nil {
			storeError(w, "failed to get "+kind, err)
			return
		}
		if rec == nil {
			httpError(w, http.StatusNotFound, "not_found", "%s not found", kind)
			return
		}
		writeJSON(w, rec)
	}
}

func handleListRecords(list listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := list(r.Context())
		if err != nil {
			storeError(w, "failed to list records", err)
			return
		}
		if recs == nil {
			recs = []record.Record{}
		}
		writeJSON(w, recs)
	}
}

func handleDeleteRecord(del deleteFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := del(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, "failed to delete record", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// filterRecords keeps records whose field equals the query value for every
// non-empty filter.
func filterRecords(recs []record.Record, filters map[string]string) []record.Record {
	out := make([]record.Record, 0, len(recs))
next:
	for _, rec := range recs {
		for field, want := range filters {
			if want != "" && rec.String(field) != want {
				continue next
			}
		}
		out = append(out, rec)
	}
	return out
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := deps.Data.ListJobs(r.Context())
		if err != nil {
			storeError(w, "failed to list jobs", err)
			return
		}
		q := r.URL.Query()
		writeJSON(w, filterRecords(jobs, map[string]string{
			"status":  q.Get("status"),
			"company": q.Get("company"),
		}))
	}
}

func handleListLetters(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		letters, err := deps.Data.ListLetters(r.Context())
		if err != nil {
			storeError(w, "failed to list letters", err)
			return
		}
		writeJSON(w, filterRecords(letters, map[string]string{"jobId": r.URL.Query().Get("jobId")}))
	}
}

func handleLatestResume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Data.LoadLatestResume(r.Context())
		if err != nil {
			storeError(w, "failed to load latest resume", err)
			return
		}
		if rec == nil {
			httpError(w, http.StatusNotFound, "not_found", "no resumes saved")
			return
		}
		writeJSON(w, rec)
	}
}

func handleListNamedResumes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		named, err := deps.Data.ListNamedResumes(r.Context())
		if err != nil {
			storeError(w, "failed to list named resumes", err)
			return
		}
		writeJSON(w, named)
	}
}

func handleGetNamedResume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		rec, err := deps.Data.LoadNamedResume(r.Context(), name)
		if err != nil {
			storeError(w, "failed to load resume", err)
			return
		}
		if rec == nil {
			httpError(w, http.StatusNotFound, "not_found", "no resume named %q", name)
			return
		}
		writeJSON(w, rec)
	}
}

func handlePutNamedResume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		id, err := deps.Data.SaveNamedResume(r.Context(), rec, chi.URLParam(r, "name"))
		if err != nil {
			storeError(w, "failed to save resume", err)
			return
		}
		writeJSON(w, map[string]string{"id": id, "status": "saved"})
	}
}

func handleDeleteNamedResume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		found, err := deps.Data.DeleteNamedResume(r.Context(), name)
		if err != nil {
			storeError(w, "failed to delete resume", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "no resume named %q", name)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
