package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/jhm/internal/kvstore"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxImportBodySize = 32 << 20 // 32MB

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// storeError maps a storage failure onto a status code.
func storeError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, record.ErrRecordInvalid),
		errors.Is(err, storage.ErrUnknownCollection),
		errors.Is(err, storage.ErrUnknownIndex):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s: %v", action, err)
	case errors.Is(err, storage.ErrStorageUnavailable),
		errors.Is(err, kvstore.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "storage_unavailable", "%s: %v", action, err)
	case errors.Is(err, kvstore.ErrQuotaExceeded):
		httpError(w, http.StatusInsufficientStorage, "quota_exceeded", "%s: %v", action, err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", action, err)
	}
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (record.Record, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var rec record.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return nil, false
	}
	if rec == nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "request body must be a JSON object")
		return nil, false
	}
	return rec, true
}
