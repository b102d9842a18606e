package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/jhm/internal/datastore"
	"github.com/kalambet/jhm/internal/events"
	"github.com/kalambet/jhm/internal/extsync"
	"github.com/kalambet/jhm/internal/kvstore"
	"github.com/kalambet/jhm/internal/migration"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

const testToken = "test-token-12345"

func newTestFacadeWithBus(t *testing.T, bus *events.Bus) *datastore.Facade {
	t.Helper()
	primary := storage.New(":memory:")
	t.Cleanup(func() { primary.Close() })
	kv := kvstore.NewMemory()
	f := datastore.New(primary, kv, migration.New(kv, primary), datastore.Options{
		Migration: migration.DefaultOptions(),
		Bus:       bus,
	})
	if err := f.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return f
}

func newTestFacade(t *testing.T) *datastore.Facade {
	return newTestFacadeWithBus(t, nil)
}

func setupHandler(t *testing.T, token string) (http.Handler, *datastore.Facade) {
	t.Helper()
	f := newTestFacade(t)
	h := NewHandler(Deps{
		Data:      f,
		Sync:      extsync.New(f.Store(), extsync.Options{}),
		Token:     token,
		Migration: migration.DefaultOptions(),
	})
	return h, f
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "ok" || resp["mode"] != datastore.ModeObjectStore {
		t.Errorf("resp = %v", resp)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := serve(h, authReq(http.MethodGet, "/jobs", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Error.Type != "authentication_error" {
		t.Errorf("error type = %q, want authentication_error", resp.Error.Type)
	}
}

func TestAuth_EmptyTokenDisablesCheck(t *testing.T) {
	h, _ := setupHandler(t, "")
	rr := serve(h, authReq(http.MethodGet, "/jobs", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestJobs_CRUD(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/jobs", `{"title":"Eng","company":"Acme","status":"applied"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var created map[string]string
	json.NewDecoder(rr.Body).Decode(&created)
	id := created["id"]
	if id == "" {
		t.Fatal("response missing id")
	}

	rr = serve(h, authReq(http.MethodGet, "/jobs/"+id, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rr.Code)
	}
	var job map[string]any
	json.NewDecoder(rr.Body).Decode(&job)
	if job["company"] != "Acme" || job["createdAt"] == nil {
		t.Errorf("job = %v", job)
	}

	rr = serve(h, authReq(http.MethodPut, "/jobs/"+id, `{"title":"Eng","company":"Acme","status":"offered"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = serve(h, authReq(http.MethodGet, "/jobs?status=offered", "", testToken))
	var jobs []map[string]any
	json.NewDecoder(rr.Body).Decode(&jobs)
	if len(jobs) != 1 || jobs[0]["id"] != id {
		t.Errorf("filtered jobs = %v", jobs)
	}

	rr = serve(h, authReq(http.MethodDelete, "/jobs/"+id, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rr.Code)
	}
	rr = serve(h, authReq(http.MethodGet, "/jobs/"+id, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestJobs_InvalidRecord(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := serve(h, authReq(http.MethodPost, "/jobs", `{"title":"Eng","status":"bogus"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
}

func TestJobs_MalformedBody(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := serve(h, authReq(http.MethodPost, "/jobs", `[1,2]`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestNamedResumes(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPut, "/resumes/named/Main", `{"basics":{"name":"Ada"}}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var first map[string]string
	json.NewDecoder(rr.Body).Decode(&first)

	// same name again replaces rather than duplicates
	rr = serve(h, authReq(http.MethodPut, "/resumes/named/Main", `{"basics":{"name":"Ada L."}}`, testToken))
	var second map[string]string
	json.NewDecoder(rr.Body).Decode(&second)
	if first["id"] != second["id"] {
		t.Errorf("ids differ: %q vs %q", first["id"], second["id"])
	}

	rr = serve(h, authReq(http.MethodGet, "/resumes/named/Main", "", testToken))
	var resume map[string]any
	json.NewDecoder(rr.Body).Decode(&resume)
	basics, _ := resume["basics"].(map[string]any)
	if basics["name"] != "Ada L." {
		t.Errorf("basics = %v", basics)
	}

	rr = serve(h, authReq(http.MethodGet, "/resumes/latest", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("latest status = %d", rr.Code)
	}

	rr = serve(h, authReq(http.MethodDelete, "/resumes/named/Main", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rr.Code)
	}
	rr = serve(h, authReq(http.MethodDelete, "/resumes/named/Main", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestLetters_FilterByJob(t *testing.T) {
	h, f := setupHandler(t, testToken)
	ctx := context.Background()
	f.SaveLetter(ctx, record.Record{"jobId": "j1", "content": "a"})
	f.SaveLetter(ctx, record.Record{"jobId": "j2", "content": "b"})

	rr := serve(h, authReq(http.MethodGet, "/letters?jobId=j2", "", testToken))
	var letters []map[string]any
	json.NewDecoder(rr.Body).Decode(&letters)
	if len(letters) != 1 || letters[0]["content"] != "b" {
		t.Errorf("letters = %v", letters)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := serve(h, authReq(http.MethodPut, "/settings", `{"theme":"dark","autoSync":true}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body = %s", rr.Code, rr.Body.String())
	}
	rr = serve(h, authReq(http.MethodGet, "/settings", "", testToken))
	var settings map[string]any
	json.NewDecoder(rr.Body).Decode(&settings)
	if settings["theme"] != "dark" || settings["autoSync"] != true {
		t.Errorf("settings = %v", settings)
	}
}

// TestExportImport_YAML verifies a YAML export can be imported into a
// fresh instance.
func TestExportImport_YAML(t *testing.T) {
	src, f := setupHandler(t, testToken)
	f.SaveJob(context.Background(), record.Record{"id": "j1", "title": "Eng", "company": "Acme"})

	rr := serve(src, authReq(http.MethodGet, "/export?format=yaml", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}

	dst, g := setupHandler(t, testToken)
	req := authReq(http.MethodPost, "/import", rr.Body.String(), testToken)
	req.Header.Set("Content-Type", "application/yaml")
	rr = serve(dst, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("import status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res storage.ImportResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Jobs != 1 {
		t.Errorf("imported jobs = %d, want 1", res.Jobs)
	}
	job, _ := g.LoadJob(context.Background(), "j1")
	if job == nil {
		t.Error("job j1 missing after import")
	}
}

func TestExport_UnknownFormat(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := serve(h, authReq(http.MethodGet, "/export?format=xml", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStats(t *testing.T) {
	h, f := setupHandler(t, testToken)
	f.SaveJob(context.Background(), record.Record{"title": "Eng", "company": "Acme"})
	rr := serve(h, authReq(http.MethodGet, "/stats", "", testToken))
	var st storage.Stats
	json.NewDecoder(rr.Body).Decode(&st)
	if st.Jobs != 1 {
		t.Errorf("Jobs = %d, want 1", st.Jobs)
	}
}

func TestMigration_StatusAndForce(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := serve(h, authReq(http.MethodGet, "/migration", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var st map[string]any
	json.NewDecoder(rr.Body).Decode(&st)
	if st["state"] != "completed" {
		t.Errorf("state = %v, want completed after Init", st["state"])
	}

	rr = serve(h, authReq(http.MethodPost, "/migration", "", testToken))
	var res migration.Result
	json.NewDecoder(rr.Body).Decode(&res)
	if !res.Skipped {
		t.Errorf("second migrate not skipped: %+v", res)
	}

	rr = serve(h, authReq(http.MethodPost, "/migration?force=true", "", testToken))
	res = migration.Result{}
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Skipped || !res.Success {
		t.Errorf("forced migrate = %+v, want success", res)
	}
}

func TestSync_StatusAndClear(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/sync", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /sync status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res extsync.ImportResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Imported != 0 {
		t.Errorf("Imported = %d without an extension", res.Imported)
	}

	rr = serve(h, authReq(http.MethodGet, "/sync", "", testToken))
	var st map[string]any
	json.NewDecoder(rr.Body).Decode(&st)
	if st["available"] != false {
		t.Errorf("available = %v, want false", st["available"])
	}

	rr = serve(h, authReq(http.MethodDelete, "/sync", "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("DELETE /sync status = %d", rr.Code)
	}
}

func TestSync_UnavailableWithoutReconciler(t *testing.T) {
	f := newTestFacade(t)
	h := NewHandler(Deps{Data: f})
	rr := serve(h, authReq(http.MethodGet, "/sync", "", ""))
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestMaintenance_RemovesOrphans(t *testing.T) {
	h, f := setupHandler(t, testToken)
	ctx := context.Background()
	f.SaveJob(ctx, record.Record{"id": "j1", "title": "Eng", "company": "Acme"})
	f.SaveLetter(ctx, record.Record{"jobId": "j1"})
	f.SaveLetter(ctx, record.Record{"jobId": "gone"})

	rr := serve(h, authReq(http.MethodPost, "/maintenance", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var rep storage.MaintenanceReport
	json.NewDecoder(rr.Body).Decode(&rep)
	if rep.OrphansRemoved != 1 {
		t.Errorf("OrphansRemoved = %d, want 1", rep.OrphansRemoved)
	}
	if !rep.Health.Healthy {
		t.Errorf("Health = %+v", rep.Health)
	}
}

// TestEventsWebSocket verifies an import is pushed to websocket subscribers.
func TestEventsWebSocket(t *testing.T) {
	bus := events.NewBus()
	f := newTestFacadeWithBus(t, bus)
	hub := NewHub()
	defer hub.Attach(bus)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(Deps{Data: f, Hub: hub}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := f.Import(ctx, &storage.Bundle{Jobs: []record.Record{{"title": "Eng", "company": "Acme"}}}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if env.Type != events.DataUpdated || env.Data.Count != 1 || env.Data.Source != "import" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestClearCollection(t *testing.T) {
	h, f := setupHandler(t, testToken)
	ctx := context.Background()
	f.SaveJob(ctx, record.Record{"title": "A", "company": "Acme"})
	f.SaveResume(ctx, record.Record{"name": "main"})

	rr := serve(h, authReq(http.MethodDelete, "/collections/jobs", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if jobs, _ := f.ListJobs(ctx); len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
	if resumes, _ := f.ListResumes(ctx); len(resumes) != 1 {
		t.Errorf("expected resume to survive, got %d", len(resumes))
	}

	rr = serve(h, authReq(http.MethodDelete, "/collections/bogus", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown collection status = %d, want 400", rr.Code)
	}

	rr = serve(h, authReq(http.MethodDelete, "/collections", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear all status = %d", rr.Code)
	}
	if resumes, _ := f.ListResumes(ctx); len(resumes) != 0 {
		t.Errorf("expected no resumes, got %d", len(resumes))
	}
}
