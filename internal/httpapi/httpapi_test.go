package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoforge/pipeline/internal/config"
	"github.com/memoforge/pipeline/internal/db"
	"github.com/memoforge/pipeline/internal/llmproc"
	"github.com/memoforge/pipeline/internal/queue"
	"github.com/memoforge/pipeline/internal/sttproc"
	"github.com/memoforge/pipeline/internal/ttl"
)

// newTestServer wires a Server against a real tempdir-backed sqlite store,
// mirroring extract_test.go's newTestExtractor harness. The STT/LLM
// supervisors and the sweeper are real but never started, so none of this
// spawns a process or touches the network.
func newTestServer(t *testing.T) (*Server, *db.Store, *config.Config) {
	t.Helper()
	tmp := t.TempDir()
	sqlDB, err := db.Open(filepath.Join(tmp, "memoforge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewStore(sqlDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(store, logger)

	cfg := &config.Config{DataDir: tmp}

	stt := sttproc.NewSupervisor(sttproc.Options{ModelsDir: filepath.Join(tmp, "whisper")}, logger)
	llm := llmproc.NewSupervisor(llmproc.Options{ModelsDir: filepath.Join(tmp, "llm")}, logger)
	sweeper := ttl.New(store, store, time.Hour, logger)

	srv := New(Deps{
		Config:  cfg,
		Queue:   q,
		Events:  store,
		Epics:   store,
		FTS:     store,
		STT:     stt,
		LLM:     llm,
		Sweeper: sweeper,
		Logger:  logger,
	})
	return srv, store, cfg
}

func multipartAudio(t *testing.T, filename, language string, body []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(body); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			t.Fatalf("write language field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
}

func doRequest(srv *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateEventRequiresAudio(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/events", bytes.NewReader(nil), "multipart/form-data; boundary=x")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing audio, got %d", rec.Code)
	}
}

func TestCreateEventEnqueuesSTTJob(t *testing.T) {
	srv, store, _ := newTestServer(t)
	body, contentType := multipartAudio(t, "memo.wav", "en", []byte("fake audio bytes"))

	rec := doRequest(srv, http.MethodPost, "/api/events", body, contentType)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp createEventResponse
	decodeJSON(t, rec, &resp)
	if resp.EventID == "" || resp.JobID == "" {
		t.Fatalf("expected non-empty event/job ids, got %+v", resp)
	}

	ev, err := store.GetEvent(t.Context(), resp.EventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev.AudioPath == nil || *ev.AudioPath == "" {
		t.Fatalf("expected stored audio path, got %+v", ev)
	}
}

func TestListAndGetEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, contentType := multipartAudio(t, "memo.wav", "en", []byte("fake audio bytes"))
	createRec := doRequest(srv, http.MethodPost, "/api/events", body, contentType)
	var created createEventResponse
	decodeJSON(t, createRec, &created)

	listRec := doRequest(srv, http.MethodGet, "/api/events", nil, "")
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing events, got %d", listRec.Code)
	}
	var summaries []eventSummary
	decodeJSON(t, listRec, &summaries)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 event, got %d", len(summaries))
	}

	detailRec := doRequest(srv, http.MethodGet, "/api/events/"+created.EventID, nil, "")
	if detailRec.Code != http.StatusOK {
		t.Fatalf("expected 200 getting event, got %d", detailRec.Code)
	}
	var detail eventDetail
	decodeJSON(t, detailRec, &detail)
	if detail.ID != created.EventID {
		t.Fatalf("expected event id %s, got %s", created.EventID, detail.ID)
	}
	if len(detail.Jobs) != 1 {
		t.Fatalf("expected 1 job for event, got %d", len(detail.Jobs))
	}
}

func TestGetEventNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/events/does-not-exist", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSearchEmptyQueryReturnsEmptyResult(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/search?q=%2A%2A%2A&kind=event", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var results []interface{}
	decodeJSON(t, rec, &results)
	if len(results) != 0 {
		t.Fatalf("expected empty results for all-punctuation query, got %d", len(results))
	}
}
