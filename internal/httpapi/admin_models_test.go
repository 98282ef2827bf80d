package httpapi

import (
	"net/http"
	"testing"
)

func TestAdminSTTModelsListsKnownSizes(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/admin/models", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var models []interface{}
	decodeJSON(t, rec, &models)
	if len(models) == 0 {
		t.Fatalf("expected at least one known whisper model size reported")
	}
}

func TestAdminLLMModelsEmptyOnFreshModelsDir(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/admin/llm/models", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var models []interface{}
	decodeJSON(t, rec, &models)
	if len(models) != 0 {
		t.Fatalf("expected no models in a fresh empty models dir, got %d", len(models))
	}
}

func TestAdminLLMStatusReportsStoppedInitially(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/admin/llm/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status llmStatusResponse
	decodeJSON(t, rec, &status)
	if status.State != "stopped" {
		t.Fatalf("expected stopped state before Start is called, got %q", status.State)
	}
}
