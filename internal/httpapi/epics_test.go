package httpapi

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/memoforge/pipeline/internal/domain"
)

func TestCreateEpicIndexesForSearch(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/epics", bytes.NewBufferString(`{"title":"Payments Migration","description":"move billing to postgres"}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var epic domain.Epic
	decodeJSON(t, rec, &epic)
	if epic.ID == "" || epic.Status != domain.EpicActive {
		t.Fatalf("expected an active epic with an id, got %+v", epic)
	}

	searchRec := doRequest(srv, http.MethodGet, "/api/search?q=postgres&kind=epic", nil, "")
	if searchRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", searchRec.Code)
	}
	var results []struct {
		ContentID string `json:"ContentID"`
	}
	decodeJSON(t, searchRec, &results)
	found := false
	for _, r := range results {
		if r.ContentID == epic.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected newly created epic %s to be findable via search, got %+v", epic.ID, results)
	}
}

func TestArchiveEpicRemovesItFromSearch(t *testing.T) {
	srv, _, _ := newTestServer(t)

	createRec := doRequest(srv, http.MethodPost, "/api/epics", bytes.NewBufferString(`{"title":"Retired Project","description":"wind down"}`), "application/json")
	var epic domain.Epic
	decodeJSON(t, createRec, &epic)

	archiveRec := doRequest(srv, http.MethodPost, "/api/epics/"+epic.ID+"/archive", nil, "")
	if archiveRec.Code != http.StatusOK {
		t.Fatalf("expected 200 archiving epic, got %d: %s", archiveRec.Code, archiveRec.Body.String())
	}

	searchRec := doRequest(srv, http.MethodGet, "/api/search?q=retired&kind=epic", nil, "")
	var results []struct {
		ContentID string `json:"ContentID"`
	}
	decodeJSON(t, searchRec, &results)
	for _, r := range results {
		if r.ContentID == epic.ID {
			t.Fatalf("expected archived epic %s to be removed from the search index", epic.ID)
		}
	}
}
