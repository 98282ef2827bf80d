package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/domain"
)

type createEpicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// createEpic registers a new long-lived project container (spec §3 Epic);
// the store indexes it for full-text search as part of the insert.
func (s *Server) createEpic(w http.ResponseWriter, r *http.Request) {
	var req createEpicRequest
	if err := decodeJSONBody(r, &req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request body must include a title"))
		return
	}

	now := time.Now()
	epic := &domain.Epic{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      domain.EpicActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Epics.CreateEpic(r.Context(), epic); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, epic)
}

// listEpics lists epics, optionally filtered by status.
func (s *Server) listEpics(w http.ResponseWriter, r *http.Request) {
	status := domain.EpicStatus(r.URL.Query().Get("status"))
	epics, err := s.deps.Epics.ListEpics(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, epics)
}

// getEpic returns a single epic.
func (s *Server) getEpic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	epic, err := s.deps.Epics.GetEpic(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, epic)
}

type updateEpicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// updateEpic changes an epic's title/description, reindexing it for
// full-text search (internal/db.Store.UpdateEpic keeps the index in sync).
func (s *Server) updateEpic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	epic, err := s.deps.Epics.GetEpic(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var req updateEpicRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title != "" {
		epic.Title = req.Title
	}
	epic.Description = req.Description

	if err := s.deps.Epics.UpdateEpic(r.Context(), epic); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, epic)
}

// archiveEpic marks an epic archived and removes it from the full-text
// index (spec §3: archived epics are no longer "live"); its projections and
// aliases survive.
func (s *Server) archiveEpic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Epics.ArchiveEpic(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.EpicArchived)})
}
