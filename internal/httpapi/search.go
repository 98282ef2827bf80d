package httpapi

import (
	"net/http"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// search runs a ranked full-text query across actions, knowledge items, and
// epics, optionally narrowed to one content kind via ?kind= (spec §6 GET
// /api/search).
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	kind := r.URL.Query().Get("kind")
	limit := queryInt(r, "limit", 20)

	sanitized := domain.SanitizeFTSQuery(q)
	if sanitized == "" {
		writeJSON(w, http.StatusOK, []store.FTSResult{})
		return
	}

	results, err := s.deps.FTS.Search(r.Context(), kind, sanitized, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
