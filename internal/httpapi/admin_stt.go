package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// adminSTTModels reports every known whisper model size and whether it is
// present on disk (spec §6 GET /api/admin/models).
func (s *Server) adminSTTModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.STT.ListModels())
}

type downloadModelRequest struct {
	Size string `json:"size"`
}

// adminSTTDownload fetches a whisper model into the configured models
// directory (spec §6 POST /api/admin/models/download).
func (s *Server) adminSTTDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadModelRequest
	if err := decodeJSONBody(r, &req); err != nil || req.Size == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request body must name a model size"))
		return
	}
	if err := s.deps.STT.DownloadModel(r.Context(), req.Size); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"downloaded": req.Size})
}

// adminSTTDelete removes a whisper model from disk (spec §6 DELETE
// /api/admin/models/:size).
func (s *Server) adminSTTDelete(w http.ResponseWriter, r *http.Request) {
	size := chi.URLParam(r, "size")
	if err := s.deps.STT.DeleteModel(size); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": size})
}
