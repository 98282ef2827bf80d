package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type llmStatusResponse struct {
	State      string `json:"state"`
	UptimeSecs int64  `json:"uptimeSeconds"`
}

// adminLLMStatus reports the supervisor's lifecycle state and uptime
// (spec §6 GET /api/admin/llm/status).
func (s *Server) adminLLMStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, llmStatusResponse{
		State:      string(s.deps.LLM.State()),
		UptimeSecs: int64(s.deps.LLM.Uptime().Seconds()),
	})
}

// adminLLMStart starts the local completions server (spec §6 POST
// /api/admin/llm/start).
func (s *Server) adminLLMStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.LLM.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.deps.LLM.State())})
}

// adminLLMStop stops the local completions server (spec §6 POST
// /api/admin/llm/stop).
func (s *Server) adminLLMStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.LLM.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.deps.LLM.State())})
}

// adminLLMRestart stops then starts the local completions server (spec §6
// POST /api/admin/llm/restart).
func (s *Server) adminLLMRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.LLM.Restart(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.deps.LLM.State())})
}

// adminLLMModels lists local completions model files on disk (spec §6's
// LLM "model download/delete" admin surface).
func (s *Server) adminLLMModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.LLM.ListModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type downloadLLMModelRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// adminLLMDownload fetches an operator-supplied model URL into the LLM
// models directory.
func (s *Server) adminLLMDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadLLMModelRequest
	if err := decodeJSONBody(r, &req); err != nil || req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request body must include name and url"))
		return
	}
	if err := s.deps.LLM.DownloadModel(r.Context(), req.Name, req.URL); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"downloaded": req.Name})
}

// adminLLMDelete removes a local completions model from disk.
func (s *Server) adminLLMDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.LLM.DeleteModel(name); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}
