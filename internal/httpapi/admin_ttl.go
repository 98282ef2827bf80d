package httpapi

import (
	"net/http"
)

// adminTranscripts reports the most recently completed sweep pass (spec §6
// GET /api/admin/transcripts).
func (s *Server) adminTranscripts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sweeper.LastResult())
}

// adminPurgeExpired runs one TTL sweep pass synchronously and returns its
// result (spec §6 POST /api/admin/purge-expired). This bypasses the job
// queue deliberately — an operator asking for an immediate purge wants the
// outcome in the response, not a job id to poll.
func (s *Server) adminPurgeExpired(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Sweeper.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
