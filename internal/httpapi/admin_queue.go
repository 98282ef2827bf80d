package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/memoforge/pipeline/internal/domain"
)

type queueSnapshot struct {
	ByStatus       map[domain.JobStatus]int64 `json:"byStatus"`
	DeadLetterSize int64                      `json:"deadLetterSize"`
	Jobs           []domain.Job               `json:"jobs"`
}

// adminQueue reports job counts by status plus the current page of jobs
// (spec §6 GET /api/admin/queue).
func (s *Server) adminQueue(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	byStatus, dlqCount, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	jobs, err := s.deps.Queue.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, queueSnapshot{ByStatus: byStatus, DeadLetterSize: dlqCount, Jobs: jobs})
}

// adminDeadLetter lists dead-letter entries (spec §6 GET
// /api/admin/queue/dead-letter).
func (s *Server) adminDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := s.deps.Queue.ListDeadLetter(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// adminRetryDeadLetter re-enqueues a dead-lettered job as a new job row
// (spec §6 POST /api/admin/queue/dead-letter/:id/retry).
func (s *Server) adminRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Queue.Redrive(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// adminCancelJob cancels a pending/retry/running job (spec §6 POST
// /api/admin/queue/jobs/:id/cancel).
func (s *Server) adminCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.deps.Queue.Cancel(r.Context(), id, "admin")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("job %s is already in a terminal state", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

type purgeQueueRequest struct {
	OlderThanHours int `json:"olderThanHours"`
}

// adminPurgeQueue removes completed/cancelled jobs older than the given
// retention window, defaulting to 72h (spec §6 POST /api/admin/queue/purge).
func (s *Server) adminPurgeQueue(w http.ResponseWriter, r *http.Request) {
	var req purgeQueueRequest
	_ = decodeJSONBody(r, &req)
	if req.OlderThanHours <= 0 {
		req.OlderThanHours = 72
	}

	cutoff := time.Now().Add(-time.Duration(req.OlderThanHours) * time.Hour)
	n, err := s.deps.Queue.PurgeOldJobs(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}
