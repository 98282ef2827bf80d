package httpapi

import (
	"net/http"

	"github.com/memoforge/pipeline/internal/domain"
)

type statsResponse struct {
	JobsByStatus   map[domain.JobStatus]int64 `json:"jobsByStatus"`
	DeadLetterSize int64                      `json:"deadLetterSize"`
	LLMState       string                     `json:"llmState"`
	LastSweep      interface{}                `json:"lastSweep"`
}

// adminStats is a single-call dashboard summary (spec §6 GET
// /api/admin/stats).
func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	byStatus, dlqCount, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		JobsByStatus:   byStatus,
		DeadLetterSize: dlqCount,
		LLMState:       string(s.deps.LLM.State()),
		LastSweep:      s.deps.Sweeper.LastResult(),
	})
}
