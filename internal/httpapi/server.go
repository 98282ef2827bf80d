// Package httpapi implements the thin HTTP surface spec §6 treats as an
// external collaborator: multipart event ingestion, read-only event/search
// endpoints, and the admin surface over the queue, STT/LLM supervisors, and
// TTL sweeper. Grounded on arkeep-io-arkeep/server/internal/api/router.go's
// RouterConfig-plus-NewRouter shape and per-concern handler constructors,
// adapted from chi/v5's zap-logged middleware stack to this codebase's
// log/slog usage.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/memoforge/pipeline/internal/config"
	"github.com/memoforge/pipeline/internal/llmproc"
	"github.com/memoforge/pipeline/internal/queue"
	"github.com/memoforge/pipeline/internal/sttproc"
	"github.com/memoforge/pipeline/internal/store"
	"github.com/memoforge/pipeline/internal/ttl"
)

// Deps bundles everything the HTTP surface needs. Passed as a single struct
// to New so the constructor's signature stays stable as the admin surface
// grows (same rationale as arkeep's RouterConfig).
type Deps struct {
	Config  *config.Config
	Queue   *queue.Queue
	Events  store.EventStore
	Epics   store.EpicStore
	FTS     store.FTSStore
	STT     *sttproc.Supervisor
	LLM     *llmproc.Supervisor
	Sweeper *ttl.Sweeper
	Logger  *slog.Logger
}

// Server owns the routed chi.Mux and the dependencies its handlers close over.
type Server struct {
	deps   Deps
	router chi.Router
}

// New builds a fully routed Server. Handlers are registered in-line rather
// than via a separate per-concern handler type, since every handler closes
// over the same Deps struct rather than its own repository slice.
func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP satisfies http.Handler, letting Server plug directly into
// http.Server.Handler or httptest.NewServer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", s.createEvent)
		r.Get("/events", s.listEvents)
		r.Get("/events/{id}", s.getEvent)
		r.Get("/search", s.search)

		r.Post("/epics", s.createEpic)
		r.Get("/epics", s.listEpics)
		r.Get("/epics/{id}", s.getEpic)
		r.Patch("/epics/{id}", s.updateEpic)
		r.Post("/epics/{id}/archive", s.archiveEpic)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/queue", s.adminQueue)
			r.Get("/queue/dead-letter", s.adminDeadLetter)
			r.Post("/queue/dead-letter/{id}/retry", s.adminRetryDeadLetter)
			r.Post("/queue/jobs/{id}/cancel", s.adminCancelJob)
			r.Post("/queue/purge", s.adminPurgeQueue)

			r.Get("/models", s.adminSTTModels)
			r.Post("/models/download", s.adminSTTDownload)
			r.Delete("/models/{size}", s.adminSTTDelete)

			r.Get("/llm/status", s.adminLLMStatus)
			r.Post("/llm/start", s.adminLLMStart)
			r.Post("/llm/stop", s.adminLLMStop)
			r.Post("/llm/restart", s.adminLLMRestart)
			r.Get("/llm/models", s.adminLLMModels)
			r.Post("/llm/models/download", s.adminLLMDownload)
			r.Delete("/llm/models/{name}", s.adminLLMDelete)

			r.Get("/transcripts", s.adminTranscripts)
			r.Post("/purge-expired", s.adminPurgeExpired)

			r.Get("/stats", s.adminStats)
		})
	})

	return r
}

// requestLogger logs one line per request at Info level, mirroring
// arkeep's RequestLogger middleware but against log/slog instead of zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.deps.Logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeJSONBody decodes a request body into v. A missing or empty body is
// not an error — several admin POST endpoints accept an all-defaults body.
func decodeJSONBody(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
