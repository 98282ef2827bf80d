package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/queue"
)

const transcriptPreviewChars = 200

type createEventResponse struct {
	EventID string             `json:"eventId"`
	JobID   string             `json:"jobId"`
	Status  domain.EventStatus `json:"status"`
}

// createEvent accepts a multipart audio upload plus an optional language
// field, stores the file under DATA_DIR/uploads, records the event row, and
// enqueues its stt job (spec §6 POST /api/events).
func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart upload: %w", err))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing audio file: %w", err))
		return
	}
	defer file.Close()

	eventID := uuid.NewString()
	audioPath, err := s.storeUpload(eventID, header.Filename, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	language := r.FormValue("language")
	now := time.Now()
	event := &domain.Event{
		ID:        eventID,
		AudioPath: &audioPath,
		Status:    domain.EventQueued,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Events.CreateEvent(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to create event: %w", err))
		return
	}

	job, err := s.deps.Queue.Enqueue(r.Context(), eventID, domain.JobSTT, queue.STTPayload{AudioPath: audioPath}, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to enqueue stt job: %w", err))
		return
	}

	writeJSON(w, http.StatusCreated, createEventResponse{
		EventID: eventID,
		JobID:   job.ID,
		Status:  domain.EventQueued,
	})
}

// storeUpload writes the uploaded audio to DATA_DIR/uploads/<event-id>_<ts>_<filename>
// (spec §6's persisted layout).
func (s *Server) storeUpload(eventID, filename string, src io.Reader) (string, error) {
	dir := s.deps.Config.UploadsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s_%d_%s", eventID, time.Now().Unix(), filepath.Base(filename)))

	f, err := os.Create(dest) // #nosec G304 -- dest is built from a generated event id and the configured uploads directory
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return "", err
	}
	return dest, nil
}

type eventSummary struct {
	domain.Event
	TranscriptPreview string `json:"transcriptPreview,omitempty"`
}

func summarize(e domain.Event) eventSummary {
	sum := eventSummary{Event: e}
	if e.Transcript != nil {
		t := *e.Transcript
		if r := []rune(t); len(r) > transcriptPreviewChars {
			t = string(r[:transcriptPreviewChars])
		}
		sum.TranscriptPreview = t
	}
	return sum
}

// listEvents lists events, optionally filtered by status, with a truncated
// transcript preview (spec §6 GET /api/events).
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	status := domain.EventStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	events, err := s.deps.Events.ListEvents(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	summaries := make([]eventSummary, 0, len(events))
	for _, e := range events {
		summaries = append(summaries, summarize(e))
	}
	writeJSON(w, http.StatusOK, summaries)
}

type eventDetail struct {
	domain.Event
	Jobs []domain.Job `json:"jobs"`
}

// getEvent returns the full event row plus every job ever scheduled for it
// (spec §6 GET /api/events/:id).
func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, err := s.deps.Events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	jobs, err := s.deps.Queue.ListJobsForEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, eventDetail{Event: *event, Jobs: jobs})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
