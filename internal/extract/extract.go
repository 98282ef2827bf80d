// Package extract implements the Extractor (spec §4.F): prompt assembly,
// the LLM call loop with schema validation, the idempotent projection
// writer, and the event state machine transitions extract/reprocess jobs
// drive. No teacher analog (agents write code, not typed rows); schema
// validation uses github.com/go-playground/validator/v10, tolerant JSON
// unwrap uses github.com/tidwall/gjson and github.com/tidwall/sjson.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/epicmatch"
	"github.com/memoforge/pipeline/internal/store"
)

// JobEnqueuer is the subset of internal/queue.Queue the extractor drives to
// fan out push notifications for newly created P0/P1 actions.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, eventID string, jobType domain.JobType, payload interface{}, maxAttempts int) (*domain.Job, error)
}

// Extractor wires the store, the epic matcher, and the LLM supervisor into
// the extract/reprocess worker bodies.
type Extractor struct {
	events      store.EventStore
	epics       store.EpicStore
	projections store.ProjectionStore
	candidates  store.CandidateStore
	fts         store.FTSStore
	runs        store.RunStore
	jobs        JobEnqueuer
	llm         ChatCompleter
	matcher     *epicmatch.Matcher
	logger      *slog.Logger
}

// New constructs an Extractor.
func New(
	events store.EventStore,
	epics store.EpicStore,
	projections store.ProjectionStore,
	candidates store.CandidateStore,
	fts store.FTSStore,
	runs store.RunStore,
	jobs JobEnqueuer,
	llm ChatCompleter,
	logger *slog.Logger,
) *Extractor {
	return &Extractor{
		events:      events,
		epics:       epics,
		projections: projections,
		candidates:  candidates,
		fts:         fts,
		runs:        runs,
		jobs:        jobs,
		llm:         llm,
		matcher:     epicmatch.New(epics, fts),
		logger:      logger,
	}
}

// ProcessEvent runs the extract job body for a transcribed event: match
// candidate epics, call the LLM, project the result, and transition the
// event to needs_review/completed/failed (spec §4.F).
func (x *Extractor) ProcessEvent(ctx context.Context, eventID string) error {
	start := time.Now()

	event, err := x.events.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}
	if event == nil {
		return nonRetryableErr(fmt.Errorf("event %s not found", eventID))
	}
	if event.Transcript == nil || *event.Transcript == "" {
		err := nonRetryableErr(fmt.Errorf("event %s has no transcript", eventID))
		_ = x.events.UpdateEventStatus(ctx, event.ID, domain.EventFailed, err.Error())
		x.recordRun(ctx, event.ID, domain.JobExtract, domain.RunError, err.Error(), time.Since(start))
		return err
	}

	if err := x.events.UpdateEventStatus(ctx, event.ID, domain.EventProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark event processing: %w", err)
	}

	matchRes, err := x.matcher.Match(ctx, *event.Transcript)
	if err != nil {
		return fmt.Errorf("failed to match event to an epic: %w", err)
	}
	if err := epicmatch.Persist(ctx, x.candidates, event.ID, matchRes); err != nil {
		return fmt.Errorf("failed to persist epic candidates: %w", err)
	}

	var boundEpicID *string
	if event.EpicID != nil {
		boundEpicID = event.EpicID
	} else if len(matchRes.Candidates) > 0 && !matchRes.NeedsReview {
		id := matchRes.Candidates[0].EpicID
		boundEpicID = &id
	}

	result, err := x.runExtraction(ctx, boundEpicID, *event.Transcript)
	if err != nil {
		if IsRetryable(err) {
			x.recordRun(ctx, event.ID, domain.JobExtract, domain.RunRetry, err.Error(), time.Since(start))
			return err
		}
		_ = x.events.UpdateEventStatus(ctx, event.ID, domain.EventFailed, err.Error())
		x.recordRun(ctx, event.ID, domain.JobExtract, domain.RunError, err.Error(), time.Since(start))
		return err
	}

	finalEpicID := boundEpicID
	if result.ResolvedEpic != nil && result.ResolvedEpic.EpicID != "" {
		id := result.ResolvedEpic.EpicID
		finalEpicID = &id
	}

	needsReview := result.NeedsReview
	if matchRes.NeedsReview && (result.ResolvedEpic == nil || result.ResolvedEpic.Confidence < epicmatch.ConfidenceFloor) {
		needsReview = true
	}

	if err := x.project(ctx, event, finalEpicID, result); err != nil {
		return fmt.Errorf("failed to project extraction result: %w", err)
	}

	if finalEpicID != nil {
		if err := x.events.SetEpic(ctx, event.ID, finalEpicID); err != nil {
			return fmt.Errorf("failed to bind event to epic: %w", err)
		}
	}

	finalStatus := domain.EventCompleted
	if needsReview {
		finalStatus = domain.EventNeedsReview
	}
	if err := x.events.UpdateEventStatus(ctx, event.ID, finalStatus, ""); err != nil {
		return fmt.Errorf("failed to finalize event status: %w", err)
	}

	x.recordRun(ctx, event.ID, domain.JobExtract, domain.RunSuccess, "", time.Since(start))
	return nil
}

// Reprocess re-runs extraction with an operator-supplied epic, bypassing
// the matcher entirely (spec §4.F). It always transitions to completed on
// success, since the forced epic-id resolves any ambiguity the matcher
// would otherwise have flagged.
func (x *Extractor) Reprocess(ctx context.Context, eventID, epicID, reason string) error {
	start := time.Now()

	event, err := x.events.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}
	if event == nil {
		return nonRetryableErr(fmt.Errorf("event %s not found", eventID))
	}
	if event.Transcript == nil || *event.Transcript == "" {
		err := nonRetryableErr(fmt.Errorf("event %s has no transcript to reprocess", eventID))
		_ = x.events.UpdateEventStatus(ctx, event.ID, domain.EventFailed, err.Error())
		x.recordRun(ctx, event.ID, domain.JobReprocess, domain.RunError, err.Error(), time.Since(start))
		return err
	}

	if err := x.events.UpdateEventStatus(ctx, event.ID, domain.EventProcessing, reason); err != nil {
		return fmt.Errorf("failed to mark event processing: %w", err)
	}

	boundEpicID := &epicID
	result, err := x.runExtraction(ctx, boundEpicID, *event.Transcript)
	if err != nil {
		if IsRetryable(err) {
			x.recordRun(ctx, event.ID, domain.JobReprocess, domain.RunRetry, err.Error(), time.Since(start))
			return err
		}
		_ = x.events.UpdateEventStatus(ctx, event.ID, domain.EventFailed, err.Error())
		x.recordRun(ctx, event.ID, domain.JobReprocess, domain.RunError, err.Error(), time.Since(start))
		return err
	}

	if err := x.project(ctx, event, boundEpicID, result); err != nil {
		return fmt.Errorf("failed to project reprocessed result: %w", err)
	}
	if err := x.events.SetEpic(ctx, event.ID, boundEpicID); err != nil {
		return fmt.Errorf("failed to bind event to epic: %w", err)
	}
	if err := x.candidates.ClearCandidates(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to clear epic candidates: %w", err)
	}
	if err := x.events.UpdateEventStatus(ctx, event.ID, domain.EventCompleted, ""); err != nil {
		return fmt.Errorf("failed to finalize event status: %w", err)
	}

	x.recordRun(ctx, event.ID, domain.JobReprocess, domain.RunSuccess, "", time.Since(start))
	return nil
}

// runExtraction builds the prompt (epic snapshot + knowledge snippets +
// transcript) and drives the bounded LLM call loop.
func (x *Extractor) runExtraction(ctx context.Context, epicID *string, transcript string) (*Result, error) {
	var snapshot *EpicSnapshot
	if epicID != nil {
		snap, err := BuildEpicSnapshot(ctx, x.epics, x.projections, *epicID)
		if err != nil {
			return nil, fmt.Errorf("failed to build epic snapshot: %w", err)
		}
		snapshot = snap
	}

	sanitized := domain.SanitizeFTSQuery(transcript)
	var knowledge []string
	if sanitized != "" {
		hits, err := x.fts.Search(ctx, "knowledge", sanitized, MaxKnowledgeSnippets)
		if err != nil {
			return nil, fmt.Errorf("failed to search knowledge index: %w", err)
		}
		for _, h := range hits {
			knowledge = append(knowledge, h.Title+": "+h.Snippet)
		}
	}

	userPrompt := buildUserPrompt(snapshot, knowledge, transcript)
	return callLLM(ctx, x.llm, SystemPrompt, userPrompt)
}

func (x *Extractor) recordRun(ctx context.Context, eventID string, jobType domain.JobType, status domain.RunStatus, errMsg string, dur time.Duration) {
	err := x.runs.RecordRun(ctx, &domain.EventRun{
		ID:           uuid.NewString(),
		EventID:      eventID,
		JobType:      jobType,
		Status:       status,
		ErrorMessage: errMsg,
		DurationMS:   dur.Milliseconds(),
		CreatedAt:    time.Now(),
	})
	if err != nil {
		x.logger.Error("failed to record event run", "event_id", eventID, "job_type", jobType, "error", err)
	}
}
