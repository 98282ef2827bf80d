// Package ttl implements the TTL Sweeper (spec §4.H): a periodic sweep
// that purges expired transcripts and their orphaned audio, recording one
// observability run per affected event. Grounded on
// arkeep-io-arkeep/server/internal/scheduler/scheduler.go's Scheduler —
// a cron-driven wrapper around a repository that runs a bounded unit of
// work per tick and reports failures without aborting the whole run.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// DefaultInterval is the cadence a sweep runs on absent configuration
// (spec §6: CLEANUP_INTERVAL_HOURS default 24).
const DefaultInterval = 24 * time.Hour

// SweepResult summarizes one sweep pass, surfaced to the admin stats
// endpoint (spec §6 GET /api/admin/transcripts).
type SweepResult struct {
	EventsProcessed int
	AudioDeleted    int
	AudioErrors     []string
	RanAt           time.Time
}

// Sweeper purges expired transcripts/audio on a cron schedule.
type Sweeper struct {
	events store.EventStore
	runs   store.RunStore
	logger *slog.Logger
	cron   *cron.Cron
	entry  cron.EntryID

	mu   sync.Mutex
	last SweepResult
}

// New constructs a Sweeper. interval defaults to DefaultInterval if zero.
func New(events store.EventStore, runs store.RunStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		events: events,
		runs:   runs,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the recurring sweep and starts the underlying cron
// runner. Call Stop to halt it.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	spec := fmt.Sprintf("@every %s", interval.String())
	entry, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("ttl sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ttl sweep: %w", err)
	}
	s.entry = entry
	s.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// LastResult returns the most recently completed sweep's summary.
func (s *Sweeper) LastResult() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sweep runs one pass and discards its SweepResult, satisfying the
// worker.TTLSweeper interface the ttl_cleanup job handler depends on.
func (s *Sweeper) Sweep(ctx context.Context) error {
	_, err := s.Run(ctx)
	return err
}

// Run runs one pass: clear every expired transcript, delete its
// now-orphaned audio file, and record one EventRun per affected event
// (spec §4.H). A missing or undeletable audio file does not fail the
// sweep — its error is collected and the pass continues.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	expired, err := s.events.ExpiredTranscripts(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transcripts: %w", err)
	}

	result := SweepResult{RanAt: time.Now()}

	for _, event := range expired {
		start := time.Now()
		result.EventsProcessed++

		if err := s.events.ClearTranscript(ctx, event.ID); err != nil {
			s.recordRun(ctx, event.ID, domain.RunError, fmt.Sprintf("failed to clear transcript: %v", err), start)
			continue
		}

		var audioErr error
		if event.AudioPath != nil && *event.AudioPath != "" {
			if removeErr := os.Remove(*event.AudioPath); removeErr != nil {
				audioErr = removeErr
			} else {
				result.AudioDeleted++
			}
			if err := s.events.ClearAudioPath(ctx, event.ID); err != nil {
				s.logger.Error("failed to clear audio path after removal attempt", "event_id", event.ID, "error", err)
			}
		}

		if audioErr != nil {
			msg := fmt.Sprintf("failed to delete audio file: %v", audioErr)
			result.AudioErrors = append(result.AudioErrors, fmt.Sprintf("%s: %s", event.ID, msg))
			s.recordRun(ctx, event.ID, domain.RunError, msg, start)
			continue
		}

		s.recordRun(ctx, event.ID, domain.RunSuccess, "", start)
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	return &result, nil
}

func (s *Sweeper) recordRun(ctx context.Context, eventID string, status domain.RunStatus, errMsg string, start time.Time) {
	err := s.runs.RecordRun(ctx, &domain.EventRun{
		ID:           uuid.NewString(),
		EventID:      eventID,
		JobType:      domain.JobTTLCleanup,
		Status:       status,
		ErrorMessage: errMsg,
		DurationMS:   time.Since(start).Milliseconds(),
		CreatedAt:    time.Now(),
	})
	if err != nil {
		s.logger.Error("failed to record ttl cleanup run", "event_id", eventID, "error", err)
	}
}
