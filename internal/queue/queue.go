// Package queue implements the durable job queue (spec §4.B): enqueue,
// claim-and-run, complete, fail-with-backoff, cancel, and dead-letter
// re-drive, layered over internal/store.JobStore.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// systemEventID is used for jobs that are not scoped to a single event,
// such as the periodic ttl_cleanup sweep.
const systemEventID = "system"

// DefaultMaxAttempts is applied to every job unless overridden at enqueue time.
const DefaultMaxAttempts = 3

// Queue is the durable job queue.
type Queue struct {
	jobs   store.JobStore
	logger *slog.Logger
}

// New creates a Queue backed by the given JobStore.
func New(jobs store.JobStore, logger *slog.Logger) *Queue {
	return &Queue{jobs: jobs, logger: logger}
}

// newBackoff builds the exponential retry schedule used across every job
// type (spec §4.B): run_at = now + 2^(attempts-1) minutes. InitialInterval
// of 1 minute with Multiplier 2 and RandomizationFactor 0 makes
// ExponentialBackOff.NextBackOff's Nth call return exactly 2^(N-1) minutes
// (1, 2, 4, 8, ...), matching the spec's literal formula and spec §8
// scenario S4's "run-at roughly 1, 2, 4 minutes in the future across
// successive retries". Jitter is deliberately disabled: any randomization
// would put testable property #6 ("successive retry delays are strictly
// non-decreasing") at the mercy of chance instead of guaranteeing it by
// construction. MaxInterval is a generous backstop, not a spec-mandated cap.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Minute
	b.Multiplier = 2.0
	b.MaxInterval = 24 * time.Hour
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	// NewExponentialBackOff already reset the current interval to the
	// library default; reset again so the first delay is InitialInterval.
	b.Reset()
	return b
}

// nextRetryDelay returns the backoff delay for the Nth attempt (1-indexed):
// exactly 2^(attempt-1) minutes.
func nextRetryDelay(attempt int) time.Duration {
	b := newBackoff()
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Enqueue schedules a new job of the given type, with the payload encoded
// to JSON and maxAttempts defaulted if zero.
func (q *Queue) Enqueue(ctx context.Context, eventID string, jobType domain.JobType, payload interface{}, maxAttempts int) (*domain.Job, error) {
	encoded, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		EventID:     eventID,
		Type:        jobType,
		Status:      domain.JobPending,
		Payload:     encoded,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now(),
		CreatedAt:   time.Now(),
	}
	if err := q.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	q.logger.Info("job enqueued", "job_id", job.ID, "event_id", eventID, "type", jobType)
	return job, nil
}

// EnqueueTTLCleanup schedules the periodic transcript/audio sweep.
func (q *Queue) EnqueueTTLCleanup(ctx context.Context) (*domain.Job, error) {
	return q.Enqueue(ctx, systemEventID, domain.JobTTLCleanup, TTLCleanupPayload{}, DefaultMaxAttempts)
}

// Claim atomically picks up the oldest due job, marking it running.
// Returns nil, nil when no job is claimable.
func (q *Queue) Claim(ctx context.Context) (*domain.Job, error) {
	job, err := q.jobs.Claim(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job != nil {
		q.logger.Info("job claimed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts)
	}
	return job, nil
}

// Complete marks a job as done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	if err := q.jobs.Complete(ctx, id, time.Now()); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	q.logger.Info("job completed", "job_id", id)
	return nil
}

// Fail records a failed attempt. retryable controls whether the job is
// eligible for another try; the store itself decides, based on the job's
// recorded attempts vs max_attempts, whether this lands as a retry or a
// dead-letter.
func (q *Queue) Fail(ctx context.Context, job *domain.Job, cause error, retryable bool) error {
	delay := nextRetryDelay(job.Attempts)
	nextRunAt := time.Now().Add(delay)

	if err := q.jobs.Fail(ctx, job.ID, cause.Error(), retryable, nextRunAt); err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	q.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "retryable", retryable, "error", cause)
	return nil
}

// Cancel cancels a job that has not yet reached a terminal state.
func (q *Queue) Cancel(ctx context.Context, id, by string) (bool, error) {
	ok, err := q.jobs.Cancel(ctx, id, by, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	if ok {
		q.logger.Info("job cancelled", "job_id", id, "by", by)
	}
	return ok, nil
}

// PurgeOldJobs removes completed/cancelled jobs older than olderThan.
func (q *Queue) PurgeOldJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	return q.jobs.PurgeOldJobs(ctx, olderThan)
}

// Stats returns job counts by status plus the dead-letter count.
func (q *Queue) Stats(ctx context.Context) (map[domain.JobStatus]int64, int64, error) {
	return q.jobs.Stats(ctx)
}

// GetJob retrieves a single job.
func (q *Queue) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return q.jobs.GetJob(ctx, id)
}

// ListJobs lists jobs, optionally filtered by status.
func (q *Queue) ListJobs(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	return q.jobs.ListJobs(ctx, status, limit, offset)
}

// ListJobsForEvent lists every job scheduled for a single event.
func (q *Queue) ListJobsForEvent(ctx context.Context, eventID string) ([]domain.Job, error) {
	return q.jobs.ListJobsForEvent(ctx, eventID)
}

// ListDeadLetter lists dead-letter entries.
func (q *Queue) ListDeadLetter(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error) {
	return q.jobs.ListDeadLetter(ctx, limit, offset)
}

// GetDeadLetter retrieves a single dead-letter entry.
func (q *Queue) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	return q.jobs.GetDeadLetter(ctx, id)
}

// Redrive re-enqueues a dead-lettered job as a brand new job row.
func (q *Queue) Redrive(ctx context.Context, deadLetterID string) (*domain.Job, error) {
	job, err := q.jobs.Redrive(ctx, deadLetterID)
	if err != nil {
		return nil, fmt.Errorf("failed to redrive job: %w", err)
	}
	q.logger.Info("job redriven from dead letter", "dead_letter_id", deadLetterID, "new_job_id", job.ID)
	return job, nil
}
