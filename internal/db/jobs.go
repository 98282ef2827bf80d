package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/memoforge/pipeline/internal/domain"
)

// Enqueue inserts a new pending job.
func (s *Store) Enqueue(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, event_id, type, status, payload, attempts, max_attempts,
			run_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.EventID, job.Type, job.Status, job.Payload, job.Attempts, job.MaxAttempts,
		job.RunAt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim atomically selects the oldest claimable job (pending or retry, due
// by now) and marks it running. Grounded on the teacher's
// UpdateTicketStatus transaction idiom, generalized to select-then-update
// inside one transaction.
func (s *Store) Claim(ctx context.Context, now time.Time) (*domain.Job, error) {
	var claimed *domain.Job

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var job domain.Job
		err := tx.GetContext(ctx, &job, `
			SELECT id, event_id, type, status, payload, attempts, max_attempts,
				run_at, started_at, completed_at, cancelled_at, cancelled_by,
				dead_letter_at, dead_letter_reason, error_message, created_at
			FROM jobs
			WHERE status IN ('pending', 'retry') AND run_at <= ?
			ORDER BY created_at ASC
			LIMIT 1
		`, now)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select claimable job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'running', started_at = ?, attempts = attempts + 1 WHERE id = ?
		`, now, job.ID); err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}

		job.Status = domain.JobRunning
		job.StartedAt = &now
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a running job as completed.
func (s *Store) Complete(ctx context.Context, id string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = ? WHERE id = ?
	`, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. Non-retryable failures, and retryable
// failures that have exhausted max_attempts, move the job to the dead
// letter queue (an immutable copy in dead_letter_entries per §3's audit
// invariant); otherwise the job is rescheduled for nextRunAt.
func (s *Store) Fail(ctx context.Context, id string, message string, retryable bool, nextRunAt time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var job domain.Job
		if err := tx.GetContext(ctx, &job, `
			SELECT id, event_id, type, status, payload, attempts, max_attempts,
				run_at, started_at, completed_at, cancelled_at, cancelled_by,
				dead_letter_at, dead_letter_reason, error_message, created_at
			FROM jobs WHERE id = ?
		`, id); err != nil {
			return fmt.Errorf("failed to load job for failure: %w", err)
		}

		exhausted := !retryable || job.Attempts >= job.MaxAttempts
		if !exhausted {
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs SET status = 'retry', run_at = ?, error_message = ? WHERE id = ?
			`, nextRunAt, message, id); err != nil {
				return fmt.Errorf("failed to reschedule job: %w", err)
			}
			return nil
		}

		now := time.Now()
		reason := message
		if !retryable {
			reason = "non-retryable: " + message
		} else {
			reason = fmt.Sprintf("exhausted %d attempts: %s", job.Attempts, message)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'dead_letter', dead_letter_at = ?, dead_letter_reason = ?, error_message = ? WHERE id = ?
		`, now, reason, message, id); err != nil {
			return fmt.Errorf("failed to dead-letter job: %w", err)
		}

		entry := domain.DeadLetterEntry{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			EventID:      job.EventID,
			Type:         job.Type,
			Payload:      job.Payload,
			Attempts:     job.Attempts,
			ErrorMessage: message,
			CreatedAt:    now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letter_entries (id, job_id, event_id, type, payload, attempts, error_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.JobID, entry.EventID, entry.Type, entry.Payload, entry.Attempts, entry.ErrorMessage, entry.CreatedAt); err != nil {
			return fmt.Errorf("failed to record dead-letter entry: %w", err)
		}
		return nil
	})
}

// Cancel cancels a pending, retry, or running job. Returns false if the job
// was already in a terminal state and could not be cancelled.
func (s *Store) Cancel(ctx context.Context, id string, by string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', cancelled_at = ?, cancelled_by = ?
		WHERE id = ? AND status IN ('pending', 'retry', 'running')
	`, now, by, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check cancel result: %w", err)
	}
	return affected > 0, nil
}

// PurgeOldJobs removes completed/cancelled jobs that completed or were
// cancelled before olderThan. Dead-letter entries are never purged by this
// path; they are an immutable audit trail (§3).
func (s *Store) PurgeOldJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN ('completed', 'cancelled') AND COALESCE(completed_at, cancelled_at) < ?
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns job counts grouped by status, plus the dead-letter count.
func (s *Store) Stats(ctx context.Context) (map[domain.JobStatus]int64, int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status domain.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, 0, fmt.Errorf("failed to scan job stats: %w", err)
		}
		stats[status] = count
	}

	var dlqCount int64
	if err := s.db.GetContext(ctx, &dlqCount, `SELECT COUNT(*) FROM dead_letter_entries`); err != nil {
		return nil, 0, fmt.Errorf("failed to count dead letter entries: %w", err)
	}

	return stats, dlqCount, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		SELECT id, event_id, type, status, payload, attempts, max_attempts,
			run_at, started_at, completed_at, cancelled_at, cancelled_by,
			dead_letter_at, dead_letter_reason, error_message, created_at
		FROM jobs WHERE id = ?
	`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs lists jobs, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	var jobs []domain.Job
	query := `
		SELECT id, event_id, type, status, payload, attempts, max_attempts,
			run_at, started_at, completed_at, cancelled_at, cancelled_by,
			dead_letter_at, dead_letter_reason, error_message, created_at
		FROM jobs`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListJobsForEvent lists every job scheduled for a single event, most
// recent first, so the event detail endpoint can show its full history
// (spec §6 GET /api/events/:id).
func (s *Store) ListJobsForEvent(ctx context.Context, eventID string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT id, event_id, type, status, payload, attempts, max_attempts,
			run_at, started_at, completed_at, cancelled_at, cancelled_by,
			dead_letter_at, dead_letter_reason, error_message, created_at
		FROM jobs WHERE event_id = ? ORDER BY created_at DESC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for event: %w", err)
	}
	return jobs, nil
}

// ListDeadLetter lists dead-letter entries, most recent first.
func (s *Store) ListDeadLetter(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error) {
	var entries []domain.DeadLetterEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, job_id, event_id, type, payload, attempts, error_message, created_at
		FROM dead_letter_entries ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	return entries, nil
}

// GetDeadLetter retrieves a single dead-letter entry.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	var entry domain.DeadLetterEntry
	err := s.db.GetContext(ctx, &entry, `
		SELECT id, job_id, event_id, type, payload, attempts, error_message, created_at
		FROM dead_letter_entries WHERE id = ?
	`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("dead letter entry not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter entry: %w", err)
	}
	return &entry, nil
}

// Redrive creates a brand new job from a dead-letter entry, attempts reset
// to 0. The dead-letter row itself is never mutated (SPEC_FULL.md's
// "Admin re-drive" semantics).
func (s *Store) Redrive(ctx context.Context, deadLetterID string) (*domain.Job, error) {
	entry, err := s.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		EventID:     entry.EventID,
		Type:        entry.Type,
		Status:      domain.JobPending,
		Payload:     entry.Payload,
		Attempts:    0,
		MaxAttempts: 3,
		RunAt:       time.Now(),
		CreatedAt:   time.Now(),
	}
	if err := s.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to redrive job: %w", err)
	}
	return job, nil
}
