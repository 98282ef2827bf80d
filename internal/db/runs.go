package db

import (
	"context"
	"fmt"

	"github.com/memoforge/pipeline/internal/domain"
)

// RecordRun persists a single pipeline-step observability row (spec §4.J).
func (s *Store) RecordRun(ctx context.Context, r *domain.EventRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_runs (
			id, event_id, job_type, status, input_snapshot, output_snapshot,
			error_message, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EventID, r.JobType, r.Status, r.InputSnapshot, r.OutputSnapshot,
		r.ErrorMessage, r.DurationMS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns lists the most recent run rows for an event.
func (s *Store) ListRuns(ctx context.Context, eventID string, limit int) ([]domain.EventRun, error) {
	var runs []domain.EventRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, event_id, job_type, status, input_snapshot, output_snapshot,
			error_message, duration_ms, created_at
		FROM event_runs WHERE event_id = ? ORDER BY created_at DESC LIMIT ?
	`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
