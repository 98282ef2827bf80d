package db

import (
	"context"
	"fmt"
	"time"

	"github.com/memoforge/pipeline/internal/domain"
)

// CreateEvent inserts a new voice-memo event.
func (s *Store) CreateEvent(ctx context.Context, e *domain.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, audio_path, transcript, transcript_expires_at, status, status_reason,
			detected_command, epic_id, language, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.AudioPath, e.Transcript, e.TranscriptExpiry, e.Status, e.StatusReason,
		e.DetectedCommand, e.EpicID, e.Language, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	var e domain.Event
	err := s.db.GetContext(ctx, &e, `
		SELECT id, audio_path, transcript, transcript_expires_at, status, status_reason,
			detected_command, epic_id, language, created_at, updated_at
		FROM events WHERE id = ?
	`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

// ListEvents lists events, optionally filtered by status.
func (s *Store) ListEvents(ctx context.Context, status domain.EventStatus, limit, offset int) ([]domain.Event, error) {
	var events []domain.Event
	query := `
		SELECT id, audio_path, transcript, transcript_expires_at, status, status_reason,
			detected_command, epic_id, language, created_at, updated_at
		FROM events`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// UpdateEventStatus transitions an event to a new status with a reason.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?
	`, status, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}

// SetTranscript records the transcript text and its TTL expiry.
func (s *Store) SetTranscript(ctx context.Context, id string, transcript string, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET transcript = ?, transcript_expires_at = ?, updated_at = ? WHERE id = ?
	`, transcript, expiry, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set transcript: %w", err)
	}
	return nil
}

// ClearTranscript blanks a transcript once the TTL sweeper purges it.
func (s *Store) ClearTranscript(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET transcript = NULL, transcript_expires_at = NULL, updated_at = ? WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	return nil
}

// ClearAudioPath blanks the stored audio path once the TTL sweeper purges the file.
func (s *Store) ClearAudioPath(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET audio_path = NULL, updated_at = ? WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to clear audio path: %w", err)
	}
	return nil
}

// SetEpic assigns (or clears, with a nil epicID) the epic an event belongs to.
func (s *Store) SetEpic(ctx context.Context, id string, epicID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET epic_id = ?, updated_at = ? WHERE id = ?
	`, epicID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set event epic: %w", err)
	}
	return nil
}

// ExpiredTranscripts returns events whose transcript TTL has elapsed.
func (s *Store) ExpiredTranscripts(ctx context.Context, now time.Time) ([]domain.Event, error) {
	var events []domain.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, audio_path, transcript, transcript_expires_at, status, status_reason,
			detected_command, epic_id, language, created_at, updated_at
		FROM events
		WHERE transcript IS NOT NULL AND transcript_expires_at IS NOT NULL AND transcript_expires_at <= ?
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transcripts: %w", err)
	}
	return events, nil
}
