package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/memoforge/pipeline/internal/domain"
)

// ReplaceCandidates atomically clears and re-inserts the ranked epic
// candidates for an event, matching the Epic Matcher's single-shot ranking
// output (spec §4.E).
func (s *Store) ReplaceCandidates(ctx context.Context, eventID string, candidates []domain.EventEpicCandidate) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM event_epic_candidates WHERE event_id = ?", eventID); err != nil {
			return fmt.Errorf("failed to clear candidates: %w", err)
		}
		for _, c := range candidates {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO event_epic_candidates (event_id, epic_id, score, rank, match_type)
				VALUES (?, ?, ?, ?, ?)
			`, c.EventID, c.EpicID, c.Score, c.Rank, c.MatchType); err != nil {
				return fmt.Errorf("failed to insert candidate: %w", err)
			}
		}
		return nil
	})
}

// ClearCandidates removes every candidate recorded for an event.
func (s *Store) ClearCandidates(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM event_epic_candidates WHERE event_id = ?", eventID)
	if err != nil {
		return fmt.Errorf("failed to clear candidates: %w", err)
	}
	return nil
}

// ListCandidates lists the ranked candidates for an event, joined with the
// epic title for display.
func (s *Store) ListCandidates(ctx context.Context, eventID string) ([]domain.EventEpicCandidate, error) {
	var candidates []domain.EventEpicCandidate
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT event_id, epic_id, score, rank, match_type
		FROM event_epic_candidates
		WHERE event_id = ?
		ORDER BY rank ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	for i := range candidates {
		var title string
		if err := s.db.GetContext(ctx, &title, "SELECT title FROM epics WHERE id = ?", candidates[i].EpicID); err == nil {
			candidates[i].Title = title
		}
	}
	return candidates, nil
}
