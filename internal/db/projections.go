package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/memoforge/pipeline/internal/domain"
)

// DeleteProjectionsForEvent removes every projection row that a previous
// extraction run for this event produced. Called before every projection
// write, on both the extract and the reprocess path, so the subsequent
// inserts are idempotent (spec §4.F).
func (s *Store) DeleteProjectionsForEvent(ctx context.Context, eventID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		tables := []string{"actions", "blockers", "dependencies", "issues", "knowledge_items"}
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE source_event_id = ?", eventID); err != nil {
				return fmt.Errorf("failed to delete %s for event: %w", table, err)
			}
		}
		return nil
	})
}

// InsertAction inserts an Action projection and its mentions in one
// transaction.
func (s *Store) InsertAction(ctx context.Context, a *domain.Action, mentions []string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO actions (
				id, source_event_id, epic_id, type, title, body, priority, due_at, completed_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.SourceEventID, a.EpicID, a.Type, a.Title, a.Body, a.Priority, a.DueAt, a.CompletedAt, a.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert action: %w", err)
		}

		for _, name := range mentions {
			if strings.TrimSpace(name) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mentions (id, action_id, name) VALUES (?, ?, ?)
			`, mentionID(a.ID, name), a.ID, name); err != nil {
				return fmt.Errorf("failed to insert mention: %w", err)
			}
		}
		return nil
	})
}

func mentionID(actionID, name string) string {
	return actionID + ":" + name
}

// InsertBlocker inserts a Blocker projection.
func (s *Store) InsertBlocker(ctx context.Context, b *domain.Blocker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blockers (id, source_event_id, epic_id, description, status, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.SourceEventID, b.EpicID, b.Description, b.Status, b.ResolvedAt, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert blocker: %w", err)
	}
	return nil
}

// InsertDependency inserts a Dependency projection.
func (s *Store) InsertDependency(ctx context.Context, d *domain.Dependency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dependencies (id, source_event_id, epic_id, description, status, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.SourceEventID, d.EpicID, d.Description, d.Status, d.ResolvedAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}
	return nil
}

// InsertIssue inserts an Issue projection.
func (s *Store) InsertIssue(ctx context.Context, i *domain.Issue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, source_event_id, epic_id, description, status, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, i.ID, i.SourceEventID, i.EpicID, i.Description, i.Status, i.ResolvedAt, i.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert issue: %w", err)
	}
	return nil
}

// InsertKnowledgeItem inserts a KnowledgeItem projection, serializing tags.
func (s *Store) InsertKnowledgeItem(ctx context.Context, k *domain.KnowledgeItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_items (id, source_event_id, epic_id, title, kind, tags, body_md, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.SourceEventID, k.EpicID, k.Title, k.Kind, k.TagsJSON, k.BodyMD, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge item: %w", err)
	}
	return nil
}

// GetAction retrieves a single action projection by id, returning nil if
// it does not exist (a previously-enqueued push job may outlive an action
// that was since deleted by a reprocess).
func (s *Store) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	var a domain.Action
	err := s.db.GetContext(ctx, &a, `
		SELECT id, source_event_id, epic_id, type, title, body, priority, due_at, completed_at, created_at
		FROM actions WHERE id = ?
	`, id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return &a, nil
}

// ListActionsForEpic lists actions belonging to an epic, optionally
// restricted to open (not-yet-completed) ones.
func (s *Store) ListActionsForEpic(ctx context.Context, epicID string, onlyOpen bool, limit int) ([]domain.Action, error) {
	var actions []domain.Action
	query := `
		SELECT id, source_event_id, epic_id, type, title, body, priority, due_at, completed_at, created_at
		FROM actions WHERE epic_id = ?`
	if onlyOpen {
		query += " AND completed_at IS NULL"
	}
	query += " ORDER BY priority, created_at DESC LIMIT ?"

	if err := s.db.SelectContext(ctx, &actions, query, epicID, limit); err != nil {
		return nil, fmt.Errorf("failed to list actions for epic: %w", err)
	}
	return actions, nil
}

// ListOpenByEpic returns every open blocker, dependency, and issue for an
// epic, used to build the context snapshot handed to the Extractor (§4.F).
func (s *Store) ListOpenByEpic(ctx context.Context, epicID string) ([]domain.Blocker, []domain.Dependency, []domain.Issue, error) {
	var blockers []domain.Blocker
	if err := s.db.SelectContext(ctx, &blockers, `
		SELECT id, source_event_id, epic_id, description, status, resolved_at, created_at
		FROM blockers WHERE epic_id = ? AND status = 'open' ORDER BY created_at DESC
	`, epicID); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list open blockers: %w", err)
	}

	var deps []domain.Dependency
	if err := s.db.SelectContext(ctx, &deps, `
		SELECT id, source_event_id, epic_id, description, status, resolved_at, created_at
		FROM dependencies WHERE epic_id = ? AND status = 'open' ORDER BY created_at DESC
	`, epicID); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list open dependencies: %w", err)
	}

	var issues []domain.Issue
	if err := s.db.SelectContext(ctx, &issues, `
		SELECT id, source_event_id, epic_id, description, status, resolved_at, created_at
		FROM issues WHERE epic_id = ? AND status = 'open' ORDER BY created_at DESC
	`, epicID); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list open issues: %w", err)
	}

	return blockers, deps, issues, nil
}

// ListRecentEventExcerpts returns the most recent transcript excerpts for an
// epic, truncated to maxChars each, for the Extractor's context snapshot.
func (s *Store) ListRecentEventExcerpts(ctx context.Context, epicID string, limit int, maxChars int) ([]string, error) {
	var transcripts []string
	err := s.db.SelectContext(ctx, &transcripts, `
		SELECT transcript FROM events
		WHERE epic_id = ? AND transcript IS NOT NULL
		ORDER BY created_at DESC LIMIT ?
	`, epicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent event excerpts: %w", err)
	}

	excerpts := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		if r := []rune(t); len(r) > maxChars {
			t = string(r[:maxChars])
		}
		excerpts = append(excerpts, t)
	}
	return excerpts, nil
}
