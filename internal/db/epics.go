package db

import (
	"context"
	"fmt"
	"time"

	"github.com/memoforge/pipeline/internal/domain"
)

// CreateEpic inserts a new epic and indexes it for full-text search, the
// same way internal/extract/project.go indexes knowledge items and actions
// as it writes them (spec §3: "the full-text index contains exactly one row
// per live Action/KnowledgeItem/Epic").
func (s *Store) CreateEpic(ctx context.Context, e *domain.Epic) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epics (id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Title, e.Description, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create epic: %w", err)
	}
	if e.Status == domain.EpicActive {
		if err := s.IndexContent(ctx, "epic", e.ID, e.Title, e.Description); err != nil {
			return fmt.Errorf("failed to index epic: %w", err)
		}
	}
	return nil
}

// UpdateEpic persists a title/description/status change and keeps the
// full-text index in sync: active epics are (re)indexed, non-active epics
// are removed from the index since only live epics should be FTS-matchable
// (spec §4.E step 2 restricts the FTS stage to active epics).
func (s *Store) UpdateEpic(ctx context.Context, e *domain.Epic) error {
	e.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE epics SET title = ?, description = ?, status = ?, updated_at = ? WHERE id = ?
	`, e.Title, e.Description, e.Status, e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update epic: %w", err)
	}
	if e.Status == domain.EpicActive {
		if err := s.IndexContent(ctx, "epic", e.ID, e.Title, e.Description); err != nil {
			return fmt.Errorf("failed to reindex epic: %w", err)
		}
	} else {
		if err := s.RemoveContent(ctx, "epic", e.ID); err != nil {
			return fmt.Errorf("failed to remove epic from index: %w", err)
		}
	}
	return nil
}

// ArchiveEpic marks an epic archived and removes it from the full-text
// index; archived epics are no longer "live" and must not be FTS-matchable,
// though their projection rows and aliases survive (spec §8.4 "projection
// rows survive epic archival").
func (s *Store) ArchiveEpic(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE epics SET status = ?, updated_at = ? WHERE id = ?
	`, domain.EpicArchived, now, id)
	if err != nil {
		return fmt.Errorf("failed to archive epic: %w", err)
	}
	if err := s.RemoveContent(ctx, "epic", id); err != nil {
		return fmt.Errorf("failed to remove archived epic from index: %w", err)
	}
	return nil
}

// GetEpic retrieves an epic by ID.
func (s *Store) GetEpic(ctx context.Context, id string) (*domain.Epic, error) {
	var e domain.Epic
	err := s.db.GetContext(ctx, &e, `
		SELECT id, title, description, status, created_at, updated_at FROM epics WHERE id = ?
	`, id)
	if isNoRows(err) {
		return nil, fmt.Errorf("epic not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epic: %w", err)
	}
	return &e, nil
}

// ListEpics lists epics, optionally filtered by status.
func (s *Store) ListEpics(ctx context.Context, status domain.EpicStatus) ([]domain.Epic, error) {
	var epics []domain.Epic
	query := `SELECT id, title, description, status, created_at, updated_at FROM epics`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY title"

	if err := s.db.SelectContext(ctx, &epics, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}
	return epics, nil
}

// AddAlias adds a new alias for an epic. The normalized form must be unique
// across the whole alias table (spec §3).
func (s *Store) AddAlias(ctx context.Context, a *domain.EpicAlias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epic_aliases (id, epic_id, alias, normalized_alias) VALUES (?, ?, ?, ?)
	`, a.ID, a.EpicID, a.Alias, a.NormalizedAlias)
	if err != nil {
		return fmt.Errorf("failed to add epic alias: %w", err)
	}
	return nil
}

// FindByNormalizedAlias looks up an alias by its normalized form, joined to
// confirm the owning epic is still active (spec §4.E step 1).
func (s *Store) FindByNormalizedAlias(ctx context.Context, normalized string) (*domain.EpicAlias, error) {
	var a domain.EpicAlias
	err := s.db.GetContext(ctx, &a, `
		SELECT epic_aliases.id, epic_aliases.epic_id, epic_aliases.alias, epic_aliases.normalized_alias
		FROM epic_aliases
		JOIN epics ON epics.id = epic_aliases.epic_id
		WHERE epic_aliases.normalized_alias = ? AND epics.status = 'active'
	`, normalized)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alias: %w", err)
	}
	return &a, nil
}

// ListAliases lists every alias registered for an epic.
func (s *Store) ListAliases(ctx context.Context, epicID string) ([]domain.EpicAlias, error) {
	var aliases []domain.EpicAlias
	err := s.db.SelectContext(ctx, &aliases, `
		SELECT id, epic_id, alias, normalized_alias FROM epic_aliases WHERE epic_id = ?
	`, epicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	return aliases, nil
}
