package db

import (
	"context"
	"fmt"

	"github.com/memoforge/pipeline/internal/store"
)

// IndexContent inserts or replaces a row in the full-text index for a piece
// of projected content (an Action title+body, a KnowledgeItem title+body,
// or an Epic title+description). Grounded on spec §4.A's FTS5 virtual
// table; replace semantics keep re-extraction idempotent.
func (s *Store) IndexContent(ctx context.Context, kind, contentID, title, content string) error {
	if err := s.RemoveContent(ctx, kind, contentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fts_index (content_type, content_id, title, content) VALUES (?, ?, ?, ?)
	`, kind, contentID, title, content)
	if err != nil {
		return fmt.Errorf("failed to index content: %w", err)
	}
	return nil
}

// RemoveContent deletes a piece of content from the full-text index.
func (s *Store) RemoveContent(ctx context.Context, kind, contentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM fts_index WHERE content_type = ? AND content_id = ?
	`, kind, contentID)
	if err != nil {
		return fmt.Errorf("failed to remove content from index: %w", err)
	}
	return nil
}

// Search runs a ranked full-text query. sanitizedQuery must already have
// gone through domain.SanitizeFTSQuery; an empty kind searches every
// content type.
func (s *Store) Search(ctx context.Context, kind, sanitizedQuery string, limit int) ([]store.FTSResult, error) {
	if sanitizedQuery == "" {
		return nil, nil
	}

	query := `
		SELECT content_type, content_id, title,
			snippet(fts_index, 3, '<mark>', '</mark>', '...', 12) AS snippet,
			bm25(fts_index) AS score
		FROM fts_index
		WHERE fts_index MATCH ?`
	args := []interface{}{sanitizedQuery}
	if kind != "" {
		query += " AND content_type = ?"
		args = append(args, kind)
	}
	query += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	defer rows.Close()

	var results []store.FTSResult
	for rows.Next() {
		var r store.FTSResult
		if err := rows.Scan(&r.ContentType, &r.ContentID, &r.Title, &r.Snippet, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Rebuild drops and repopulates the full-text index from the current
// projection tables and active epics, with the same title/content split
// IndexContent receives on the incremental path. No HTTP route calls it;
// a full reindex after a bulk reprocess or schema change goes through it.
func (s *Store) Rebuild(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fts_index"); err != nil {
		return fmt.Errorf("failed to clear fts index: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO fts_index (content_type, content_id, title, content)
		SELECT 'action', id, title, body FROM actions
	`); err != nil {
		return fmt.Errorf("failed to reindex actions: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO fts_index (content_type, content_id, title, content)
		SELECT 'knowledge', id, title, body_md FROM knowledge_items
	`); err != nil {
		return fmt.Errorf("failed to reindex knowledge items: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO fts_index (content_type, content_id, title, content)
		SELECT 'epic', id, title, description FROM epics WHERE status = 'active'
	`); err != nil {
		return fmt.Errorf("failed to reindex epics: %w", err)
	}

	return nil
}
