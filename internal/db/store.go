package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/memoforge/pipeline/internal/store"
)

var (
	_ store.EventStore      = (*Store)(nil)
	_ store.EpicStore       = (*Store)(nil)
	_ store.ProjectionStore = (*Store)(nil)
	_ store.CandidateStore  = (*Store)(nil)
	_ store.JobStore        = (*Store)(nil)
	_ store.FTSStore        = (*Store)(nil)
	_ store.RunStore        = (*Store)(nil)
	_ store.PushStore       = (*Store)(nil)
	_ store.ConfigStore     = (*Store)(nil)
)

// Store implements every repository interface in internal/store against a
// single sqlite-backed *DB. Grounded on the teacher's db.Store: one struct
// wrapping *DB, one method group per domain concern, split here across
// events.go/epics.go/jobs.go/projections.go/candidates.go/runs.go/push.go/
// config.go/fts.go instead of one file.
type Store struct {
	db *DB
}

// NewStore creates a new sqlite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// withTx runs fn inside a transaction, committing on success and rolling
// back otherwise. Grounded on the teacher's UpdateTicketStatus transaction
// idiom (Store.UpdateTicketStatus in the original internal/db/store.go).
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
