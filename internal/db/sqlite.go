// Package db provides SQLite-based persistence for the pipeline: connection
// bootstrap and migrations here, the Store type in store.go with its
// repository methods split across per-aggregate files, and the full-text
// index in fts.go.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection. Embeds *sqlx.DB so repository code
// can use either raw database/sql (for DDL/migrations) or sqlx's StructScan
// (for projection rows).
type DB struct {
	*sqlx.DB
	path string
}

// Open opens or creates a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer embedded store.
	sqlDB.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Enable foreign keys
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{DB: sqlx.NewDb(sqlDB, "sqlite"), path: dbPath}

	// Run migrations
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// migrate runs database migrations.
func (d *DB) migrate() error {
	// Create migrations table
	_, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var version int
	row := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1},
		{2, migration2},
		{3, migration3},
		{4, migration4},
		{5, migration5},
		{6, migration6},
		{7, migration7},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Migration 1: epics and events
const migration1 = `
CREATE TABLE IF NOT EXISTS epics (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','archived')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS epic_aliases (
    id TEXT PRIMARY KEY,
    epic_id TEXT NOT NULL REFERENCES epics(id) ON DELETE CASCADE,
    alias TEXT NOT NULL,
    normalized_alias TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_epic_aliases_epic ON epic_aliases(epic_id);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    audio_path TEXT,
    transcript TEXT,
    transcript_expires_at DATETIME,
    status TEXT NOT NULL DEFAULT 'queued'
        CHECK(status IN ('queued','transcribing','transcribed','processing','needs_review','completed','failed')),
    status_reason TEXT NOT NULL DEFAULT '',
    detected_command TEXT,
    epic_id TEXT REFERENCES epics(id),
    language TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
CREATE INDEX IF NOT EXISTS idx_events_epic ON events(epic_id);
CREATE INDEX IF NOT EXISTS idx_events_transcript_expiry ON events(transcript_expires_at) WHERE transcript IS NOT NULL;
`

// Migration 2: job queue and dead-letter
const migration2 = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    type TEXT NOT NULL CHECK(type IN ('stt','extract','reprocess','push','ttl_cleanup')),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending','running','completed','failed','retry','cancelled','dead_letter')),
    payload TEXT NOT NULL DEFAULT '{}',
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    run_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME,
    cancelled_at DATETIME,
    cancelled_by TEXT NOT NULL DEFAULT '',
    dead_letter_at DATETIME,
    dead_letter_reason TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_claimable ON jobs(status, run_at, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_event ON jobs(event_id);
CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(status, completed_at);

CREATE TABLE IF NOT EXISTS dead_letter_entries (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    type TEXT NOT NULL,
    payload TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dead_letter_job ON dead_letter_entries(job_id);
`

// Migration 3: projections (actions, mentions, blockers, dependencies, issues, knowledge)
const migration3 = `
CREATE TABLE IF NOT EXISTS actions (
    id TEXT PRIMARY KEY,
    source_event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    epic_id TEXT REFERENCES epics(id),
    type TEXT NOT NULL CHECK(type IN ('follow_up','deadline','email')),
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT 'P2' CHECK(priority IN ('P0','P1','P2')),
    due_at DATETIME,
    completed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_actions_event ON actions(source_event_id);
CREATE INDEX IF NOT EXISTS idx_actions_epic_open ON actions(epic_id, completed_at);

CREATE TABLE IF NOT EXISTS mentions (
    id TEXT PRIMARY KEY,
    action_id TEXT NOT NULL REFERENCES actions(id) ON DELETE CASCADE,
    name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mentions_action ON mentions(action_id);

CREATE TABLE IF NOT EXISTS blockers (
    id TEXT PRIMARY KEY,
    source_event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    epic_id TEXT REFERENCES epics(id),
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','resolved')),
    resolved_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_blockers_event ON blockers(source_event_id);
CREATE INDEX IF NOT EXISTS idx_blockers_epic_open ON blockers(epic_id, status);

CREATE TABLE IF NOT EXISTS dependencies (
    id TEXT PRIMARY KEY,
    source_event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    epic_id TEXT REFERENCES epics(id),
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','resolved')),
    resolved_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dependencies_event ON dependencies(source_event_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_epic_open ON dependencies(epic_id, status);

CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    source_event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    epic_id TEXT REFERENCES epics(id),
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open','resolved')),
    resolved_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_event ON issues(source_event_id);
CREATE INDEX IF NOT EXISTS idx_issues_epic_open ON issues(epic_id, status);

CREATE TABLE IF NOT EXISTS knowledge_items (
    id TEXT PRIMARY KEY,
    source_event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    epic_id TEXT REFERENCES epics(id),
    title TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('tech','decision','process')),
    tags TEXT NOT NULL DEFAULT '[]',
    body_md TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_knowledge_event ON knowledge_items(source_event_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_epic ON knowledge_items(epic_id);
`

// Migration 4: epic candidates and run log
const migration4 = `
CREATE TABLE IF NOT EXISTS event_epic_candidates (
    event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    epic_id TEXT NOT NULL REFERENCES epics(id) ON DELETE CASCADE,
    score REAL NOT NULL,
    rank INTEGER NOT NULL,
    match_type TEXT NOT NULL CHECK(match_type IN ('exact','fts')),
    PRIMARY KEY (event_id, rank)
);

CREATE TABLE IF NOT EXISTS event_runs (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    job_type TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('success','error','retry')),
    input_snapshot TEXT NOT NULL DEFAULT '',
    output_snapshot TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_event_runs_event ON event_runs(event_id);
CREATE INDEX IF NOT EXISTS idx_event_runs_type ON event_runs(job_type, created_at);
`

// Migration 5: push subscriptions and sent ledger
const migration5 = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
    id TEXT PRIMARY KEY,
    endpoint TEXT NOT NULL UNIQUE,
    p256dh TEXT NOT NULL,
    auth TEXT NOT NULL,
    user_agent TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS push_sent_ledger (
    action_id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    notification_type TEXT NOT NULL,
    sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Migration 6: full-text index
const migration6 = `
CREATE VIRTUAL TABLE IF NOT EXISTS fts_index USING fts5(
    content_type UNINDEXED,
    content_id UNINDEXED,
    title,
    content
);
`

// Migration 7: operator config
const migration7 = `
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT OR IGNORE INTO config (key, value) VALUES
    ('transcript_ttl_days', '14'),
    ('worker_poll_interval_ms', '3000'),
    ('worker_max_concurrent', '2'),
    ('cleanup_interval_hours', '24');
`

// Close closes the database connection.
func (d *DB) Close() error {
	return d.DB.Close()
}
