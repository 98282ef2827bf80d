// Package store defines the repository interfaces the pipeline components
// depend on. internal/db provides the sqlite-backed implementation; tests
// may provide fakes. The split mirrors the teacher's kanban.StateStore /
// db.Store separation.
package store

import (
	"context"
	"time"

	"github.com/memoforge/pipeline/internal/domain"
)

// EventStore persists voice-memo events.
type EventStore interface {
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, status domain.EventStatus, limit, offset int) ([]domain.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status domain.EventStatus, reason string) error
	SetTranscript(ctx context.Context, id string, transcript string, expiry time.Time) error
	ClearTranscript(ctx context.Context, id string) error
	ClearAudioPath(ctx context.Context, id string) error
	SetEpic(ctx context.Context, id string, epicID *string) error
	ExpiredTranscripts(ctx context.Context, now time.Time) ([]domain.Event, error)
}

// EpicStore persists epics and their aliases.
type EpicStore interface {
	CreateEpic(ctx context.Context, e *domain.Epic) error
	UpdateEpic(ctx context.Context, e *domain.Epic) error
	ArchiveEpic(ctx context.Context, id string) error
	GetEpic(ctx context.Context, id string) (*domain.Epic, error)
	ListEpics(ctx context.Context, status domain.EpicStatus) ([]domain.Epic, error)
	AddAlias(ctx context.Context, a *domain.EpicAlias) error
	FindByNormalizedAlias(ctx context.Context, normalized string) (*domain.EpicAlias, error)
	ListAliases(ctx context.Context, epicID string) ([]domain.EpicAlias, error)
}

// ProjectionStore persists Actions, Mentions, Blockers, Dependencies,
// Issues, and KnowledgeItems, and supports the idempotent delete-then-insert
// required by the extractor (spec §4.F).
type ProjectionStore interface {
	DeleteProjectionsForEvent(ctx context.Context, eventID string) error
	InsertAction(ctx context.Context, a *domain.Action, mentions []string) error
	InsertBlocker(ctx context.Context, b *domain.Blocker) error
	InsertDependency(ctx context.Context, d *domain.Dependency) error
	InsertIssue(ctx context.Context, i *domain.Issue) error
	InsertKnowledgeItem(ctx context.Context, k *domain.KnowledgeItem) error
	GetAction(ctx context.Context, id string) (*domain.Action, error)

	ListActionsForEpic(ctx context.Context, epicID string, onlyOpen bool, limit int) ([]domain.Action, error)
	ListOpenByEpic(ctx context.Context, epicID string) (blockers []domain.Blocker, deps []domain.Dependency, issues []domain.Issue, err error)
	ListRecentEventExcerpts(ctx context.Context, epicID string, limit int, maxChars int) ([]string, error)
}

// CandidateStore persists the ranked epic candidates for an event.
type CandidateStore interface {
	ReplaceCandidates(ctx context.Context, eventID string, candidates []domain.EventEpicCandidate) error
	ClearCandidates(ctx context.Context, eventID string) error
	ListCandidates(ctx context.Context, eventID string) ([]domain.EventEpicCandidate, error)
}

// JobStore is the durable job queue persistence layer (spec §4.B).
type JobStore interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Claim(ctx context.Context, now time.Time) (*domain.Job, error)
	Complete(ctx context.Context, id string, completedAt time.Time) error
	Fail(ctx context.Context, id string, message string, retryable bool, nextRunAt time.Time) error
	Cancel(ctx context.Context, id string, by string, now time.Time) (bool, error)
	PurgeOldJobs(ctx context.Context, olderThan time.Time) (int64, error)
	Stats(ctx context.Context) (map[domain.JobStatus]int64, int64, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.Job, error)
	ListJobsForEvent(ctx context.Context, eventID string) ([]domain.Job, error)
	ListDeadLetter(ctx context.Context, limit, offset int) ([]domain.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	Redrive(ctx context.Context, deadLetterID string) (*domain.Job, error)
}

// FTSStore is the full-text index over action/knowledge/epic content.
type FTSStore interface {
	IndexContent(ctx context.Context, kind, contentID, title, content string) error
	RemoveContent(ctx context.Context, kind, contentID string) error
	Search(ctx context.Context, kind, sanitizedQuery string, limit int) ([]FTSResult, error)
	Rebuild(ctx context.Context) error
}

// FTSResult is a single ranked full-text hit.
type FTSResult struct {
	ContentType string
	ContentID   string
	Title       string
	Snippet     string
	Score       float64
}

// RunStore records observability rows for every pipeline step.
type RunStore interface {
	RecordRun(ctx context.Context, r *domain.EventRun) error
	ListRuns(ctx context.Context, eventID string, limit int) ([]domain.EventRun, error)
}

// PushStore persists push subscriptions and the sent-notification ledger.
type PushStore interface {
	ListSubscriptions(ctx context.Context) ([]domain.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	AddSubscription(ctx context.Context, s *domain.PushSubscription) error
	WasSent(ctx context.Context, actionID string) (bool, error)
	RecordSent(ctx context.Context, sent *domain.PushSent) error
}

// ConfigStore reads operator-configurable key/value settings.
type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error
}
