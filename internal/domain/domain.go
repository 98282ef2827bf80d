// Package domain defines the core data model shared across the pipeline:
// voice-memo events, the epics they belong to, the projections extracted
// from them, and the jobs that drive the pipeline forward.
package domain

import "time"

// EventStatus is the lifecycle state of a voice-memo event.
type EventStatus string

const (
	EventQueued       EventStatus = "queued"
	EventTranscribing EventStatus = "transcribing"
	EventTranscribed  EventStatus = "transcribed"
	EventProcessing   EventStatus = "processing"
	EventNeedsReview  EventStatus = "needs_review"
	EventCompleted    EventStatus = "completed"
	EventFailed       EventStatus = "failed"
)

// Event is the originating voice memo and its lifecycle.
type Event struct {
	ID                string      `db:"id" json:"id"`
	AudioPath         *string     `db:"audio_path" json:"audioPath,omitempty"`
	Transcript        *string     `db:"transcript" json:"transcript,omitempty"`
	TranscriptExpiry  *time.Time  `db:"transcript_expires_at" json:"transcriptExpiry,omitempty"`
	Status            EventStatus `db:"status" json:"status"`
	StatusReason      string      `db:"status_reason" json:"statusReason,omitempty"`
	DetectedCommand   *string     `db:"detected_command" json:"detectedCommand,omitempty"`
	EpicID            *string     `db:"epic_id" json:"epicId,omitempty"`
	Language          string      `db:"language" json:"language,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updatedAt"`
}

// EpicStatus is the lifecycle state of an epic.
type EpicStatus string

const (
	EpicActive   EpicStatus = "active"
	EpicArchived EpicStatus = "archived"
)

// Epic is a long-lived project container that groups many events' projections.
type Epic struct {
	ID          string     `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description,omitempty"`
	Status      EpicStatus `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// EpicAlias is an alternate name an epic can be referred to by in speech.
// NormalizedAlias is unique across the whole alias table, not just per-epic.
type EpicAlias struct {
	ID              string `db:"id" json:"id"`
	EpicID          string `db:"epic_id" json:"epicId"`
	Alias           string `db:"alias" json:"alias"`
	NormalizedAlias string `db:"normalized_alias" json:"normalizedAlias"`
}

// NormalizeAlias lowercases, trims, and collapses internal whitespace, per spec §3.
func NormalizeAlias(s string) string {
	return normalizeWhitespace(s)
}

// ActionType distinguishes the three shapes an Action projection can take.
type ActionType string

const (
	ActionFollowUp ActionType = "follow_up"
	ActionDeadline ActionType = "deadline"
	ActionEmail    ActionType = "email"
)

// Priority is the urgency of an action, used both for push-notification
// gating and for operator triage.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// Action is a projection representing a follow-up, deadline, or email draft
// extracted from an event.
type Action struct {
	ID            string     `db:"id" json:"id"`
	SourceEventID string     `db:"source_event_id" json:"sourceEventId"`
	EpicID        *string    `db:"epic_id" json:"epicId,omitempty"`
	Type          ActionType `db:"type" json:"type"`
	Title         string     `db:"title" json:"title"`
	Body          string     `db:"body" json:"body,omitempty"`
	Priority      Priority   `db:"priority" json:"priority"`
	DueAt         *time.Time `db:"due_at" json:"dueAt,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Mention is a named person referenced by an Action.
type Mention struct {
	ID       string `db:"id" json:"id"`
	ActionID string `db:"action_id" json:"actionId"`
	Name     string `db:"name" json:"name"`
}

// ProjectionStatus is shared by Blocker/Dependency/Issue.
type ProjectionStatus string

const (
	ProjectionOpen     ProjectionStatus = "open"
	ProjectionResolved ProjectionStatus = "resolved"
)

// Blocker is a projection representing an open or resolved obstacle.
type Blocker struct {
	ID            string           `db:"id" json:"id"`
	SourceEventID string           `db:"source_event_id" json:"sourceEventId"`
	EpicID        *string          `db:"epic_id" json:"epicId,omitempty"`
	Description   string           `db:"description" json:"description"`
	Status        ProjectionStatus `db:"status" json:"status"`
	ResolvedAt    *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
}

// Dependency is a projection representing a cross-team or cross-system dependency.
type Dependency struct {
	ID            string           `db:"id" json:"id"`
	SourceEventID string           `db:"source_event_id" json:"sourceEventId"`
	EpicID        *string          `db:"epic_id" json:"epicId,omitempty"`
	Description   string           `db:"description" json:"description"`
	Status        ProjectionStatus `db:"status" json:"status"`
	ResolvedAt    *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
}

// Issue is a projection representing a reported problem.
type Issue struct {
	ID            string           `db:"id" json:"id"`
	SourceEventID string           `db:"source_event_id" json:"sourceEventId"`
	EpicID        *string          `db:"epic_id" json:"epicId,omitempty"`
	Description   string           `db:"description" json:"description"`
	Status        ProjectionStatus `db:"status" json:"status"`
	ResolvedAt    *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
}

// KnowledgeKind classifies a KnowledgeItem.
type KnowledgeKind string

const (
	KnowledgeTech     KnowledgeKind = "tech"
	KnowledgeDecision KnowledgeKind = "decision"
	KnowledgeProcess  KnowledgeKind = "process"
)

// KnowledgeItem is a projection capturing durable knowledge surfaced in a memo.
type KnowledgeItem struct {
	ID            string        `db:"id" json:"id"`
	SourceEventID string        `db:"source_event_id" json:"sourceEventId"`
	EpicID        *string       `db:"epic_id" json:"epicId,omitempty"`
	Title         string        `db:"title" json:"title"`
	Kind          KnowledgeKind `db:"kind" json:"kind"`
	Tags          []string      `db:"-" json:"tags"`
	TagsJSON      string        `db:"tags" json:"-"`
	BodyMD        string        `db:"body_md" json:"bodyMd"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
}

// JobType is the tagged-variant discriminator for a Job's payload.
type JobType string

const (
	JobSTT         JobType = "stt"
	JobExtract     JobType = "extract"
	JobReprocess   JobType = "reprocess"
	JobPush        JobType = "push"
	JobTTLCleanup  JobType = "ttl_cleanup"
)

// JobStatus is the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetry      JobStatus = "retry"
	JobCancelled  JobStatus = "cancelled"
	JobDeadLetter JobStatus = "dead_letter"
)

// Job is a unit of scheduled pipeline work.
type Job struct {
	ID             string     `db:"id" json:"id"`
	EventID        string     `db:"event_id" json:"eventId"`
	Type           JobType    `db:"type" json:"type"`
	Status         JobStatus  `db:"status" json:"status"`
	Payload        string     `db:"payload" json:"payload"`
	Attempts       int        `db:"attempts" json:"attempts"`
	MaxAttempts    int        `db:"max_attempts" json:"maxAttempts"`
	RunAt          time.Time  `db:"run_at" json:"runAt"`
	StartedAt      *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CancelledBy    string     `db:"cancelled_by" json:"cancelledBy,omitempty"`
	DeadLetterAt   *time.Time `db:"dead_letter_at" json:"deadLetterAt,omitempty"`
	DeadLetterWhy  string     `db:"dead_letter_reason" json:"deadLetterReason,omitempty"`
	ErrorMessage   string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// DeadLetterEntry is an immutable copy of a job that exhausted its retry budget.
type DeadLetterEntry struct {
	ID           string    `db:"id" json:"id"`
	JobID        string    `db:"job_id" json:"jobId"`
	EventID      string    `db:"event_id" json:"eventId"`
	Type         JobType   `db:"type" json:"type"`
	Payload      string    `db:"payload" json:"payload"`
	Attempts     int       `db:"attempts" json:"attempts"`
	ErrorMessage string    `db:"error_message" json:"errorMessage"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// MatchType distinguishes how an epic candidate was found.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFTS   MatchType = "fts"
)

// EventEpicCandidate is a ranked potential epic match for an event.
type EventEpicCandidate struct {
	EventID    string    `db:"event_id" json:"eventId"`
	EpicID     string    `db:"epic_id" json:"epicId"`
	Title      string    `db:"-" json:"title"`
	Score      float64   `db:"score" json:"score"`
	Rank       int       `db:"rank" json:"rank"`
	MatchType  MatchType `db:"match_type" json:"matchType"`
}

// RunStatus is the outcome recorded for one pipeline step.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunRetry   RunStatus = "retry"
)

// EventRun is an observability row recorded for every pipeline step.
type EventRun struct {
	ID             string    `db:"id" json:"id"`
	EventID        string    `db:"event_id" json:"eventId"`
	JobType        JobType   `db:"job_type" json:"jobType"`
	Status         RunStatus `db:"status" json:"status"`
	InputSnapshot  string    `db:"input_snapshot" json:"inputSnapshot,omitempty"`
	OutputSnapshot string    `db:"output_snapshot" json:"outputSnapshot,omitempty"`
	ErrorMessage   string    `db:"error_message" json:"errorMessage,omitempty"`
	DurationMS     int64     `db:"duration_ms" json:"durationMs"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// PushSubscription is a stored Web Push endpoint.
type PushSubscription struct {
	ID        string    `db:"id" json:"id"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	PublicKey string    `db:"p256dh" json:"publicKey"`
	AuthKey   string    `db:"auth" json:"authKey"`
	UserAgent string    `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PushSent records that a notification was delivered for an action so
// reprocessing the same event does not re-notify.
type PushSent struct {
	ActionID         string    `db:"action_id" json:"actionId"`
	EventID          string    `db:"event_id" json:"eventId"`
	NotificationType string    `db:"notification_type" json:"notificationType"`
	SentAt           time.Time `db:"sent_at" json:"sentAt"`
}
