package extract

// Result is the extractor's structured-output contract (spec §4.F). Field
// names match the wire schema exactly; validator tags enforce the
// enumerated label sets and bounded confidences the spec calls normative.
type Result struct {
	Labels           []string        `json:"labels" validate:"dive,oneof=EpicUpdate KnowledgeNote ActionItem Decision Blocker Issue"`
	ResolvedEpic     *ResolvedEpic   `json:"resolved_epic"`
	EpicMentions     []EpicMention   `json:"epic_mentions" validate:"dive"`
	NewActions       []NewAction     `json:"new_actions" validate:"dive"`
	NewDeadlines     []NewDeadline   `json:"new_deadlines" validate:"dive"`
	Blockers         []Description   `json:"blockers" validate:"dive"`
	Dependencies     []Description   `json:"dependencies" validate:"dive"`
	Issues           []Description   `json:"issues" validate:"dive"`
	KnowledgeItems   []KnowledgeItem `json:"knowledge_items" validate:"dive"`
	EmailDrafts      []EmailDraft    `json:"email_drafts" validate:"dive"`
	NeedsReview      bool            `json:"needs_review"`
	EvidenceSnippets []string        `json:"evidence_snippets"`
}

// ResolvedEpic is the LLM's own epic-binding decision for the event.
type ResolvedEpic struct {
	EpicID     string  `json:"epic_id" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// EpicMention is a named epic reference surfaced in the transcript.
type EpicMention struct {
	Name       string  `json:"name" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// NewAction is a follow-up item the extractor should project as an Action.
type NewAction struct {
	Type     string   `json:"type" validate:"required,oneof=follow_up deadline email"`
	Title    string   `json:"title" validate:"required"`
	Priority string   `json:"priority" validate:"required,oneof=P0 P1 P2"`
	DueAt    *string  `json:"due_at,omitempty"`
	Mentions []string `json:"mentions"`
	Body     string   `json:"body"`
}

// NewDeadline is projected as an Action of type "deadline".
type NewDeadline struct {
	Title    string `json:"title" validate:"required"`
	Priority string `json:"priority" validate:"required,oneof=P0 P1 P2"`
	DueAt    string `json:"due_at" validate:"required"`
}

// Description is the shared shape for blockers/dependencies/issues.
type Description struct {
	Description string `json:"description" validate:"required"`
}

// KnowledgeItem is projected verbatim into internal/domain.KnowledgeItem.
type KnowledgeItem struct {
	Title  string   `json:"title" validate:"required"`
	Kind   string   `json:"kind" validate:"required,oneof=tech decision process"`
	Tags   []string `json:"tags"`
	BodyMD string   `json:"body_md"`
}

// EmailDraft is projected as a P2 Action of type "email".
type EmailDraft struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}
