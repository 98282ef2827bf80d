package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// MaxOpenActions bounds how many open actions an epic snapshot carries
// (spec §4.F: "up-to-10 open actions").
const MaxOpenActions = 10

// MaxRecentExcerpts bounds how many prior-event excerpts an epic snapshot
// carries (spec §4.F: "up-to-3 recent event excerpts").
const MaxRecentExcerpts = 3

// MaxExcerptChars is the per-excerpt truncation length.
const MaxExcerptChars = 200

// MaxKnowledgeSnippets is how many FTS-matched knowledge hits are folded
// into the prompt (spec §4.F: "top-5 FTS-matching knowledge snippets").
const MaxKnowledgeSnippets = 5

// SystemPrompt fixes the extractor's output contract (spec §4.F): a single
// JSON object, no prose, no code fences, the enumerated label set, ISO-8601
// dates, and reviewer conservatism (prefer needs_review over a confident
// guess when the transcript is ambiguous).
const SystemPrompt = `You are the extraction stage of a voice-memo processing pipeline.
Respond with exactly one JSON object and nothing else: no prose before or
after it, no markdown code fences, no commentary.

Rules:
- "labels" must be a subset of: EpicUpdate, KnowledgeNote, ActionItem, Decision, Blocker, Issue.
- Every date you emit must be ISO-8601 (e.g. "2026-08-03" or "2026-08-03T10:00:00Z").
- If you are not confident about an epic binding or a classification, set
  "needs_review" to true rather than guessing.
- Output every field the schema defines, using empty arrays/null where there
  is nothing to report.`

// SchemaDescription is embedded in the user prompt (spec §4.F point a).
const SchemaDescription = `JSON schema (top-level fields, all required):
{
  "labels": ["EpicUpdate"|"KnowledgeNote"|"ActionItem"|"Decision"|"Blocker"|"Issue", ...],
  "resolved_epic": {"epic_id": string, "confidence": number} | null,
  "epic_mentions": [{"name": string, "confidence": number}],
  "new_actions": [{"type": "follow_up"|"deadline"|"email", "title": string, "priority": "P0"|"P1"|"P2", "due_at": string|null, "mentions": [string], "body": string}],
  "new_deadlines": [{"title": string, "priority": "P0"|"P1"|"P2", "due_at": string}],
  "blockers": [{"description": string}],
  "dependencies": [{"description": string}],
  "issues": [{"description": string}],
  "knowledge_items": [{"title": string, "kind": "tech"|"decision"|"process", "tags": [string], "body_md": string}],
  "email_drafts": [{"subject": string, "body": string}],
  "needs_review": boolean,
  "evidence_snippets": [string]
}`

// EpicSnapshot is the bounded context folded into the prompt when an event
// is bound to an epic (spec §4.F point b).
type EpicSnapshot struct {
	Title          string
	Aliases        []string
	OpenBlockers   []string
	OpenDeps       []string
	OpenIssues     []string
	OpenActions    []string
	RecentExcerpts []string
}

// BuildEpicSnapshot assembles the bounded epic context from the store.
func BuildEpicSnapshot(ctx context.Context, epics store.EpicStore, projections store.ProjectionStore, epicID string) (*EpicSnapshot, error) {
	epic, err := epics.GetEpic(ctx, epicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load epic for snapshot: %w", err)
	}
	if epic == nil {
		return nil, fmt.Errorf("epic %s not found", epicID)
	}

	aliases, err := epics.ListAliases(ctx, epicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load epic aliases: %w", err)
	}
	aliasNames := make([]string, len(aliases))
	for i, a := range aliases {
		aliasNames[i] = a.Alias
	}

	blockers, deps, issues, err := projections.ListOpenByEpic(ctx, epicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open epic projections: %w", err)
	}

	actions, err := projections.ListActionsForEpic(ctx, epicID, true, MaxOpenActions)
	if err != nil {
		return nil, fmt.Errorf("failed to load open epic actions: %w", err)
	}
	actionTitles := make([]string, len(actions))
	for i, a := range actions {
		actionTitles[i] = a.Title
	}

	excerpts, err := projections.ListRecentEventExcerpts(ctx, epicID, MaxRecentExcerpts, MaxExcerptChars)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent event excerpts: %w", err)
	}

	snap := &EpicSnapshot{
		Title:          epic.Title,
		Aliases:        aliasNames,
		OpenActions:    actionTitles,
		RecentExcerpts: excerpts,
	}
	for _, b := range blockers {
		snap.OpenBlockers = append(snap.OpenBlockers, b.Description)
	}
	for _, d := range deps {
		snap.OpenDeps = append(snap.OpenDeps, d.Description)
	}
	for _, i := range issues {
		snap.OpenIssues = append(snap.OpenIssues, i.Description)
	}
	return snap, nil
}

func (s *EpicSnapshot) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Epic snapshot:\n- title: %s\n", s.Title)
	if len(s.Aliases) > 0 {
		fmt.Fprintf(&b, "- aliases: %s\n", strings.Join(s.Aliases, ", "))
	}
	renderList(&b, "open blockers", s.OpenBlockers)
	renderList(&b, "open dependencies", s.OpenDeps)
	renderList(&b, "open issues", s.OpenIssues)
	renderList(&b, "open actions", s.OpenActions)
	renderList(&b, "recent event excerpts", s.RecentExcerpts)
	return b.String()
}

func renderList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

// buildUserPrompt concatenates the schema, the epic snapshot (if any), the
// knowledge snippets, and the transcript, in the order spec §4.F lists them.
func buildUserPrompt(snapshot *EpicSnapshot, knowledgeSnippets []string, transcript string) string {
	var b strings.Builder
	b.WriteString(SchemaDescription)
	b.WriteString("\n\n")

	if snapshot != nil {
		b.WriteString(snapshot.render())
		b.WriteString("\n")
	}

	if len(knowledgeSnippets) > 0 {
		b.WriteString("Relevant knowledge snippets:\n")
		for _, snippet := range knowledgeSnippets {
			fmt.Fprintf(&b, "- %s\n", snippet)
		}
		b.WriteString("\n")
	}

	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

// buildRetryPrompt restates the output rules and names the validation
// failure, per spec §4.F's call-loop retry shape: truncate the previous
// response to 500 characters, name the error, restate the rules.
func buildRetryPrompt(previousResponse string, validationErr error) string {
	truncated := previousResponse
	if r := []rune(truncated); len(r) > 500 {
		truncated = string(r[:500])
	}
	return fmt.Sprintf(`Your previous response was invalid: %s

Previous response (truncated to 500 characters):
%s

Respond again with exactly one valid JSON object matching the schema. %s`,
		validationErr.Error(), truncated, SystemPrompt)
}
