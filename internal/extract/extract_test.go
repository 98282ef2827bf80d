package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/db"
	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/llmproc"
	"github.com/memoforge/pipeline/internal/queue"
)

type fakeChat struct {
	responses []string
	calls     int
}

func (f *fakeChat) ChatCompletions(ctx context.Context, messages []llmproc.Message, opts llmproc.ChatOptions) (*llmproc.ChatResponse, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return chatResponseFrom(f.responses[idx]), nil
}

func chatResponseFrom(content string) *llmproc.ChatResponse {
	raw := fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%s}}]}`, strconv.Quote(content))
	var resp llmproc.ChatResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		panic(err)
	}
	return &resp
}

func newTestExtractor(t *testing.T, chat ChatCompleter) (*Extractor, *db.Store) {
	t.Helper()
	tmp := t.TempDir()
	sqlDB, err := db.Open(filepath.Join(tmp, "memoforge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewStore(sqlDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := queue.New(store, logger)

	return New(store, store, store, store, store, store, jobs, chat, logger), store
}

func createEvent(t *testing.T, store *db.Store, transcript string, epicID *string) *domain.Event {
	t.Helper()
	ev := &domain.Event{
		ID:         uuid.NewString(),
		Transcript: &transcript,
		Status:     domain.EventTranscribed,
		EpicID:     epicID,
		Language:   "en",
	}
	if err := store.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func createEpic(t *testing.T, store *db.Store, title string) *domain.Epic {
	t.Helper()
	epic := &domain.Epic{ID: uuid.NewString(), Title: title, Status: domain.EpicActive}
	if err := store.CreateEpic(context.Background(), epic); err != nil {
		t.Fatalf("create epic: %v", err)
	}
	return epic
}

func TestProcessEventHappyPath(t *testing.T) {
	ctx := context.Background()

	chat := &fakeChat{responses: []string{
		`{"labels":["ActionItem"],"resolved_epic":{"epic_id":"EPIC_ID","confidence":0.9},"epic_mentions":[],"new_actions":[{"type":"follow_up","title":"Check DB migration","priority":"P1","due_at":null,"mentions":["Ana"],"body":""}],"new_deadlines":[],"blockers":[],"dependencies":[],"issues":[],"knowledge_items":[],"email_drafts":[],"needs_review":false,"evidence_snippets":[]}`,
	}}
	x, store := newTestExtractor(t, chat)

	epic := createEpic(t, store, "Migration Project")
	chat.responses[0] = strings.ReplaceAll(chat.responses[0], "EPIC_ID", epic.ID)

	epicID := epic.ID
	event := createEvent(t, store, "we need to check the database migration plan with ana", &epicID)

	if err := x.ProcessEvent(ctx, event.ID); err != nil {
		t.Fatalf("process event: %v", err)
	}

	got, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != domain.EventCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.StatusReason)
	}

	actions, err := store.ListActionsForEpic(ctx, epic.ID, false, 10)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Title != "Check DB migration" {
		t.Fatalf("expected one action, got %+v", actions)
	}

	runs, err := store.ListRuns(ctx, event.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.RunSuccess {
		t.Fatalf("expected one success run, got %+v", runs)
	}

	jobs, err := store.ListJobs(ctx, domain.JobPending, 10, 0)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	foundPush := false
	for _, j := range jobs {
		if j.Type == domain.JobPush {
			foundPush = true
		}
	}
	if !foundPush {
		t.Fatalf("expected a push job enqueued for the P1 action, got %+v", jobs)
	}
}

func TestProcessEventMissingTranscriptFails(t *testing.T) {
	ctx := context.Background()
	x, store := newTestExtractor(t, &fakeChat{responses: []string{"{}"}})

	event := &domain.Event{ID: uuid.NewString(), Status: domain.EventTranscribed, Language: "en"}
	if err := store.CreateEvent(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}

	err := x.ProcessEvent(ctx, event.ID)
	if err == nil {
		t.Fatalf("expected error for missing transcript")
	}
	if IsRetryable(err) {
		t.Fatalf("expected non-retryable error for missing transcript")
	}

	got, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != domain.EventFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
}

func TestProcessEventInvalidJSONThriceFails(t *testing.T) {
	ctx := context.Background()
	chat := &fakeChat{responses: []string{"not json", "still not json", "nope"}}
	x, store := newTestExtractor(t, chat)

	event := createEvent(t, store, "some transcript with no clear epic", nil)

	err := x.ProcessEvent(ctx, event.ID)
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if IsRetryable(err) {
		t.Fatalf("expected non-retryable error after exhausting schema-validation attempts")
	}
	if chat.calls != MaxCallAttempts {
		t.Fatalf("expected %d llm calls, got %d", MaxCallAttempts, chat.calls)
	}

	got, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != domain.EventFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
	if !strings.HasPrefix(got.StatusReason, "Failed after 3 attempts") {
		t.Fatalf("expected status_reason to start with 'Failed after 3 attempts', got %q", got.StatusReason)
	}

	actions, err := store.ListActionsForEpic(ctx, "nonexistent", false, 10)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no projections written on failure, got %+v", actions)
	}
}

func TestReprocessOverridesExistingProjections(t *testing.T) {
	ctx := context.Background()

	first := `{"labels":["ActionItem"],"resolved_epic":null,"epic_mentions":[],"new_actions":[{"type":"follow_up","title":"Original action","priority":"P2","due_at":null,"mentions":[],"body":""}],"new_deadlines":[],"blockers":[],"dependencies":[],"issues":[],"knowledge_items":[{"title":"Note","kind":"tech","tags":[],"body_md":"body"}],"email_drafts":[],"needs_review":false,"evidence_snippets":[]}`
	chat := &fakeChat{responses: []string{first}}
	x, store := newTestExtractor(t, chat)

	epicA := createEpic(t, store, "Epic A")
	epicB := createEpic(t, store, "Epic B")

	epicAID := epicA.ID
	event := createEvent(t, store, "some memo about epic a", &epicAID)
	if err := x.ProcessEvent(ctx, event.ID); err != nil {
		t.Fatalf("initial process: %v", err)
	}

	second := `{"labels":["ActionItem"],"resolved_epic":null,"epic_mentions":[],"new_actions":[{"type":"follow_up","title":"Reprocessed action","priority":"P2","due_at":null,"mentions":[],"body":""}],"new_deadlines":[],"blockers":[],"dependencies":[],"issues":[],"knowledge_items":[],"email_drafts":[],"needs_review":false,"evidence_snippets":[]}`
	chat.responses = []string{second}
	chat.calls = 0

	if err := x.Reprocess(ctx, event.ID, epicB.ID, "operator override"); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	got, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != domain.EventCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.EpicID == nil || *got.EpicID != epicB.ID {
		t.Fatalf("expected event rebound to epic B, got %+v", got.EpicID)
	}

	actionsA, err := store.ListActionsForEpic(ctx, epicA.ID, false, 10)
	if err != nil {
		t.Fatalf("list actions a: %v", err)
	}
	if len(actionsA) != 0 {
		t.Fatalf("expected epic A's action removed by reprocess, got %+v", actionsA)
	}

	actionsB, err := store.ListActionsForEpic(ctx, epicB.ID, false, 10)
	if err != nil {
		t.Fatalf("list actions b: %v", err)
	}
	if len(actionsB) != 1 || actionsB[0].Title != "Reprocessed action" {
		t.Fatalf("expected reprocessed action under epic B, got %+v", actionsB)
	}

	candidates, err := store.ListCandidates(ctx, event.ID)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected candidates cleared after reprocess, got %+v", candidates)
	}
}
