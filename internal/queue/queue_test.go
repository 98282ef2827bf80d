package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoforge/pipeline/internal/db"
	"github.com/memoforge/pipeline/internal/domain"
)

func TestNextRetryDelayMatchesDoublingFormula(t *testing.T) {
	want := []time.Duration{1 * time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for attempt, d := range want {
		got := nextRetryDelay(attempt + 1)
		if got != d {
			t.Fatalf("attempt %d: expected delay %s, got %s", attempt+1, d, got)
		}
	}
}

func TestNextRetryDelayNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := nextRetryDelay(attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay %s is less than previous delay %s", attempt, d, prev)
		}
		prev = d
	}
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	tmp := t.TempDir()
	sqlDB, err := db.Open(filepath.Join(tmp, "memoforge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewStore(sqlDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger)
}

func TestEnqueueClaimComplete(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job, err := q.Enqueue(ctx, "event-1", domain.JobExtract, ExtractPayload{EventID: "event-1"}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts, got %d", job.MaxAttempts)
	}

	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim %s, got %+v", job.ID, claimed)
	}
	if claimed.Status != domain.JobRunning {
		t.Fatalf("expected running status, got %s", claimed.Status)
	}

	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no further claimable jobs, got %+v", again)
	}

	if err := q.Complete(ctx, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := q.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job, err := q.Enqueue(ctx, "event-2", domain.JobSTT, STTPayload{AudioPath: "/tmp/a.wav"}, 2)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Fail(ctx, claimed, errors.New("cli exited 1"), true); err != nil {
		t.Fatalf("fail (retryable): %v", err)
	}

	got, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobRetry {
		t.Fatalf("expected retry status after first failure, got %s", got.Status)
	}

	// Claim at the job's own scheduled run_at instead of waiting out the
	// real backoff window.
	claimed2, err := q.jobs.Claim(ctx, got.RunAt)
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if claimed2 == nil {
		t.Fatalf("expected job to be reclaimable at its scheduled run_at")
	}

	if err := q.Fail(ctx, claimed2, errors.New("cli exited 1 again"), true); err != nil {
		t.Fatalf("fail (exhausted): %v", err)
	}

	final, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != domain.JobDeadLetter {
		t.Fatalf("expected dead_letter status after exhausting attempts, got %s", final.Status)
	}

	entries, err := q.ListDeadLetter(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list dead letter: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != job.ID {
		t.Fatalf("expected one dead letter entry for job %s, got %+v", job.ID, entries)
	}

	redriven, err := q.Redrive(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("redrive: %v", err)
	}
	if redriven.Attempts != 0 {
		t.Fatalf("expected redriven job to reset attempts, got %d", redriven.Attempts)
	}
	if redriven.ID == job.ID {
		t.Fatalf("expected redrive to create a new job id")
	}
}

func TestCancelPreventsClaim(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job, err := q.Enqueue(ctx, "event-3", domain.JobPush, PushPayload{ActionID: "action-1"}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ok, err := q.Cancel(ctx, job.ID, "operator")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected cancelled job to not be claimable, got %+v", claimed)
	}

	ok, err = q.Cancel(ctx, job.ID, "operator")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if ok {
		t.Fatalf("expected second cancel of already-cancelled job to report no-op")
	}
}
