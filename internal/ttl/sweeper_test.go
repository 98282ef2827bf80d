package ttl

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/memoforge/pipeline/internal/db"
	"github.com/memoforge/pipeline/internal/domain"
)

func newTestSweeper(t *testing.T) (*Sweeper, *db.Store) {
	t.Helper()
	tmp := t.TempDir()
	sqlDB, err := db.Open(filepath.Join(tmp, "memoforge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewStore(sqlDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, store, time.Hour, logger), store
}

func createExpiredEvent(t *testing.T, store *db.Store, audioPath string) *domain.Event {
	t.Helper()
	transcript := "some transcript text"
	expiry := time.Now().Add(-48 * time.Hour)
	e := &domain.Event{
		ID:               uuid.NewString(),
		AudioPath:        &audioPath,
		Transcript:       &transcript,
		TranscriptExpiry: &expiry,
		Status:           domain.EventCompleted,
		Language:         "en",
		CreatedAt:        time.Now().Add(-49 * time.Hour),
		UpdatedAt:        time.Now().Add(-49 * time.Hour),
	}
	if err := store.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}

// TestSweepPurgesExpiredTranscriptsAndAudio mirrors spec §8 S5: two events
// have transcripts expired two days ago, one of their audio files is
// missing on disk. A single sweep must null both transcripts, delete the
// one file that exists, record one audio error for the missing file, and
// write one EventRun per event.
func TestSweepPurgesExpiredTranscriptsAndAudio(t *testing.T) {
	ctx := context.Background()
	sweeper, store := newTestSweeper(t)

	tmp := t.TempDir()
	presentPath := filepath.Join(tmp, "present.wav")
	if err := os.WriteFile(presentPath, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}
	missingPath := filepath.Join(tmp, "missing.wav")

	present := createExpiredEvent(t, store, presentPath)
	missing := createExpiredEvent(t, store, missingPath)

	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}

	if result.EventsProcessed != 2 {
		t.Fatalf("expected 2 events processed, got %d", result.EventsProcessed)
	}
	if result.AudioDeleted != 1 {
		t.Fatalf("expected 1 audio file deleted, got %d", result.AudioDeleted)
	}
	if len(result.AudioErrors) != 1 {
		t.Fatalf("expected 1 audio error, got %d: %v", len(result.AudioErrors), result.AudioErrors)
	}

	for _, id := range []string{present.ID, missing.ID} {
		got, err := store.GetEvent(ctx, id)
		if err != nil {
			t.Fatalf("get event %s: %v", id, err)
		}
		if got.Transcript != nil {
			t.Fatalf("expected event %s transcript to be cleared, got %q", id, *got.Transcript)
		}
		if got.TranscriptExpiry != nil {
			t.Fatalf("expected event %s transcript expiry to be cleared", id)
		}

		runs, err := store.ListRuns(ctx, id, 10)
		if err != nil {
			t.Fatalf("list runs for %s: %v", id, err)
		}
		if len(runs) != 1 {
			t.Fatalf("expected 1 run recorded for event %s, got %d", id, len(runs))
		}
		if runs[0].JobType != domain.JobTTLCleanup {
			t.Fatalf("expected run job type ttl_cleanup, got %s", runs[0].JobType)
		}
	}

	if _, err := os.Stat(presentPath); !os.IsNotExist(err) {
		t.Fatalf("expected present audio file to be removed, stat err: %v", err)
	}
}

// TestSweepNoExpiredEventsIsNoOp ensures an empty sweep pass is harmless.
func TestSweepNoExpiredEventsIsNoOp(t *testing.T) {
	ctx := context.Background()
	sweeper, _ := newTestSweeper(t)

	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	if result.EventsProcessed != 0 {
		t.Fatalf("expected no events processed, got %d", result.EventsProcessed)
	}
}

func TestSweepSatisfiesWorkerInterface(t *testing.T) {
	sweeper, _ := newTestSweeper(t)
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}
