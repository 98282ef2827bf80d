package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memoforge/pipeline/internal/db"
	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/queue"
)

func newTestPool(t *testing.T, opts Options) (*Pool, *queue.Queue) {
	t.Helper()
	tmp := t.TempDir()
	sqlDB, err := db.Open(filepath.Join(tmp, "memoforge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	s := db.NewStore(sqlDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(s, logger)
	return New(q, opts, logger), q
}

func TestPoolDispatchesAndCompletes(t *testing.T) {
	ctx := context.Background()
	pool, q := newTestPool(t, Options{PollInterval: 10 * time.Millisecond, MaxConcurrent: 2})

	var processed int32
	pool.Register(domain.JobPush, func(ctx context.Context, job *domain.Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, fmt.Sprintf("event-%d", i), domain.JobPush, queue.PushPayload{ActionID: fmt.Sprintf("a-%d", i)}, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(runDone)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&processed) < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for jobs to process, got %d", atomic.LoadInt32(&processed))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-runDone

	stats, _, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[domain.JobCompleted] != 3 {
		t.Fatalf("expected 3 completed jobs, got %+v", stats)
	}
}

func TestPoolFailsUnregisteredJobType(t *testing.T) {
	ctx := context.Background()
	pool, q := newTestPool(t, Options{PollInterval: 10 * time.Millisecond, MaxConcurrent: 1})

	job, err := q.Enqueue(ctx, "event-1", domain.JobTTLCleanup, queue.TTLCleanupPayload{}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(runDone)
	}()

	var got *domain.Job
	deadline := time.After(2 * time.Second)
	for {
		got, err = q.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.Status == domain.JobDeadLetter || got.Status == domain.JobFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for unregistered-type job to fail, status=%s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-runDone
}

func TestPoolRespectsMaxConcurrency(t *testing.T) {
	ctx := context.Background()
	pool, q := newTestPool(t, Options{PollInterval: 10 * time.Millisecond, MaxConcurrent: 2})

	var mu sync.Mutex
	var inFlight, maxObserved int32
	release := make(chan struct{})

	pool.Register(domain.JobPush, func(ctx context.Context, job *domain.Job) error {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxObserved {
			maxObserved = n
		}
		mu.Unlock()
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(ctx, fmt.Sprintf("event-%d", i), domain.JobPush, queue.PushPayload{ActionID: fmt.Sprintf("a-%d", i)}, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(runDone)
	}()

	time.Sleep(200 * time.Millisecond)
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		stats, _, err := q.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats[domain.JobCompleted] == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all jobs to complete: %+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-runDone

	mu.Lock()
	defer mu.Unlock()
	if maxObserved > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, observed %d", maxObserved)
	}
}

func TestPoolShutdownCancelsAfterDeadline(t *testing.T) {
	ctx := context.Background()
	pool, q := newTestPool(t, Options{
		PollInterval:     10 * time.Millisecond,
		MaxConcurrent:    1,
		ShutdownDeadline: 100 * time.Millisecond,
	})

	cancelled := make(chan struct{})
	pool.Register(domain.JobPush, func(ctx context.Context, job *domain.Job) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	if _, err := q.Enqueue(ctx, "event-1", domain.JobPush, queue.PushPayload{ActionID: "a-1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(runDone)
	}()

	// give the poller a chance to claim and start the blocking handler
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected in-flight job to be cancelled after the shutdown deadline")
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after shutdown")
	}
}
