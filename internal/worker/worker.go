// Package worker implements the Worker Runner (spec §4.G): a registry
// mapping job type to handler, a ticker-driven polling loop under a
// bounded concurrency limit, live cancellation handles per in-flight job,
// and a graceful shutdown that waits for a deadline before cancelling
// stragglers. Grounded on background.go's BackgroundAgentManager —
// runAgentLoop's ticker/stop-channel/context-select loop generalized here
// from fixed background-agent cycles to claimed job dispatch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/queue"
)

// Handler runs one claimed job's body. A nil return completes the job; a
// non-nil return fails it — retryably unless wrapped with Permanent.
type Handler func(ctx context.Context, job *domain.Job) error

// Options configures a Pool. Zero values are replaced by spec §6 defaults.
type Options struct {
	PollInterval     time.Duration
	MaxConcurrent    int
	ShutdownDeadline time.Duration
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 3000 * time.Millisecond
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.ShutdownDeadline <= 0 {
		o.ShutdownDeadline = 30 * time.Second
	}
}

// Pool is the job-queue polling runner.
type Pool struct {
	queue    *queue.Queue
	handlers map[domain.JobType]Handler
	opts     Options
	logger   *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs a Pool bound to the given queue.
func New(q *queue.Queue, opts Options, logger *slog.Logger) *Pool {
	opts.setDefaults()
	return &Pool{
		queue:    q,
		handlers: make(map[domain.JobType]Handler),
		opts:     opts,
		logger:   logger,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		running:  make(map[string]context.CancelFunc),
	}
}

// Register binds a handler to a job type. Call before Run.
func (p *Pool) Register(jobType domain.JobType, h Handler) {
	p.handlers[jobType] = h
}

// Run polls until ctx is cancelled, then drains in-flight jobs up to the
// shutdown deadline before returning (spec §4.G).
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-ticker.C:
			p.dispatchAvailable(ctx)
		}
	}
}

func (p *Pool) shutdown() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(p.opts.ShutdownDeadline):
	}

	p.mu.Lock()
	for id, cancel := range p.running {
		p.logger.Warn("shutdown deadline exceeded, cancelling in-flight job", "job_id", id)
		cancel()
	}
	p.mu.Unlock()

	<-done
}

// dispatchAvailable claims and dispatches jobs while a concurrency slot is
// free, stopping as soon as either is exhausted.
func (p *Pool) dispatchAvailable(ctx context.Context) {
	for {
		select {
		case p.sem <- struct{}{}:
		default:
			return
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			p.logger.Error("failed to claim job", "error", err)
			<-p.sem
			return
		}
		if job == nil {
			<-p.sem
			return
		}

		p.wg.Add(1)
		go p.runJob(job)
	}
}

// runJob executes one claimed job's handler and reports the outcome back
// to the queue. The job runs against its own cancellable context, not the
// runner's poll-loop context, so that cancelling polling doesn't abort
// in-flight work — only an exceeded shutdown deadline does (spec §5).
func (p *Pool) runJob(job *domain.Job) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.mu.Lock()
	p.running[job.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, job.ID)
		p.mu.Unlock()
	}()

	handler, ok := p.handlers[job.Type]
	if !ok {
		err := fmt.Errorf("no worker registered for job type %q", job.Type)
		if failErr := p.queue.Fail(jobCtx, job, err, false); failErr != nil {
			p.logger.Error("failed to record unregistered-type job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	err := handler(jobCtx, job)
	if err == nil {
		if completeErr := p.queue.Complete(jobCtx, job.ID); completeErr != nil {
			p.logger.Error("failed to mark job complete", "job_id", job.ID, "error", completeErr)
		}
		return
	}

	retryable := !isPermanent(err)
	if failErr := p.queue.Fail(jobCtx, job, err, retryable); failErr != nil {
		p.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
	}
}

// permanentError marks a handler failure as non-retryable.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the pool fails the job outright rather than
// scheduling a backoff retry (spec §7: input/schema-exhaustion errors).
func Permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
