package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/extract"
	"github.com/memoforge/pipeline/internal/queue"
	"github.com/memoforge/pipeline/internal/store"
)

// Transcriber is the subset of *sttproc.Supervisor the stt handler drives.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
}

// PushSender is the subset of *push.Notifier the push handler drives.
type PushSender interface {
	SendForAction(ctx context.Context, actionID string) error
}

// TTLSweeper is the subset of *ttl.Sweeper the ttl_cleanup handler drives.
type TTLSweeper interface {
	Sweep(ctx context.Context) error
}

// NewSTTHandler transcribes a job's audio, stores the transcript with its
// TTL expiry, transitions the event transcribing → transcribed, and
// enqueues the follow-on extract job (spec §4.C, data-flow in §2).
func NewSTTHandler(sup Transcriber, events store.EventStore, jobs extract.JobEnqueuer, transcriptTTL time.Duration) Handler {
	return func(ctx context.Context, job *domain.Job) error {
		payload, err := queue.DecodeSTT(job.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("decode stt payload: %w", err))
		}

		event, err := events.GetEvent(ctx, job.EventID)
		if err != nil {
			return Permanent(fmt.Errorf("load event for stt job: %w", err))
		}

		if err := events.UpdateEventStatus(ctx, job.EventID, domain.EventTranscribing, ""); err != nil {
			return fmt.Errorf("mark event transcribing: %w", err)
		}

		transcript, err := sup.Transcribe(ctx, payload.AudioPath, event.Language)
		if err != nil {
			return fmt.Errorf("transcribe audio: %w", err)
		}

		transcript = strings.TrimSpace(transcript)
		expiry := time.Now().Add(transcriptTTL)
		if err := events.SetTranscript(ctx, job.EventID, transcript, expiry); err != nil {
			return fmt.Errorf("store transcript: %w", err)
		}
		if err := events.UpdateEventStatus(ctx, job.EventID, domain.EventTranscribed, ""); err != nil {
			return fmt.Errorf("mark event transcribed: %w", err)
		}

		if _, err := jobs.Enqueue(ctx, job.EventID, domain.JobExtract, queue.ExtractPayload{EventID: job.EventID}, 0); err != nil {
			return fmt.Errorf("enqueue extract job: %w", err)
		}
		return nil
	}
}

// NewExtractHandler drives the Extractor over a transcribed event (spec §4.F).
func NewExtractHandler(x *extract.Extractor) Handler {
	return func(ctx context.Context, job *domain.Job) error {
		payload, err := queue.DecodeExtract(job.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("decode extract payload: %w", err))
		}
		if err := x.ProcessEvent(ctx, payload.EventID); err != nil {
			if extract.IsRetryable(err) {
				return err
			}
			return Permanent(err)
		}
		return nil
	}
}

// NewReprocessHandler re-runs the Extractor against an operator-supplied
// epic, bypassing the matcher (spec §4.F).
func NewReprocessHandler(x *extract.Extractor) Handler {
	return func(ctx context.Context, job *domain.Job) error {
		payload, err := queue.DecodeReprocess(job.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("decode reprocess payload: %w", err))
		}
		if err := x.Reprocess(ctx, payload.EventID, payload.EpicID, payload.Reason); err != nil {
			if extract.IsRetryable(err) {
				return err
			}
			return Permanent(err)
		}
		return nil
	}
}

// NewPushHandler fans a single action out to every stored subscriber
// (spec §4.I).
func NewPushHandler(pusher PushSender) Handler {
	return func(ctx context.Context, job *domain.Job) error {
		payload, err := queue.DecodePush(job.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("decode push payload: %w", err))
		}
		if err := pusher.SendForAction(ctx, payload.ActionID); err != nil {
			return fmt.Errorf("send push notification: %w", err)
		}
		return nil
	}
}

// NewTTLCleanupHandler runs one TTL sweep pass (spec §4.H).
func NewTTLCleanupHandler(sweeper TTLSweeper) Handler {
	return func(ctx context.Context, job *domain.Job) error {
		if err := sweeper.Sweep(ctx); err != nil {
			return fmt.Errorf("ttl sweep: %w", err)
		}
		return nil
	}
}
