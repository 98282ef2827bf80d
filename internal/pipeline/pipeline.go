// Package pipeline is the composition root: it wires internal/db's store
// into the job queue, the STT/LLM subprocess supervisors, the extractor,
// the worker pool's five job-type handlers, the TTL sweeper, push fan-out,
// the observability sink, and the HTTP surface, then owns their combined
// Start/Stop lifecycle. Grounded on background.go's BackgroundAgentManager
// for the top-level start/stop shape, generalized from one fixed agent loop
// to several independently registered subsystems.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/memoforge/pipeline/internal/config"
	"github.com/memoforge/pipeline/internal/db"
	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/extract"
	"github.com/memoforge/pipeline/internal/httpapi"
	"github.com/memoforge/pipeline/internal/llmproc"
	"github.com/memoforge/pipeline/internal/obs"
	"github.com/memoforge/pipeline/internal/push"
	"github.com/memoforge/pipeline/internal/queue"
	"github.com/memoforge/pipeline/internal/sttproc"
	"github.com/memoforge/pipeline/internal/ttl"
	"github.com/memoforge/pipeline/internal/worker"
)

// Pipeline owns every long-lived subsystem and the database connection
// underneath them.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	dbConn *db.DB
	store  *db.Store

	queue   *queue.Queue
	stt     *sttproc.Supervisor
	llm     *llmproc.Supervisor
	sweeper *ttl.Sweeper
	pool    *worker.Pool
	http    *httpapi.Server

	ttlCron      *cron.Cron
	ttlCronEntry cron.EntryID
}

// New opens the database and wires every subsystem, but starts nothing —
// call Start to bring the pipeline up.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := db.NewStore(dbConn)

	q := queue.New(store, logger)

	stt := sttproc.NewSupervisor(sttproc.Options{
		CLIPath:       cfg.WhisperCLIPath,
		ModelsDir:     cfg.WhisperModelsDir,
		Model:         cfg.WhisperModel,
		Threads:       cfg.WhisperThreads,
		ModelURL:      cfg.WhisperModelURL,
		TranscodePath: cfg.TranscodePath,
	}, logger)

	llm := llmproc.NewSupervisor(llmproc.Options{
		ServerPath:  cfg.LLMServerPath,
		ModelPath:   cfg.LLMModelPath,
		ModelsDir:   cfg.LLMModelsDir,
		Host:        cfg.LLMHost,
		Port:        cfg.LLMPort,
		ContextSize: cfg.LLMContextSize,
		Threads:     cfg.LLMThreads,
		BatchSize:   cfg.LLMBatchSize,
		GPULayers:   cfg.LLMGPULayers,
	}, logger)

	reg := prometheus.DefaultRegisterer
	runSink := obs.NewSink(store, reg)

	extractor := extract.New(store, store, store, store, store, runSink, q, llm, logger)

	sweeper := ttl.New(store, runSink, cfg.CleanupInterval, logger)

	var identity *push.VAPIDIdentity
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		identity, err = push.NewVAPIDIdentity(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
		if err != nil {
			return nil, fmt.Errorf("failed to load vapid identity: %w", err)
		}
	} else {
		logger.Warn("no vapid keys configured, push notifications will fail if attempted")
	}
	notifier := push.New(store, store, identity, logger)

	pool := worker.New(q, worker.Options{
		PollInterval:     cfg.WorkerPollMS,
		MaxConcurrent:    cfg.WorkerMaxConc,
		ShutdownDeadline: 30 * time.Second,
	}, logger)
	pool.Register(domain.JobSTT, worker.NewSTTHandler(stt, store, q, cfg.TranscriptTTL))
	pool.Register(domain.JobExtract, worker.NewExtractHandler(extractor))
	pool.Register(domain.JobReprocess, worker.NewReprocessHandler(extractor))
	pool.Register(domain.JobPush, worker.NewPushHandler(notifier))
	pool.Register(domain.JobTTLCleanup, worker.NewTTLCleanupHandler(sweeper))

	httpSrv := httpapi.New(httpapi.Deps{
		Config:  cfg,
		Queue:   q,
		Events:  store,
		Epics:   store,
		FTS:     store,
		STT:     stt,
		LLM:     llm,
		Sweeper: sweeper,
		Logger:  logger,
	})

	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		dbConn:  dbConn,
		store:   store,
		queue:   q,
		stt:     stt,
		llm:     llm,
		sweeper: sweeper,
		pool:    pool,
		http:    httpSrv,
		ttlCron: cron.New(),
	}, nil
}

// HTTPHandler exposes the routed server for cmd/memoforged to hand to
// http.Server.
func (p *Pipeline) HTTPHandler() *httpapi.Server { return p.http }

// Start brings up the STT/LLM supervisors, the worker pool's poll loop, and
// the periodic ttl_cleanup job scheduler. It returns once every subsystem
// has started; the worker pool's Run loop is spawned in its own goroutine
// and keeps running until ctx is cancelled.
//
// ttl_cleanup is scheduled here as a queued job rather than by calling
// ttl.Sweeper.Start directly, so every sweep shows up in the admin queue
// like any other unit of work; Sweeper.Start/Stop remain available for a
// caller that wants the sweep to run independently of the job queue.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.stt.Start(ctx); err != nil {
		p.logger.Warn("stt supervisor failed to start, transcription jobs will fail until retried", "error", err)
	}
	if err := p.llm.Start(ctx); err != nil {
		p.logger.Warn("llm supervisor failed to start, extraction jobs will fail until retried", "error", err)
	}

	entry, err := p.ttlCron.AddFunc(fmt.Sprintf("@every %s", p.cfg.CleanupInterval), func() {
		if _, err := p.queue.EnqueueTTLCleanup(context.Background()); err != nil {
			p.logger.Error("failed to enqueue scheduled ttl cleanup", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ttl cleanup: %w", err)
	}
	p.ttlCronEntry = entry
	p.ttlCron.Start()

	go p.pool.Run(ctx)

	p.logger.Info("pipeline started", "http_addr", p.cfg.HTTPAddr)
	return nil
}

// Stop halts the ttl scheduler, stops the LLM child process, and
// closes the database. The worker pool itself stops when the ctx passed to
// Start is cancelled; callers should cancel that ctx before calling Stop.
func (p *Pipeline) Stop(ctx context.Context) {
	<-p.ttlCron.Stop().Done()

	if err := p.llm.Stop(ctx); err != nil {
		p.logger.Error("failed to stop llm supervisor", "error", err)
	}
	if err := p.dbConn.Close(); err != nil {
		p.logger.Error("failed to close database", "error", err)
	}
}
