// memoforged is the voice-memo pipeline daemon: it ingests audio over its
// HTTP surface, transcribes and extracts structured projections from it in
// the background, and serves the admin/read API used to operate it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memoforge/pipeline/internal/config"
	"github.com/memoforge/pipeline/internal/pipeline"
)

func main() {
	envPath := flag.String("env", ".env", "Path to a .env file (optional; process environment always wins)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := config.Load(*envPath, logger)

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := p.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		cancel()
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: p.HTTPHandler(),
	}

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		p.Stop(shutdownCtx)
	}()

	logger.Info("memoforged listening", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
		os.Exit(1)
	}
}
