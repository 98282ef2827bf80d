// Package sttproc supervises the speech-to-text CLI child process (spec
// §4.C): locating the binary, provisioning its model file, and running one
// bounded-timeout transcription per job. Grounded on agents/spawner.go's
// Spawner (CLI discovery at construction time, context-scoped exec.Command,
// buffered stdout/stderr capture).
package sttproc

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"
)

// JobTimeout bounds a single transcription run (spec §4.C).
const JobTimeout = 5 * time.Minute

// killGrace is how long a terminated child is given to exit before being
// force-killed.
const killGrace = 5 * time.Second

// Options configures the supervisor. Zero values fall back to the spec's
// documented defaults where one exists.
type Options struct {
	CLIPath       string // path or bare name of the STT CLI; looked up on PATH if not absolute
	ModelsDir     string
	Model         string // tiny|base|small
	Threads       int
	ModelURL      string // content-addressed download source for Model, if missing locally
	ExpectedSize  int64  // published expected byte length; 0 skips the size check
	TranscodePath string // external transcode helper; looked up on PATH if empty
}

// Supervisor owns the STT CLI's models directory and spawns one child
// process per transcription job.
type Supervisor struct {
	cliPath      string
	modelsDir    string
	model        string
	modelPath    string
	threads      int
	modelURL     string
	expectedSize int64

	transcodePath      string
	transcodeAvailable bool

	logger *slog.Logger
}

// NewSupervisor constructs a Supervisor. Start must be called before Transcribe.
func NewSupervisor(opts Options, logger *slog.Logger) *Supervisor {
	threads := opts.Threads
	if threads <= 0 {
		threads = 4
	}
	return &Supervisor{
		cliPath:       opts.CLIPath,
		modelsDir:     opts.ModelsDir,
		model:         opts.Model,
		threads:       threads,
		modelURL:      opts.ModelURL,
		expectedSize:  opts.ExpectedSize,
		transcodePath: opts.TranscodePath,
		logger:        logger,
	}
}

// Start locates the CLI, verifies it responds, ensures the default model is
// present, and decides once whether a transcode helper is available.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.locateCLI(); err != nil {
		return err
	}
	if err := s.verifyCLI(ctx); err != nil {
		return err
	}
	if err := s.ensureModel(ctx); err != nil {
		return err
	}
	s.decideTranscode()
	return nil
}

func (s *Supervisor) locateCLI() error {
	if s.cliPath == "" {
		s.cliPath = "whisper-cli"
	}
	if filepath.IsAbs(s.cliPath) {
		return nil
	}
	resolved, err := exec.LookPath(s.cliPath)
	if err != nil {
		return fmt.Errorf("stt cli %q not found on PATH: %w", s.cliPath, err)
	}
	s.cliPath = resolved
	return nil
}

// verifyCLI runs a short help invocation to confirm the binary is runnable.
// A nonzero exit is tolerated (many STT CLIs exit 1 on --help); only a
// failure to start the process at all is treated as fatal.
func (s *Supervisor) verifyCLI(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cliPath, "--help") // #nosec G204 -- cliPath resolved at startup, not user input
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !isExitError(err, &exitErr) {
			return fmt.Errorf("stt cli %q did not respond to --help: %w", s.cliPath, err)
		}
	}
	return nil
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// decideTranscode records, once at startup, whether the audio-transcode
// helper is usable. Per-job code consults transcodeAvailable and never
// re-probes PATH.
func (s *Supervisor) decideTranscode() {
	if s.transcodePath == "" {
		s.transcodePath = "ffmpeg"
	}
	if resolved, err := exec.LookPath(s.transcodePath); err == nil {
		s.transcodePath = resolved
		s.transcodeAvailable = true
		s.logger.Info("transcode helper available", "path", s.transcodePath)
		return
	}
	s.transcodeAvailable = false
	s.logger.Warn("transcode helper not found on PATH; unsupported audio containers will fail at the stt cli step", "path", s.transcodePath)
}
