// Package llmproc supervises the long-lived LLM "server" child process
// (spec §4.D): start/stop/restart lifecycle, health polling, and the
// chat-completions call the Extractor drives. The HTTP client shape is
// grounded on agents/anthropic/client.go's Client.CreateMessage, adapted
// from the real Anthropic API to this system's local completions server
// (spec §6's wire contract); the state machine and circuit gating have no
// teacher analog and are modeled after kubernaut's breaker usage.
package llmproc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

// State is a position in the supervisor's lifecycle state machine.
type State string

const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateReady     State = "ready"
	StateUnhealthy State = "unhealthy"
)

// Options configures the child server process and its HTTP contract.
type Options struct {
	ServerPath      string // path or bare name of the server binary
	ModelPath       string
	ModelsDir       string // directory admin model management operates over
	Host            string // default 127.0.0.1
	Port            int
	ContextSize     int
	Threads         int
	BatchSize       int
	GPULayers       int
	HealthPath      string        // default /health
	CompletionsPath string        // default /v1/chat/completions
	StartupDeadline time.Duration // default 30s
	StopGrace       time.Duration // default 5s
}

func (o *Options) setDefaults() {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.HealthPath == "" {
		o.HealthPath = "/health"
	}
	if o.CompletionsPath == "" {
		o.CompletionsPath = "/v1/chat/completions"
	}
	if o.StartupDeadline <= 0 {
		o.StartupDeadline = 30 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
}

// Supervisor owns one child LLM server process.
type Supervisor struct {
	opts Options

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	startedAt  time.Time
	lastHealth time.Time

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewSupervisor constructs a stopped Supervisor.
func NewSupervisor(opts Options, logger *slog.Logger) *Supervisor {
	opts.setDefaults()
	s := &Supervisor{
		opts:       opts,
		state:      StateStopped,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llmproc",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("llm circuit breaker state change", "from", from, "to", to)
			if to == gobreaker.StateOpen {
				s.setState(StateUnhealthy)
			}
		},
	})
	return s
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) baseURL() string {
	return fmt.Sprintf("http://%s:%d", s.opts.Host, s.opts.Port)
}

// Start spawns the child server and polls its health endpoint until ready
// or the startup deadline elapses.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	args := []string{
		"--model", s.opts.ModelPath,
		"--host", s.opts.Host,
		"--port", strconv.Itoa(s.opts.Port),
		"--ctx-size", strconv.Itoa(s.opts.ContextSize),
		"--threads", strconv.Itoa(s.opts.Threads),
		"--batch-size", strconv.Itoa(s.opts.BatchSize),
		"--n-gpu-layers", strconv.Itoa(s.opts.GPULayers),
	}
	cmd := exec.Command(s.opts.ServerPath, args...) // #nosec G204 -- ServerPath is operator configuration, not user input
	if err := cmd.Start(); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("failed to start llm server: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.startedAt = time.Now()
	s.mu.Unlock()

	deadline := time.Now().Add(s.opts.StartupDeadline)
	for time.Now().Before(deadline) {
		ready, _ := s.CheckHealth(ctx)
		if ready {
			s.setState(StateReady)
			s.logger.Info("llm server ready", "port", s.opts.Port)
			return nil
		}
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	_ = s.Stop(context.Background())
	return fmt.Errorf("llm server did not become ready within %s", s.opts.StartupDeadline)
}

// Stop sends a graceful termination signal and escalates to a force-kill
// after StopGrace. Idempotent if already stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	already := s.state == StateStopped
	s.mu.Unlock()
	if already || cmd == nil || cmd.Process == nil {
		s.setState(StateStopped)
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(s.opts.StopGrace):
		_ = cmd.Process.Kill()
		<-done
	}

	s.mu.Lock()
	s.cmd = nil
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("llm server stopped")
	return nil
}

// Restart stops then starts the server. Idempotent if currently stopped
// (it just starts).
func (s *Supervisor) Restart(ctx context.Context) error {
	if s.State() != StateStopped {
		if err := s.Stop(ctx); err != nil {
			return err
		}
	}
	return s.Start(ctx)
}

// CheckHealth polls the health endpoint once, caching the result and
// updating the state machine between ready and unhealthy.
func (s *Supervisor) CheckHealth(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL()+s.opts.HealthPath, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.mu.Lock()
		if s.state == StateReady {
			s.state = StateUnhealthy
		}
		s.mu.Unlock()
		return false, err
	}
	defer resp.Body.Close()

	ready := resp.StatusCode == http.StatusOK
	s.mu.Lock()
	s.lastHealth = time.Now()
	if ready && s.state != StateStarting {
		s.state = StateReady
	} else if !ready {
		s.state = StateUnhealthy
	}
	s.mu.Unlock()
	return ready, nil
}

// Uptime returns how long the current child process has been running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
