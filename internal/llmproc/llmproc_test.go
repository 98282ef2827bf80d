package llmproc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

type hostPort struct {
	host string
	port int
}

func parseHostPort(rawURL string) (hostPort, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return hostPort{}, err
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return hostPort{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return hostPort{}, err
	}
	return hostPort{host: host, port: port}, nil
}

const fakeServerScript = `#!/usr/bin/env python3
import sys, json
from http.server import BaseHTTPRequestHandler, HTTPServer

port = int(sys.argv[sys.argv.index("--port")+1])

class Handler(BaseHTTPRequestHandler):
    def log_message(self, format, *args):
        pass
    def do_GET(self):
        if self.path == "/health":
            self.send_response(200)
            self.end_headers()
            self.wfile.write(b"ok")
        else:
            self.send_response(404)
            self.end_headers()
    def do_POST(self):
        length = int(self.headers.get("Content-Length", 0))
        self.rfile.read(length)
        self.send_response(200)
        self.send_header("Content-Type", "application/json")
        self.end_headers()
        body = json.dumps({"choices":[{"message":{"role":"assistant","content":"pong"}}]})
        self.wfile.write(body.encode())

HTTPServer(("127.0.0.1", port), Handler).serve_forever()
`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeFakeServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-llm-server.py")
	if err := os.WriteFile(path, []byte(fakeServerScript), 0o755); err != nil {
		t.Fatalf("write fake server: %v", err)
	}
	return path
}

func TestSupervisorStartReadyStop(t *testing.T) {
	if _, err := os.Stat("/usr/bin/env"); err != nil {
		t.Skip("no /usr/bin/env available for shebang scripts")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSupervisor(Options{
		ServerPath:      writeFakeServer(t),
		Port:            freePort(t),
		StartupDeadline: 5 * time.Second,
		StopGrace:       2 * time.Second,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if s.State() != StateReady {
		t.Fatalf("expected ready state, got %s", s.State())
	}

	resp, err := s.ChatCompletions(context.Background(), []Message{{Role: "user", Content: "ping"}}, ChatOptions{Temperature: 0.1, MaxTokens: 64})
	if err != nil {
		t.Fatalf("chat completions: %v", err)
	}
	if resp.Text() != "pong" {
		t.Fatalf("unexpected response text: %q", resp.Text())
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", s.State())
	}

	// Stop is idempotent.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestChatCompletionsNotReady(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSupervisor(Options{}, logger)

	_, err := s.ChatCompletions(context.Background(), nil, ChatOptions{})
	if err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestCheckHealthAgainstHTTPServer(t *testing.T) {
	mux := http.NewServeMux()
	healthy := true
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSupervisor(Options{}, logger)
	s.setState(StateReady)

	u, err := parseHostPort(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	s.opts.Host = u.host
	s.opts.Port = u.port

	ok, err := s.CheckHealth(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected healthy, got ok=%v err=%v", ok, err)
	}
	if s.State() != StateReady {
		t.Fatalf("expected ready, got %s", s.State())
	}

	healthy = false
	ok, err = s.CheckHealth(context.Background())
	if err != nil || ok {
		t.Fatalf("expected unhealthy, got ok=%v err=%v", ok, err)
	}
	if s.State() != StateUnhealthy {
		t.Fatalf("expected unhealthy state, got %s", s.State())
	}
}
