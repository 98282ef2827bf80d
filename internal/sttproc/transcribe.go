package sttproc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Transcribe runs one bounded transcription job against audioPath and
// returns the trimmed transcript text.
func (s *Supervisor) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, JobTimeout)
	defer cancel()

	input := audioPath
	if !is16kMonoPCMWAV(audioPath) {
		if !s.transcodeAvailable {
			s.logger.Warn("audio not in 16kHz mono PCM wav and no transcode helper available; passing original container to stt cli", "path", audioPath)
		} else {
			wav, err := s.transcode(ctx, audioPath)
			if err != nil {
				return "", fmt.Errorf("failed to transcode audio: %w", err)
			}
			defer os.Remove(wav)
			input = wav
		}
	}

	if language == "" {
		language = "auto"
	}

	base := filepath.Join(os.TempDir(), "stt-"+uuid.NewString())
	defer os.Remove(base + ".txt")

	args := []string{
		"-f", input,
		"-m", s.modelPath,
		"-l", language,
		"-otxt",
		"-of", base,
		"--no-timestamps",
		"-t", strconv.Itoa(s.threads),
	}
	cmd := exec.CommandContext(ctx, s.cliPath, args...) // #nosec G204 -- cliPath/modelPath resolved at startup

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start stt cli: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil {
			return "", fmt.Errorf("stt cli exited with error: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	case <-ctx.Done():
		terminate(cmd)
		select {
		case <-waitErr:
		case <-time.After(killGrace):
			_ = cmd.Process.Kill()
			<-waitErr
		}
		return "", fmt.Errorf("stt cli timed out after %s", JobTimeout)
	}

	if data, err := os.ReadFile(base + ".txt"); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	return parseStdoutTranscript(stdout.String()), nil
}

// terminate sends a graceful stop signal; force-kill is escalated by the caller.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

var (
	timestampLine = regexp.MustCompile(`^\s*\[\d\d:\d\d:\d\d\.\d+\s*-->\s*\d\d:\d\d:\d\d\.\d+\]\s*`)
	progressLine  = regexp.MustCompile(`\d+%\||whisper_print_progress|whisper_full:`)
)

// parseStdoutTranscript is the fallback path when the CLI does not emit a
// .txt side-file: strip per-line timestamps and drop progress chatter.
func parseStdoutTranscript(raw string) string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if progressLine.MatchString(line) {
			continue
		}
		line = timestampLine.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, " "))
}

// transcode spawns the external audio helper to produce a 16kHz mono PCM wav
// side-file, returning its path for the caller to remove.
func (s *Supervisor) transcode(ctx context.Context, audioPath string) (string, error) {
	out := filepath.Join(os.TempDir(), "stt-transcode-"+uuid.NewString()+".wav")
	cmd := exec.CommandContext(ctx, s.transcodePath, "-y", "-i", audioPath, "-ar", "16000", "-ac", "1", out) // #nosec G204 -- transcodePath resolved at startup
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// is16kMonoPCMWAV sniffs a RIFF/WAVE header for the exact format the stt
// CLI expects. Any read failure or format mismatch is treated as "needs
// transcode" rather than an error, since the caller has its own fallback.
func is16kMonoPCMWAV(path string) bool {
	f, err := os.Open(path) // #nosec G304 -- path is an already-validated upload on disk
	if err != nil {
		return false
	}
	defer f.Close()

	var header [44]byte
	if _, err := f.Read(header[:]); err != nil {
		return false
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return false
	}
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])

	const pcmFormat = 1
	const monoChannel = 1
	const whisperSampleRate = 16000
	return audioFormat == pcmFormat && numChannels == monoChannel && sampleRate == whisperSampleRate
}
