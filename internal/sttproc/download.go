package sttproc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ensureModel confirms the configured model file exists under modelsDir,
// downloading it from modelURL (HTTPS, following at most one redirect) into
// a .tmp sibling and atomically renaming it into place otherwise.
func (s *Supervisor) ensureModel(ctx context.Context) error {
	if s.modelsDir == "" {
		return fmt.Errorf("stt models directory not configured")
	}
	if s.model == "" {
		s.model = "base"
	}
	modelPath := filepath.Join(s.modelsDir, s.model+".bin")

	if info, err := os.Stat(modelPath); err == nil {
		if s.expectedSize <= 0 || info.Size() == s.expectedSize {
			s.modelPath = modelPath
			return nil
		}
		s.logger.Warn("stt model present but size mismatch, re-downloading", "model", s.model, "got", info.Size(), "want", s.expectedSize)
	}

	if s.modelURL == "" {
		return fmt.Errorf("stt model %q missing at %s and no download URL configured", s.model, modelPath)
	}
	if err := os.MkdirAll(s.modelsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	tmpPath := modelPath + ".tmp"
	if err := downloadToFile(ctx, s.modelURL, tmpPath); err != nil {
		return fmt.Errorf("failed to download stt model: %w", err)
	}

	if s.expectedSize > 0 {
		info, err := os.Stat(tmpPath)
		if err != nil {
			return fmt.Errorf("failed to stat downloaded model: %w", err)
		}
		if info.Size() != s.expectedSize {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("downloaded model size %d does not match expected %d", info.Size(), s.expectedSize)
		}
	}

	if err := os.Rename(tmpPath, modelPath); err != nil {
		return fmt.Errorf("failed to finalize downloaded model: %w", err)
	}
	s.modelPath = modelPath
	s.logger.Info("stt model downloaded", "model", s.model, "path", modelPath)
	return nil
}

// downloadToFile fetches url into dest, following at most one redirect.
func downloadToFile(ctx context.Context, url, dest string) error {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 1 {
				return fmt.Errorf("stopped after 1 redirect")
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s downloading %s", resp.Status, url)
	}

	f, err := os.Create(dest) // #nosec G304 -- dest is derived from configured models directory
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Sync()
}
