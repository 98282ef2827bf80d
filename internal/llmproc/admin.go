package llmproc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LLMModelInfo describes one local completions model file on disk
// (GET /api/admin/llm/models).
type LLMModelInfo struct {
	Name      string
	Active    bool // true if this is ModelPath, the model the running server was started with
	SizeBytes int64
}

// ListModels reports every .gguf file under the supervisor's configured
// models directory. Unlike sttproc's fixed tiny/base/small sizes, local
// completions models carry no canonical size set, so this lists whatever
// the operator has placed there.
func (s *Supervisor) ListModels() ([]LLMModelInfo, error) {
	entries, err := os.ReadDir(s.opts.ModelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list llm models directory: %w", err)
	}

	infos := make([]LLMModelInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gguf") {
			continue
		}
		full := filepath.Join(s.opts.ModelsDir, e.Name())
		stat, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, LLMModelInfo{
			Name:      e.Name(),
			Active:    full == s.opts.ModelPath,
			SizeBytes: stat.Size(),
		})
	}
	return infos, nil
}

// DownloadModel fetches a model file from an operator-supplied URL into
// the models directory under name (POST /api/admin/llm/models/download).
// Unlike whisper's fixed ggml naming scheme, local
// completions models have no single canonical source, so the URL is
// supplied per call rather than templated from a known size.
func (s *Supervisor) DownloadModel(ctx context.Context, name, url string) error {
	if err := os.MkdirAll(s.opts.ModelsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create llm models directory: %w", err)
	}
	modelPath := filepath.Join(s.opts.ModelsDir, name)
	tmpPath := modelPath + ".tmp"

	if err := downloadModelFile(ctx, url, tmpPath); err != nil {
		return fmt.Errorf("failed to download llm model %q: %w", name, err)
	}
	if err := os.Rename(tmpPath, modelPath); err != nil {
		return fmt.Errorf("failed to finalize llm model %q: %w", name, err)
	}
	s.logger.Info("llm model downloaded via admin request", "model", name, "path", modelPath)
	return nil
}

// DeleteModel removes a model file from disk. Refuses to delete the model
// backing the currently running server.
func (s *Supervisor) DeleteModel(name string) error {
	modelPath := filepath.Join(s.opts.ModelsDir, name)
	if modelPath == s.opts.ModelPath && s.State() != StateStopped {
		return fmt.Errorf("refusing to delete %q: in use by the running llm server", name)
	}
	if err := os.Remove(modelPath); err != nil {
		return fmt.Errorf("failed to delete llm model %q: %w", name, err)
	}
	return nil
}

// downloadModelFile mirrors sttproc's downloadToFile; duplicated rather
// than shared across packages since each supervisor owns its own file
// layout and error framing.
func downloadModelFile(ctx context.Context, url, dest string) error {
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
