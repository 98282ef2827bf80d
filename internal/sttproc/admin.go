package sttproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// knownModelSizes are the WHISPER_MODEL values spec §6 documents.
var knownModelSizes = []string{"tiny", "base", "small"}

// modelURLTemplate mirrors whisper.cpp's own published ggml model layout;
// the admin download endpoint (spec §6 POST /api/admin/models/download)
// uses it when no explicit URL override is supplied.
const modelURLTemplate = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-%s.bin"

// ModelInfo describes one STT model file on disk (spec §6 GET /api/admin/models).
type ModelInfo struct {
	Size      string
	Present   bool
	SizeBytes int64
}

// ListModels reports the presence of every known model size under the
// supervisor's configured models directory.
func (s *Supervisor) ListModels() []ModelInfo {
	infos := make([]ModelInfo, 0, len(knownModelSizes))
	for _, size := range knownModelSizes {
		info := ModelInfo{Size: size}
		if stat, err := os.Stat(filepath.Join(s.modelsDir, size+".bin")); err == nil {
			info.Present = true
			info.SizeBytes = stat.Size()
		}
		infos = append(infos, info)
	}
	return infos
}

// DownloadModel fetches the given model size into the models directory
// (spec §4.C download flow, generalized to any size on operator request
// rather than only the configured default).
func (s *Supervisor) DownloadModel(ctx context.Context, size string) error {
	if err := os.MkdirAll(s.modelsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	modelPath := filepath.Join(s.modelsDir, size+".bin")
	tmpPath := modelPath + ".tmp"
	url := fmt.Sprintf(modelURLTemplate, size)

	if err := downloadToFile(ctx, url, tmpPath); err != nil {
		return fmt.Errorf("failed to download model %q: %w", size, err)
	}
	if err := os.Rename(tmpPath, modelPath); err != nil {
		return fmt.Errorf("failed to finalize model %q: %w", size, err)
	}
	s.logger.Info("stt model downloaded via admin request", "model", size, "path", modelPath)
	return nil
}

// DeleteModel removes a model file from disk (spec §6 DELETE /api/admin/models/:size).
func (s *Supervisor) DeleteModel(size string) error {
	modelPath := filepath.Join(s.modelsDir, size+".bin")
	if err := os.Remove(modelPath); err != nil {
		return fmt.Errorf("failed to delete model %q: %w", size, err)
	}
	return nil
}
