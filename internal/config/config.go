// Package config loads the operator-facing environment configuration (spec
// §6) via a .env file (github.com/joho/godotenv, grounded on
// codeready-toolchain/tarsy's cmd/tarsy/main.go godotenv.Load-with-warning
// idiom) layered under real process environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment variable spec §6 names.
type Config struct {
	DataDir          string
	DBPath           string
	WhisperCLIPath   string
	WhisperModelsDir string
	WhisperModel     string
	WhisperThreads   int
	WhisperModelURL  string
	TranscodePath    string
	TranscriptTTL    time.Duration
	WorkerPollMS     time.Duration
	WorkerMaxConc    int
	CleanupInterval  time.Duration
	LLMModelsDir     string
	LLMServerPath    string
	LLMModelPath     string
	LLMHost          string
	LLMPort          int
	LLMContextSize   int
	LLMThreads       int
	LLMBatchSize     int
	LLMGPULayers     int
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubject     string

	HTTPAddr string
}

// Load reads a .env file at envPath (missing file is a warning, not an
// error — the process environment may already carry everything needed,
// e.g. under a container orchestrator) and layers process env on top of
// spec §6's documented defaults.
func Load(envPath string, logger *slog.Logger) *Config {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			logger.Warn("could not load .env file, continuing with process environment", "path", envPath, "error", err)
		}
	}

	dataDir := getEnv("DATA_DIR", "./data")
	return &Config{
		DataDir:          dataDir,
		DBPath:           getEnv("DB_PATH", dataDir+"/memoforge.db"),
		WhisperCLIPath:   getEnv("WHISPER_CLI_PATH", "whisper-cli"),
		WhisperModelsDir: getEnv("WHISPER_MODELS_DIR", dataDir+"/models/whisper"),
		WhisperModel:     getEnv("WHISPER_MODEL", "base"),
		WhisperThreads:   getEnvInt("WHISPER_THREADS", 4),
		WhisperModelURL:  getEnv("WHISPER_MODEL_URL", ""),
		TranscodePath:    getEnv("TRANSCODE_PATH", ""),
		TranscriptTTL:    time.Duration(getEnvInt("TRANSCRIPT_TTL_DAYS", 14)) * 24 * time.Hour,
		WorkerPollMS:     time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		WorkerMaxConc:    getEnvInt("WORKER_MAX_CONCURRENT", 2),
		CleanupInterval:  time.Duration(getEnvInt("CLEANUP_INTERVAL_HOURS", 24)) * time.Hour,
		LLMModelsDir:     getEnv("LLM_MODELS_DIR", dataDir+"/models/llm"),
		LLMServerPath:    getEnv("LLM_SERVER_PATH", "llama-server"),
		LLMModelPath:     getEnv("LLM_MODEL_PATH", ""),
		LLMHost:          getEnv("LLM_HOST", "127.0.0.1"),
		LLMPort:          getEnvInt("LLM_PORT", 8081),
		LLMContextSize:   getEnvInt("LLM_CONTEXT_SIZE", 4096),
		LLMThreads:       getEnvInt("LLM_THREADS", 4),
		LLMBatchSize:     getEnvInt("LLM_BATCH_SIZE", 512),
		LLMGPULayers:     getEnvInt("LLM_GPU_LAYERS", 0),
		VAPIDPublicKey:   getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:  getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:     getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// UploadsDir is where uploaded audio is persisted (spec §6 persisted layout).
func (c *Config) UploadsDir() string {
	return c.DataDir + "/uploads"
}
