// Package config loads docvault configuration from defaults, an optional
// .env file, and DOCVAULT_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Search    SearchConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type EmbeddingConfig struct {
	// BaseURL of the embedding provider. The client speaks the
	// batchEmbedContents wire format under this prefix.
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	BatchSize  int
}

type ChunkingConfig struct {
	MaxTokens     int
	OverlapTokens int
}

type SearchConfig struct {
	// MinScore is the per-match floor below which semantic hits are dropped.
	MinScore float64
	// FallbackThreshold is the best-score confidence floor under which a
	// semantic result set is discarded in favour of the lexical index.
	FallbackThreshold float64
	DefaultTopK       int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			Model:      "text-embedding-004",
			Dimensions: 768,
			BatchSize:  100,
		},
		Chunking: ChunkingConfig{
			MaxTokens:     500,
			OverlapTokens: 50,
		},
		Search: SearchConfig{
			MinScore:          0.1,
			FallbackThreshold: 0.3,
			DefaultTopK:       5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "docvault")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "docvault-data"
	}
	return filepath.Join(home, ".local", "share", "docvault")
}

// Load reads configuration. A .env file in the working directory is applied
// to the environment first (existing variables win), then DOCVAULT_*
// variables override defaults.
func Load() (Config, error) {
	// Missing .env is fine; only surface real read errors.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadFromEnv()
}

func loadFromEnv() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set DOCVAULT_API_TOKEN")
	}
	if cfg.Embedding.Dimensions <= 0 {
		return Config{}, fmt.Errorf("invalid embedding dimensions %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize <= 0 {
		return Config{}, fmt.Errorf("invalid embedding batch size %d", cfg.Embedding.BatchSize)
	}
	if cfg.Chunking.OverlapTokens >= cfg.Chunking.MaxTokens {
		return Config{}, fmt.Errorf("chunk overlap (%d) must be smaller than max tokens (%d)",
			cfg.Chunking.OverlapTokens, cfg.Chunking.MaxTokens)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Storage.DataDir, "DOCVAULT_DATA_DIR")
	setInt(&cfg.Server.Port, "DOCVAULT_PORT")
	setString(&cfg.Server.Token, "DOCVAULT_API_TOKEN")
	setString(&cfg.Embedding.BaseURL, "DOCVAULT_EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.Model, "DOCVAULT_EMBEDDING_MODEL")
	setString(&cfg.Embedding.APIKey, "DOCVAULT_EMBEDDING_API_KEY")
	setInt(&cfg.Embedding.Dimensions, "DOCVAULT_EMBEDDING_DIMENSIONS")
	setInt(&cfg.Embedding.BatchSize, "DOCVAULT_EMBEDDING_BATCH_SIZE")
	setInt(&cfg.Chunking.MaxTokens, "DOCVAULT_CHUNK_MAX_TOKENS")
	setInt(&cfg.Chunking.OverlapTokens, "DOCVAULT_CHUNK_OVERLAP_TOKENS")
	setFloat(&cfg.Search.MinScore, "DOCVAULT_SEARCH_MIN_SCORE")
	setFloat(&cfg.Search.FallbackThreshold, "DOCVAULT_SEARCH_FALLBACK_THRESHOLD")
	setInt(&cfg.Search.DefaultTopK, "DOCVAULT_SEARCH_TOP_K")
	setString(&cfg.Log.Level, "DOCVAULT_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
