// Package config loads runtime configuration from defaults and RECALL_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Backend selects the storage backend: "file" or "postgres".
	Backend   string
	Server    ServerConfig
	File      FileConfig
	Postgres  PostgresConfig
	Queue     QueueConfig
	Embedding EmbeddingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr string
	// APIToken guards the HTTP API; empty disables auth (local use).
	APIToken string
}

type FileConfig struct {
	// Dir is the root directory of the file backend.
	Dir string
}

type PostgresConfig struct {
	URL            string
	PoolSize       int
	MaxOverflow    int
	AcquireTimeout time.Duration
}

type QueueConfig struct {
	Workers      int
	LeaseTimeout time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

type EmbeddingConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Backend: "file",
		Server: ServerConfig{
			Addr: "127.0.0.1:4400",
		},
		File: FileConfig{
			Dir: defaultDataDir(),
		},
		Postgres: PostgresConfig{
			PoolSize:       5,
			MaxOverflow:    5,
			AcquireTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Workers:      2,
			LeaseTimeout: 30 * time.Second,
			PollInterval: 500 * time.Millisecond,
			MaxAttempts:  5,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Timeout:    30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall", "memory")
}

// Load builds the configuration from defaults and environment overrides,
// then validates it.
func Load() (Config, error) {
	cfg := defaults()
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Backend {
	case "file":
		if c.File.Dir == "" {
			return fmt.Errorf("file backend requires RECALL_FILE_DIR")
		}
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres backend requires RECALL_DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid backend %q (want \"file\" or \"postgres\")", c.Backend)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"RECALL_BACKEND", &cfg.Backend},
		{"RECALL_SERVER_ADDR", &cfg.Server.Addr},
		{"RECALL_API_TOKEN", &cfg.Server.APIToken},
		{"RECALL_FILE_DIR", &cfg.File.Dir},
		{"RECALL_DATABASE_URL", &cfg.Postgres.URL},
		{"RECALL_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL},
		{"RECALL_EMBEDDING_MODEL", &cfg.Embedding.Model},
		{"RECALL_LOG_LEVEL", &cfg.Log.Level},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"RECALL_POOL_SIZE", &cfg.Postgres.PoolSize},
		{"RECALL_MAX_OVERFLOW", &cfg.Postgres.MaxOverflow},
		{"RECALL_QUEUE_WORKERS", &cfg.Queue.Workers},
		{"RECALL_QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts},
		{"RECALL_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions},
	}
	for _, s := range ints {
		if v := os.Getenv(s.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", s.env, err)
			}
			*s.dst = n
		}
	}

	durs := []struct {
		env string
		dst *time.Duration
	}{
		{"RECALL_ACQUIRE_TIMEOUT", &cfg.Postgres.AcquireTimeout},
		{"RECALL_QUEUE_LEASE_TIMEOUT", &cfg.Queue.LeaseTimeout},
		{"RECALL_QUEUE_POLL_INTERVAL", &cfg.Queue.PollInterval},
		{"RECALL_EMBEDDING_TIMEOUT", &cfg.Embedding.Timeout},
	}
	for _, s := range durs {
		if v := os.Getenv(s.env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", s.env, err)
			}
			*s.dst = d
		}
	}

	return nil
}
