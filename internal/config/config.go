// Package config provides configuration loading for embedsync.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/trycompai/embedsync/internal/logging"
	"github.com/trycompai/embedsync/internal/telemetry"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the embedsync daemon.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	Database   DatabaseConfig   `koanf:"database"`
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Sync       SyncConfig       `koanf:"sync"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds the relational store connection settings.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `koanf:"dsn"`

	// MaxConns is the maximum number of open connections.
	MaxConns int `koanf:"max_conns"`
}

// IndexConfig holds the remote vector index settings.
//
// Enabled=false models an unconfigured deployment: the engine degrades to
// no-ops and empty results instead of failing.
type IndexConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	UseTLS         bool   `koanf:"use_tls"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     int    `koanf:"vector_size"`

	// MaxRetries bounds retries of transient index failures per operation.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the first retry delay. Doubles on each attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// EmbeddingsConfig holds the embedding provider settings.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	// ChunkSizeTokens is the target chunk size in approximate tokens.
	ChunkSizeTokens int `koanf:"chunk_size_tokens"`

	// ChunkOverlapTokens is the overlap between adjacent chunks.
	ChunkOverlapTokens int `koanf:"chunk_overlap_tokens"`

	// ProbeTopK is the result limit for each discovery probe.
	ProbeTopK int `koanf:"probe_top_k"`

	// OrgScanTopK caps the broad per-organization probe used for
	// orphan detection.
	OrgScanTopK int `koanf:"org_scan_top_k"`

	// BatchConcurrency bounds in-flight records within one batch.
	BatchConcurrency int `koanf:"batch_concurrency"`

	// VerifyMaxAttempts bounds consistency verification retries.
	VerifyMaxAttempts int `koanf:"verify_max_attempts"`

	// VerifyInitialBackoff is the first verification retry delay.
	// Doubles on each attempt.
	VerifyInitialBackoff time.Duration `koanf:"verify_initial_backoff"`

	// MinScore drops search results scoring below this threshold.
	MinScore float64 `koanf:"min_score"`
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9400
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	c.Logging.ApplyDefaults()

	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if c.Index.Host == "" {
		c.Index.Host = "localhost"
	}
	if c.Index.Port == 0 {
		c.Index.Port = 6334
	}
	if c.Index.CollectionName == "" {
		c.Index.CollectionName = "embedsync_default"
	}
	if c.Index.VectorSize == 0 {
		c.Index.VectorSize = 1536
	}

	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}

	if c.Sync.ChunkSizeTokens == 0 {
		c.Sync.ChunkSizeTokens = 500
	}
	if c.Sync.ChunkOverlapTokens == 0 {
		c.Sync.ChunkOverlapTokens = 50
	}
	if c.Sync.ProbeTopK == 0 {
		c.Sync.ProbeTopK = 100
	}
	if c.Sync.OrgScanTopK == 0 {
		c.Sync.OrgScanTopK = 1000
	}
	if c.Sync.BatchConcurrency == 0 {
		c.Sync.BatchConcurrency = 10
	}
	if c.Sync.VerifyMaxAttempts == 0 {
		c.Sync.VerifyMaxAttempts = 5
	}
	if c.Sync.VerifyInitialBackoff == 0 {
		c.Sync.VerifyInitialBackoff = time.Second
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "embedsync"
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalidConfig, err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn required", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Index.Enabled {
		if c.Index.Host == "" {
			return fmt.Errorf("%w: index.host required when index is enabled", ErrInvalidConfig)
		}
		if c.Index.Port <= 0 || c.Index.Port > 65535 {
			return fmt.Errorf("%w: invalid index port %d", ErrInvalidConfig, c.Index.Port)
		}
		if c.Index.VectorSize <= 0 {
			return fmt.Errorf("%w: index.vector_size must be positive", ErrInvalidConfig)
		}
	}
	if c.Sync.ChunkOverlapTokens >= c.Sync.ChunkSizeTokens {
		return fmt.Errorf("%w: chunk overlap must be smaller than chunk size", ErrInvalidConfig)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
	}
	return nil
}
