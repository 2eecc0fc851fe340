package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 6334, cfg.Index.Port)
	assert.Equal(t, "embedsync_default", cfg.Index.CollectionName)
	assert.Equal(t, 1536, cfg.Index.VectorSize)
	assert.Equal(t, 500, cfg.Sync.ChunkSizeTokens)
	assert.Equal(t, 50, cfg.Sync.ChunkOverlapTokens)
	assert.Equal(t, 5, cfg.Sync.VerifyMaxAttempts)
	assert.Equal(t, time.Second, cfg.Sync.VerifyInitialBackoff)
	assert.Equal(t, "embedsync", cfg.Telemetry.ServiceName)
}

func TestValidate(t *testing.T) {
	valid := Config{}
	valid.ApplyDefaults()
	valid.Database.DSN = "postgres://localhost/embedsync"

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("missing dsn", func(t *testing.T) {
		cfg := valid
		cfg.Database.DSN = ""
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("overlap not smaller than size", func(t *testing.T) {
		cfg := valid
		cfg.Sync.ChunkSizeTokens = 100
		cfg.Sync.ChunkOverlapTokens = 100
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("index enabled requires vector size", func(t *testing.T) {
		cfg := valid
		cfg.Index.Enabled = true
		cfg.Index.VectorSize = -1
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("unknown telemetry protocol", func(t *testing.T) {
		cfg := valid
		cfg.Telemetry.Protocol = "smoke-signal"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  dsn: postgres://localhost/embedsync
index:
  enabled: true
  host: qdrant.internal
  vector_size: 384
sync:
  chunk_size_tokens: 400
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/embedsync", cfg.Database.DSN)
	assert.True(t, cfg.Index.Enabled)
	assert.Equal(t, "qdrant.internal", cfg.Index.Host)
	assert.Equal(t, 384, cfg.Index.VectorSize)
	assert.Equal(t, 400, cfg.Sync.ChunkSizeTokens)
	// Defaults still applied for unset fields.
	assert.Equal(t, 50, cfg.Sync.ChunkOverlapTokens)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_PORT", "server.port"},
		{"DATABASE_DSN", "database.dsn"},
		{"SYNC_CHUNK_SIZE_TOKENS", "sync.chunk_size_tokens"},
		{"PLAIN", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in))
	}
}
