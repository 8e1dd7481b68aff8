package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "transcripts", cfg.TranscriptsDir)
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, "local", cfg.Embedder.Type)
	require.NotNil(t, cfg.Embedder.Local)
	assert.Equal(t, 256, cfg.Embedder.Local.Dimension)
	assert.Equal(t, 10, cfg.Query.DefaultTopK)
	assert.Equal(t, 100, cfg.Query.MaxTopK)
}

func TestLoadAppliesOpenAIDefaults(t *testing.T) {
	path := writeConfig(t, `
embedder:
  type: openai
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.OpenAI.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, 30, cfg.Embedder.OpenAI.TimeoutSecs)
	assert.Equal(t, 4, cfg.Embedder.OpenAI.MaxRetries)
}

func TestLoadRejectsNegativeChunkSize(t *testing.T) {
	path := writeConfig(t, "chunk_size: -10\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestLoadRejectsUnknownEmbedder(t *testing.T) {
	path := writeConfig(t, `
embedder:
  type: quantum
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDefaultTopKAboveMax(t *testing.T) {
	path := writeConfig(t, `
query:
  default_top_k: 50
  max_top_k: 20
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
transcripts_dir: /data/episodes
chunk_size: 500
query:
  default_top_k: 5
  max_top_k: 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/data/episodes", cfg.TranscriptsDir)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 5, cfg.Query.DefaultTopK)
	assert.Equal(t, 25, cfg.Query.MaxTopK)
}
