package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, EmbeddingDimension, cfg.Embedding.Dimension)
	assert.True(t, cfg.ExtractorEnabled)
	assert.True(t, cfg.M3Enabled)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().RAGTopK, cfg.RAGTopK)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memfuse.yaml")
	yamlBody := `
rag_top_k: 3
m3_enabled: false
embedding:
  base_url: "http://embedder.local"
  model: "custom-embed"
store:
  postgres_dsn: "postgres://example"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RAGTopK)
	assert.False(t, cfg.M3Enabled)
	assert.Equal(t, "http://embedder.local", cfg.Embedding.BaseURL)
	assert.Equal(t, "custom-embed", cfg.Embedding.Model)
	assert.Equal(t, "postgres://example", cfg.Store.PostgresDSN)
	// Dimension untouched by YAML must still default.
	assert.Equal(t, EmbeddingDimension, cfg.Embedding.Dimension)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memfuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag_top_k: 3\n"), 0o600))

	t.Setenv("MEMFUSE_RAG_TOP_K", "9")
	t.Setenv("MEMFUSE_KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("MEMFUSE_EXTRACTOR_ENABLED", "false")
	t.Setenv("MEMFUSE_DEDUP_SIM_THRESHOLD", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.RAGTopK)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Queue.KafkaBrokers)
	assert.False(t, cfg.ExtractorEnabled)
	assert.InDelta(t, 0.5, cfg.DedupSimThreshold, 1e-9)
}

func TestLoad_ProviderConventionalAPIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key", cfg.LLM.APIKey)
}
