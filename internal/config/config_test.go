package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.Equal(t, 0.85, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 2, cfg.Clustering.MinClusterSize)
	assert.Equal(t, 20, cfg.Clustering.MaxClusterSize)
	assert.Equal(t, 0.7, cfg.Clustering.Threshold)
	assert.Equal(t, 0.4, cfg.Scoring.RecencyWeight)
	assert.Equal(t, 0.3, cfg.Scoring.ReliabilityWeight)
	assert.Equal(t, 0.3, cfg.Scoring.RelevanceWeight)
	assert.Equal(t, 1.3, cfg.Scoring.BreakingNewsBoost)
	assert.Equal(t, 4, cfg.Realtime.Workers)
	assert.Equal(t, 5, cfg.Realtime.PriorityThreshold)
	assert.Equal(t, 30*time.Second, cfg.Realtime.BatchInterval)
	assert.Equal(t, 100, cfg.Realtime.MaxActiveClusters)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Scoring.RecencyWeight = 0.5
	cfg.Scoring.ReliabilityWeight = 0.5
	cfg.Scoring.RelevanceWeight = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Clustering.Threshold = -0.1 }},
		{"min cluster size one", func(c *Config) { c.Clustering.MinClusterSize = 1 }},
		{"max below min", func(c *Config) { c.Clustering.MinClusterSize = 5; c.Clustering.MaxClusterSize = 4 }},
		{"boost not boosting", func(c *Config) { c.Scoring.BreakingNewsBoost = 1.0 }},
		{"no workers", func(c *Config) { c.Realtime.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
clustering:
  minClusterSize: 3
  maxClusterSize: 15
scoring:
  recencyWeight: 0.5
  reliabilityWeight: 0.25
  relevanceWeight: 0.25
server:
  port: "9999"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv(configPathEnv, path)
	t.Setenv(cohereKeyEnv, "test-key")
	t.Setenv(kafkaBrokersEnv, "broker-1:9092, broker-2:9092")
	t.Setenv(portEnv, "8081")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Clustering.MinClusterSize)
	assert.Equal(t, 15, cfg.Clustering.MaxClusterSize)
	assert.Equal(t, 0.5, cfg.Scoring.RecencyWeight)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Store.KafkaBrokers)
	// Env wins over the file.
	assert.Equal(t, "8081", cfg.Server.Port)
	// Untouched sections keep defaults.
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Clustering.MinClusterSize)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clustering:\n  minClusterSize: 1\n"), 0o644))
	t.Setenv(configPathEnv, path)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minClusterSize")
}
