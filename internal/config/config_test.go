package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config file present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leadpipe.db", cfg.Store.SQLitePath)
	assert.Equal(t, 25, cfg.Apify.TestCount)
	assert.Equal(t, 1000, cfg.Apify.FullCount)
	assert.Equal(t, 80, cfg.Gate.MatchThreshold)
	assert.Equal(t, 80, cfg.Gate.PassThreshold)
	assert.Equal(t, 20, cfg.Gate.ChunkSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Upload.ChunkSize)
	assert.Equal(t, "09:00", cfg.Instantly.SendFrom)
	assert.True(t, cfg.Segment.ByRole)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
store:
  driver: postgres
  database_url: postgres://localhost/leadpipe
gate:
  match_threshold: 70
verify:
  keep_risky: true
`), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/leadpipe", cfg.Store.DatabaseURL)
	assert.Equal(t, 70, cfg.Gate.MatchThreshold)
	assert.True(t, cfg.Verify.KeepRisky)

	// Untouched keys still take defaults.
	assert.Equal(t, 80, cfg.Gate.PassThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEADPIPE_ANTHROPIC_KEY", "sk-test")
	t.Setenv("LEADPIPE_GATE_MATCH_THRESHOLD", "65")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
	assert.Equal(t, 65, cfg.Gate.MatchThreshold)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [not: a map"), 0o644))
	t.Chdir(dir)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read file")
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouting", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
