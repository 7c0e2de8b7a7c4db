package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
}

func TestInitializeDefaults(t *testing.T) {
	// Empty directory: no tableflow.yaml means defaults only.
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Server.MaxWSConnections)
	assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, PartitionTimeBased, cfg.Partition.Strategy)
	assert.Equal(t, "2006/01", cfg.Partition.TimeFormat)
	assert.Equal(t, 5, cfg.Jobs.MaxWorkers)
	assert.Equal(t, 300*time.Second, cfg.Execution.StepTimeout)
	assert.False(t, cfg.Slack.Enabled)
	assert.True(t, filepath.IsAbs(cfg.Storage.BaseDir), "base_dir should be absolute")
	assert.True(t, filepath.IsAbs(cfg.Database.Path), "database path should be absolute")
}

func TestInitializeOverridesMergeOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
server:
  max_ws_connections: 3
jobs:
  max_workers: 2
  queue_size: 7
partition:
  strategy: hash-based
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	// Overridden fields.
	assert.Equal(t, 3, cfg.Server.MaxWSConnections)
	assert.Equal(t, 2, cfg.Jobs.MaxWorkers)
	assert.Equal(t, 7, cfg.Jobs.QueueSize)
	assert.Equal(t, PartitionHashBased, cfg.Partition.Strategy)

	// Untouched fields keep defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.WSWriteTimeout)
	assert.Equal(t, time.Hour, cfg.Jobs.MaxAge)
}

func TestInitializeEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	dataDir := t.TempDir()
	t.Setenv("TABLEFLOW_TEST_DATA_DIR", dataDir)

	writeConfig(t, dir, `
storage:
  base_dir: "{{.TABLEFLOW_TEST_DATA_DIR}}/files"
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "files"), cfg.Storage.BaseDir)
}

func TestInitializeMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server: [not a mapping")

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
partition:
  strategy: round-robin
`)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition.strategy")
}
