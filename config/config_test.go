package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  host: 0.0.0.0
  port: 8080
database:
  driver: sqlite
  dsn: ":memory:"
processor:
  max_concurrent: 5
generator:
  outline_batch_size: 20
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Processor.MaxConcurrent)
	assert.Equal(t, 20, cfg.Generator.OutlineBatchSize)

	// 未配置的字段使用默认值
	assert.Equal(t, 10, cfg.Processor.PollIntervalSeconds)
	assert.Equal(t, 600, cfg.Processor.ProcessingTimeoutSeconds)
	assert.Equal(t, 5, cfg.Generator.MaxConsecutiveErrors)
	assert.Equal(t, 30, cfg.Cleanup.LogRetentionDays)
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.yaml"), []byte("server:\n  port: 9090\n"), 0644))

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := (&Config{}).Defaults()

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "pending_analysis_queue", cfg.Queue.AnalysisQueue)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Processor.MaxConcurrent)
	assert.Equal(t, 10, cfg.Processor.BatchLimit)
	assert.Equal(t, 10, cfg.Generator.PausePollSeconds)
	assert.Equal(t, 3, cfg.Generator.DefaultVersions)
	assert.Equal(t, 7, cfg.Cleanup.FailedLogRetentionDays)
}
