package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/timeline/pkg/artifacts"
	"github.com/Mindburn-Labs/timeline/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TIMELINE_WORKERS", "TIMELINE_LOG_LEVEL", "TIMELINE_OUTPUT_DRIVER", "DATABASE_URL",
		"TIMELINE_REDIS_ADDR", "ARTIFACT_STORAGE_TYPE", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, config.DriverSQL, cfg.Output.Driver)
	assert.Equal(t, "sqlite://timeline.db", cfg.Output.DSN)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, artifacts.StoreTypeFS, cfg.Artifacts.Type)
	assert.False(t, cfg.Observability.Enabled)
}

func TestLoad_FileMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
workers: 8
log:
  format: json
retry:
  max_attempts: 5
botname:
  patterns: ["(?i)bot$"]
  rule: 'name.startsWith("Auto")'
output:
  driver: jsonl
  dir: /tmp/out
  archive: true
artifacts:
  type: s3
  s3:
    bucket: history
observability:
  batch_timeout: 2s
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their default")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(100), cfg.Retry.BaseMs)
	assert.Equal(t, []string{"(?i)bot$"}, cfg.BotName.Patterns)
	assert.Equal(t, `name.startsWith("Auto")`, cfg.BotName.Rule)
	assert.Equal(t, config.DriverJSONL, cfg.Output.Driver)
	assert.True(t, cfg.Output.Archive)
	assert.Equal(t, "history", cfg.Artifacts.S3.Bucket)
	assert.Equal(t, 2*time.Second, cfg.Observability.BatchTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "workers: 8\n")
	t.Setenv("TIMELINE_WORKERS", "16")
	t.Setenv("TIMELINE_LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://timeline@db:5432/timeline")
	t.Setenv("TIMELINE_REDIS_ADDR", "redis:6379")
	t.Setenv("ARTIFACT_STORAGE_TYPE", "gcs")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://timeline@db:5432/timeline", cfg.Output.DSN)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, artifacts.StoreTypeGCS, cfg.Artifacts.Type)
	assert.Equal(t, "collector:4317", cfg.Observability.OTLPEndpoint)
	assert.True(t, cfg.Observability.Enabled)
}

func TestLoad_BadWorkersEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIMELINE_WORKERS", "many")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMELINE_WORKERS")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestLoad_MalformedFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(writeFile(t, "workers: [1, 2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Output.Driver = "kafka"
	cfg.Artifacts.Type = "azure"
	cfg.Observability.SampleRate = 2
	cfg.Retry.BaseMs = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"workers", "log.level", "log.format", "output.driver", "artifacts.type", "sample_rate", "retry"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_DriverRequirements(t *testing.T) {
	cfg := config.Default()
	cfg.Output.DSN = ""
	require.ErrorContains(t, cfg.Validate(), "output.dsn")

	cfg = config.Default()
	cfg.Output.Driver = config.DriverJSONL
	cfg.Output.Dir = ""
	require.ErrorContains(t, cfg.Validate(), "output.dir")
}
