package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

cache:
  fast_tier_size: 1000
  shards: 4
  base_ttl_minutes: 60
  persistent_backend: "redis"

prediction:
  lookback_days: 30
  min_activities: 5

decision:
  min_category_weight: 0.3
  milestone_days: [5, 10]
  cooldown_hours:
    minimal: 200
    high: 6

scheduler:
  batch_size: 50
  generation:
    interval_seconds: 900
    start_hour: 9
    end_hour: 20

training:
  dataset_source: "sql"
  cv_folds: 3
  tolerance: 0.05

artifacts:
  type: "local"
  local_path: "./test-models"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 1000, cfg.Cache.FastTierSize)
	assert.Equal(t, 4, cfg.Cache.Shards)
	assert.Equal(t, time.Hour, cfg.Cache.BaseTTL())
	assert.Equal(t, "redis", cfg.Cache.PersistentBackend)

	assert.Equal(t, 30, cfg.Prediction.LookbackDays)
	assert.Equal(t, 5, cfg.Prediction.MinActivities)

	assert.Equal(t, 0.3, cfg.Decision.MinCategoryWeight)
	assert.Equal(t, []int{5, 10}, cfg.Decision.MilestoneDays)
	assert.Equal(t, 200*time.Hour, cfg.Decision.Cooldown("minimal", time.Hour))
	assert.Equal(t, 6*time.Hour, cfg.Decision.Cooldown("high", time.Hour))
	assert.Equal(t, time.Hour, cfg.Decision.Cooldown("daily", time.Hour), "missing key uses fallback")

	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Generation.Interval())
	assert.Equal(t, 9, cfg.Scheduler.Generation.StartHour)
	assert.Equal(t, 20, cfg.Scheduler.Generation.EndHour)

	assert.Equal(t, "sql", cfg.Training.DatasetSource)
	assert.Equal(t, 3, cfg.Training.CVFolds)
	assert.Equal(t, 0.05, cfg.Training.Tolerance)

	assert.Equal(t, "./test-models", cfg.Artifacts.LocalPath)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 8081\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, time.Minute, cfg.Server.ModelSync())
	assert.Equal(t, 50000, cfg.Cache.FastTierSize)
	assert.Equal(t, 6*time.Hour, cfg.Cache.BaseTTL())
	assert.Equal(t, 30*time.Minute, cfg.Cache.MinTTL())
	assert.Equal(t, 24*time.Hour, cfg.Cache.MaxTTL())
	assert.Equal(t, "postgres", cfg.Cache.PersistentBackend)
	assert.Equal(t, 3, cfg.Prediction.MinActivities)
	assert.Equal(t, 2*time.Second, cfg.Prediction.Deadline())
	assert.Equal(t, DefaultMilestoneDays, cfg.Decision.MilestoneDays)
	assert.Equal(t, 168*time.Hour, cfg.Decision.Cooldown("minimal", 0))
	assert.Equal(t, 24*time.Hour, cfg.Decision.Cooldown("daily", 0))
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 72*time.Hour, cfg.Delivery.ExpireAfter())
	assert.Equal(t, time.Minute, cfg.Scheduler.Delivery.Interval())
	assert.Equal(t, 8, cfg.Scheduler.Generation.StartHour)
	assert.Equal(t, 21, cfg.Scheduler.Generation.EndHour)
	assert.Equal(t, 90, cfg.Scheduler.RetentionDays)
	assert.Equal(t, 365, cfg.Scheduler.ActedRetentionDays)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.StuckGrace())
	assert.Equal(t, 5, cfg.Training.CVFolds)
	assert.Equal(t, 48*time.Hour, cfg.Training.GracePeriod())
	assert.Equal(t, "local", cfg.Artifacts.Type)
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}\n"), 0644))

	fromFile, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, Default(), fromFile)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://file/db"
delivery:
  push_gateway_url: "https://file-gateway"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("PUSH_GATEWAY_URL", "https://env-gateway")
	t.Setenv("ARTIFACT_S3_BUCKET", "models-bucket")
	t.Setenv("SNOWFLAKE_DSN", "user:pw@account/db/schema")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "https://env-gateway", cfg.Delivery.PushGatewayURL)
	assert.Equal(t, "s3", cfg.Artifacts.Type)
	assert.Equal(t, "models-bucket", cfg.Artifacts.S3Bucket)
	assert.Equal(t, "sql", cfg.Training.DatasetSource)
	assert.Equal(t, "snowflake", cfg.Training.SQLDriver)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnv_NoFile(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestJobConfig_AnyHourWhenRangeEmpty(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Scheduler.Delivery.StartHour, cfg.Scheduler.Delivery.EndHour)
	assert.Equal(t, 2, cfg.Scheduler.Delivery.Retries)
}
