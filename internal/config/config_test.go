package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "lead-alerts.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 300000, cfg.Engine.HighValueThreshold, 0.001)
	assert.Equal(t, 8, cfg.Engine.Shards)
	assert.Equal(t, 256, cfg.Engine.QueueDepth)
	assert.Equal(t, 72, cfg.Engine.RetentionHours)
	assert.Equal(t, 7, cfg.Engine.StaleLeadDays)
	assert.InDelta(t, 0.95, cfg.Engine.SignificanceThreshold, 0.001)
	assert.InDelta(t, 2.0, cfg.Engine.Ladder.CriticalMultiple, 0.001)
	assert.InDelta(t, 1.5, cfg.Engine.Ladder.HighMultiple, 0.001)
	assert.InDelta(t, 1.2, cfg.Engine.Ladder.MediumMultiple, 0.001)
	assert.Equal(t, "rules.yaml", cfg.Rules.Path)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.MaxBackoff)
	assert.Equal(t, 300, cfg.Health.CheckIntervalSecs)
	assert.InDelta(t, 0.02, cfg.Health.DriftThreshold, 0.0001)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/alerts
log:
  level: debug
  format: console
server:
  port: 9090
engine:
  high_value_threshold: 500000
  stale_lead_days: 14
dispatch:
  channels:
    - id: sales-push
      type: push
      enabled: true
      webhook_url: https://hooks.example.com/sales
      min_severity: high
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 500000, cfg.Engine.HighValueThreshold, 0.001)
	assert.Equal(t, 14, cfg.Engine.StaleLeadDays)
	require.Len(t, cfg.Dispatch.Channels, 1)
	assert.Equal(t, "sales-push", cfg.Dispatch.Channels[0].ID)
	assert.Equal(t, "push", cfg.Dispatch.Channels[0].Type)
	assert.True(t, cfg.Dispatch.Channels[0].Enabled)
	assert.Equal(t, "high", cfg.Dispatch.Channels[0].MinSeverity)
	// Defaults still apply for unset values
	assert.Equal(t, 8, cfg.Engine.Shards)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LEADALERTS_STORE_DRIVER", "postgres")
	t.Setenv("LEADALERTS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("LEADALERTS_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
