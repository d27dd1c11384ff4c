package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
	assert.Equal(t, 1000, cfg.Batch.StaggerMinMs)
	assert.Equal(t, 3000, cfg.Batch.StaggerMaxMs)
	assert.Equal(t, 5, cfg.Batch.CooldownSecs)
	assert.True(t, cfg.Batch.RetryBlocked)
	assert.Equal(t, 2, cfg.Extract.MaxAttempts)
	assert.Equal(t, 90, cfg.Extract.CallTimeoutSecs)
	assert.Equal(t, 5, cfg.Extract.BlockBackoffSecs)
	assert.True(t, cfg.Extract.CaptureEvidence)
	assert.Equal(t, 120, cfg.TwoFactor.TimeoutSecs)
	assert.Equal(t, 3, cfg.TwoFactor.PollIntervalSecs)
	assert.Equal(t, "http://127.0.0.1:50325", cfg.AdsPower.BaseURL)
	assert.InDelta(t, 1.0, cfg.AdsPower.RateLimit, 0.001)
	assert.Equal(t, 30, cfg.AdsPower.TimeoutSecs)
	assert.Equal(t, []string{"--start-maximized"}, cfg.AdsPower.LaunchArgs)
	assert.Equal(t, "prints", cfg.Browser.EvidenceDir)
	assert.Equal(t, "https://www.livelo.com.br/", cfg.Browser.StartURL)
	assert.Equal(t, "https://api.clickup.com/api/v2", cfg.ClickUp.BaseURL)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, "pt-BR", cfg.Report.Locale)
	assert.Equal(t, "01:00", cfg.Schedule.At)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
batch:
  concurrency: 4
  retry_blocked: false
crypto:
  keys:
    - key-one
    - key-two
extract:
  valid_titles: ["Livelo", "Clube"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.False(t, cfg.Batch.RetryBlocked)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Crypto.Keys)
	assert.Equal(t, []string{"Livelo", "Clube"}, cfg.Extract.ValidTitles)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.TwoFactor.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("BALANCE_STORE_DRIVER", "postgres")
	t.Setenv("BALANCE_LOG_LEVEL", "warn")
	t.Setenv("BALANCE_CLICKUP_TOKEN", "pk_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "pk_123", cfg.ClickUp.Token)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("batch: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Batch.Concurrency = 2
	cfg.Batch.StaggerMinMs = 1000
	cfg.Batch.StaggerMaxMs = 3000
	cfg.Extract.MaxAttempts = 2
	cfg.AdsPower.BaseURL = "http://127.0.0.1:50325"
	cfg.Server.Port = 8080
	cfg.Schedule.At = "01:00"
	return cfg
}

func TestValidateBatch_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("batch"))
}

func TestValidateBatch_Problems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Batch.Concurrency = 0
	cfg.Batch.StaggerMaxMs = 10
	cfg.ClickUp.Token = "pk_123"

	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "batch.concurrency must be at least 1")
	assert.Contains(t, err.Error(), "stagger_max_ms")
	assert.Contains(t, err.Error(), "clickup.token and clickup.target_id")
}

func TestValidateUnsupportedDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported store driver "mysql"`)
}

func TestValidateSchedule_ClockFormat(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("schedule"))

	cfg.Schedule.At = "25:00"
	err := cfg.Validate("schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.at must be HH:MM")

	// batch mode does not care about the schedule
	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port 0 out of range")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "nope"`)
}
