package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testdataPath(name string) string {
	return filepath.Join("testdata", name)
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(testdataPath("valid_config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "notifyd", cfg.App.Name)
	assert.Equal(t, "1.0.0", cfg.App.Version)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "json", cfg.App.LogFormat)

	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, 50, cfg.API.BatchMaxItems)

	assert.Equal(t, 8, cfg.Queue.Workers)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 20.0, cfg.RateLimit.Capacity)
	assert.Equal(t, 5.0, cfg.RateLimit.RefillRate)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 90*time.Second, cfg.Breaker.Cooldown.Duration)

	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval.Duration)

	assert.Equal(t, 15*time.Second, cfg.Webhook.Timeout.Duration)
	assert.Equal(t, "notifyd-test/1.0.0", cfg.Webhook.UserAgent)

	assert.Equal(t, "smtp.example.com", cfg.Email.SMTPHost)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.True(t, cfg.Email.UseTLS)
	assert.True(t, cfg.Email.AddSPFHeader)
	assert.Equal(t, int64(5242880), cfg.Email.MaxAttachments)

	assert.True(t, cfg.Requeue.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Requeue.Interval.Duration)
	assert.Equal(t, 3*time.Minute, cfg.Requeue.StuckAfter.Duration)

	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Retention.CleanupInterval.Duration)
	assert.Equal(t, 168*time.Hour, cfg.Retention.RetentionPeriod.Duration)

	assert.Equal(t, 30*time.Second, cfg.Storage.MonitorInterval.Duration)
	assert.Equal(t, "/data/notifyd-test.db", cfg.Storage.DBPath)
	assert.Equal(t, 75, cfg.Storage.WarningThreshold)
	assert.Equal(t, 95, cfg.Storage.CriticalThreshold)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "/healthz", cfg.Health.LivenessPath)
	assert.Equal(t, "/readyz", cfg.Health.ReadinessPath)
	assert.Equal(t, 9090, cfg.Health.Port)
}

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, 100, cfg.API.BatchMaxItems)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown.Duration)
	assert.Equal(t, 1*time.Second, cfg.Scheduler.PollInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout.Duration)
	assert.True(t, cfg.Email.AddSPFHeader)
	assert.True(t, cfg.Email.AddDKIMHeader)
	assert.Equal(t, int64(10*1024*1024), cfg.Email.MaxAttachments)
	assert.True(t, cfg.Requeue.Enabled)
	assert.True(t, cfg.Requeue.OnStartup)
	assert.Equal(t, 5*time.Minute, cfg.Requeue.Interval.Duration)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 1*time.Hour, cfg.Retention.CleanupInterval.Duration)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.RetentionPeriod.Duration)
	assert.Equal(t, 1*time.Minute, cfg.Storage.MonitorInterval.Duration)
	assert.Equal(t, "/data/notifyd.db", cfg.Storage.DBPath)
	assert.Equal(t, 80, cfg.Storage.WarningThreshold)
	assert.Equal(t, 90, cfg.Storage.CriticalThreshold)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/healthz", cfg.Health.LivenessPath)
	assert.Equal(t, "/readyz", cfg.Health.ReadinessPath)
	assert.Equal(t, 9090, cfg.Health.Port)
}

func TestLoadMalformedYAML(t *testing.T) {
	content := `
this is: [not: valid yaml
  broken: {
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadInvalidLogLevel(t *testing.T) {
	content := `
app:
  logLevel: verbose
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.logLevel must be one of")
}

func TestLoadInvalidLogFormat(t *testing.T) {
	content := `
app:
  logFormat: xml
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.logFormat must be one of")
}

func TestLoadInvalidQueueWorkers(t *testing.T) {
	content := `
queue:
  workers: 0
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.workers must be at least 1")
}

func TestEnvOverrideDBPath(t *testing.T) {
	t.Setenv("DB_PATH", "/override/notifyd.db")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/override/notifyd.db", cfg.Storage.DBPath)
}

func TestEnvOverrideSMTPPassword(t *testing.T) {
	t.Setenv("SMTP_HOST", "smtp.env.example.com")
	t.Setenv("SMTP_USERNAME", "env-user")
	t.Setenv("SMTP_PASSWORD", "secret-password")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "smtp.env.example.com", cfg.Email.SMTPHost)
	assert.Equal(t, "secret-password", cfg.SMTPPassword)
	assert.True(t, cfg.Email.Configured(cfg.SMTPPassword))
}

func TestEnvOverrideDBDirJoinsFilename(t *testing.T) {
	t.Setenv("DB_DIR", "/override-dir")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/override-dir/notifyd.db", cfg.Storage.DBPath)
}

func TestEnvOverrideDatabaseURLWinsOverDBDir(t *testing.T) {
	t.Setenv("DB_DIR", "/override-dir")
	t.Setenv("DATABASE_URL", "/explicit/path.db")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/explicit/path.db", cfg.Storage.DBPath)
}

func TestEnvOverrideQueueWorkers(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "8")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Queue.Workers)
}

func TestEnvOverrideRateLimitSettings(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_CAPACITY", "25")
	t.Setenv("RATE_LIMIT_REFILL", "2.5")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 25.0, cfg.RateLimit.Capacity)
	assert.Equal(t, 2.5, cfg.RateLimit.RefillRate)
}

func TestEnvOverrideBreakerCooldown(t *testing.T) {
	t.Setenv("CB_COOLDOWN", "120")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.Breaker.Cooldown.Duration)
}

func TestEnvOverrideSPFAndDKIMHeaders(t *testing.T) {
	t.Setenv("ADD_SPF_HEADER", "false")
	t.Setenv("ADD_DKIM_HEADER", "false")

	cfg, err := Load(testdataPath("minimal_config.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.Email.AddSPFHeader)
	assert.False(t, cfg.Email.AddDKIMHeader)
}

func TestDurationUnmarshalYAML(t *testing.T) {
	content := `
scheduler:
  pollInterval: 10s
webhook:
  timeout: 45s
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval.Duration)
	assert.Equal(t, 45*time.Second, cfg.Webhook.Timeout.Duration)
}

func TestInvalidDurationValue(t *testing.T) {
	content := `
webhook:
  timeout: not-a-duration
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

// writeTempConfig writes the given YAML content to a temporary file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}
