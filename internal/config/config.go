// Package config handles loading, validating, and applying defaults to the
// notifyd configuration. Configuration is read from a YAML file and may be
// overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that implements yaml.Unmarshaler
// so that Go-style duration strings (e.g. "30s", "5m") can be used in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a YAML scalar as a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML serialises the duration back to a human-readable string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the top-level configuration for the notifyd service.
type Config struct {
	App       AppConfig       `yaml:"app"`
	API       APIConfig       `yaml:"api"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Email     EmailConfig     `yaml:"email"`
	Requeue   RequeueConfig   `yaml:"requeue"`
	Retention RetentionConfig `yaml:"retention"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`

	// SMTPPassword is populated from the SMTP_PASSWORD environment variable.
	// It is never read from the config file.
	SMTPPassword string `yaml:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// APIConfig controls the HTTP intake server.
type APIConfig struct {
	Port          int `yaml:"port"`
	BatchMaxItems int `yaml:"batchMaxItems"`
}

// QueueConfig controls the priority queue worker pool.
type QueueConfig struct {
	Workers int `yaml:"workers"`
}

// RateLimitConfig controls the optional per-recipient token bucket limiter.
type RateLimitConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refillRate"`
}

// BreakerConfig controls the per-recipient circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

// SchedulerConfig controls the due-schedule polling loop.
type SchedulerConfig struct {
	PollInterval Duration `yaml:"pollInterval"`
}

// WebhookConfig controls the HTTP webhook channel adapter.
type WebhookConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"userAgent"`
}

// EmailConfig controls the email channel adapter, including the optional
// real-SMTP send path.
type EmailConfig struct {
	SMTPHost       string `yaml:"smtpHost"`
	SMTPPort       int    `yaml:"smtpPort"`
	SMTPUsername   string `yaml:"smtpUsername"`
	From           string `yaml:"from"`
	UseTLS         bool   `yaml:"useTLS"`
	StartTLS       bool   `yaml:"startTLS"`
	AddSPFHeader   bool   `yaml:"addSPFHeader"`
	AddDKIMHeader  bool   `yaml:"addDKIMHeader"`
	MaxAttachments int64  `yaml:"maxAttachmentBytes"`
}

// Configured reports whether enough SMTP settings are present to attempt a
// real send; otherwise the email adapter simulates delivery.
func (e EmailConfig) Configured(password string) bool {
	return e.SMTPHost != "" && e.SMTPUsername != "" && password != ""
}

// RequeueConfig controls the startup/periodic re-admission of notifications
// stuck in-flight across a process restart.
type RequeueConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Interval   Duration `yaml:"interval"`
	OnStartup  bool     `yaml:"onStartup"`
	StuckAfter Duration `yaml:"stuckAfter"`
}

// RetentionConfig controls old-record cleanup.
type RetentionConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanupInterval"`
	RetentionPeriod Duration `yaml:"retentionPeriod"`
}

// StorageConfig controls the SQLite database and volume monitoring.
type StorageConfig struct {
	MonitorInterval   Duration `yaml:"monitorInterval"`
	DBPath            string   `yaml:"dbPath"`
	VolumePath        string   `yaml:"volumePath"`
	WarningThreshold  int      `yaml:"warningThreshold"`
	CriticalThreshold int      `yaml:"criticalThreshold"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health/readiness probe endpoints.
type HealthConfig struct {
	LivenessPath  string `yaml:"livenessPath"`
	ReadinessPath string `yaml:"readinessPath"`
	Port          int    `yaml:"port"`
}

// Load reads the YAML configuration file at path, applies defaults, applies
// environment-variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}
	if c.App.Name == "" {
		c.App.Name = "notifyd"
	}

	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if c.API.BatchMaxItems == 0 {
		c.API.BatchMaxItems = 100
	}

	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}

	// RateLimit defaults: a capacity/refill pair is meaningless unless the
	// section was actually provided, so only default the numbers, never
	// force Enabled on.
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 10
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 1
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 3
	}
	if c.Breaker.Cooldown.Duration == 0 {
		c.Breaker.Cooldown.Duration = 60 * time.Second
	}

	if c.Scheduler.PollInterval.Duration == 0 {
		c.Scheduler.PollInterval.Duration = 1 * time.Second
	}

	if c.Webhook.Timeout.Duration == 0 {
		c.Webhook.Timeout.Duration = 10 * time.Second
	}
	if c.Webhook.UserAgent == "" {
		c.Webhook.UserAgent = fmt.Sprintf("%s/%s", c.App.Name, c.App.Version)
	}

	// Email defaults: with no SMTP host configured, SPF/DKIM placeholder
	// headers are both turned on. With an SMTP host set, addSPFHeader and
	// addDKIMHeader are used as written (an omitted flag is off).
	if c.Email.SMTPHost == "" {
		c.Email.AddSPFHeader = true
		c.Email.AddDKIMHeader = true
	}
	if c.Email.MaxAttachments == 0 {
		c.Email.MaxAttachments = 10 * 1024 * 1024
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}

	// Requeue defaults.
	if c.Requeue.Interval.Duration == 0 {
		c.Requeue.Enabled = true
		c.Requeue.OnStartup = true
		c.Requeue.Interval.Duration = 5 * time.Minute
		c.Requeue.StuckAfter.Duration = 2 * time.Minute
	} else if c.Requeue.StuckAfter.Duration == 0 {
		c.Requeue.StuckAfter.Duration = 2 * time.Minute
	}

	// Retention defaults.
	if c.Retention.CleanupInterval.Duration == 0 {
		c.Retention.Enabled = true
		c.Retention.CleanupInterval.Duration = 1 * time.Hour
		c.Retention.RetentionPeriod.Duration = 30 * 24 * time.Hour
	} else if c.Retention.RetentionPeriod.Duration == 0 {
		c.Retention.RetentionPeriod.Duration = 30 * 24 * time.Hour
	}

	// Storage defaults.
	if c.Storage.MonitorInterval.Duration == 0 {
		c.Storage.MonitorInterval.Duration = 1 * time.Minute
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "/data/notifyd.db"
	}
	if c.Storage.VolumePath == "" {
		c.Storage.VolumePath = "/data"
	}
	if c.Storage.WarningThreshold == 0 {
		c.Storage.WarningThreshold = 80
	}
	if c.Storage.CriticalThreshold == 0 {
		c.Storage.CriticalThreshold = 90
	}

	// Metrics defaults.
	if c.Metrics.Port == 0 {
		c.Metrics.Enabled = true
		c.Metrics.Port = 9090
		c.Metrics.Path = "/metrics"
	} else if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Health defaults.
	if c.Health.LivenessPath == "" {
		c.Health.LivenessPath = "/healthz"
	}
	if c.Health.ReadinessPath == "" {
		c.Health.ReadinessPath = "/readyz"
	}
	if c.Health.Port == 0 {
		c.Health.Port = c.Metrics.Port
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("DB_DIR"); v != "" {
		c.Storage.DBPath = v + "/notifyd.db"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DBPath = v
	}

	if v := os.Getenv("QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.Workers = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RateLimit.Enabled = b
		}
	}
	if v := os.Getenv("RATE_LIMIT_CAPACITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.Capacity = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_REFILL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RefillRate = f
		}
	}

	if v := os.Getenv("CB_COOLDOWN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Breaker.Cooldown.Duration = time.Duration(f * float64(time.Second))
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Email.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Email.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTPPassword = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		c.Email.From = v
	}
	if v := os.Getenv("SMTP_USE_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Email.UseTLS = b
		}
	}
	if v := os.Getenv("SMTP_STARTTLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Email.StartTLS = b
		}
	}

	if v := os.Getenv("ADD_SPF_HEADER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Email.AddSPFHeader = b
		}
	}
	if v := os.Getenv("ADD_DKIM_HEADER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Email.AddDKIMHeader = b
		}
	}
}

// validate checks that all required fields are populated and that enum values
// are within the allowed set.
func (c *Config) validate() error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.logLevel must be one of: debug, info, warn, error; got %q", c.App.LogLevel)
	}

	switch c.App.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("app.logFormat must be one of: json, text; got %q", c.App.LogFormat)
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.API.BatchMaxItems < 1 {
		return fmt.Errorf("api.batchMaxItems must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failureThreshold must be at least 1")
	}

	return nil
}
