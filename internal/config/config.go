package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Mailer    MailerConfig    `yaml:"mailer"`
	SES       SESConfig       `yaml:"ses"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	Queue     QueueConfig     `yaml:"queue"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis settings for distributed locking.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// MailerConfig selects and configures the mail-sender capability.
type MailerConfig struct {
	// Vendor is "ses" or "sparkpost". Anything else disables real sending
	// (workers will fail permanently on send, useful only in development).
	Vendor         string `yaml:"vendor"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// ConfirmBaseURL is the public base URL embedded in confirmation emails,
	// e.g. "https://lists.example.com". The subscriber id is appended.
	ConfirmBaseURL string `yaml:"confirm_base_url"`
}

// SESConfig holds AWS SES credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// SparkPostConfig holds SparkPost API settings.
type SparkPostConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// QueueConfig holds task-queue worker pool settings.
type QueueConfig struct {
	Workers        int `yaml:"workers"`
	BatchSize      int `yaml:"batch_size"`
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// Per-job-type retry policies. Zero values fall back to defaults.
	Confirmation RetryConfig `yaml:"confirmation"`
	Fanout       RetryConfig `yaml:"fanout"`
	Delivery     RetryConfig `yaml:"delivery"`
}

// RetryConfig parameterizes retry/backoff for one job type.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`
}

// DeliveryConfig holds dispatcher settings.
type DeliveryConfig struct {
	// MaxAttempts bounds send retries per delivery record. A record whose
	// attempts reach this bound without success is permanently failed.
	MaxAttempts    int `yaml:"max_attempts"`
	SendTimeoutSec int `yaml:"send_timeout_seconds"`
}

// PollInterval returns the worker poll interval as a duration.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMS) * time.Millisecond
}

// SendTimeout returns the per-send timeout as a duration.
func (d DeliveryConfig) SendTimeout() time.Duration {
	return time.Duration(d.SendTimeoutSec) * time.Second
}

// Load reads configuration from a YAML file and fills in defaults.
// A missing file is not an error; defaults (plus env overrides, if the
// caller uses LoadFromEnv) still produce a usable config.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Mailer.TimeoutSeconds == 0 {
		cfg.Mailer.TimeoutSeconds = 30
	}
	if cfg.Mailer.FromName == "" {
		cfg.Mailer.FromName = "Mailing List"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 10
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 50
	}
	if cfg.Queue.PollIntervalMS == 0 {
		cfg.Queue.PollIntervalMS = 200
	}
	applyRetryDefaults(&cfg.Queue.Confirmation, 5, 30, 900)
	applyRetryDefaults(&cfg.Queue.Fanout, 5, 10, 300)
	applyRetryDefaults(&cfg.Queue.Delivery, 5, 60, 3600)
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = cfg.Queue.Delivery.MaxAttempts
	}
	if cfg.Delivery.SendTimeoutSec == 0 {
		cfg.Delivery.SendTimeoutSec = 30
	}
}

func applyRetryDefaults(r *RetryConfig, attempts, base, capSec int) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = attempts
	}
	if r.BackoffBaseSeconds == 0 {
		r.BackoffBaseSeconds = base
	}
	if r.BackoffCapSeconds == 0 {
		r.BackoffCapSeconds = capSec
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("MAILER_VENDOR"); v != "" {
		cfg.Mailer.Vendor = v
	}
	if v := os.Getenv("MAILER_FROM_EMAIL"); v != "" {
		cfg.Mailer.FromEmail = v
	}
	if v := os.Getenv("CONFIRM_BASE_URL"); v != "" {
		cfg.Mailer.ConfirmBaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.SparkPost.BaseURL = v
	}

	return cfg, nil
}
