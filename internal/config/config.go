package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// Config holds all configuration for the contentpipe server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Processor ProcessorConfig
	Callback  CallbackConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type PipelineConfig struct {
	// Version is stamped on every job at creation for auditing which code
	// produced a result.
	Version        string
	MaxConcurrency int
}

type ProcessorConfig struct {
	Kind    string
	Timeout time.Duration
	Remote  RemoteProcessorConfig
}

type RemoteProcessorConfig struct {
	BaseURL string
	Model   string
}

type CallbackConfig struct {
	// Endpoint is optional; empty disables callback delivery entirely.
	Endpoint       string
	Secret         string
	AttemptTimeout time.Duration
	// InitialBackoff is the wait before the second attempt; each retry
	// multiplies it by four (1s, 4s, 16s with the default).
	InitialBackoff time.Duration
	MaxAttempts    int
}

type RetentionConfig struct {
	FullWindow    time.Duration
	CompactWindow time.Duration
	PurgeInterval time.Duration
}

var validProcessors = map[string]bool{
	"remote": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CONTENTPIPE_PORT", 8080),
			Env:  envString("CONTENTPIPE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Pipeline: PipelineConfig{
			Version:        envString("PIPELINE_VERSION", "v1"),
			MaxConcurrency: envInt("MAX_CONCURRENCY", 4),
		},
		Processor: ProcessorConfig{
			Kind:    os.Getenv("PROCESSOR"),
			Timeout: envDurationSecs("PROCESSOR_TIMEOUT_SECS", 120*time.Second),
			Remote: RemoteProcessorConfig{
				BaseURL: os.Getenv("PROCESSOR_BASE_URL"),
				Model:   envString("PROCESSOR_MODEL", ""),
			},
		},
		Callback: CallbackConfig{
			Endpoint:       os.Getenv("CALLBACK_URL"),
			Secret:         os.Getenv("CALLBACK_SECRET"),
			AttemptTimeout: envDurationSecs("CALLBACK_ATTEMPT_TIMEOUT_SECS", 10*time.Second),
			InitialBackoff: envDuration("CALLBACK_INITIAL_BACKOFF", time.Second),
			MaxAttempts:    envInt("CALLBACK_MAX_ATTEMPTS", 3),
		},
		Retention: RetentionConfig{
			FullWindow:    time.Duration(envInt("RETENTION_FULL_DAYS", 60)) * 24 * time.Hour,
			CompactWindow: time.Duration(envInt("RETENTION_COMPACT_DAYS", 365)) * 24 * time.Hour,
			PurgeInterval: envDuration("PURGE_INTERVAL", 6*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Pipeline.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.Pipeline.MaxConcurrency)
	}

	if c.Processor.Kind == "" {
		return fmt.Errorf("PROCESSOR is required")
	}
	if !validProcessors[c.Processor.Kind] {
		return fmt.Errorf("PROCESSOR must be one of remote, mock; got %q", c.Processor.Kind)
	}
	if c.Processor.Kind == "remote" {
		if c.Processor.Remote.BaseURL == "" {
			return fmt.Errorf("PROCESSOR_BASE_URL is required when PROCESSOR is remote")
		}
		if !strings.HasPrefix(c.Processor.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Processor.Remote.BaseURL, "https://") {
			return fmt.Errorf("PROCESSOR_BASE_URL must start with http:// or https://, got %q", c.Processor.Remote.BaseURL)
		}
	}

	if c.Callback.Endpoint != "" {
		if !strings.HasPrefix(c.Callback.Endpoint, "http://") && !strings.HasPrefix(c.Callback.Endpoint, "https://") {
			return fmt.Errorf("CALLBACK_URL must start with http:// or https://, got %q", c.Callback.Endpoint)
		}
		if c.Callback.Secret == "" {
			return fmt.Errorf("CALLBACK_SECRET is required when CALLBACK_URL is set")
		}
	}
	if c.Callback.MaxAttempts < 1 {
		return fmt.Errorf("CALLBACK_MAX_ATTEMPTS must be at least 1, got %d", c.Callback.MaxAttempts)
	}

	if c.Retention.FullWindow <= 0 || c.Retention.CompactWindow <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}

	return nil
}

// RetentionWindow returns the retention window for a data tier.
func (c *Config) RetentionWindow(tier string) time.Duration {
	if tier == models.DataTierFull {
		return c.Retention.FullWindow
	}
	return c.Retention.CompactWindow
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
