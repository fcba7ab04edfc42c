package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/resilio/internal/core/domain"
)

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the components cannot work with.
func (c *AppConfig) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0,1], got %v", c.Retry.Jitter)
	}
	if _, err := domain.ParseSeverity(c.Reporting.MinSeverity); err != nil {
		return fmt.Errorf("reporting.min_severity: %w", err)
	}
	switch c.Reporting.Sink {
	case "http", "postgres", "memory", "log":
	default:
		return fmt.Errorf("unknown reporting.sink %q", c.Reporting.Sink)
	}
	if c.Reporting.Sink == "http" && c.Reporting.Endpoint == "" {
		return fmt.Errorf("reporting.endpoint is required for the http sink")
	}
	if c.Reporting.Sink == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres sink")
	}
	switch c.Propagation.Channel {
	case "memory", "redis", "dir":
	default:
		return fmt.Errorf("unknown propagation.channel %q", c.Propagation.Channel)
	}
	if c.Propagation.Enabled {
		if c.Propagation.Channel == "redis" && c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis propagation channel")
		}
		if c.Propagation.Channel == "dir" && c.Propagation.Dir == "" {
			return fmt.Errorf("propagation.dir is required for the dir propagation channel")
		}
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	// Zero max_retries is a valid policy, so only a missing retry block gets the default.
	if cfg.Retry.InitialDelay == 0 && cfg.Retry.MaxRetries == 0 && cfg.Retry.BackoffFactor == 0 &&
		cfg.Retry.Jitter == 0 {
		cfg.Retry.MaxRetries = 3
		cfg.Retry.Jitter = 0.1
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 1 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}

	if cfg.Timeout.Default == 0 {
		cfg.Timeout.Default = 30 * time.Second
	}
	if cfg.Timeout.Upload == 0 {
		cfg.Timeout.Upload = 120 * time.Second
	}
	if cfg.Timeout.Download == 0 {
		cfg.Timeout.Download = 60 * time.Second
	}

	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 30 * time.Second
	}
	if cfg.HealthCheck.Timeout == 0 {
		cfg.HealthCheck.Timeout = 5 * time.Second
	}

	if cfg.Reporting.Sink == "" {
		if cfg.Reporting.Endpoint != "" {
			cfg.Reporting.Sink = "http"
		} else {
			cfg.Reporting.Sink = "log"
		}
	}
	if cfg.Reporting.MinSeverity == "" {
		cfg.Reporting.MinSeverity = "warning"
	}
	if cfg.Reporting.MaxErrorsPerSession == 0 {
		cfg.Reporting.MaxErrorsPerSession = 50
	}
	if cfg.Reporting.SampleEvery == 0 {
		cfg.Reporting.SampleEvery = 10
	}
	if cfg.Reporting.RatePerSecond == 0 {
		cfg.Reporting.RatePerSecond = 5
	}
	if cfg.Reporting.Burst == 0 {
		cfg.Reporting.Burst = 10
	}
	if cfg.Reporting.QueueSize == 0 {
		cfg.Reporting.QueueSize = 100
	}

	if cfg.Propagation.Channel == "" {
		cfg.Propagation.Channel = "memory"
	}
	if cfg.Propagation.Prefix == "" {
		cfg.Propagation.Prefix = "resilio:errors"
	}
	if cfg.Propagation.MessageTTL == 0 {
		cfg.Propagation.MessageTTL = time.Minute
	}

	if cfg.Connectivity.Interval == 0 {
		cfg.Connectivity.Interval = 10 * time.Second
	}
	if cfg.Connectivity.Timeout == 0 {
		cfg.Connectivity.Timeout = 2 * time.Second
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "resilio"
	}
}
