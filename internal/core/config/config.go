package config

import (
	"time"

	redisclient "github.com/vietddude/resilio/internal/infra/redis"
	"github.com/vietddude/resilio/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Retry        RetryConfig        `yaml:"retry"`
	Timeout      TimeoutConfig      `yaml:"timeout"`
	HealthCheck  HealthCheckConfig  `yaml:"health_check"`
	Reporting    ReportingConfig    `yaml:"reporting"`
	Propagation  PropagationConfig  `yaml:"propagation"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds the request retry policy.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
	Jitter            float64       `yaml:"jitter"` // fraction, 0.1 = ±10%
	RetryableStatuses []int         `yaml:"retryable_statuses"`
	Containerized     bool          `yaml:"containerized"` // adds 507/508 to the retryable set
}

// TimeoutConfig holds per request type timeouts.
type TimeoutConfig struct {
	Default  time.Duration `yaml:"default"`
	Upload   time.Duration `yaml:"upload"`
	Download time.Duration `yaml:"download"`
}

// HealthCheckConfig holds dependency probe settings.
type HealthCheckConfig struct {
	Interval  time.Duration     `yaml:"interval"`
	Timeout   time.Duration     `yaml:"timeout"`
	Endpoints map[string]string `yaml:"endpoints"` // service name -> url
}

// ReportingConfig holds error aggregation and remote reporting settings.
type ReportingConfig struct {
	Sink                string  `yaml:"sink"` // http, postgres, memory, log
	Endpoint            string  `yaml:"endpoint"`
	MinSeverity         string  `yaml:"min_severity"`
	MaxErrorsPerSession int     `yaml:"max_errors_per_session"`
	GroupSimilarErrors  *bool   `yaml:"group_similar_errors"`
	SampleEvery         int     `yaml:"sample_every"`
	RatePerSecond       float64 `yaml:"rate_per_second"`
	Burst               int     `yaml:"burst"`
	QueueSize           int     `yaml:"queue_size"`
	// Retention prunes stored reports older than this; 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// GroupSimilar reports whether similar errors are sampled by group. Defaults to true.
func (c ReportingConfig) GroupSimilar() bool {
	return c.GroupSimilarErrors == nil || *c.GroupSimilarErrors
}

// PropagationConfig holds cross-instance propagation settings.
type PropagationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Channel    string        `yaml:"channel"` // memory, redis, dir
	Prefix     string        `yaml:"prefix"`
	Dir        string        `yaml:"dir"`
	MessageTTL time.Duration `yaml:"message_ttl"`
	InstanceID string        `yaml:"instance_id"` // generated when empty
}

// ConnectivityConfig holds the reachability check used before each attempt.
type ConnectivityConfig struct {
	ProbeAddr string        `yaml:"probe_addr"` // host:port; empty = assume online
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}
