// Package config loads convoy's process-wide YAML configuration: the
// KV key namespace, the Redis connection, per-queue dispatch defaults,
// and the ambient logging/metrics/health/tracing/profiling surfaces.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration read from YAML.
type Config struct {
	Keys        KeysConfig                `yaml:"keys"`
	Redis       RedisConfig               `yaml:"redis"`
	Logging     LoggingConfig             `yaml:"logging"`
	Queues      map[string]QueueConfig    `yaml:"queues,omitempty"`
	Reliability *ReliabilityConfig        `yaml:"reliability,omitempty"`
	Metrics     *MetricsConfig            `yaml:"metrics,omitempty"`
	Health      *HealthConfig             `yaml:"health,omitempty"`
	Tracing     *TracingConfig            `yaml:"tracing,omitempty"`
	Profiling   *ProfilingConfig          `yaml:"profiling,omitempty"`
}

// KeysConfig names the shared KV namespace every queue's keys live
// under, and the default TTL for a day's error log.
type KeysConfig struct {
	Prefix string        `yaml:"prefix"`
	LogTTL time.Duration `yaml:"log_ttl,omitempty"`
}

// RedisConfig configures the shared Redis connection backing
// internal/kv/rediskv.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Database    int           `yaml:"database,omitempty"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
	TLSEnabled  bool          `yaml:"tls_enabled,omitempty"`
	TLSCert     string        `yaml:"tls_cert,omitempty"`
	TLSKey      string        `yaml:"tls_key,omitempty"`
	TLSCA       string        `yaml:"tls_ca,omitempty"`
}

// LoggingConfig configures the zerolog-backed logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// QueueConfig holds the per-queue dispatch defaults, keyed by queue
// name under Config.Queues.
type QueueConfig struct {
	ConcurrentWorkers   int           `yaml:"concurrent_workers,omitempty"`
	JobTimeout          time.Duration `yaml:"job_timeout,omitempty"`
	JamGuardTimeout     time.Duration `yaml:"jam_guard_timeout,omitempty"`
	JamGuardInterval    time.Duration `yaml:"jam_guard_interval,omitempty"`

	// AdmissionBufferSize, if set, fronts this queue's admission with a
	// ring buffer of this capacity so producers don't block on the KV
	// round trip inside AddJob during a burst. Zero disables it.
	AdmissionBufferSize int `yaml:"admission_buffer_size,omitempty"`
}

// ReliabilityConfig holds retry and circuit breaker configuration for
// the Redis backend.
type ReliabilityConfig struct {
	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty"`
}

// MetricsConfig holds metrics HTTP surface configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check HTTP surface configuration.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty"`
	EnableStdout bool    `yaml:"enable_stdout,omitempty"`
}

// ProfilingConfig holds pprof HTTP surface configuration.
type ProfilingConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address"`
	BlockProfile       bool   `yaml:"block_profile"`
	MutexProfile       bool   `yaml:"mutex_profile"`
	GoroutineThreshold int    `yaml:"goroutine_threshold"`
}

// Default values.
const (
	DefaultKeysPrefix      = "convoy:"
	DefaultLogTTL          = 7 * 24 * time.Hour
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultConcurrentWorkers = 1
)

// Load reads configuration from a YAML file, expanding ${VAR}
// environment references before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from path, falling back to
// DefaultConfig if the file cannot be read or parsed.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Keys.Prefix == "" {
		c.Keys.Prefix = DefaultKeysPrefix
	}
	if c.Keys.LogTTL == 0 {
		c.Keys.LogTTL = DefaultLogTTL
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	for name, qc := range c.Queues {
		if qc.ConcurrentWorkers <= 0 {
			qc.ConcurrentWorkers = DefaultConcurrentWorkers
		}
		c.Queues[name] = qc
	}
}

// Validate checks the configuration for internally inconsistent or
// missing required values.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}

	for name, qc := range c.Queues {
		if qc.JobTimeout < 0 {
			return fmt.Errorf("queues.%s: job_timeout must not be negative", name)
		}
		if qc.JamGuardTimeout > 0 && qc.JamGuardInterval <= 0 {
			return fmt.Errorf("queues.%s: jam_guard_interval must be set when jam_guard_timeout is set", name)
		}
	}

	return nil
}

// DefaultConfig returns a configuration usable against a local Redis
// with no queues pre-declared.
func DefaultConfig() *Config {
	cfg := &Config{
		Keys: KeysConfig{
			Prefix: DefaultKeysPrefix,
			LogTTL: DefaultLogTTL,
		},
		Redis: RedisConfig{
			Addr:        DefaultRedisAddr,
			DialTimeout: DefaultRedisDialTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
	return cfg
}
