package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
keys:
  prefix: "convoy:"
  log_ttl: 48h

redis:
  addr: "redis.internal:6379"
  database: 2

logging:
  level: debug
  format: json

queues:
  emails:
    concurrent_workers: 10
    job_timeout: 30s
    jam_guard_timeout: 5m
    jam_guard_interval: 1m
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Keys.Prefix != "convoy:" {
		t.Errorf("Keys.Prefix = %q, want convoy:", cfg.Keys.Prefix)
	}
	if cfg.Keys.LogTTL != 48*time.Hour {
		t.Errorf("Keys.LogTTL = %v, want 48h", cfg.Keys.LogTTL)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.Database != 2 {
		t.Errorf("Redis = %+v, want addr=redis.internal:6379 database=2", cfg.Redis)
	}

	qc, ok := cfg.Queues["emails"]
	if !ok {
		t.Fatal("queues.emails not parsed")
	}
	if qc.ConcurrentWorkers != 10 || qc.JobTimeout != 30*time.Second {
		t.Errorf("queues.emails = %+v, want concurrent_workers=10 job_timeout=30s", qc)
	}
}

func TestLoadConfig_EnvVarExpansion(t *testing.T) {
	os.Setenv("CONVOY_REDIS_ADDR", "env-redis:6379")
	defer os.Unsetenv("CONVOY_REDIS_ADDR")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
redis:
  addr: "${CONVOY_REDIS_ADDR}"
logging:
  level: warn
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Redis.Addr != "env-redis:6379" {
		t.Errorf("Redis.Addr = %q, want env-redis:6379 (from env var)", cfg.Redis.Addr)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Keys.Prefix != DefaultKeysPrefix {
		t.Errorf("Keys.Prefix = %q, want default %q", cfg.Keys.Prefix, DefaultKeysPrefix)
	}
	if cfg.Redis.Addr != DefaultRedisAddr {
		t.Errorf("Redis.Addr = %q, want default %q", cfg.Redis.Addr, DefaultRedisAddr)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, DefaultLogLevel)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "valid default config",
			config: DefaultConfig(),
		},
		{
			name: "invalid log level",
			config: &Config{
				Redis:   RedisConfig{Addr: "localhost:6379"},
				Logging: LoggingConfig{Level: "verbose", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			config: &Config{
				Redis:   RedisConfig{Addr: "localhost:6379"},
				Logging: LoggingConfig{Level: "info", Format: "xml"},
			},
			wantErr: true,
		},
		{
			name: "missing redis addr",
			config: &Config{
				Logging: LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "negative job timeout",
			config: &Config{
				Redis:   RedisConfig{Addr: "localhost:6379"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Queues:  map[string]QueueConfig{"emails": {JobTimeout: -time.Second}},
			},
			wantErr: true,
		},
		{
			name: "jam guard timeout without interval",
			config: &Config{
				Redis:   RedisConfig{Addr: "localhost:6379"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Queues:  map[string]QueueConfig{"emails": {JamGuardTimeout: time.Minute}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg := LoadOrDefault("/nonexistent/path/config.yaml")
	if cfg.Redis.Addr != DefaultRedisAddr {
		t.Errorf("LoadOrDefault fallback Redis.Addr = %q, want %q", cfg.Redis.Addr, DefaultRedisAddr)
	}
}
