// ABOUTME: Configuration for the mesh-queue development task queue server.
// ABOUTME: Shares file decoding, env expansion, and logging settings with the manager config.

package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// QueueConfig represents the complete mesh-queue configuration
type QueueConfig struct {
	Server   QueueServerConfig `yaml:"server" toml:"server"`
	Database DatabaseConfig    `yaml:"database" toml:"database"`
	Auth     AuthConfig        `yaml:"auth" toml:"auth"`
	Expiry   ExpiryConfig      `yaml:"expiry" toml:"expiry"`
	Dedupe   DedupeConfig      `yaml:"dedupe" toml:"dedupe"`
	Logging  LoggingConfig     `yaml:"logging" toml:"logging"`
}

// QueueServerConfig holds server address configuration. Either may be empty
// to disable that listener, but not both.
type QueueServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds database configuration. Path ":memory:" selects the
// in-process store.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ExpiryConfig controls how long a running task may wait for its result.
type ExpiryConfig struct {
	TaskTimeout   Duration `yaml:"task_timeout" toml:"task_timeout"`
	SweepSchedule string   `yaml:"sweep_schedule" toml:"sweep_schedule"` // cron spec, e.g. "@every 1m"
}

// DedupeConfig sizes the duplicate-submit cache.
type DedupeConfig struct {
	TTL     Duration `yaml:"ttl" toml:"ttl"`
	MaxSize int      `yaml:"max_size" toml:"max_size"`
}

// MinJWTSecretLength is the shortest accepted HMAC secret.
const MinJWTSecretLength = 32

// LoadQueue reads a mesh-queue configuration file, applies defaults, and validates it.
func LoadQueue(path string) (*QueueConfig, error) {
	var cfg QueueConfig
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *QueueConfig) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8088"
	}
	if c.Database.Path == "" {
		c.Database.Path = ":memory:"
	}
	if c.Expiry.TaskTimeout == 0 {
		c.Expiry.TaskTimeout = Duration(10 * time.Minute)
	}
	if c.Expiry.SweepSchedule == "" {
		c.Expiry.SweepSchedule = "@every 1m"
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = Duration(time.Hour)
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 10000
	}
	c.Logging.applyDefaults()
}

// Validate checks that all required configuration fields are present and valid.
func (c *QueueConfig) Validate() error {
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.http_addr or server.grpc_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Expiry.TaskTimeout <= 0 {
		return fmt.Errorf("expiry.task_timeout must be positive")
	}
	if _, err := cron.ParseStandard(c.Expiry.SweepSchedule); err != nil {
		return fmt.Errorf("expiry.sweep_schedule: %w", err)
	}
	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}
	return c.Logging.validate()
}
