// ABOUTME: Configuration loading and parsing for mesh-manager and mesh-queue
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in remote.transport.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config represents the complete mesh-manager configuration
type Config struct {
	Remote  RemoteConfig  `yaml:"remote" toml:"remote"`
	Manager ManagerConfig `yaml:"manager" toml:"manager"`
	Agents  []AgentConfig `yaml:"agents" toml:"agents"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`
}

// RemoteConfig describes how to reach the remote task queue
type RemoteConfig struct {
	Transport string        `yaml:"transport" toml:"transport"`
	URL       string        `yaml:"url" toml:"url"`             // HTTP base URL
	GRPCAddr  string        `yaml:"grpc_addr" toml:"grpc_addr"` // host:port
	Token     string        `yaml:"token" toml:"token"`
	Timeout   Duration      `yaml:"timeout" toml:"timeout"`
	RateLimit float64       `yaml:"rate_limit" toml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst int           `yaml:"rate_burst" toml:"rate_burst"`
	Breaker   BreakerConfig `yaml:"breaker" toml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for remote calls
type BreakerConfig struct {
	MaxFailures uint32   `yaml:"max_failures" toml:"max_failures"` // consecutive failures before opening
	OpenTimeout Duration `yaml:"open_timeout" toml:"open_timeout"`
}

// ManagerConfig holds poll and report timing
type ManagerConfig struct {
	PollInterval Duration     `yaml:"poll_interval" toml:"poll_interval"`
	DrainTimeout Duration     `yaml:"drain_timeout" toml:"drain_timeout"` // 0 waits for every executor
	Submit       SubmitConfig `yaml:"submit" toml:"submit"`
}

// SubmitConfig bounds result submission retries
type SubmitConfig struct {
	MaxRetries      int      `yaml:"max_retries" toml:"max_retries"`
	InitialInterval Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" toml:"max_interval"`
}

// AgentConfig registers one agent type backed by a builtin handler kind
type AgentConfig struct {
	ID             string         `yaml:"id" toml:"id"`
	Kind           string         `yaml:"kind" toml:"kind"`
	MaxConcurrency int            `yaml:"max_concurrency" toml:"max_concurrency"`
	Options        map[string]any `yaml:"options" toml:"options"`

	// Description and Metadata are informational and shown by GET /agents.
	Description string         `yaml:"description" toml:"description"`
	Metadata    map[string]any `yaml:"metadata" toml:"metadata"`
}

// ServerConfig holds the introspection HTTP server address. Empty disables it.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text, json
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Exporter    string `yaml:"exporter" toml:"exporter"` // stdout or noop
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// Load reads a mesh-manager configuration file, applies defaults, and validates it.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// decodeFile expands ${VAR} references and decodes YAML, or TOML for .toml files.
func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, out); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
		return nil
	}

	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Remote.Transport == "" {
		c.Remote.Transport = TransportHTTP
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = Duration(30 * time.Second)
	}
	if c.Remote.Breaker.MaxFailures == 0 {
		c.Remote.Breaker.MaxFailures = 5
	}
	if c.Remote.Breaker.OpenTimeout == 0 {
		c.Remote.Breaker.OpenTimeout = Duration(10 * time.Second)
	}
	if c.Manager.PollInterval == 0 {
		c.Manager.PollInterval = Duration(time.Second)
	}
	if c.Manager.Submit.MaxRetries == 0 {
		c.Manager.Submit.MaxRetries = 3
	}
	if c.Manager.Submit.InitialInterval == 0 {
		c.Manager.Submit.InitialInterval = Duration(500 * time.Millisecond)
	}
	if c.Manager.Submit.MaxInterval == 0 {
		c.Manager.Submit.MaxInterval = Duration(5 * time.Second)
	}
	for i := range c.Agents {
		if c.Agents[i].Kind == "" {
			c.Agents[i].Kind = "echo"
		}
	}
	c.Logging.applyDefaults()
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mesh-manager"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "stdout"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Remote.Transport {
	case TransportHTTP:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for http transport")
		}
	case TransportGRPC:
		if c.Remote.GRPCAddr == "" {
			return fmt.Errorf("remote.grpc_addr is required for grpc transport")
		}
	default:
		return fmt.Errorf("remote.transport must be %q or %q, got %q", TransportHTTP, TransportGRPC, c.Remote.Transport)
	}

	if c.Remote.RateLimit < 0 {
		return fmt.Errorf("remote.rate_limit must not be negative")
	}
	if c.Manager.PollInterval <= 0 {
		return fmt.Errorf("manager.poll_interval must be positive")
	}
	if c.Manager.DrainTimeout < 0 {
		return fmt.Errorf("manager.drain_timeout must not be negative")
	}
	if c.Manager.Submit.MaxRetries < 0 {
		return fmt.Errorf("manager.submit.max_retries must not be negative")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.MaxConcurrency <= 0 {
			return fmt.Errorf("agents[%d] (%s): max_concurrency must be positive", i, a.ID)
		}
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	switch c.Tracing.Exporter {
	case "stdout", "noop":
	default:
		return fmt.Errorf("tracing.exporter %q is not one of stdout, noop", c.Tracing.Exporter)
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", l.Format)
	}
	return nil
}

// DefaultPath returns the config path from MESH_CONFIG, falling back to
// $XDG_CONFIG_HOME/mesh/<name> (or ~/.config/mesh/<name>).
func DefaultPath(name string) string {
	if p := os.Getenv("MESH_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return name
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mesh", name)
}
