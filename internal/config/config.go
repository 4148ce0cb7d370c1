// ABOUTME: Configuration loading and parsing for coven-swarm
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

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/auth"
)

// Executor kinds.
const (
	ExecutorEcho    = "echo"
	ExecutorCommand = "command"
	ExecutorSearch  = "search"
)

// Config represents the complete coven-swarm configuration
type Config struct {
	Server     ServerConfig              `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig           `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig            `yaml:"database" toml:"database"`
	Auth       AuthConfig                `yaml:"auth" toml:"auth"`
	Supervisor SupervisorConfig          `yaml:"supervisor" toml:"supervisor"`
	Executors  map[string]ExecutorConfig `yaml:"executors" toml:"executors"`
	Logging    LoggingConfig             `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve on :443 with tailnet certificates
}

// ListenAddr is the port the API listens on inside the tailnet.
func (t TailscaleConfig) ListenAddr() string {
	if t.HTTPS {
		return ":443"
	}
	return ":80"
}

// BaseURL is the API address clients on the tailnet use.
func (t TailscaleConfig) BaseURL() string {
	if t.HTTPS {
		return "https://" + t.Hostname
	}
	return "http://" + t.Hostname
}

// DatabaseConfig holds the lifecycle ledger location. An empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SupervisorConfig holds the agent supervisor tunables
type SupervisorConfig struct {
	MaxAgents                int     `yaml:"max_agents" toml:"max_agents"`
	MemoryLimitPercent       float64 `yaml:"memory_limit_percent" toml:"memory_limit_percent"`
	CPULimitPercent          float64 `yaml:"cpu_limit_percent" toml:"cpu_limit_percent"`
	MessageQueueSize         int     `yaml:"message_queue_size" toml:"message_queue_size"`
	HeartbeatRefreshesHealth bool    `yaml:"heartbeat_refreshes_health" toml:"heartbeat_refreshes_health"`

	DefaultTimeout      time.Duration `yaml:"-" toml:"-"`
	HealthCheckInterval time.Duration `yaml:"-" toml:"-"`
	SamplerInterval     time.Duration `yaml:"-" toml:"-"`
	ResponseTimeout     time.Duration `yaml:"-" toml:"-"`
	IdleThreshold       time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval   time.Duration `yaml:"-" toml:"-"`
	ReapInterval        time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DefaultTimeoutRaw      string `yaml:"default_timeout" toml:"default_timeout"`
	HealthCheckIntervalRaw string `yaml:"health_check_interval" toml:"health_check_interval"`
	SamplerIntervalRaw     string `yaml:"sampler_interval,omitempty" toml:"sampler_interval,omitempty"`
	ResponseTimeoutRaw     string `yaml:"response_timeout" toml:"response_timeout"`
	IdleThresholdRaw       string `yaml:"idle_threshold" toml:"idle_threshold"`
	HeartbeatIntervalRaw   string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	ReapIntervalRaw        string `yaml:"reap_interval" toml:"reap_interval"`
}

// ExecutorConfig describes what agents of one type run
type ExecutorConfig struct {
	Kind    string   `yaml:"kind" toml:"kind"`
	Prefix  string   `yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	Command string   `yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" toml:"args,omitempty"`
	Dir     string   `yaml:"dir,omitempty" toml:"dir,omitempty"`
	Env     []string `yaml:"env,omitempty" toml:"env,omitempty"`
	BaseURL string   `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Count   int      `yaml:"count,omitempty" toml:"count,omitempty"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8090"},
		Database: DatabaseConfig{Path: "coven-swarm.db"},
		Tailscale: TailscaleConfig{
			Hostname: "coven-swarm",
		},
		Supervisor: SupervisorConfig{
			MaxAgents:              agent.DefaultMaxAgents,
			MemoryLimitPercent:     agent.DefaultMemoryLimitPercent,
			CPULimitPercent:        agent.DefaultCPULimitPercent,
			MessageQueueSize:       agent.DefaultMessageQueueSize,
			DefaultTimeoutRaw:      agent.DefaultAgentTimeout.String(),
			HealthCheckIntervalRaw: agent.DefaultHealthCheckInterval.String(),
			ResponseTimeoutRaw:     agent.DefaultResponseTimeout.String(),
			IdleThresholdRaw:       agent.DefaultIdleThreshold.String(),
			HeartbeatIntervalRaw:   agent.DefaultHeartbeatInterval.String(),
			ReapIntervalRaw:        "30s",

			DefaultTimeout:      agent.DefaultAgentTimeout,
			HealthCheckInterval: agent.DefaultHealthCheckInterval,
			ResponseTimeout:     agent.DefaultResponseTimeout,
			IdleThreshold:       agent.DefaultIdleThreshold,
			HeartbeatInterval:   agent.DefaultHeartbeatInterval,
			ReapInterval:        30 * time.Second,
		},
		Executors: map[string]ExecutorConfig{
			"echo": {Kind: ExecutorEcho},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML. Fields
// missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes configuration text in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	// Executors replace the defaults rather than merging with them.
	cfg.Executors = nil

	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if cfg.Executors == nil {
		cfg.Executors = Default().Executors
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// DefaultPath returns the config file location: $COVEN_SWARM_CONFIG, then
// $XDG_CONFIG_HOME/coven/swarm.yaml, then ~/.config/coven/swarm.yaml.
func DefaultPath() string {
	if p := os.Getenv("COVEN_SWARM_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "swarm.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "swarm.yaml"
	}
	return filepath.Join(home, ".config", "coven", "swarm.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	// An empty secret disables API authentication
	if c.Auth.JWTSecret != "" {
		if err := auth.ValidateSecret(c.Auth.JWTSecret); err != nil {
			return fmt.Errorf("auth.jwt_secret: %w", err)
		}
	}

	s := c.Supervisor
	if s.MaxAgents < 1 {
		return fmt.Errorf("supervisor.max_agents must be at least 1, got %d", s.MaxAgents)
	}
	if s.MemoryLimitPercent <= 0 || s.MemoryLimitPercent > 100 {
		return fmt.Errorf("supervisor.memory_limit_percent must be in (0, 100], got %g", s.MemoryLimitPercent)
	}
	if s.CPULimitPercent <= 0 || s.CPULimitPercent > 100 {
		return fmt.Errorf("supervisor.cpu_limit_percent must be in (0, 100], got %g", s.CPULimitPercent)
	}
	if s.MessageQueueSize < 1 {
		return fmt.Errorf("supervisor.message_queue_size must be at least 1, got %d", s.MessageQueueSize)
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"default_timeout", s.DefaultTimeout},
		{"health_check_interval", s.HealthCheckInterval},
		{"response_timeout", s.ResponseTimeout},
		{"idle_threshold", s.IdleThreshold},
		{"heartbeat_interval", s.HeartbeatInterval},
	} {
		if f.d <= 0 {
			return fmt.Errorf("supervisor.%s must be positive", f.name)
		}
	}
	if s.ReapInterval < 0 {
		return fmt.Errorf("supervisor.reap_interval cannot be negative")
	}

	for agentType, e := range c.Executors {
		switch e.Kind {
		case ExecutorEcho:
		case ExecutorCommand:
			if e.Command == "" {
				return fmt.Errorf("executors.%s.command is required for kind %q", agentType, e.Kind)
			}
		case ExecutorSearch:
			if e.BaseURL == "" {
				return fmt.Errorf("executors.%s.base_url is required for kind %q", agentType, e.Kind)
			}
		default:
			return fmt.Errorf("executors.%s.kind must be one of echo, command, search; got %q", agentType, e.Kind)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// AgentConfig converts the supervisor section into agent.Config.
func (s SupervisorConfig) AgentConfig() agent.Config {
	return agent.Config{
		MaxAgents:                s.MaxAgents,
		DefaultTimeout:           s.DefaultTimeout,
		HealthCheckInterval:      s.HealthCheckInterval,
		SamplerInterval:          s.SamplerInterval,
		MemoryLimitPercent:       s.MemoryLimitPercent,
		CPULimitPercent:          s.CPULimitPercent,
		ResponseTimeout:          s.ResponseTimeout,
		IdleThreshold:            s.IdleThreshold,
		HeartbeatInterval:        s.HeartbeatInterval,
		MessageQueueSize:         s.MessageQueueSize,
		HeartbeatRefreshesHealth: s.HeartbeatRefreshesHealth,
		ReapInterval:             s.ReapInterval,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	s := &cfg.Supervisor
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"default_timeout", s.DefaultTimeoutRaw, &s.DefaultTimeout},
		{"health_check_interval", s.HealthCheckIntervalRaw, &s.HealthCheckInterval},
		{"sampler_interval", s.SamplerIntervalRaw, &s.SamplerInterval},
		{"response_timeout", s.ResponseTimeoutRaw, &s.ResponseTimeout},
		{"idle_threshold", s.IdleThresholdRaw, &s.IdleThreshold},
		{"heartbeat_interval", s.HeartbeatIntervalRaw, &s.HeartbeatInterval},
		{"reap_interval", s.ReapIntervalRaw, &s.ReapInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = 0
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	for name, e := range cfg.Executors {
		if e.TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(e.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing executors.%s.timeout %q: %w", name, e.TimeoutRaw, err)
		}
		e.Timeout = d
		cfg.Executors[name] = e
	}

	return nil
}
