// Package config provides configuration management for agentgate.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentgate.
type Config struct {
	Server    GatewayServerConfig `mapstructure:"server"`
	Session   SessionConfig       `mapstructure:"session"`
	Queue     QueueConfig         `mapstructure:"queue"`
	Ping      PingConfig          `mapstructure:"ping"`
	AgentCLI  AgentCLIConfig      `mapstructure:"agentCli"`
	Docker    DockerConfig        `mapstructure:"docker"`
	NATS      NATSConfig          `mapstructure:"nats"`
	Events    EventsConfig        `mapstructure:"events"`
	History   HistoryConfig       `mapstructure:"history"`
	MCP       MCPConfig           `mapstructure:"mcp"`
	Auth      AuthConfig          `mapstructure:"auth"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Tracing   TracingConfig       `mapstructure:"tracing"`
}

// GatewayServerConfig holds the client-facing listener configuration.
type GatewayServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
	SafeRoot     string `mapstructure:"safeRoot"`     // filesystem root setWorkingDirectory is confined to
}

// SessionConfig holds Session Manager tuning.
type SessionConfig struct {
	TimeoutHours    int `mapstructure:"timeoutHours"`    // default 24
	WarningHours    int `mapstructure:"warningHours"`    // default 20
	MaxConcurrent   int `mapstructure:"maxConcurrent"`   // default 10
	CleanupInterval int `mapstructure:"cleanupInterval"` // seconds between expiry sweeps
}

// QueueConfig holds Delivery Queue tuning.
type QueueConfig struct {
	TTLHours      int `mapstructure:"ttlHours"`      // default 24
	MaxPerSession int `mapstructure:"maxPerSession"` // back-pressure bound
	SweepInterval int `mapstructure:"sweepInterval"` // seconds between expire() sweeps
}

// PingConfig holds Connection Gateway liveness tuning.
type PingConfig struct {
	IntervalSeconds      int `mapstructure:"intervalSeconds"`      // default 15
	ActivityExemptSeconds int `mapstructure:"activityExemptSeconds"` // default 30
}

// AgentCLIConfig holds Agent CLI resolution and execution configuration.
type AgentCLIConfig struct {
	Path    string   `mapstructure:"path"`    // explicit override; else AGENT_CLI_PATH env, else `which`, else probed paths
	Name    string   `mapstructure:"name"`    // binary name to resolve, e.g. "claude"
	Sandbox string   `mapstructure:"sandbox"` // "" (host subprocess) or "docker"
	EnvPass []string `mapstructure:"envPass"` // whitelisted credential env vars passed through to the child
}

// DockerConfig holds Docker client configuration, used only when AgentCLIConfig.Sandbox == "docker".
type DockerConfig struct {
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	Image          string `mapstructure:"image"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	VolumeBasePath string `mapstructure:"volumeBasePath"`
}

// NATSConfig holds NATS messaging configuration for the optional distributed event bus backing.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// HistoryConfig holds the optional sqlite-backed message history store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MCPConfig holds the optional MCP tool server the Agent CLI is launched
// against: a read-only surface over session and history state, exposed over
// SSE and streamable HTTP for the agent process to call back into.
type MCPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// AuthConfig holds bearer-token authentication configuration.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds optional OpenTelemetry tracing configuration.
type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *GatewayServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *GatewayServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Timeout returns the session idle timeout as a time.Duration.
func (s *SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutHours) * time.Hour
}

// WarningAt returns the session warning threshold as a time.Duration.
func (s *SessionConfig) WarningAt() time.Duration {
	return time.Duration(s.WarningHours) * time.Hour
}

// TTL returns the queued-event time-to-live as a time.Duration.
func (q *QueueConfig) TTL() time.Duration {
	return time.Duration(q.TTLHours) * time.Hour
}

// Interval returns the ping cadence as a time.Duration.
func (p *PingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// ActivityExempt returns the pong-exemption window as a time.Duration.
func (p *PingConfig) ActivityExempt() time.Duration {
	return time.Duration(p.ActivityExemptSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTGATE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.safeRoot", defaultSafeRoot())

	v.SetDefault("session.timeoutHours", 24)
	v.SetDefault("session.warningHours", 20)
	v.SetDefault("session.maxConcurrent", 10)
	v.SetDefault("session.cleanupInterval", 60)

	v.SetDefault("queue.ttlHours", 24)
	v.SetDefault("queue.maxPerSession", 1000)
	v.SetDefault("queue.sweepInterval", 300)

	v.SetDefault("ping.intervalSeconds", 15)
	v.SetDefault("ping.activityExemptSeconds", 30)

	v.SetDefault("agentCli.path", "")
	v.SetDefault("agentCli.name", "claude")
	v.SetDefault("agentCli.sandbox", "")
	v.SetDefault("agentCli.envPass", []string{"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_AUTH_TOKEN"})

	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.image", "agentgate/agent-cli:latest")
	v.SetDefault("docker.defaultNetwork", "agentgate-network")
	v.SetDefault("docker.volumeBasePath", defaultDockerVolumePath())

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentgate")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "./agentgate-history.db")

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.host", "127.0.0.1")
	v.SetDefault("mcp.port", 8788)

	v.SetDefault("auth.token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.otlpEndpoint", "")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST env var as override (standard Docker convention).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// defaultDockerVolumePath returns the platform-appropriate volume base path.
func defaultDockerVolumePath() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(localAppData, "agentgate", "volumes")
	}
	return "/var/lib/agentgate/volumes"
}

// defaultSafeRoot returns the default filesystem root working directories are confined to.
func defaultSafeRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "/"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTGATE_.
// Config file should be named config.yaml and placed in the current directory or /etc/agentgate/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("agentCli.path", "AGENT_CLI_PATH")
	_ = v.BindEnv("logging.level", "AGENTGATE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AGENTGATE_EVENTS_NAMESPACE")
	_ = v.BindEnv("tracing.otlpEndpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentgate/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Session.MaxConcurrent <= 0 {
		errs = append(errs, "session.maxConcurrent must be positive")
	}
	if cfg.Session.WarningHours <= 0 || cfg.Session.WarningHours >= cfg.Session.TimeoutHours {
		errs = append(errs, "session.warningHours must be positive and less than session.timeoutHours")
	}

	if cfg.Queue.TTLHours <= 0 {
		errs = append(errs, "queue.ttlHours must be positive")
	}

	if cfg.AgentCLI.Sandbox != "" && cfg.AgentCLI.Sandbox != "docker" {
		errs = append(errs, "agentCli.sandbox must be empty or \"docker\"")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
