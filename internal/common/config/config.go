// Package config provides configuration management for gitwarden.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for gitwarden.
type Config struct {
	DataDir  string         `mapstructure:"dataDir"`
	Server   ServerConfig   `mapstructure:"server"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Trust    TrustConfig    `mapstructure:"trust"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration for the management API.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// AgentConfig holds configuration for the supervised coding-agent server.
type AgentConfig struct {
	// Command is the executable that starts the agent server.
	Command string `mapstructure:"command"`
	// Args are additional arguments passed to the command.
	Args []string `mapstructure:"args"`
	// Host and Port are where the agent server binds its HTTP interface.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// WorkDir is the working directory the server is spawned in.
	WorkDir string `mapstructure:"workDir"`
	// ConfigPath is the on-disk configuration file handed to the server.
	// Deleting it restores the server's built-in defaults (hard reset path).
	ConfigPath string `mapstructure:"configPath"`
	// ConfigEnv is the environment variable used to point the server at ConfigPath.
	ConfigEnv string `mapstructure:"configEnv"`
	// DevMode enables kill-and-replace when a foreign process holds the port.
	DevMode bool `mapstructure:"devMode"`
	// MinVersion is the minimum supported agent server version.
	MinVersion string `mapstructure:"minVersion"`
	// HealthTimeout bounds the post-start health poll, in seconds.
	HealthTimeout int `mapstructure:"healthTimeout"`
	// HealthInterval is the poll interval, in milliseconds.
	HealthInterval int `mapstructure:"healthInterval"`
	// StopGrace is how long to wait between SIGTERM and SIGKILL, in seconds.
	StopGrace int `mapstructure:"stopGrace"`
	// RestartSettle is the delay between stop and start on restart, in seconds.
	RestartSettle int `mapstructure:"restartSettle"`
}

// DatabaseConfig holds database configuration. Driver selects the backend:
// "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path; empty means <dataDir>/gitwarden.db
	DSN      string `mapstructure:"dsn"`  // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// TrustConfig holds host-trust gateway configuration.
type TrustConfig struct {
	// ResponseTimeout bounds the wait for a human verification decision, in seconds.
	ResponseTimeout int `mapstructure:"responseTimeout"`
	// ScanTimeout bounds a single ssh-keyscan invocation, in seconds.
	ScanTimeout int `mapstructure:"scanTimeout"`
}

// SecretsConfig holds the server-wide encryption secret.
// When empty, a secret is generated once under the data directory.
type SecretsConfig struct {
	ServerSecret string `mapstructure:"serverSecret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// HealthTimeoutDuration returns the health poll deadline as a time.Duration.
func (a *AgentConfig) HealthTimeoutDuration() time.Duration {
	return time.Duration(a.HealthTimeout) * time.Second
}

// HealthIntervalDuration returns the health poll interval as a time.Duration.
func (a *AgentConfig) HealthIntervalDuration() time.Duration {
	return time.Duration(a.HealthInterval) * time.Millisecond
}

// StopGraceDuration returns the SIGTERM grace period as a time.Duration.
func (a *AgentConfig) StopGraceDuration() time.Duration {
	return time.Duration(a.StopGrace) * time.Second
}

// RestartSettleDuration returns the restart settle delay as a time.Duration.
func (a *AgentConfig) RestartSettleDuration() time.Duration {
	return time.Duration(a.RestartSettle) * time.Second
}

// ResponseTimeoutDuration returns the verification wait bound as a time.Duration.
func (t *TrustConfig) ResponseTimeoutDuration() time.Duration {
	return time.Duration(t.ResponseTimeout) * time.Second
}

// ScanTimeoutDuration returns the key-scan bound as a time.Duration.
func (t *TrustConfig) ScanTimeoutDuration() time.Duration {
	return time.Duration(t.ScanTimeout) * time.Second
}

// SQLitePath returns the resolved SQLite database path.
func (c *Config) SQLitePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "gitwarden.db")
}

// AgentConfigPath returns the resolved agent server configuration file path.
func (c *Config) AgentConfigPath() string {
	if c.Agent.ConfigPath != "" {
		return c.Agent.ConfigPath
	}
	return filepath.Join(c.DataDir, "agent-config.yaml")
}

// KnownHostsPath returns the path of the managed known-hosts file.
func (c *Config) KnownHostsPath() string {
	return filepath.Join(c.DataDir, "known_hosts")
}

// SSHKeysDir returns the directory for materialized SSH key files.
func (c *Config) SSHKeysDir() string {
	return filepath.Join(c.DataDir, "ssh-keys")
}

// detectDefaultLogFormat returns "json" for production environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("GITWARDEN_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gitwarden"
	}
	return filepath.Join(home, ".gitwarden")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("dataDir", defaultDataDir())

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Agent server defaults
	v.SetDefault("agent.command", "")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.host", "127.0.0.1")
	v.SetDefault("agent.port", 4096)
	v.SetDefault("agent.workDir", "")
	v.SetDefault("agent.configPath", "")
	v.SetDefault("agent.configEnv", "AGENT_SERVER_CONFIG")
	v.SetDefault("agent.devMode", false)
	v.SetDefault("agent.minVersion", "")
	v.SetDefault("agent.healthTimeout", 30)
	v.SetDefault("agent.healthInterval", 500)
	v.SetDefault("agent.stopGrace", 2)
	v.SetDefault("agent.restartSettle", 1)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "gitwarden")
	v.SetDefault("nats.maxReconnects", 10)

	// Trust defaults
	v.SetDefault("trust.responseTimeout", 60)
	v.SetDefault("trust.scanTimeout", 10)

	// Secrets defaults - empty means generate a secret under dataDir
	v.SetDefault("secrets.serverSecret", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix GITWARDEN_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/gitwarden/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GITWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("dataDir", "GITWARDEN_DATA_DIR")
	_ = v.BindEnv("agent.configPath", "GITWARDEN_AGENT_CONFIG_PATH")
	_ = v.BindEnv("agent.devMode", "GITWARDEN_AGENT_DEV_MODE")
	_ = v.BindEnv("agent.minVersion", "GITWARDEN_AGENT_MIN_VERSION")
	_ = v.BindEnv("secrets.serverSecret", "GITWARDEN_SERVER_SECRET")
	_ = v.BindEnv("trust.responseTimeout", "GITWARDEN_TRUST_RESPONSE_TIMEOUT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gitwarden/")

	// Read config file (ignore if not found)
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

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Agent.Port <= 0 || cfg.Agent.Port > 65535 {
		return fmt.Errorf("invalid agent server port: %d", cfg.Agent.Port)
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	if cfg.Trust.ResponseTimeout <= 0 {
		return fmt.Errorf("trust.responseTimeout must be positive")
	}
	return nil
}
