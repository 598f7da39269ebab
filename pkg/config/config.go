package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the static configuration shared by the host and companion binaries.
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	Validator  ValidatorConfig  `yaml:"validator" toml:"validator"`
	Host       HostConfig       `yaml:"host" toml:"host"`
	API        APIConfig        `yaml:"api" toml:"api"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig locates the companion.
type ServerConfig struct {
	Host      string     `yaml:"host" toml:"host"`
	Port      int        `yaml:"port" toml:"port"`
	Path      string     `yaml:"path" toml:"path"`
	Transport string     `yaml:"transport" toml:"transport"`
	MQTT      MQTTConfig `yaml:"mqtt" toml:"mqtt"`
}

// MQTTConfig is used when Transport is "mqtt".
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	Port        int    `yaml:"port" toml:"port"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
}

// ConnectionConfig drives the connection state machine.
type ConnectionConfig struct {
	AutoConnect    bool          `yaml:"auto_connect" toml:"auto_connect"`
	AutoReconnect  bool          `yaml:"auto_reconnect" toml:"auto_reconnect"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval" toml:"ping_interval"`
	SendBuffer     int           `yaml:"send_buffer" toml:"send_buffer"`
}

// ValidatorConfig overrides validator defaults. Zero values keep the defaults.
type ValidatorConfig struct {
	AllowedCommands    []string           `yaml:"allowed_commands" toml:"allowed_commands"`
	RateLimits         map[string]float64 `yaml:"rate_limits" toml:"rate_limits"`
	DefaultRateLimit   float64            `yaml:"default_rate_limit" toml:"default_rate_limit"`
	MaxStringLength    int                `yaml:"max_string_length" toml:"max_string_length"`
	MaxPromptLength    int                `yaml:"max_prompt_length" toml:"max_prompt_length"`
	MaxCommandIDLength int                `yaml:"max_command_id_length" toml:"max_command_id_length"`
}

// HostConfig tunes the host loop.
type HostConfig struct {
	TickRate        int           `yaml:"tick_rate" toml:"tick_rate"`
	ExecutorTimeout time.Duration `yaml:"executor_timeout" toml:"executor_timeout"`
}

// APIConfig controls the HTTP control surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" toml:"listen"`
}

// AuthConfig enables signed handshake tokens when Secret is set.
type AuthConfig struct {
	Secret string        `yaml:"secret" toml:"secret"`
	Issuer string        `yaml:"issuer" toml:"issuer"`
	TTL    time.Duration `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig selects the log level, encoding and optional file sink.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8765,
			Path:      "/",
			Transport: "websocket",
			MQTT: MQTTConfig{
				Broker:      "localhost",
				Port:        1883,
				TopicPrefix: "synbridge",
			},
		},
		Connection: ConnectionConfig{
			AutoConnect:    true,
			AutoReconnect:  true,
			ReconnectDelay: 5 * time.Second,
			ConnectTimeout: 10 * time.Second,
			PingInterval:   30 * time.Second,
			SendBuffer:     256,
		},
		Host: HostConfig{
			TickRate:        60,
			ExecutorTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Auth: AuthConfig{
			Issuer: "synbridge",
			TTL:    time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration from defaults, the optional file at path,
// a .env file in the working directory, then the process environment.
func Load(path string) (*Config, error) {
	return load(path, ".env", os.LookupEnv)
}

func load(path, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	dotenv, err := readEnvFile(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	if err := cfg.applyEnv(func(key string) (string, bool) {
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", envFile, err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Server.Transport {
	case "websocket":
	case "mqtt":
		if c.Server.MQTT.Port <= 0 || c.Server.MQTT.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.mqtt.port %d out of range", c.Server.MQTT.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("server.transport %q must be websocket or mqtt", c.Server.Transport))
	}
	if c.Connection.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("connection.reconnect_delay must be positive"))
	}
	if c.Connection.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connection.connect_timeout must be positive"))
	}
	if c.Connection.PingInterval < 0 {
		errs = append(errs, errors.New("connection.ping_interval must not be negative"))
	}
	if c.Host.TickRate <= 0 {
		errs = append(errs, errors.New("host.tick_rate must be positive"))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required when the api is enabled"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	return errors.Join(errs...)
}
