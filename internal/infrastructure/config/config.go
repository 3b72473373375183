package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the optional configuration file inside the config directory.
const FileName = "config.yaml"

// Config is the root configuration structure for fleetctl.
// Values are loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Paths    PathsConfig    `yaml:"paths"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`

	// Dir is the configuration directory this Config was loaded from.
	// It is not read from YAML.
	Dir string `yaml:"-"`
}

// BrokerConfig contains the cloud broker endpoint.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PathsConfig contains filesystem locations used for credential resolution.
type PathsConfig struct {
	// CertBase is the directory searched for node certificates when a node
	// is not present in the identity store.
	CertBase string `yaml:"cert_base"`
}

// SessionConfig contains per-session behaviour shared by all nodes.
type SessionConfig struct {
	PublishRetry int `yaml:"publish_retry"`
	HistorySize  int `yaml:"history_size"`
	QoS          int `yaml:"qos"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MonitorConfig contains settings for the websocket monitor stream.
type MonitorConfig struct {
	Listen         string `yaml:"listen"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
}

// InfluxDBConfig contains settings for the optional time-series mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DefaultDir returns the configuration directory used when none is given.
// FLEETCTL_CONFIG_DIR wins over ~/.fleetctl.
func DefaultDir() string {
	if v := os.Getenv("FLEETCTL_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fleetctl"
	}
	return filepath.Join(home, ".fleetctl")
}

// Load reads <dir>/config.yaml and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if the file exists
//  3. Environment variables (FLEETCTL_SECTION_KEY)
//
// A missing file is not an error; a file that exists but cannot be parsed is.
//
// Parameters:
//   - dir: Configuration directory holding config.yaml
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(dir string) (*Config, error) {
	cfg := defaultConfig()
	cfg.Dir = dir

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration for dir without touching disk.
func Default(dir string) *Config {
	cfg := defaultConfig()
	cfg.Dir = dir
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host: "a3q0b7ncspt14l-ats.iot.us-east-1.amazonaws.com",
			Port: 443,
		},
		Session: SessionConfig{
			PublishRetry: 2,
			HistorySize:  100,
			QoS:          1,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Monitor: MonitorConfig{
			Listen:         "127.0.0.1:8765",
			MaxMessageSize: 8192,
			PingInterval:   30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLEETCTL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETCTL_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("FLEETCTL_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}

	if v := os.Getenv("FLEETCTL_CERT_BASE"); v != "" {
		cfg.Paths.CertBase = v
	}

	if v := os.Getenv("FLEETCTL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("FLEETCTL_MONITOR_LISTEN"); v != "" {
		cfg.Monitor.Listen = v
	}

	// InfluxDB token is a secret and should never live in the YAML file.
	if v := os.Getenv("FLEETCTL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}

	if c.Session.QoS < 0 || c.Session.QoS > 2 {
		errs = append(errs, "session.qos must be 0, 1, or 2")
	}
	if c.Session.PublishRetry < 0 {
		errs = append(errs, "session.publish_retry must not be negative")
	}
	if c.Session.HistorySize < 1 {
		errs = append(errs, "session.history_size must be at least 1")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns host:port of the configured broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}

// GetPingInterval returns the websocket ping interval, 30s when unset.
func (m MonitorConfig) GetPingInterval() time.Duration {
	if m.PingInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.PingInterval) * time.Second
}
