package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for FieldLink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Modbus    ModbusConfig    `yaml:"modbus"`
	RPC       RPCConfig       `yaml:"rpc"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains tenant/site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// These are the internal system principal's credentials, not device tokens.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// telemetry mirror. The SQLite store remains the canonical record.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ModbusConfig contains Modbus TCP polling settings.
type ModbusConfig struct {
	// PollInterval is the default per-device polling interval in seconds.
	// Individual devices may override this in their configuration.
	PollInterval int `yaml:"poll_interval"`

	// SweepInterval is the health sweep interval in seconds, independent
	// of per-device polling.
	SweepInterval int `yaml:"sweep_interval"`

	// ConnectTimeout is the TCP connect/response timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// FailureThreshold is the number of consecutive health check failures
	// before a device record is marked error and a reconnect is forced.
	FailureThreshold int `yaml:"failure_threshold"`

	// IdleThreshold is how long a session may go without activity before
	// the sweep considers it stale, in seconds.
	IdleThreshold int `yaml:"idle_threshold"`
}

// RPCConfig contains platform-initiated RPC settings.
type RPCConfig struct {
	// Timeout is the default request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// TelemetryConfig contains ingestion pipeline settings.
type TelemetryConfig struct {
	// MaxBatchSize caps the number of items accepted in a single batch.
	MaxBatchSize int `yaml:"max_batch_size"`

	// RetentionDays is how long telemetry rows are kept before pruning.
	// Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDLINK_SECTION_KEY
// For example: FIELDLINK_DATABASE_PATH, FIELDLINK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "FieldLink",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fieldlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Modbus: ModbusConfig{
			PollInterval:     30,
			SweepInterval:    60,
			ConnectTimeout:   5,
			FailureThreshold: 3,
			IdleThreshold:    120,
		},
		RPC: RPCConfig{
			Timeout: 10,
		},
		Telemetry: TelemetryConfig{
			MaxBatchSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FIELDLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FIELDLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FIELDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Modbus validation
	if c.Modbus.PollInterval < 1 {
		errs = append(errs, "modbus.poll_interval must be at least 1 second")
	}
	if c.Modbus.SweepInterval < 1 {
		errs = append(errs, "modbus.sweep_interval must be at least 1 second")
	}
	if c.Modbus.FailureThreshold < 1 {
		errs = append(errs, "modbus.failure_threshold must be at least 1")
	}

	// RPC validation
	if c.RPC.Timeout < 1 {
		errs = append(errs, "rpc.timeout must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the default polling interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Modbus.PollInterval) * time.Second
}

// GetSweepInterval returns the health sweep interval as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Modbus.SweepInterval) * time.Second
}

// GetConnectTimeout returns the Modbus connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Modbus.ConnectTimeout) * time.Second
}

// GetIdleThreshold returns the session idle threshold as a Duration.
func (c *Config) GetIdleThreshold() time.Duration {
	return time.Duration(c.Modbus.IdleThreshold) * time.Second
}

// GetRPCTimeout returns the default RPC timeout as a Duration.
func (c *Config) GetRPCTimeout() time.Duration {
	return time.Duration(c.RPC.Timeout) * time.Second
}
