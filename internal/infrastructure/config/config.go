package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the cockpit bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Sim      SimConfig      `yaml:"sim"`
	Hardware HardwareConfig `yaml:"hardware"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SimConfig contains the simulator property server link settings.
type SimConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// SyncTimeout bounds each initial-state get.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	SyncRetries int           `yaml:"sync_retries"`

	// PollTimeout is how long one tick waits for simulator data.
	// 50ms suits switch panels; 500ms is enough with only a keypad attached.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig bounds the reconnect delay.
type BackoffConfig struct {
	Floor   time.Duration `yaml:"floor"`
	Ceiling time.Duration `yaml:"ceiling"`
}

// HardwareConfig contains the cockpit hardware settings.
type HardwareConfig struct {
	I2C    I2CConfig    `yaml:"i2c"`
	Keypad KeypadConfig `yaml:"keypad"`
}

// I2CConfig contains the I/O expander bus settings.
type I2CConfig struct {
	// Enabled opens the expanders. Disable to run keypad-only.
	Enabled bool `yaml:"enabled"`

	// Bus is the Linux I2C bus number (/dev/i2c-N).
	Bus int `yaml:"bus"`

	// InvertInputs flips input levels so an idle pulled-up switch reads 0.
	InvertInputs bool `yaml:"invert_inputs"`
}

// KeypadConfig contains the USB HID keypad settings.
type KeypadConfig struct {
	Enabled     bool          `yaml:"enabled"`
	VendorID    uint16        `yaml:"vendor_id"`
	ProductID   uint16        `yaml:"product_id"`
	Interface   int           `yaml:"interface"`
	InEndpoint  int           `yaml:"in_endpoint"`
	OutEndpoint int           `yaml:"out_endpoint"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// BridgeConfig contains orchestrator settings.
type BridgeConfig struct {
	// ID names this bridge in status topics, telemetry and the journal.
	ID string `yaml:"id"`

	// WiringFile is the wiring table. Empty uses the built-in layout.
	WiringFile string `yaml:"wiring_file"`

	StatusInterval time.Duration `yaml:"status_interval"`
	QueueSize      int           `yaml:"queue_size"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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
// Environment variables follow the pattern: COCKPIT_SECTION_KEY
// For example: COCKPIT_SIM_HOST, COCKPIT_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides,
// for running without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Sim: SimConfig{
			Host:              "simpc.local",
			Port:              5501,
			ConnectTimeout:    5 * time.Second,
			WriteTimeout:      100 * time.Millisecond,
			SyncTimeout:       time.Second,
			SyncRetries:       3,
			PollTimeout:       50 * time.Millisecond,
			KeepaliveInterval: 10 * time.Second,
			Backoff: BackoffConfig{
				Floor:   4 * time.Second,
				Ceiling: 30 * time.Second,
			},
		},
		Hardware: HardwareConfig{
			I2C: I2CConfig{
				Enabled:      true,
				Bus:          1,
				InvertInputs: true,
			},
			Keypad: KeypadConfig{
				VendorID:    0x1FD1,
				ProductID:   0x03EA,
				InEndpoint:  0x81,
				ReadTimeout: 5 * time.Millisecond,
			},
		},
		Bridge: BridgeConfig{
			ID:             "cockpit",
			StatusInterval: 30 * time.Second,
			QueueSize:      256,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/cockpit.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cockpit-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COCKPIT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Simulator
	if v := os.Getenv("COCKPIT_SIM_HOST"); v != "" {
		cfg.Sim.Host = v
	}
	if v := os.Getenv("COCKPIT_SIM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Sim.Port = port
		}
	}

	// Bridge
	if v := os.Getenv("COCKPIT_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("COCKPIT_BRIDGE_WIRING_FILE"); v != "" {
		cfg.Bridge.WiringFile = v
	}

	// Database
	if v := os.Getenv("COCKPIT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("COCKPIT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COCKPIT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COCKPIT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("COCKPIT_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("COCKPIT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("COCKPIT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Sim.Host == "" {
		errs = append(errs, "sim.host is required")
	}
	if c.Sim.Port < 1 || c.Sim.Port > 65535 {
		errs = append(errs, "sim.port must be between 1 and 65535")
	}
	if c.Sim.PollTimeout <= 0 {
		errs = append(errs, "sim.poll_timeout must be positive")
	}
	if c.Sim.SyncRetries < 1 {
		errs = append(errs, "sim.sync_retries must be at least 1")
	}
	if c.Sim.Backoff.Floor <= 0 || c.Sim.Backoff.Ceiling < c.Sim.Backoff.Floor {
		errs = append(errs, "sim.backoff needs 0 < floor <= ceiling")
	}

	if c.Hardware.I2C.Bus < 0 || c.Hardware.I2C.Bus > 255 {
		errs = append(errs, "hardware.i2c.bus must be 0-255")
	}
	if !c.Hardware.I2C.Enabled && !c.Hardware.Keypad.Enabled {
		errs = append(errs, "at least one of hardware.i2c or hardware.keypad must be enabled")
	}

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	} else if strings.ContainsAny(c.Bridge.ID, "/+#") {
		errs = append(errs, "bridge.id must not contain MQTT topic characters (/ + #)")
	}
	if c.Bridge.QueueSize < 1 {
		errs = append(errs, "bridge.queue_size must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
