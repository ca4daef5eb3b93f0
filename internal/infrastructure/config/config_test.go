package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cockpit.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
sim:
  host: "10.0.0.5"
  port: 5600
  poll_timeout: 500ms
  backoff:
    floor: 2s
    ceiling: 20s
hardware:
  i2c:
    enabled: false
  keypad:
    enabled: true
    vendor_id: 0x1FD1
    product_id: 0x03EA
bridge:
  id: "left-seat"
  wiring_file: "/etc/cockpit/wiring.yaml"
  status_interval: 15s
database:
  path: "/tmp/cockpit.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sim.Host != "10.0.0.5" || cfg.Sim.Port != 5600 {
		t.Errorf("Sim = %s:%d, want 10.0.0.5:5600", cfg.Sim.Host, cfg.Sim.Port)
	}
	if cfg.Sim.PollTimeout != 500*time.Millisecond {
		t.Errorf("Sim.PollTimeout = %v, want 500ms", cfg.Sim.PollTimeout)
	}
	if cfg.Sim.Backoff.Floor != 2*time.Second || cfg.Sim.Backoff.Ceiling != 20*time.Second {
		t.Errorf("Sim.Backoff = %+v, want 2s/20s", cfg.Sim.Backoff)
	}
	if cfg.Hardware.Keypad.VendorID != 0x1FD1 || cfg.Hardware.Keypad.ProductID != 0x03EA {
		t.Errorf("Keypad IDs = %04X:%04X", cfg.Hardware.Keypad.VendorID, cfg.Hardware.Keypad.ProductID)
	}
	if cfg.Bridge.ID != "left-seat" || cfg.Bridge.WiringFile != "/etc/cockpit/wiring.yaml" {
		t.Errorf("Bridge = %+v", cfg.Bridge)
	}
	if cfg.Bridge.StatusInterval != 15*time.Second {
		t.Errorf("Bridge.StatusInterval = %v, want 15s", cfg.Bridge.StatusInterval)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT broker = %s:%d, want broker.local:1883", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Sim.SyncRetries != 3 || cfg.Sim.KeepaliveInterval != 10*time.Second {
		t.Errorf("defaults lost: SyncRetries=%d Keepalive=%v", cfg.Sim.SyncRetries, cfg.Sim.KeepaliveInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/cockpit.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "sim: [yaml: content")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "sim:\n  poll_timeout: soon\n")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "bridge:\n  id: \"\"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for empty bridge.id, got nil")
	}
	if !strings.Contains(err.Error(), "bridge.id") {
		t.Errorf("Load() error = %v, want mention of bridge.id", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing sim host", mutate: func(c *Config) { c.Sim.Host = "" }, wantErr: "sim.host"},
		{name: "port low", mutate: func(c *Config) { c.Sim.Port = 0 }, wantErr: "sim.port"},
		{name: "port high", mutate: func(c *Config) { c.Sim.Port = 70000 }, wantErr: "sim.port"},
		{name: "zero poll timeout", mutate: func(c *Config) { c.Sim.PollTimeout = 0 }, wantErr: "poll_timeout"},
		{name: "zero sync retries", mutate: func(c *Config) { c.Sim.SyncRetries = 0 }, wantErr: "sync_retries"},
		{name: "ceiling below floor", mutate: func(c *Config) { c.Sim.Backoff.Ceiling = time.Second }, wantErr: "backoff"},
		{
			name: "no hardware",
			mutate: func(c *Config) {
				c.Hardware.I2C.Enabled = false
				c.Hardware.Keypad.Enabled = false
			},
			wantErr: "hardware",
		},
		{name: "bridge id with slash", mutate: func(c *Config) { c.Bridge.ID = "a/b" }, wantErr: "bridge.id"},
		{name: "zero queue", mutate: func(c *Config) { c.Bridge.QueueSize = 0 }, wantErr: "queue_size"},
		{name: "database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{
			name: "database disabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Path = ""
			},
		},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sim.Host = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "sim.host is required; mqtt.qos") {
		t.Errorf("Validate() error = %v, want both messages joined", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("COCKPIT_SIM_HOST", "192.168.1.20")
	t.Setenv("COCKPIT_SIM_PORT", "5502")
	t.Setenv("COCKPIT_BRIDGE_ID", "right-seat")
	t.Setenv("COCKPIT_BRIDGE_WIRING_FILE", "/custom/wiring.yaml")
	t.Setenv("COCKPIT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("COCKPIT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("COCKPIT_MQTT_USERNAME", "testuser")
	t.Setenv("COCKPIT_MQTT_PASSWORD", "testpass")
	t.Setenv("COCKPIT_INFLUXDB_URL", "http://influx:8086")
	t.Setenv("COCKPIT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("COCKPIT_LOGGING_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Sim.Host", cfg.Sim.Host, "192.168.1.20"},
		{"Sim.Port", cfg.Sim.Port, 5502},
		{"Bridge.ID", cfg.Bridge.ID, "right-seat"},
		{"Bridge.WiringFile", cfg.Bridge.WiringFile, "/custom/wiring.yaml"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.URL", cfg.InfluxDB.URL, "http://influx:8086"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("COCKPIT_SIM_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.Sim.Port != 5501 {
		t.Errorf("Sim.Port = %d, want default 5501", cfg.Sim.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.Sim.Host != "simpc.local" || cfg.Sim.Port != 5501 {
		t.Errorf("Sim = %s:%d, want simpc.local:5501", cfg.Sim.Host, cfg.Sim.Port)
	}
	if cfg.Sim.PollTimeout != 50*time.Millisecond {
		t.Errorf("Sim.PollTimeout = %v, want 50ms", cfg.Sim.PollTimeout)
	}
	if cfg.Sim.Backoff.Floor != 4*time.Second || cfg.Sim.Backoff.Ceiling != 30*time.Second {
		t.Errorf("Sim.Backoff = %+v, want 4s/30s", cfg.Sim.Backoff)
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled {
		t.Error("outbound sinks should be disabled by default")
	}
	if !cfg.Hardware.I2C.InvertInputs {
		t.Error("Hardware.I2C.InvertInputs should default to true")
	}
}
