// Cockpit Bridge - home cockpit hardware to flight simulator link
//
// This is the main entry point for the cockpit bridge. It connects:
//   - Panel switches and lamps on MCP23017 I/O expanders
//   - A USB HID CDU keypad
//   - The simulator's line-oriented property server
//
// Status, events and telemetry go out over MQTT and InfluxDB when enabled,
// and link history is journaled to SQLite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/cockpit-bridge/migrations"

	"github.com/nerrad567/cockpit-bridge/internal/bridge"
	"github.com/nerrad567/cockpit-bridge/internal/cdu"
	"github.com/nerrad567/cockpit-bridge/internal/fgfs"
	"github.com/nerrad567/cockpit-bridge/internal/hardware/hidreport"
	"github.com/nerrad567/cockpit-bridge/internal/hardware/mcp23017"
	"github.com/nerrad567/cockpit-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cockpit-bridge/internal/infrastructure/database"
	"github.com/nerrad567/cockpit-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/cockpit-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cockpit-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/cockpit-bridge/internal/journal"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/cockpit.yaml"

// Compile-time checks that the infrastructure clients satisfy the bridge sinks.
var (
	_ bridge.Publisher     = (*mqtt.Client)(nil)
	_ bridge.MetricsWriter = (*influxdb.Client)(nil)
	_ bridge.Journal       = (*journal.SQLiteJournal)(nil)
)

// cliOptions holds command-line overrides.
type cliOptions struct {
	configPath  string
	host        string
	port        int
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("cockpit-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on Ctrl+C and SIGTERM so the bridge can say goodbye to the simulator
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command-line arguments.
//
// An explicit -config wins over COCKPIT_CONFIG, which wins over the default path.
func parseFlags(args []string, output io.Writer) (cliOptions, error) {
	var opts cliOptions

	flags := flag.NewFlagSet("cockpit-bridge", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	flags.StringVar(&opts.host, "host", "", "simulator host (overrides sim.host)")
	flags.IntVar(&opts.port, "port", 0, "simulator property server port (overrides sim.port)")
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(output, "unexpected arguments: %v\n", flags.Args())
		return cliOptions{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line overrides
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts cliOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting cockpit bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("no config file found, using built-in defaults")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	wiring, err := loadWiring(cfg.Bridge.WiringFile)
	if err != nil {
		return fmt.Errorf("loading wiring: %w", err)
	}
	log.Info("wiring loaded",
		"file", cfg.Bridge.WiringFile,
		"buses", len(wiring.Buses),
		"properties", len(wiring.Properties),
	)

	// Open the journal (optional)
	var db *database.DB
	var journalStore *journal.SQLiteJournal
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		journalStore = journal.New(db.DB, cfg.Bridge.ID)
	} else {
		log.Info("journal disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"status_topic", bridge.StatusTopic(cfg.Bridge.ID),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Open cockpit hardware
	var ports *mcp23017.Driver
	if cfg.Hardware.I2C.Enabled {
		ports = mcp23017.New(mcp23017.Config{
			Bus:          uint8(cfg.Hardware.I2C.Bus), //nolint:gosec // Validated to 0-255
			InvertInputs: cfg.Hardware.I2C.InvertInputs,
		})
		defer func() {
			log.Info("closing I/O expanders")
			if closeErr := ports.Close(); closeErr != nil {
				log.Error("error closing I/O expanders", "error", closeErr)
			}
		}()
		log.Info("I/O expanders enabled", "i2c_bus", cfg.Hardware.I2C.Bus)
	} else if len(wiring.Buses) > 0 {
		return fmt.Errorf("wiring declares %d expander buses but hardware.i2c is disabled", len(wiring.Buses))
	}

	var keypads []cdu.ReportSource
	if cfg.Hardware.Keypad.Enabled {
		keypad, openErr := hidreport.Open(hidreport.Config{
			VendorID:    cfg.Hardware.Keypad.VendorID,
			ProductID:   cfg.Hardware.Keypad.ProductID,
			Interface:   cfg.Hardware.Keypad.Interface,
			InEndpoint:  cfg.Hardware.Keypad.InEndpoint,
			OutEndpoint: cfg.Hardware.Keypad.OutEndpoint,
			ReadTimeout: cfg.Hardware.Keypad.ReadTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening keypad: %w", openErr)
		}
		defer func() {
			log.Info("closing keypad")
			if closeErr := keypad.Close(); closeErr != nil {
				log.Error("error closing keypad", "error", closeErr)
			}
		}()
		keypads = append(keypads, keypad)
		log.Info("keypad opened",
			"vendor_id", fmt.Sprintf("0x%04X", cfg.Hardware.Keypad.VendorID),
			"product_id", fmt.Sprintf("0x%04X", cfg.Hardware.Keypad.ProductID),
		)
	} else {
		log.Info("keypad disabled")
	}

	client := fgfs.New(fgfs.Config{
		Host:           cfg.Sim.Host,
		Port:           cfg.Sim.Port,
		ConnectTimeout: cfg.Sim.ConnectTimeout,
		WriteTimeout:   cfg.Sim.WriteTimeout,
		SyncTimeout:    cfg.Sim.SyncTimeout,
	})
	client.SetLogger(log.Component("fgfs"))

	bridgeOpts := bridge.Options{
		BridgeID:          cfg.Bridge.ID,
		Version:           version,
		Client:            client,
		Wiring:            wiring,
		Keypads:           keypads,
		Servos:            &logServos{log: log.Component("servo")},
		Logger:            log.Component("bridge"),
		PollTimeout:       cfg.Sim.PollTimeout,
		SyncTimeout:       cfg.Sim.SyncTimeout,
		SyncRetries:       cfg.Sim.SyncRetries,
		KeepaliveInterval: cfg.Sim.KeepaliveInterval,
		StatusInterval:    cfg.Bridge.StatusInterval,
		QueueSize:         cfg.Bridge.QueueSize,
		Backoff: bridge.Backoff{
			Floor:   cfg.Sim.Backoff.Floor,
			Ceiling: cfg.Sim.Backoff.Ceiling,
		},
	}
	// Assign only non-nil sinks so the interfaces stay nil when disabled
	if ports != nil {
		bridgeOpts.Ports = ports
	}
	if mqttClient != nil {
		bridgeOpts.Publisher = mqttClient
	}
	if influxClient != nil {
		bridgeOpts.Metrics = influxClient
	}
	if journalStore != nil {
		bridgeOpts.Journal = journalStore
	}

	b, err := bridge.New(bridgeOpts)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("initialisation complete, linking to simulator", "address", client.Address())

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bridge: %w", err)
	}

	log.Info("cockpit bridge stopped")
	return nil
}

// loadConfig resolves the config path and loads it.
//
// A missing file at the default path falls back to the built-in defaults;
// a missing file that was asked for explicitly is an error.
//
// Returns:
//   - *config.Config: Loaded configuration with command-line overrides applied
//   - string: The file that was loaded, or "" when defaults were used
//   - error: If loading or validation fails
func loadConfig(opts cliOptions) (*config.Config, string, error) {
	path, explicit := getConfigPath(opts.configPath)

	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(path); !explicit && errors.Is(statErr, fs.ErrNotExist) {
		path = ""
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, "", err
	}

	if opts.host != "" {
		cfg.Sim.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Sim.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validating overrides: %w", err)
	}
	return cfg, path, nil
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly.
// Uses the flag value, then COCKPIT_CONFIG, otherwise the default.
func getConfigPath(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if path := os.Getenv("COCKPIT_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadWiring loads the wiring table, or the built-in layout when path is empty.
func loadWiring(path string) (*bridge.Wiring, error) {
	if path == "" {
		return bridge.DefaultWiring(), nil
	}
	return bridge.LoadWiring(path)
}

// connectMQTT connects with a retained offline status as the last will.
func connectMQTT(cfg *config.Config) (*mqtt.Client, error) {
	payload, err := json.Marshal(bridge.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return nil, fmt.Errorf("encoding last will: %w", err)
	}
	return mqtt.Connect(cfg.MQTT, mqtt.Will{
		Topic:   bridge.StatusTopic(cfg.Bridge.ID),
		Payload: payload,
	})
}

// healthCheck verifies all enabled infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The simulator link is not checked here; the bridge keeps retrying it.
	return nil
}

// logServos records servo pulses in the log.
// Gauge servo boards are driven elsewhere; this keeps the routing visible.
type logServos struct {
	log    bridge.Logger
	pulses map[int]int
}

// SetPulse logs a channel's pulse width when it changes.
func (s *logServos) SetPulse(channel int, ticks int) error {
	if s.pulses == nil {
		s.pulses = make(map[int]int)
	}
	if last, ok := s.pulses[channel]; ok && last == ticks {
		return nil
	}
	s.pulses[channel] = ticks
	s.log.Debug("servo pulse", "channel", channel, "ticks", ticks)
	return nil
}
