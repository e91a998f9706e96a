// FieldLink Core - Device Connectivity & Telemetry Platform
//
// This is the main entry point for the FieldLink Core application.
// FieldLink connects fleets of field devices over Modbus TCP and MQTT,
// ingests their telemetry into a canonical store, and carries
// platform-initiated RPC out to devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/rowanvale/fieldlink-core/migrations"

	"github.com/rowanvale/fieldlink-core/internal/broker"
	"github.com/rowanvale/fieldlink-core/internal/device"
	"github.com/rowanvale/fieldlink-core/internal/events"
	"github.com/rowanvale/fieldlink-core/internal/infrastructure/config"
	"github.com/rowanvale/fieldlink-core/internal/infrastructure/database"
	"github.com/rowanvale/fieldlink-core/internal/infrastructure/influxdb"
	"github.com/rowanvale/fieldlink-core/internal/infrastructure/logging"
	"github.com/rowanvale/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/rowanvale/fieldlink-core/internal/modbus"
	"github.com/rowanvale/fieldlink-core/internal/rules"
	"github.com/rowanvale/fieldlink-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting FieldLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device directory
	deviceRepo := device.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB mirror (optional)
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
		log.Info("InfluxDB mirror disabled")
	}

	// In-process event bus for connectivity and telemetry events
	bus := events.NewBus(64, log)
	defer bus.Close()

	// Rules engine publishes triggers onto the internal MQTT bus
	rulesEngine := rules.NewEngine(mqttClient, log)

	// Telemetry ingestion pipeline
	telemetryRepo := telemetry.NewSQLiteRepository(db.DB)
	telemetryCfg := telemetry.ServiceConfig{
		MaxBatchSize: cfg.Telemetry.MaxBatchSize,
		Rules:        rulesEngine,
		Logger:       log,
	}
	if influxClient != nil {
		telemetryCfg.Mirror = influxClient
	}
	telemetrySvc := telemetry.NewService(telemetryRepo, deviceRepo, bus, telemetryCfg)

	// Broker gateway: device sessions, ingestion routing, RPC
	gateway := broker.NewGateway(mqttClient, deviceRepo, telemetrySvc, broker.GatewayConfig{
		RPCTimeout: cfg.GetRPCTimeout(),
		QoS:        byte(cfg.MQTT.QoS),
		Logger:     log,
	})
	if startErr := gateway.Start(ctx); startErr != nil {
		return fmt.Errorf("starting broker gateway: %w", startErr)
	}
	defer func() {
		log.Info("closing broker gateway")
		gateway.Close()
	}()

	// Modbus session registry and poller
	registry := modbus.NewRegistry(modbus.RegistryConfig{
		ConnectTimeout:   cfg.GetConnectTimeout(),
		FailureThreshold: cfg.Modbus.FailureThreshold,
		Status:           deviceRepo,
		OnSessionChange: func(deviceID string, state modbus.SessionState) {
			switch state {
			case modbus.StateOpen:
				bus.Publish(events.Event{Type: events.TypeDeviceConnected, DeviceID: deviceID})
			case modbus.StateClosed:
				bus.Publish(events.Event{Type: events.TypeDeviceDisconnected, DeviceID: deviceID})
			}
		},
		Logger: log,
	})

	poller := modbus.NewPoller(registry, telemetrySvc, modbus.PollerConfig{
		DefaultInterval: cfg.GetPollInterval(),
		SweepInterval:   cfg.GetSweepInterval(),
		IdleThreshold:   cfg.GetIdleThreshold(),
		Logger:          log,
	})
	defer func() {
		log.Info("stopping poller")
		poller.Stop()
	}()

	// Start polling every active device with a Modbus endpoint
	activeDevices, err := deviceRepo.ListByStatus(ctx, device.StatusActive)
	if err != nil {
		return fmt.Errorf("listing active devices: %w", err)
	}
	polled := 0
	for i := range activeDevices {
		dev := &activeDevices[i]
		if !dev.Pollable() {
			continue
		}
		poller.StartPolling(modbus.PollTarget{
			DeviceID:  dev.ID,
			Params:    dev.Address,
			Interval:  dev.PollInterval,
			Registers: dev.Registers,
		})
		polled++
	}
	poller.StartSweep()
	log.Info("modbus polling started", "devices", polled)

	// Retention pruning (optional)
	if cfg.Telemetry.RetentionDays > 0 {
		go runRetention(ctx, telemetrySvc, cfg.Telemetry.RetentionDays, log)
		log.Info("telemetry retention enabled", "days", cfg.Telemetry.RetentionDays)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Poller (releases Modbus sessions)
	// 2. Broker gateway (aborts pending RPC)
	// 3. Event bus
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("FieldLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIELDLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// runRetention prunes telemetry older than the retention window once an
// hour until the context is cancelled.
func runRetention(ctx context.Context, svc *telemetry.Service, retentionDays int, log *logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			pruned, err := svc.Prune(ctx, cutoff)
			if err != nil {
				log.Error("telemetry pruning failed", "error", err)
				continue
			}
			if pruned > 0 {
				log.Info("telemetry pruned", "rows", pruned, "cutoff", cutoff)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
