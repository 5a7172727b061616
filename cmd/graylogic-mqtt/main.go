// Gray Logic MQTT - session daemon
//
// This is the main entry point for the Gray Logic MQTT session daemon. It
// holds one MQTT session against a broker (WebSocket by default), records
// inbound messages, forwards numeric payloads to InfluxDB and exposes the
// session over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-mqtt/internal/api"
	"github.com/nerrad567/gray-logic-mqtt/internal/history"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mqtt/internal/relay"
	"github.com/nerrad567/gray-logic-mqtt/migrations"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic MQTT",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if cfg.MQTT.StatusTopic == "" {
		cfg.MQTT.StatusTopic = mqtt.DefaultStatusTopic(cfg.MQTT.Broker.ClientID)
	}

	// Message history (optional)
	var db *database.DB
	var repo history.Repository
	if cfg.Database.Enabled {
		db, err = openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo = history.NewSQLiteRepository(db.DB)
		go history.RunPruner(ctx, repo, cfg.GetRetention(), history.DefaultPruneInterval, log.With("component", "history").Logger)
	} else {
		log.Info("message history disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	// WebSocket hub, created ahead of the relay that feeds it
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
		go hub.Run(ctx)
	}

	relayDeps := relay.Deps{Logger: log}
	if repo != nil {
		relayDeps.History = repo
	}
	if influxClient != nil {
		relayDeps.Metrics = influxClient
	}
	if hub != nil {
		relayDeps.Hub = hub
	}
	rl := relay.New(relayDeps)

	// MQTT session
	session := newSession(cfg, mqtt.NewPahoTransport(cfg.MQTT), log)
	session.SetFallbackReceiver(rl.HandleMessage)

	lost := make(chan error, 1)
	session.SetOnConnectionLost(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})

	if err := establish(ctx, session, cfg, log); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		shutdownSession(session, cfg, log)
	}()

	go supervise(ctx, session, cfg, lost, log)

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log,
			Session:    session,
			DefaultQoS: mqtt.QoS(cfg.MQTT.QoS),
			History:    repo,
			DB:         db,
			Influx:     influxClient,
			Relay:      rl,
			Hub:        hub,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, session, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. MQTT (offline status, then disconnect)
	// 3. InfluxDB (if enabled)
	// 4. Database (if enabled)

	log.Info("Gray Logic MQTT stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openHistory opens the message database and applies migrations.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	return db, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database to check (may be nil if disabled)
//   - session: MQTT session to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, session *mqtt.Session, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := session.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
