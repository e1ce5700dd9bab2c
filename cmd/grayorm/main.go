// Gray ORM - unit-of-work persistence for SQLite
//
// This is the main entry point for the grayorm binary. It serves the staff
// persistence unit over a REST and WebSocket API, and carries a few
// maintenance subcommands:
//
//	grayorm [serve]            run the API server (default)
//	grayorm demo               walk the session lifecycle against a scratch database
//	grayorm migrate [up|down|status]
//	grayorm token -subject usr-ann -role editor
//
// The configuration file is read from GRAYORM_CONFIG, or configs/config.yaml.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-orm/migrations"

	"github.com/nerrad567/gray-orm/internal/api"
	"github.com/nerrad567/gray-orm/internal/audit"
	"github.com/nerrad567/gray-orm/internal/events"
	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
	"github.com/nerrad567/gray-orm/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-orm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-orm/internal/persistence"
	"github.com/nerrad567/gray-orm/internal/staff"
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

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand. It is separated from main for testability.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx)
	case "demo":
		return runDemo(ctx, demoLogger())
	case "migrate":
		return runMigrate(ctx, args, stdout)
	case "token":
		return runToken(args, stdout)
	case "version":
		fmt.Fprintf(stdout, "grayorm %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// serve runs the API server for the default persistence unit until the
// context is cancelled.
func serve(ctx context.Context) error { //nolint:gocognit,gocyclo // composition root: linear wiring of optional components
	log := logging.Default()
	log.Info("starting Gray ORM",
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

	unitName := cfg.Persistence.DefaultUnit
	unit, err := lookupUnit(cfg, unitName)
	if err != nil {
		return err
	}

	db, err := openUnitDB(unit)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "unit", unitName, "path", unit.Database.Path)

	factory, auditRepo, err := buildFactory(ctx, db, unitName, unit, log)
	if err != nil {
		return err
	}
	log.Info("persistence unit ready", "unit", unitName, "auto_schema", unit.AutoSchema)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
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
		factory.AddListener(events.NewPublisher(mqttClient, mqttClient.Topics(), log))
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
			recorded, dropped := influxClient.Stats()
			log.Info("closing InfluxDB connection", "flushes_recorded", recorded, "flushes_dropped", dropped)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		factory.AddListener(events.NewFlushRecorder(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)
	factory.AddListener(events.NewRelay(hub))

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.With("component", "api"),
		Factory:     factory,
		Audit:       auditRepo,
		MQTT:        mqttClient,
		DB:          db,
		ExternalHub: hub,
		Version:     version,
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
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty; the API accepts unauthenticated writes")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("Gray ORM stopped")
	return nil
}

// lookupUnit returns the named persistence unit's settings.
func lookupUnit(cfg *config.Config, name string) (config.UnitConfig, error) {
	unit, ok := cfg.Unit(name)
	if !ok {
		return config.UnitConfig{}, fmt.Errorf("persistence unit %q is not configured", name)
	}
	return unit, nil
}

// openUnitDB opens the database of a persistence unit.
func openUnitDB(unit config.UnitConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:         unit.Database.Path,
		WALMode:      unit.Database.WALMode,
		BusyTimeout:  unit.Database.BusyTimeout,
		MaxOpenConns: unit.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// buildFactory creates the unit's factory with the staff mappings, applies
// its auto_schema mode and attaches the audit trail.
func buildFactory(ctx context.Context, db *database.DB, name string, unit config.UnitConfig, log *logging.Logger) (*persistence.Factory, *audit.SQLiteRepository, error) {
	factory := persistence.NewFactory(db, name, unit, log.With("component", "persistence", "unit", name))
	if err := staff.Register(factory); err != nil {
		return nil, nil, err
	}
	if err := factory.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("preparing schema: %w", err)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	factory.SetAuditor(auditRepo)
	return factory, auditRepo, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYORM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYORM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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

	return nil
}
