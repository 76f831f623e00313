// Cragline Core - climbing gym accounts and sessions
//
// This is the main entry point for the Cragline auth service. It owns:
//   - Member and staff credentials (with the legacy salted-hash migration)
//   - Short-lived access tokens and rotating refresh-token sessions
//   - The browser-facing /api/v1 surface the gym apps mount onto
//
// Run "cragline reset-admin -username NAME" on the host to reset an admin
// password without going through HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/cragline/cragline-core/migrations"

	"github.com/cragline/cragline-core/internal/api"
	"github.com/cragline/cragline-core/internal/audit"
	"github.com/cragline/cragline-core/internal/auth"
	"github.com/cragline/cragline-core/internal/infrastructure/config"
	"github.com/cragline/cragline-core/internal/infrastructure/database"
	"github.com/cragline/cragline-core/internal/infrastructure/influxdb"
	"github.com/cragline/cragline-core/internal/infrastructure/logging"
	"github.com/cragline/cragline-core/internal/infrastructure/mqtt"
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

	var err error
	if len(os.Args) > 1 && os.Args[1] == resetAdminCommand {
		err = runResetAdmin(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Cragline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"production", cfg.Security.Production,
	)

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	users := auth.NewUserRepository(db.DB)
	tokens := auth.NewTokenRepository(db.DB)

	if _, seedErr := auth.SeedAdmin(ctx, users, auth.BootstrapConfig{
		Username: cfg.Security.Bootstrap.Username,
		Password: cfg.Security.Bootstrap.Password,
		FullName: cfg.Security.Bootstrap.FullName,
	}, log.Slog()); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:     cfg.Security.JWT.Secret,
		Issuer:     cfg.Security.JWT.Issuer,
		TTL:        cfg.Security.AccessTokenTTL(),
		Production: cfg.Security.Production,
	}, log.Slog())
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	verifier := auth.NewVerifier(users, log.Slog())

	recovery := auth.NewRecovery(cfg.Security.Recovery.Token, users, tokens, log.Slog())
	if recovery.Enabled() {
		log.Warn("recovery endpoint enabled", "action_required", "unset security.recovery.token once the admin is back in")
	}

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		DB:        db,
		Users:     users,
		Tokens:    tokens,
		Verifier:  verifier,
		Issuer:    issuer,
		Refresh:   auth.NewRefreshService(tokens, users, issuer, cfg.Security.RefreshTokenTTL()),
		Sessions:  auth.NewSessionManager(tokens),
		Recovery:  recovery,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		Version:   version,
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		deps.Events = mqttClient
	} else {
		log.Info("MQTT disabled, security events go to the audit log only")
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
		deps.Metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	reaperCtx, stopReaper := context.WithCancel(ctx)
	var reaperWG sync.WaitGroup
	reaper := auth.NewReaper(tokens, cfg.Security.RefreshReapInterval, log.Slog())
	if influxClient != nil {
		reaper.OnSweep = func(deleted int64, active int) {
			influxClient.WriteSessionGauge(active, deleted)
		}
	}
	reaperWG.Add(1)
	go func() {
		defer reaperWG.Done()
		reaper.Run(reaperCtx)
	}()
	defer func() {
		stopReaper()
		reaperWG.Wait()
	}()

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (flushes queued security events)
	// 2. Session reaper
	// 3. InfluxDB and MQTT (if enabled)
	// 4. Database

	log.Info("Cragline Core stopped")
	return nil
}

// loadConfig reads CRAGLINE_CONFIG, or the default path when it exists.
// Without either, built-in defaults plus environment overrides are used.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if os.Getenv("CRAGLINE_CONFIG") == "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.Default()
			return cfg, "(defaults)", err
		}
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// getConfigPath returns the configuration file path.
// Uses CRAGLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CRAGLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the SQLite store and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
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
