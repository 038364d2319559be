// Meross Core - cloud and LAN runtime for Meross smart home devices.
//
// merossd brings one vendor account online: it authenticates (reusing
// stored credentials when it can), discovers and initializes the account's
// devices, starts the background pollers, and streams state changes into
// the optional history and telemetry sinks until it is signalled to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/meross-core/migrations"

	"github.com/nerrad567/meross-core/internal/credstore"
	"github.com/nerrad567/meross-core/internal/device"
	"github.com/nerrad567/meross-core/internal/infrastructure/config"
	"github.com/nerrad567/meross-core/internal/infrastructure/database"
	"github.com/nerrad567/meross-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meross-core/internal/infrastructure/logging"
	"github.com/nerrad567/meross-core/internal/manager"
	"github.com/nerrad567/meross-core/internal/merr"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Meross Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
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

	// Bring the account online, preferring stored credentials over a fresh
	// login so restarts do not burn tokens.
	store := credstore.New(db.DB)
	mgr, err := openManager(ctx, cfg, store, log)
	if err != nil {
		return fmt.Errorf("opening account session: %w", err)
	}
	defer func() {
		log.Info("closing account session")
		if closeErr := mgr.Close(); closeErr != nil {
			log.Error("error closing account session", "error", closeErr)
		}
	}()

	// State history must be wired before the first device comes up so no
	// change record is missed.
	if cfg.History.Enabled {
		mgr.SetHistory(device.NewSQLiteHistory(db.DB))
		log.Info("state history enabled")
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		wireTelemetry(mgr, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Discover the account's devices. A dead stored token surfaces here;
	// retry once over a fresh login.
	descriptors, err := mgr.Discover(ctx, device.DiscoverOptions{})
	if merr.IsKind(err, merr.KindTokenExpired) {
		log.Warn("stored token expired, logging in again")
		mgr, err = relogin(ctx, cfg, store, mgr, log)
		if err != nil {
			return fmt.Errorf("re-authenticating: %w", err)
		}
		descriptors, err = mgr.Discover(ctx, device.DiscoverOptions{})
	}
	if err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}
	log.Info("devices discovered", "count", len(descriptors))

	// Initialize everything we can; devices that fail stay as shells and
	// can be retried later, so partial failure does not stop the daemon.
	if initErr := mgr.Initialize(ctx); initErr != nil {
		log.Warn("some devices failed to initialize", "error", initErr)
	}

	subscribed := 0
	for _, d := range mgr.Devices() {
		if !d.Initialized {
			continue
		}
		if subErr := mgr.Subscribe(d.UUID); subErr != nil {
			log.Warn("subscribe failed", "device", d.UUID, "error", subErr)
			continue
		}
		subscribed++
	}
	log.Info("device pollers started", "subscribed", subscribed)

	if watchErr := mgr.WatchDeviceList(); watchErr != nil {
		log.Warn("device list watcher not started", "error", watchErr)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mgr, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. Account session (pollers, then broker)
	// 3. Database

	log.Info("Meross Core stopped")
	return nil
}

// openManager builds the account runtime: stored credentials when a row
// exists, a fresh login otherwise. A fresh login's credentials are saved
// for the next start.
func openManager(ctx context.Context, cfg *config.Config, store *credstore.Store, log *logging.Logger) (*manager.Manager, error) {
	creds, err := store.Load(ctx, cfg.Account.Email)
	switch {
	case err == nil:
		log.Info("using stored credentials",
			"user_id", creds.UserID,
			"issued_at", creds.IssuedAt,
		)
		return manager.FromCredentials(cfg, creds, log)
	case errors.Is(err, credstore.ErrNoCredentials):
		return login(ctx, cfg, store, log)
	default:
		return nil, err
	}
}

// login performs a fresh password login and persists the credentials.
func login(ctx context.Context, cfg *config.Config, store *credstore.Store, log *logging.Logger) (*manager.Manager, error) {
	mgr, err := manager.Login(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	creds := mgr.Credentials()
	if saveErr := store.Save(ctx, &creds); saveErr != nil {
		// The session is live; a failed save only costs the next restart
		// a login.
		log.Warn("saving credentials failed", "error", saveErr)
	}
	return mgr, nil
}

// relogin tears down a session whose stored token died and opens a fresh
// one, replacing the stored row.
func relogin(ctx context.Context, cfg *config.Config, store *credstore.Store, old *manager.Manager, log *logging.Logger) (*manager.Manager, error) {
	if closeErr := old.Close(); closeErr != nil {
		log.Error("error closing stale session", "error", closeErr)
	}
	if delErr := store.Delete(ctx, cfg.Account.Email); delErr != nil {
		log.Warn("deleting stale credentials failed", "error", delErr)
	}
	return login(ctx, cfg, store, log)
}

// wireTelemetry forwards state changes to InfluxDB. Only numeric-coercible
// values are written; strings and structured values stay in the event
// stream and the history table.
func wireTelemetry(mgr *manager.Manager, influx *influxdb.Client) {
	mgr.Events().On(device.EventState, func(_ string, payload any) {
		change, ok := payload.(device.Change)
		if !ok {
			return
		}
		value, ok := numericValue(change.New)
		if !ok {
			return
		}
		influx.WriteStateChange(change.DeviceUUID, change.SubDeviceID, change.Type, change.Channel, value, change.Timestamp)
	})
}

// numericValue coerces a state value to a float for the telemetry sink.
// Booleans become 0/1 the way the dashboards expect.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// getConfigPath returns the configuration file path.
// Uses MEROSS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MEROSS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mgr *manager.Manager, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if !mgr.IsConnected() {
		return fmt.Errorf("broker: not connected")
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
