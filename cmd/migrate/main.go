package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/db"
	"github.com/sarathsp06/herald/internal/config"
	"github.com/sarathsp06/herald/internal/logger"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file")
		envPath    = flag.String("env", "", "Directory holding .env files")
		direction  = flag.String("direction", "up", "Migration direction: up, down")
		steps      = flag.Int("steps", 0, "Number of migration steps (0 for all)")
		version    = flag.Uint("version", 0, "Target migration version")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(logger.Config{Debug: cfg.Debug, SentryDSN: cfg.SentryDSN}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Flush(2 * time.Second)

	log := logger.NewLogger("migration")
	log.Info("Starting database migration", zap.String("direction", *direction))

	ctx := context.Background()

	if *direction == "up" {
		if err := runRiverMigrations(ctx, cfg.Database.URL, log); err != nil {
			log.Error("Failed to run River migrations", zap.Error(err))
			os.Exit(1)
		}
	}

	if err := runAppMigrations(cfg.Database.URL, *direction, *steps, *version, log); err != nil {
		log.Error("Failed to run application migrations", zap.Error(err))
		os.Exit(1)
	}

	log.Info("All migrations completed successfully")
}

func runRiverMigrations(ctx context.Context, databaseURL string, log *zap.Logger) error {
	log.Info("Running River queue migrations")

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	versions, err := db.MigrateRiver(ctx, pool)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		log.Info("No River migrations needed")
		return nil
	}
	log.Info("River migrations completed", zap.Ints("versions", versions))
	return nil
}

func runAppMigrations(databaseURL, direction string, steps int, targetVersion uint, log *zap.Logger) error {
	log.Info("Running application migrations")

	m, closeFn, err := db.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	currentVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		log.Warn("Database is in dirty state, forcing version", zap.Uint("version", currentVersion))
		if err := m.Force(int(currentVersion)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}
	log.Info("Current migration state", zap.Uint("version", currentVersion), zap.Bool("dirty", dirty))

	switch {
	case direction != "up" && direction != "down":
		return fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", direction)
	case targetVersion > 0:
		err = m.Migrate(targetVersion)
	case steps > 0 && direction == "up":
		err = m.Steps(steps)
	case steps > 0:
		err = m.Steps(-steps)
	case direction == "up":
		err = m.Up()
	default:
		err = m.Steps(-1)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate %s: %w", direction, err)
	}

	finalVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get final migration version: %w", err)
	}
	log.Info("Application migrations completed", zap.Uint("final_version", finalVersion), zap.Bool("dirty", dirty))
	return nil
}
