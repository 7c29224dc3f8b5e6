package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/config"
	"github.com/saturnino-fabrica-de-software/hookrelay/internal/database"
)

type migrateConfig struct {
	Environment  string `envconfig:"ENV" default:"development"`
	DatabaseURL  string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseName string `envconfig:"DATABASE_NAME" default:"hookrelay"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	action := flag.String("action", "up", "Migration action: up, down, version, force")
	steps := flag.Int("steps", 0, "Target version (for force action)")
	flag.Parse()

	// Only the database settings matter here; the API token is not needed.
	var cfg migrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(&config.Config{Environment: cfg.Environment})

	// golang-migrate runs on database/sql
	db, err := database.NewPool(database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	logger.Info("connected to database", slog.String("database", cfg.DatabaseName))

	// Create migrator
	migrator, err := database.NewMigrator(db, cfg.DatabaseName)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	// Execute action
	switch *action {
	case "up":
		logger.Info("running migrations")
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("migrations completed successfully")

	case "down":
		logger.Info("rolling back last migration")
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("migration rolled back successfully")

	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	case "force":
		if *steps == 0 {
			return fmt.Errorf("steps flag is required for force action")
		}
		logger.Info("forcing migration version", slog.Int("version", *steps))
		if err := migrator.Force(*steps); err != nil {
			return fmt.Errorf("force migration failed: %w", err)
		}
		logger.Info("migration version forced successfully")

	default:
		return fmt.Errorf("invalid action: %s (use: up, down, version, force)", *action)
	}

	return nil
}
