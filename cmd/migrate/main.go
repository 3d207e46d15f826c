package main

import (
	"errors"
	"flag"
	"os"

	"github.com/cassiomorais/newsletters/internal/infrastructure/config"
	"github.com/cassiomorais/newsletters/internal/infrastructure/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		direction string
		dbURL     string
		path      string
		steps     int
	)

	flag.StringVar(&direction, "direction", "up", "Migration direction: up, down or version")
	flag.StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL env var; defaults to the NEWSLETTER_DATABASE_* config)")
	flag.StringVar(&path, "path", "migrations", "Path to migration files")
	flag.IntVar(&steps, "steps", 0, "Apply only this many migrations (0 means all)")
	flag.Parse()

	logger := observability.InitLogger(os.Getenv("NEWSLETTER_OBSERVABILITY_LOG_LEVEL"), os.Stdout)
	logger = observability.Component(logger, "migrate")

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		db, err := config.LoadDatabase()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load database config")
		}
		dbURL = db.MigrateURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create migrate instance")
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("Migration up failed")
		}
		logger.Info().Msg("Migrations applied")
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("Migration down failed")
		}
		logger.Info().Msg("Migrations rolled back")
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logger.Fatal().Err(err).Msg("Failed to read schema version")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	default:
		logger.Fatal().Str("direction", direction).Msg("Unknown direction (use up, down or version)")
	}
}
