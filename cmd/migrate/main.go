package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/agentmesh/billing/internal/postgres"
)

func main() {
	down := flag.Bool("down", false, "Roll back all migrations")
	steps := flag.Int("steps", 0, "Apply n migrations; negative rolls back")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.Infow("connecting to database", "host", cfg.Postgres.Host, "database", cfg.Postgres.DBName)
	db, err := postgres.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalw("failed to connect to postgres", "error", err)
	}

	migrator, err := postgres.NewMigrator(db, logger)
	if err != nil {
		logger.Fatalw("failed to initialize migrations", "error", err)
	}
	defer migrator.Close()

	switch {
	case *down:
		err = migrator.Down()
	case *steps != 0:
		err = migrator.Steps(*steps)
	default:
		err = migrator.Up()
	}
	if err != nil {
		logger.Fatalw("migration failed", "error", err)
	}

	fmt.Println("Migration process completed")
}
