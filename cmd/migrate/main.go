package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/nanobanana/nanobanana-api/internal/config"
	"github.com/nanobanana/nanobanana-api/internal/pkg/database"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
)

const usage = `usage: migrate <command> [args]

commands:
  up                   apply all pending migrations
  up-to VERSION        apply migrations up to VERSION
  down                 roll back the latest migration
  down-to VERSION      roll back to VERSION
  redo                 roll back and reapply the latest migration
  status               print migration status
  version              print the current version`

var commands = map[string]int{
	"up":      0,
	"up-to":   1,
	"down":    0,
	"down-to": 1,
	"redo":    0,
	"status":  0,
	"version": 0,
}

func main() {
	command, args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "migrate",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	db, err := database.OpenMigrationDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}

	err = database.Migrate(context.Background(), db, command, args...)
	_ = db.Close()
	if err != nil {
		log.Error().Err(err).Str("command", command).Msg("Migration failed")
		os.Exit(1)
	}
	log.Info().Str("command", command).Msg("Migrations done")
}

func parseArgs(argv []string) (string, []string, error) {
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("missing command")
	}
	want, ok := commands[argv[0]]
	if !ok {
		return "", nil, fmt.Errorf("unknown command %q", argv[0])
	}
	if len(argv)-1 != want {
		return "", nil, fmt.Errorf("%s takes %d argument(s), got %d", argv[0], want, len(argv)-1)
	}
	return argv[0], argv[1:], nil
}
