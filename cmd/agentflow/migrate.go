package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/persistence"
)

// runMigrate applies the request-persistence schema (AutoMigrate) against
// the configured database. The schema is a single table with no versioned
// migration history, so "up" is the only meaningful subcommand — the
// others are kept for CLI-surface compatibility and report accordingly.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up", "status":
		runMigrateUp(subargs)
	case "down", "goto", "force", "reset", "version":
		fmt.Printf("migrate %s: not applicable — the persistence schema is managed by AutoMigrate (run `migrate up`)\n", subcommand)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  llmgate migrate <subcommand> [options]

Subcommands:
  up        Apply the persistence schema (AutoMigrate)
  status    Alias for up — reports the outcome
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  llmgate migrate up
  llmgate migrate up --config /etc/llmgate/config.yaml`)
}

func runMigrateUp(args []string) {
	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}

	writer := persistence.NewGormWriter(db, logger)
	if err := writer.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("OK: persistence schema up to date")
}
