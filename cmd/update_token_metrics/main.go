package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/klaytn/dex-indexer-example/internal/config"
	"github.com/klaytn/dex-indexer-example/internal/database"
)

// One-shot variant of the scheduler job, for operators.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, &cfg.Database, cfg.Chain.ChainID, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("Updating token metrics...")

	updated, err := database.RefreshTokenMetrics(ctx, db.Pool())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to update token metrics")
	}

	log.Info().Int64("tokens", updated).Msg("Token metrics updated")
}
