package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/aggregates"
	"github.com/klaytn/dex-indexer-example/internal/chain"
	"github.com/klaytn/dex-indexer-example/internal/config"
	"github.com/klaytn/dex-indexer-example/internal/database"
	"github.com/klaytn/dex-indexer-example/internal/modules/bridge"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/modules/dexv2"
	"github.com/klaytn/dex-indexer-example/internal/modules/dexv3"
	"github.com/klaytn/dex-indexer-example/internal/modules/loader"
	"github.com/klaytn/dex-indexer-example/internal/pricing"
	"github.com/klaytn/dex-indexer-example/internal/processor"
	"github.com/klaytn/dex-indexer-example/internal/realtime"
	"github.com/klaytn/dex-indexer-example/internal/scheduler"
	"github.com/klaytn/dex-indexer-example/internal/tokens"
)

func main() {
	// Parse command-line flags
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up logger
	logger := setupLogger(cfg.Logging)

	// Log startup information
	logger.Info().
		Str("version", "0.1.0").
		Str("config", configPath).
		Str("chain", cfg.Chain.Name).
		Msg("Starting DEX indexer")

	ctx := context.Background()

	// Apply migrations before anything touches the schema
	if err := database.RunMigrations(ctx, &cfg.Database, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Create the block pipeline (RPC client + database)
	indexer, err := processor.NewIndexer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create indexer")
	}

	db := indexer.Database()

	// Contract readers share the pipeline's RPC connection
	chainClient, err := chain.NewClient(indexer.RPCClient().EthClient(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create chain client")
	}

	// Entity persistence and supporting services
	store := database.NewEntityStore(db)
	stateStore := database.NewModuleStateStore(db)
	logSource := database.NewLogSource(db)
	resolver := tokens.NewResolver(store, chainClient, logger)
	pricer := pricing.NewEngine(store, logger)
	updater := aggregates.NewUpdater(store)

	var publisher *realtime.Publisher
	if cfg.Realtime.Enabled {
		publisher = realtime.NewPublisher(realtime.Config{
			APIURL: cfg.Realtime.URL,
			APIKey: cfg.Realtime.APIKey,
		}, logger)
	}

	// Module manifests are optional; modules fall back to built-in defaults
	var manifests []*core.Manifest
	if _, err := os.Stat(cfg.Modules.ManifestDir); err == nil {
		manifestLoader := loader.NewManifestLoader(logger)
		manifests, err = manifestLoader.LoadFromDirectory(cfg.Modules.ManifestDir)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.Modules.ManifestDir).Msg("Failed to load manifests")
		}
	}

	registry := core.NewModuleRegistry(stateStore, logger)

	v3Deps := dexv3.Deps{
		Store:      store,
		Chain:      chainClient,
		Factory:    chainClient,
		Tokens:     resolver,
		Pricing:    pricer,
		Aggregates: updater,
		Watcher:    registry,
		Source:     logSource,
	}
	if publisher != nil {
		v3Deps.Publisher = publisher
	}
	v3Module, err := dexv3.New(manifestByName(manifests, "dex-v3"), v3Deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dex-v3 module")
	}

	v2Deps := dexv2.Deps{
		Store:      store,
		Chain:      chainClient,
		Factory:    chainClient,
		Tokens:     resolver,
		Pricing:    pricer,
		Aggregates: updater,
		Watcher:    registry,
		Source:     logSource,
	}
	if publisher != nil {
		v2Deps.Publisher = publisher
	}
	v2Module, err := dexv2.New(manifestByName(manifests, "dex-v2"), v2Deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dex-v2 module")
	}

	bridgeDeps := bridge.Deps{
		Store:  store,
		Source: logSource,
	}
	if publisher != nil {
		bridgeDeps.Publisher = publisher
	}
	bridgeModule, err := bridge.New(manifestByName(manifests, "bridge"), bridgeDeps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create bridge module")
	}

	for _, module := range []core.Module{v3Module, v2Module, bridgeModule} {
		if err := registry.RegisterModule(module); err != nil {
			logger.Fatal().Err(err).Str("module", module.Name()).Msg("Failed to register module")
		}
	}

	if err := registry.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start module registry")
	}
	defer registry.Stop()

	// Route committed events through the registry
	indexer.AttachRegistry(registry)

	// Periodic USD metric refresh
	metricsScheduler, err := scheduler.NewTokenMetricsScheduler(db.Pool(), cfg.Scheduler.TokenMetricsInterval, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token metrics scheduler")
	}
	if err := metricsScheduler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start token metrics scheduler")
	}
	defer metricsScheduler.Stop()

	// Start indexer (blocks until shutdown)
	if err := indexer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Indexer failed")
	}

	logger.Info().Msg("Indexer shutdown complete")
}

// manifestByName selects a loaded manifest for a module, or nil when the
// module should use its built-in default.
func manifestByName(manifests []*core.Manifest, name string) *core.Manifest {
	for _, m := range manifests {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	// Configure output format
	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}

	return logger
}
