package main

import (
	"context"
	"flag"
	"fmt"
	"os"

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
	"github.com/klaytn/dex-indexer-example/internal/rpc"
	"github.com/klaytn/dex-indexer-example/internal/tokens"
)

// Replays stored event logs through one module. Used after a fast sync pass
// has written raw blocks and logs without running the handlers.
func main() {
	var (
		configPath string
		moduleName string
		fromBlock  uint64
		toBlock    uint64
	)

	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&moduleName, "module", "", "Module name to backfill")
	flag.Uint64Var(&fromBlock, "from", 0, "Starting block")
	flag.Uint64Var(&toBlock, "to", 0, "Ending block")
	flag.Parse()

	if moduleName == "" {
		fmt.Fprintf(os.Stderr, "Module name is required\n")
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()

	ctx := context.Background()

	// Connect to database
	db, err := database.New(ctx, &cfg.Database, cfg.Chain.ChainID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Create RPC client for the on-chain reads handlers make
	rpcClient, err := rpc.NewClient(cfg.Chain.RPCEndpoint, cfg.Chain.ChainID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create RPC client")
	}
	defer rpcClient.Close()

	chainClient, err := chain.NewClient(rpcClient.EthClient(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create chain client")
	}

	store := database.NewEntityStore(db)
	stateStore := database.NewModuleStateStore(db)
	logSource := database.NewLogSource(db)
	resolver := tokens.NewResolver(store, chainClient, logger)
	pricer := pricing.NewEngine(store, logger)
	updater := aggregates.NewUpdater(store)

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

	var module core.Module
	switch moduleName {
	case "dex-v3":
		module, err = dexv3.New(manifestByName(manifests, moduleName), dexv3.Deps{
			Store:      store,
			Chain:      chainClient,
			Factory:    chainClient,
			Tokens:     resolver,
			Pricing:    pricer,
			Aggregates: updater,
			Watcher:    registry,
			Source:     logSource,
		}, logger)
	case "dex-v2":
		module, err = dexv2.New(manifestByName(manifests, moduleName), dexv2.Deps{
			Store:      store,
			Chain:      chainClient,
			Factory:    chainClient,
			Tokens:     resolver,
			Pricing:    pricer,
			Aggregates: updater,
			Watcher:    registry,
			Source:     logSource,
		}, logger)
	case "bridge":
		module, err = bridge.New(manifestByName(manifests, moduleName), bridge.Deps{
			Store:  store,
			Source: logSource,
		}, logger)
	default:
		logger.Fatal().Str("module", moduleName).Msg("Unknown module")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("module", moduleName).Msg("Failed to create module")
	}

	if err := registry.RegisterModule(module); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register module")
	}

	// If no range specified, use the stored log range
	if fromBlock == 0 || toBlock == 0 {
		var minBlock, maxBlock uint64
		row := db.Pool().QueryRow(ctx, "SELECT MIN(block_number), MAX(block_number) FROM event_logs")
		if err := row.Scan(&minBlock, &maxBlock); err != nil {
			logger.Fatal().Err(err).Msg("Failed to get block range")
		}
		if fromBlock == 0 {
			fromBlock = minBlock
		}
		if toBlock == 0 {
			toBlock = maxBlock
		}
	}

	logger.Info().
		Str("module", moduleName).
		Uint64("from", fromBlock).
		Uint64("to", toBlock).
		Msg("Starting backfill")

	// Run synchronously so the process exits when the replay is done
	if err := module.Backfill(ctx, fromBlock, toBlock); err != nil {
		logger.Fatal().Err(err).Msg("Backfill failed")
	}

	logger.Info().Msg("Backfill complete")
}

func manifestByName(manifests []*core.Manifest, name string) *core.Manifest {
	for _, m := range manifests {
		if m.Name == name {
			return m
		}
	}
	return nil
}
