package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/config"
	"github.com/klaytn/dex-indexer-example/internal/database"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/rpc"
	chainsync "github.com/klaytn/dex-indexer-example/internal/sync"
)

// Indexer is the main indexer that coordinates block processing
type Indexer struct {
	config    *config.Config
	rpcClient *rpc.Client
	db        *database.Database

	blockProcessor *BlockProcessor
	txProcessor    *TransactionProcessor
	unified        *chainsync.UnifiedSync

	logger zerolog.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewIndexer creates a new indexer instance
func NewIndexer(cfg *config.Config, logger zerolog.Logger) (*Indexer, error) {
	// Create RPC client
	rpcClient, err := rpc.NewClient(cfg.Chain.RPCEndpoint, cfg.Chain.ChainID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	// Create database connection
	db, err := database.New(context.Background(), &cfg.Database, cfg.Chain.ChainID, logger)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Create processors
	blockProcessor := NewBlockProcessor(rpcClient, db, logger)
	txProcessor := NewTransactionProcessor(rpcClient, db, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Indexer{
		config:         cfg,
		rpcClient:      rpcClient,
		db:             db,
		blockProcessor: blockProcessor,
		txProcessor:    txProcessor,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Database exposes the underlying database handle for wiring dependent components
func (i *Indexer) Database() *database.Database {
	return i.db
}

// RPCClient exposes the underlying RPC client
func (i *Indexer) RPCClient() *rpc.Client {
	return i.rpcClient
}

// AttachRegistry wires a module registry into the block pipeline so that
// committed events are routed to the registered modules. It also enables the
// batch catch-up path, which needs the registry for event dispatch.
func (i *Indexer) AttachRegistry(registry *core.ModuleRegistry) {
	i.blockProcessor.SetRegistry(registry)
	i.unified = chainsync.NewUnifiedSync(i.db, i.rpcClient, registry, chainsync.UnifiedSyncConfig{
		MaxBatchSize:      i.config.Processor.FastSync.BatchSize,
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		RequestsPerSecond: i.config.Processor.FastSync.RequestsPerSecond,
	}, i.logger)
}

// ProcessBlock satisfies the sync manager's block processor contract.
func (i *Indexer) ProcessBlock(ctx context.Context, blockNumber uint64) error {
	return i.blockProcessor.ProcessBlockWithTransactions(ctx, blockNumber, i.txProcessor)
}

// Start starts the indexer
func (i *Indexer) Start() error {
	i.logger.Info().Msg("Starting indexer")

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start sync loop in a goroutine. With more than one worker the
	// gap-aware sync manager drives processing; otherwise the simple
	// sequential loop does.
	i.wg.Add(1)
	if i.config.Processor.Workers > 1 {
		go i.managedSyncLoop()
	} else {
		go i.syncLoop()
	}

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		i.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-i.ctx.Done():
		i.logger.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	i.Stop()
	return nil
}

// Stop stops the indexer gracefully
func (i *Indexer) Stop() {
	i.logger.Info().Msg("Stopping indexer")

	// Cancel context to stop all goroutines
	i.cancel()

	// Wait for all goroutines to finish
	i.wg.Wait()

	// Close connections
	i.rpcClient.Close()
	i.db.Close()

	i.logger.Info().Msg("Indexer stopped")
}

// managedSyncLoop runs the worker-pool sync manager, which parallelizes
// block processing and repairs gaps left by earlier runs.
func (i *Indexer) managedSyncLoop() {
	defer i.wg.Done()

	manager := chainsync.NewManager(i.db, i.rpcClient, i, i.logger, chainsync.Config{
		BatchSize:  i.config.Processor.BatchSize,
		MaxWorkers: i.config.Processor.Workers,
		RetryDelay: 5 * time.Second,
		MaxRetries: 3,
		StartBlock: i.config.Chain.StartBlock,
	})

	if err := manager.Start(i.ctx); err != nil {
		i.logger.Error().Err(err).Msg("Sync manager stopped")
	}
}

// syncLoop is the main synchronization loop
func (i *Indexer) syncLoop() {
	defer i.wg.Done()

	// Get last indexed block
	lastBlock, err := i.db.GetLastBlockNumber(i.ctx)
	if err != nil {
		i.logger.Error().Err(err).Msg("Failed to get last block number")
		return
	}

	// If starting from scratch and start_block is 0, get latest block
	if lastBlock == 0 && i.config.Chain.StartBlock == 0 {
		latestBlock, err := i.rpcClient.GetLatestBlockNumber(i.ctx)
		if err != nil {
			i.logger.Error().Err(err).Msg("Failed to get latest block number")
			return
		}
		lastBlock = latestBlock
		i.logger.Info().Uint64("block", lastBlock).Msg("Starting from latest block")
	} else if lastBlock == 0 && i.config.Chain.StartBlock > 0 {
		lastBlock = i.config.Chain.StartBlock - 1
		i.logger.Info().Uint64("block", i.config.Chain.StartBlock).Msg("Starting from configured block")
	}

	// Main sync loop
	consecutiveErrors := 0
	maxConsecutiveErrors := 10

	for {
		select {
		case <-i.ctx.Done():
			i.logger.Info().Msg("Sync loop stopped")
			return
		default:
			// Get the latest block number
			latestBlock, err := i.rpcClient.GetLatestBlockNumber(i.ctx)
			if err != nil {
				i.logger.Error().Err(err).Msg("Failed to get latest block number")
				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					i.logger.Error().Msg("Too many consecutive errors, stopping sync")
					return
				}
				time.Sleep(5 * time.Second)
				continue
			}

			// Check if we're caught up
			if lastBlock >= latestBlock {
				i.logger.Debug().
					Uint64("current", lastBlock).
					Uint64("latest", latestBlock).
					Msg("Caught up with chain")
				time.Sleep(i.config.Chain.BlockTime)
				continue
			}

			// Large gaps go through the batch pipeline
			if i.unified != nil && i.config.Processor.FastSync.Enabled &&
				latestBlock-lastBlock > uint64(i.config.Processor.FastSync.Threshold) {
				if err := i.unified.SyncRange(i.ctx, lastBlock+1, latestBlock); err != nil {
					i.logger.Error().Err(err).Msg("Batch catch-up failed")
					consecutiveErrors++
					if consecutiveErrors >= maxConsecutiveErrors {
						i.logger.Error().Msg("Too many consecutive errors, stopping sync")
						return
					}
					time.Sleep(5 * time.Second)
					continue
				}
				consecutiveErrors = 0
				lastBlock = latestBlock
				continue
			}

			// Process next block
			nextBlock := lastBlock + 1

			startTime := time.Now()
			err = i.processBlock(nextBlock)
			processingTime := time.Since(startTime)

			if err != nil {
				i.logger.Error().
					Err(err).
					Uint64("block", nextBlock).
					Dur("duration", processingTime).
					Msg("Failed to process block")

				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					i.logger.Error().Msg("Too many consecutive errors, stopping sync")
					return
				}

				// Wait before retrying
				time.Sleep(5 * time.Second)
				continue
			}

			// Reset error counter on success
			consecutiveErrors = 0

			// Log progress
			lag := latestBlock - nextBlock
			i.logger.Info().
				Uint64("block", nextBlock).
				Uint64("lag", lag).
				Dur("duration", processingTime).
				Msg("Block processed")

			// Update last block
			lastBlock = nextBlock

			// If we're far behind, don't sleep
			if lag > 100 {
				continue
			}

			// Small delay to avoid overwhelming the RPC
			if lag > 10 {
				time.Sleep(100 * time.Millisecond)
			} else {
				time.Sleep(500 * time.Millisecond)
			}
		}
	}
}

// processBlock processes a single block with its transactions
func (i *Indexer) processBlock(blockNumber uint64) error {
	ctx, cancel := context.WithTimeout(i.ctx, 30*time.Second)
	defer cancel()

	// Process block and transactions together in a transaction
	return i.blockProcessor.ProcessBlockWithTransactions(ctx, blockNumber, i.txProcessor)
}

// GetStatus returns the current indexer status
func (i *Indexer) GetStatus(ctx context.Context) (map[string]interface{}, error) {
	lastBlock, err := i.db.GetLastBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	latestBlock, err := i.rpcClient.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"last_indexed_block": lastBlock,
		"latest_block":       latestBlock,
		"lag":                latestBlock - lastBlock,
		"syncing":            lastBlock < latestBlock,
		"connected":          i.rpcClient.IsConnected(ctx),
	}, nil
}
