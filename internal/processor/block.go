package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/database"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/rpc"
)

// BlockProcessor handles the processing of blocks
type BlockProcessor struct {
	rpcClient      *rpc.Client
	db             *database.Database
	blockRepo      *database.BlockRepository
	eventProcessor *EventProcessor
	registry       *core.ModuleRegistry
	logger         zerolog.Logger
}

// NewBlockProcessor creates a new block processor
func NewBlockProcessor(rpcClient *rpc.Client, db *database.Database, logger zerolog.Logger) *BlockProcessor {
	return &BlockProcessor{
		rpcClient:      rpcClient,
		db:             db,
		blockRepo:      database.NewBlockRepository(db),
		eventProcessor: NewEventProcessor(rpcClient, db, logger),
		logger:         logger,
	}
}

// SetRegistry attaches a module registry that receives normalized events
// after block data has been committed.
func (p *BlockProcessor) SetRegistry(registry *core.ModuleRegistry) {
	p.registry = registry
}

// ProcessBlock processes a single block with its transactions and events
func (p *BlockProcessor) ProcessBlock(ctx context.Context, blockNumber uint64) error {
	// Create a transaction processor for this operation
	txProcessor := NewTransactionProcessor(p.rpcClient, p.db, p.logger)

	// Use the full processing method
	return p.ProcessBlockWithTransactions(ctx, blockNumber, txProcessor)
}

// ProcessBlockWithTransactions processes a block and its transactions together
func (p *BlockProcessor) ProcessBlockWithTransactions(ctx context.Context, blockNumber uint64, txProcessor *TransactionProcessor) error {
	// Fetch block from RPC
	block, err := p.rpcClient.GetBlockWithTransactions(ctx, blockNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch block %d: %w", blockNumber, err)
	}

	var receipts []*types.Receipt
	var transactions []*database.Transaction

	// Use transaction to ensure atomicity
	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		// Convert and insert block
		dbBlock := p.convertBlock(block)
		if err := p.insertBlockTx(ctx, tx, dbBlock); err != nil {
			return fmt.Errorf("failed to insert block: %w", err)
		}

		// Process transactions if any
		if len(block.Transactions()) > 0 {
			receipts, err = p.rpcClient.GetBlockReceipts(ctx, blockNumber)
			if err != nil {
				return fmt.Errorf("failed to get block receipts: %w", err)
			}

			// Get transaction metadata if available (for Kaia typed transactions)
			metadata := p.rpcClient.GetTransactionMetadata(block.Hash().Hex())

			transactions = txProcessor.convertTransactionsWithMeta(block, receipts, metadata)
			if err := txProcessor.insertBatchTx(ctx, tx, transactions); err != nil {
				return fmt.Errorf("failed to insert transactions: %w", err)
			}

			// Process event logs from receipts
			if err := p.eventProcessor.ProcessBlockLogs(ctx, block, receipts); err != nil {
				return fmt.Errorf("failed to process event logs: %w", err)
			}
		}

		// Update indexer state
		if err := p.updateLastBlockTx(ctx, tx, blockNumber, block.Hash().Hex()); err != nil {
			return fmt.Errorf("failed to update last block: %w", err)
		}

		return nil
	})

	if err != nil {
		return err
	}

	// Dispatch events to modules only after the raw data is committed
	if p.registry != nil && len(receipts) > 0 {
		if err := p.dispatchEvents(ctx, block, receipts, transactions); err != nil {
			return fmt.Errorf("failed to dispatch events for block %d: %w", blockNumber, err)
		}
	}

	p.logger.Info().
		Uint64("number", blockNumber).
		Str("hash", block.Hash().Hex()).
		Int("transactions", len(block.Transactions())).
		Uint64("gas_used", block.GasUsed()).
		Msg("Block and transactions processed")

	return nil
}

// dispatchEvents normalizes receipt logs and routes them through the registry
func (p *BlockProcessor) dispatchEvents(ctx context.Context, block *types.Block, receipts []*types.Receipt, transactions []*database.Transaction) error {
	senderByTx := make(map[string]string, len(transactions))
	for _, tx := range transactions {
		senderByTx[strings.ToLower(tx.Hash)] = strings.ToLower(tx.FromAddress)
	}

	timestamp := int64(block.Time())
	for _, receipt := range receipts {
		for _, log := range receipt.Logs {
			event := core.NormalizeEVM(log, timestamp)
			event.TxFrom = senderByTx[strings.ToLower(log.TxHash.Hex())]
			if err := p.registry.ProcessEvent(ctx, event); err != nil {
				return err
			}
		}
	}
	return nil
}

// convertBlock converts a chain block to database model
func (p *BlockProcessor) convertBlock(block *types.Block) *database.Block {
	return &database.Block{
		Number:           block.NumberU64(),
		Hash:             block.Hash().Hex(),
		ParentHash:       block.ParentHash().Hex(),
		Timestamp:        int64(block.Time()),
		GasLimit:         block.GasLimit(),
		GasUsed:          block.GasUsed(),
		TransactionCount: len(block.Transactions()),
	}
}

// insertBlockTx inserts a block within a transaction
func (p *BlockProcessor) insertBlockTx(ctx context.Context, tx pgx.Tx, block *database.Block) error {
	query := `
		INSERT INTO blocks (number, hash, parent_hash, timestamp, gas_limit, gas_used, transaction_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (number) DO NOTHING`

	_, err := tx.Exec(ctx, query,
		block.Number,
		block.Hash,
		block.ParentHash,
		block.Timestamp,
		block.GasLimit,
		block.GasUsed,
		block.TransactionCount,
	)

	return err
}

// updateLastBlockTx updates the last block within a transaction
func (p *BlockProcessor) updateLastBlockTx(ctx context.Context, tx pgx.Tx, blockNumber uint64, blockHash string) error {
	query := `
		INSERT INTO indexer_state (chain_id, last_block_number, last_block_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_id) DO UPDATE
		SET last_block_number = EXCLUDED.last_block_number,
		    last_block_hash = EXCLUDED.last_block_hash,
		    updated_at = NOW()`

	_, err := tx.Exec(ctx, query, p.db.ChainID(), blockNumber, blockHash)
	return err
}
