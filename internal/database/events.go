package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
)

// LogSource replays stored event logs for module backfills. Logs stream in
// block then log-index order with the Backfill flag set, the transaction
// sender joined in from the raw transactions table.
type LogSource struct {
	pool *pgxpool.Pool
}

func NewLogSource(db *Database) *LogSource {
	return &LogSource{pool: db.pool}
}

var _ core.EventSource = (*LogSource)(nil)

func (s *LogSource) ReplayEVM(ctx context.Context, fromBlock, toBlock uint64, topics, addresses []string, fn func(*core.EventContext) error) error {
	if len(topics) == 0 && len(addresses) == 0 {
		return nil
	}

	loweredTopics := lowerAll(topics)
	loweredAddresses := lowerAll(addresses)

	rows, err := s.pool.Query(ctx, `
		SELECT l.block_number, l.block_hash, l.transaction_hash, l.transaction_index,
		       l.log_index, l.address, l.topics, l.data, l.removed,
		       b.timestamp, COALESCE(t.from_address, '')
		FROM event_logs l
		JOIN blocks b ON b.number = l.block_number
		LEFT JOIN transactions t ON t.hash = l.transaction_hash
		WHERE l.block_number >= $1 AND l.block_number <= $2
		  AND (LOWER(l.topics ->> 0) = ANY($3) OR LOWER(l.address) = ANY($4))
		ORDER BY l.block_number, l.log_index`,
		fromBlock, toBlock, loweredTopics, loweredAddresses)
	if err != nil {
		return fmt.Errorf("query event logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row       EventLog
			topicsRaw []byte
			timestamp int64
			txFrom    string
		)
		if err := rows.Scan(&row.BlockNumber, &row.BlockHash, &row.TransactionHash,
			&row.TransactionIndex, &row.LogIndex, &row.Address, &topicsRaw, &row.Data,
			&row.Removed, &timestamp, &txFrom); err != nil {
			return fmt.Errorf("scan event log: %w", err)
		}
		if err := json.Unmarshal(topicsRaw, &row.Topics); err != nil {
			return fmt.Errorf("decode topics for log %d/%d: %w", row.BlockNumber, row.LogIndex, err)
		}

		event := core.NormalizeEVM(rowToLog(&row), timestamp)
		event.TxFrom = txFrom
		event.Backfill = true
		if err := fn(event); err != nil {
			return err
		}
	}
	return rows.Err()
}

func rowToLog(row *EventLog) *types.Log {
	topics := make([]common.Hash, len(row.Topics))
	for i, t := range row.Topics {
		topics[i] = common.HexToHash(t)
	}
	return &types.Log{
		Address:     common.HexToAddress(row.Address),
		Topics:      topics,
		Data:        common.FromHex(row.Data),
		BlockNumber: row.BlockNumber,
		BlockHash:   common.HexToHash(row.BlockHash),
		TxHash:      common.HexToHash(row.TransactionHash),
		TxIndex:     uint(row.TransactionIndex),
		Index:       uint(row.LogIndex),
		Removed:     row.Removed,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}
