package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
)

// ModuleStateStore persists module cursors in the module_state table.
type ModuleStateStore struct {
	pool *pgxpool.Pool
}

func NewModuleStateStore(db *Database) *ModuleStateStore {
	return &ModuleStateStore{pool: db.pool}
}

var _ core.StateStore = (*ModuleStateStore)(nil)

func (s *ModuleStateStore) InitModuleState(ctx context.Context, name, version string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO module_state (module_name, version, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (module_name) DO UPDATE SET
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		name, version, string(core.StatusActive), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("init module state %s: %w", name, err)
	}
	return nil
}

func (s *ModuleStateStore) ModuleState(ctx context.Context, name string) (*core.ModuleState, error) {
	var state core.ModuleState
	err := s.pool.QueryRow(ctx, `
		SELECT module_name, version, last_processed_block, status,
		       backfill_from_block, backfill_to_block, updated_at
		FROM module_state WHERE module_name = $1`, name,
	).Scan(&state.ModuleName, &state.Version, &state.LastProcessedBlock, &state.Status,
		&state.BackfillFromBlock, &state.BackfillToBlock, &state.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load module state %s: %w", name, err)
	}
	return &state, nil
}

func (s *ModuleStateStore) UpdateModuleBlock(ctx context.Context, name string, blockNumber uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE module_state
		SET last_processed_block = $2, updated_at = $3
		WHERE module_name = $1`,
		name, blockNumber, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("update module block %s: %w", name, err)
	}
	return nil
}

func (s *ModuleStateStore) UpdateModuleStatus(ctx context.Context, name string, status core.ModuleStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE module_state
		SET status = $2, updated_at = $3
		WHERE module_name = $1`,
		name, string(status), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("update module status %s: %w", name, err)
	}
	return nil
}

func (s *ModuleStateStore) SetBackfillRange(ctx context.Context, name string, fromBlock, toBlock *uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE module_state
		SET backfill_from_block = $2, backfill_to_block = $3, updated_at = $4
		WHERE module_name = $1`,
		name, fromBlock, toBlock, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set backfill range %s: %w", name, err)
	}
	return nil
}
