package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klaytn/dex-indexer-example/internal/entity"
)

// EntityStore is the pgx-backed entity.Store. Saves are upserts; getters
// return (nil, nil) when no row exists, matching the in-memory store.
type EntityStore struct {
	pool *pgxpool.Pool
}

func NewEntityStore(db *Database) *EntityStore {
	return &EntityStore{pool: db.pool}
}

var _ entity.Store = (*EntityStore)(nil)

func (s *EntityStore) Bundle(ctx context.Context, id string) (*entity.Bundle, error) {
	var b entity.Bundle
	err := s.pool.QueryRow(ctx,
		`SELECT id, native_price_usd FROM bundles WHERE id = $1`, id,
	).Scan(&b.ID, &b.NativePriceUSD)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load bundle %s: %w", id, err)
	}
	return &b, nil
}

func (s *EntityStore) SaveBundle(ctx context.Context, b *entity.Bundle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bundles (id, native_price_usd)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET native_price_usd = EXCLUDED.native_price_usd`,
		b.ID, b.NativePriceUSD)
	if err != nil {
		return fmt.Errorf("save bundle %s: %w", b.ID, err)
	}
	return nil
}

func (s *EntityStore) Token(ctx context.Context, id string) (*entity.Token, error) {
	var t entity.Token
	var totalSupply *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, symbol, name, decimals, total_supply, derived_native,
		       volume, volume_usd, untracked_volume_usd, fees_usd,
		       total_value_locked, total_value_locked_usd, tx_count, pool_count
		FROM tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.Symbol, &t.Name, &t.Decimals, &totalSupply, &t.DerivedNative,
		&t.Volume, &t.VolumeUSD, &t.UntrackedVolumeUSD, &t.FeesUSD,
		&t.TotalValueLocked, &t.TotalValueLockedUSD, &t.TxCount, &t.PoolCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load token %s: %w", id, err)
	}
	t.TotalSupply = NumericToBigInt(totalSupply)
	return &t, nil
}

func (s *EntityStore) SaveToken(ctx context.Context, t *entity.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (
			id, symbol, name, decimals, total_supply, derived_native,
			volume, volume_usd, untracked_volume_usd, fees_usd,
			total_value_locked, total_value_locked_usd, tx_count, pool_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			total_supply = EXCLUDED.total_supply,
			derived_native = EXCLUDED.derived_native,
			volume = EXCLUDED.volume,
			volume_usd = EXCLUDED.volume_usd,
			untracked_volume_usd = EXCLUDED.untracked_volume_usd,
			fees_usd = EXCLUDED.fees_usd,
			total_value_locked = EXCLUDED.total_value_locked,
			total_value_locked_usd = EXCLUDED.total_value_locked_usd,
			tx_count = EXCLUDED.tx_count,
			pool_count = EXCLUDED.pool_count`,
		t.ID, t.Symbol, t.Name, t.Decimals, BigIntToNumeric(t.TotalSupply), t.DerivedNative,
		t.Volume, t.VolumeUSD, t.UntrackedVolumeUSD, t.FeesUSD,
		t.TotalValueLocked, t.TotalValueLockedUSD, t.TxCount, t.PoolCount)
	if err != nil {
		return fmt.Errorf("save token %s: %w", t.ID, err)
	}
	return nil
}

func (s *EntityStore) Pool(ctx context.Context, id string) (*entity.Pool, error) {
	var p entity.Pool
	var liquidity, sqrtPrice, fg0, fg1 *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, token0_id, token1_id, fee_tier, created_at_timestamp, created_at_block,
		       liquidity, sqrt_price, tick, fee_growth_global_0_x128, fee_growth_global_1_x128,
		       token0_price, token1_price, tvl_token0, tvl_token1, tvl_native, tvl_usd,
		       volume_token0, volume_token1, volume_usd, untracked_volume_usd, fees_usd, tx_count
		FROM pools WHERE id = $1`, id,
	).Scan(&p.ID, &p.Token0ID, &p.Token1ID, &p.FeeTier, &p.CreatedAtTimestamp, &p.CreatedAtBlock,
		&liquidity, &sqrtPrice, &p.Tick, &fg0, &fg1,
		&p.Token0Price, &p.Token1Price, &p.TotalValueLockedToken0, &p.TotalValueLockedToken1,
		&p.TotalValueLockedNative, &p.TotalValueLockedUSD,
		&p.VolumeToken0, &p.VolumeToken1, &p.VolumeUSD, &p.UntrackedVolumeUSD, &p.FeesUSD, &p.TxCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}
	p.Liquidity = NumericToBigInt(liquidity)
	p.SqrtPrice = NumericToBigInt(sqrtPrice)
	p.FeeGrowthGlobal0X128 = NumericToBigInt(fg0)
	p.FeeGrowthGlobal1X128 = NumericToBigInt(fg1)
	return &p, nil
}

func (s *EntityStore) SavePool(ctx context.Context, p *entity.Pool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (
			id, token0_id, token1_id, fee_tier, created_at_timestamp, created_at_block,
			liquidity, sqrt_price, tick, fee_growth_global_0_x128, fee_growth_global_1_x128,
			token0_price, token1_price, tvl_token0, tvl_token1, tvl_native, tvl_usd,
			volume_token0, volume_token1, volume_usd, untracked_volume_usd, fees_usd, tx_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			liquidity = EXCLUDED.liquidity,
			sqrt_price = EXCLUDED.sqrt_price,
			tick = EXCLUDED.tick,
			fee_growth_global_0_x128 = EXCLUDED.fee_growth_global_0_x128,
			fee_growth_global_1_x128 = EXCLUDED.fee_growth_global_1_x128,
			token0_price = EXCLUDED.token0_price,
			token1_price = EXCLUDED.token1_price,
			tvl_token0 = EXCLUDED.tvl_token0,
			tvl_token1 = EXCLUDED.tvl_token1,
			tvl_native = EXCLUDED.tvl_native,
			tvl_usd = EXCLUDED.tvl_usd,
			volume_token0 = EXCLUDED.volume_token0,
			volume_token1 = EXCLUDED.volume_token1,
			volume_usd = EXCLUDED.volume_usd,
			untracked_volume_usd = EXCLUDED.untracked_volume_usd,
			fees_usd = EXCLUDED.fees_usd,
			tx_count = EXCLUDED.tx_count`,
		p.ID, p.Token0ID, p.Token1ID, p.FeeTier, p.CreatedAtTimestamp, p.CreatedAtBlock,
		BigIntToNumeric(p.Liquidity), BigIntToNumeric(p.SqrtPrice), p.Tick,
		BigIntToNumeric(p.FeeGrowthGlobal0X128), BigIntToNumeric(p.FeeGrowthGlobal1X128),
		p.Token0Price, p.Token1Price, p.TotalValueLockedToken0, p.TotalValueLockedToken1,
		p.TotalValueLockedNative, p.TotalValueLockedUSD,
		p.VolumeToken0, p.VolumeToken1, p.VolumeUSD, p.UntrackedVolumeUSD, p.FeesUSD, p.TxCount)
	if err != nil {
		return fmt.Errorf("save pool %s: %w", p.ID, err)
	}
	return nil
}

func (s *EntityStore) V2Pool(ctx context.Context, id string) (*entity.V2Pool, error) {
	var p entity.V2Pool
	var liqA, liqB *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, symbol, token_a_id, token_b_id, liquidity_a, liquidity_b,
		       token_a_price, token_b_price, volume_token_a, volume_token_b, volume_usd, tx_count
		FROM v2_pools WHERE id = $1`, id,
	).Scan(&p.ID, &p.Symbol, &p.TokenAID, &p.TokenBID, &liqA, &liqB,
		&p.TokenAPrice, &p.TokenBPrice, &p.VolumeTokenA, &p.VolumeTokenB, &p.VolumeUSD, &p.TxCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load v2 pool %s: %w", id, err)
	}
	p.LiquidityA = NumericToBigInt(liqA)
	p.LiquidityB = NumericToBigInt(liqB)
	return &p, nil
}

func (s *EntityStore) SaveV2Pool(ctx context.Context, p *entity.V2Pool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO v2_pools (
			id, symbol, token_a_id, token_b_id, liquidity_a, liquidity_b,
			token_a_price, token_b_price, volume_token_a, volume_token_b, volume_usd, tx_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			liquidity_a = EXCLUDED.liquidity_a,
			liquidity_b = EXCLUDED.liquidity_b,
			token_a_price = EXCLUDED.token_a_price,
			token_b_price = EXCLUDED.token_b_price,
			volume_token_a = EXCLUDED.volume_token_a,
			volume_token_b = EXCLUDED.volume_token_b,
			volume_usd = EXCLUDED.volume_usd,
			tx_count = EXCLUDED.tx_count`,
		p.ID, p.Symbol, p.TokenAID, p.TokenBID,
		BigIntToNumeric(p.LiquidityA), BigIntToNumeric(p.LiquidityB),
		p.TokenAPrice, p.TokenBPrice, p.VolumeTokenA, p.VolumeTokenB, p.VolumeUSD, p.TxCount)
	if err != nil {
		return fmt.Errorf("save v2 pool %s: %w", p.ID, err)
	}
	return nil
}

func (s *EntityStore) Factory(ctx context.Context, id string) (*entity.Factory, error) {
	var f entity.Factory
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner, pool_count, total_volume_native, total_volume_usd,
		       untracked_volume_usd, total_fees_native, total_fees_usd,
		       tvl_native, tvl_usd, tx_count, initialized_at_block
		FROM factories WHERE id = $1`, id,
	).Scan(&f.ID, &f.Owner, &f.PoolCount, &f.TotalVolumeNative, &f.TotalVolumeUSD,
		&f.UntrackedVolumeUSD, &f.TotalFeesNative, &f.TotalFeesUSD,
		&f.TotalValueLockedNative, &f.TotalValueLockedUSD, &f.TxCount, &f.InitializedAtBlock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load factory %s: %w", id, err)
	}
	return &f, nil
}

func (s *EntityStore) SaveFactory(ctx context.Context, f *entity.Factory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO factories (
			id, owner, pool_count, total_volume_native, total_volume_usd,
			untracked_volume_usd, total_fees_native, total_fees_usd,
			tvl_native, tvl_usd, tx_count, initialized_at_block
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			pool_count = EXCLUDED.pool_count,
			total_volume_native = EXCLUDED.total_volume_native,
			total_volume_usd = EXCLUDED.total_volume_usd,
			untracked_volume_usd = EXCLUDED.untracked_volume_usd,
			total_fees_native = EXCLUDED.total_fees_native,
			total_fees_usd = EXCLUDED.total_fees_usd,
			tvl_native = EXCLUDED.tvl_native,
			tvl_usd = EXCLUDED.tvl_usd,
			tx_count = EXCLUDED.tx_count,
			initialized_at_block = EXCLUDED.initialized_at_block`,
		f.ID, f.Owner, f.PoolCount, f.TotalVolumeNative, f.TotalVolumeUSD,
		f.UntrackedVolumeUSD, f.TotalFeesNative, f.TotalFeesUSD,
		f.TotalValueLockedNative, f.TotalValueLockedUSD, f.TxCount, f.InitializedAtBlock)
	if err != nil {
		return fmt.Errorf("save factory %s: %w", f.ID, err)
	}
	return nil
}

func (s *EntityStore) V2Factory(ctx context.Context, id string) (*entity.V2Factory, error) {
	var f entity.V2Factory
	err := s.pool.QueryRow(ctx, `
		SELECT id, pool_count, total_volume_native, total_volume_usd, initialized_at_block
		FROM v2_factories WHERE id = $1`, id,
	).Scan(&f.ID, &f.PoolCount, &f.TotalVolumeNative, &f.TotalVolumeUSD, &f.InitializedAtBlock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load v2 factory %s: %w", id, err)
	}
	return &f, nil
}

func (s *EntityStore) SaveV2Factory(ctx context.Context, f *entity.V2Factory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO v2_factories (id, pool_count, total_volume_native, total_volume_usd, initialized_at_block)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			pool_count = EXCLUDED.pool_count,
			total_volume_native = EXCLUDED.total_volume_native,
			total_volume_usd = EXCLUDED.total_volume_usd,
			initialized_at_block = EXCLUDED.initialized_at_block`,
		f.ID, f.PoolCount, f.TotalVolumeNative, f.TotalVolumeUSD, f.InitializedAtBlock)
	if err != nil {
		return fmt.Errorf("save v2 factory %s: %w", f.ID, err)
	}
	return nil
}

func (s *EntityStore) WhitelistPool(ctx context.Context, id string) (*entity.WhitelistPool, error) {
	var w entity.WhitelistPool
	err := s.pool.QueryRow(ctx,
		`SELECT id, token_id, pool_id FROM whitelist_pools WHERE id = $1`, id,
	).Scan(&w.ID, &w.TokenID, &w.PoolID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load whitelist pool %s: %w", id, err)
	}
	return &w, nil
}

func (s *EntityStore) SaveWhitelistPool(ctx context.Context, w *entity.WhitelistPool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO whitelist_pools (id, token_id, pool_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		w.ID, w.TokenID, w.PoolID)
	if err != nil {
		return fmt.Errorf("save whitelist pool %s: %w", w.ID, err)
	}
	return nil
}

func (s *EntityStore) WhitelistPoolsByToken(ctx context.Context, tokenID string) ([]*entity.WhitelistPool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token_id, pool_id FROM whitelist_pools
		WHERE token_id = $1
		ORDER BY position`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list whitelist pools for %s: %w", tokenID, err)
	}
	defer rows.Close()

	var out []*entity.WhitelistPool
	for rows.Next() {
		var w entity.WhitelistPool
		if err := rows.Scan(&w.ID, &w.TokenID, &w.PoolID); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *EntityStore) Tick(ctx context.Context, id string) (*entity.Tick, error) {
	var t entity.Tick
	var gross, net, fo0, fo1 *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, pool_id, tick_idx, liquidity_gross, liquidity_net,
		       fee_growth_outside_0_x128, fee_growth_outside_1_x128,
		       created_at_timestamp, created_at_block
		FROM ticks WHERE id = $1`, id,
	).Scan(&t.ID, &t.PoolID, &t.TickIdx, &gross, &net, &fo0, &fo1,
		&t.CreatedAtTimestamp, &t.CreatedAtBlock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load tick %s: %w", id, err)
	}
	t.LiquidityGross = NumericToBigInt(gross)
	t.LiquidityNet = NumericToBigInt(net)
	t.FeeGrowthOutside0X128 = NumericToBigInt(fo0)
	t.FeeGrowthOutside1X128 = NumericToBigInt(fo1)
	return &t, nil
}

func (s *EntityStore) SaveTick(ctx context.Context, t *entity.Tick) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticks (
			id, pool_id, tick_idx, liquidity_gross, liquidity_net,
			fee_growth_outside_0_x128, fee_growth_outside_1_x128,
			created_at_timestamp, created_at_block
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			liquidity_gross = EXCLUDED.liquidity_gross,
			liquidity_net = EXCLUDED.liquidity_net,
			fee_growth_outside_0_x128 = EXCLUDED.fee_growth_outside_0_x128,
			fee_growth_outside_1_x128 = EXCLUDED.fee_growth_outside_1_x128`,
		t.ID, t.PoolID, t.TickIdx, BigIntToNumeric(t.LiquidityGross), BigIntToNumeric(t.LiquidityNet),
		BigIntToNumeric(t.FeeGrowthOutside0X128), BigIntToNumeric(t.FeeGrowthOutside1X128),
		t.CreatedAtTimestamp, t.CreatedAtBlock)
	if err != nil {
		return fmt.Errorf("save tick %s: %w", t.ID, err)
	}
	return nil
}

func (s *EntityStore) Transaction(ctx context.Context, id string) (*entity.Transaction, error) {
	var t entity.Transaction
	var gasPrice *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, block_number, timestamp, gas_used, gas_price
		FROM dex_transactions WHERE id = $1`, id,
	).Scan(&t.ID, &t.BlockNumber, &t.Timestamp, &t.GasUsed, &gasPrice)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load dex transaction %s: %w", id, err)
	}
	t.GasPrice = NumericToBigInt(gasPrice)
	return &t, nil
}

func (s *EntityStore) SaveTransaction(ctx context.Context, t *entity.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dex_transactions (id, block_number, timestamp, gas_used, gas_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			gas_used = EXCLUDED.gas_used,
			gas_price = EXCLUDED.gas_price`,
		t.ID, t.BlockNumber, t.Timestamp, t.GasUsed, BigIntToNumeric(t.GasPrice))
	if err != nil {
		return fmt.Errorf("save dex transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *EntityStore) Mint(ctx context.Context, id string) (*entity.Mint, error) {
	var m entity.Mint
	var amount *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, transaction_id, timestamp, pool_id, token0_id, token1_id,
		       owner, sender, origin, amount, amount0, amount1, amount_usd,
		       tick_lower, tick_upper, log_index
		FROM mints WHERE id = $1`, id,
	).Scan(&m.ID, &m.TransactionID, &m.Timestamp, &m.PoolID, &m.Token0ID, &m.Token1ID,
		&m.Owner, &m.Sender, &m.Origin, &amount, &m.Amount0, &m.Amount1, &m.AmountUSD,
		&m.TickLower, &m.TickUpper, &m.LogIndex)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load mint %s: %w", id, err)
	}
	m.Amount = NumericToBigInt(amount)
	return &m, nil
}

func (s *EntityStore) SaveMint(ctx context.Context, m *entity.Mint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mints (
			id, transaction_id, timestamp, pool_id, token0_id, token1_id,
			owner, sender, origin, amount, amount0, amount1, amount_usd,
			tick_lower, tick_upper, log_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.TransactionID, m.Timestamp, m.PoolID, m.Token0ID, m.Token1ID,
		m.Owner, m.Sender, m.Origin, BigIntToNumeric(m.Amount), m.Amount0, m.Amount1, m.AmountUSD,
		m.TickLower, m.TickUpper, m.LogIndex)
	if err != nil {
		return fmt.Errorf("save mint %s: %w", m.ID, err)
	}
	return nil
}

func (s *EntityStore) Burn(ctx context.Context, id string) (*entity.Burn, error) {
	var b entity.Burn
	var amount *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, transaction_id, timestamp, pool_id, token0_id, token1_id,
		       owner, origin, amount, amount0, amount1, amount_usd,
		       tick_lower, tick_upper, log_index
		FROM burns WHERE id = $1`, id,
	).Scan(&b.ID, &b.TransactionID, &b.Timestamp, &b.PoolID, &b.Token0ID, &b.Token1ID,
		&b.Owner, &b.Origin, &amount, &b.Amount0, &b.Amount1, &b.AmountUSD,
		&b.TickLower, &b.TickUpper, &b.LogIndex)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load burn %s: %w", id, err)
	}
	b.Amount = NumericToBigInt(amount)
	return &b, nil
}

func (s *EntityStore) SaveBurn(ctx context.Context, b *entity.Burn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO burns (
			id, transaction_id, timestamp, pool_id, token0_id, token1_id,
			owner, origin, amount, amount0, amount1, amount_usd,
			tick_lower, tick_upper, log_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.TransactionID, b.Timestamp, b.PoolID, b.Token0ID, b.Token1ID,
		b.Owner, b.Origin, BigIntToNumeric(b.Amount), b.Amount0, b.Amount1, b.AmountUSD,
		b.TickLower, b.TickUpper, b.LogIndex)
	if err != nil {
		return fmt.Errorf("save burn %s: %w", b.ID, err)
	}
	return nil
}

func (s *EntityStore) Swap(ctx context.Context, id string) (*entity.Swap, error) {
	var sw entity.Swap
	var sqrtPrice *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, transaction_id, timestamp, pool_id, token0_id, token1_id,
		       sender, recipient, origin, amount0, amount1, amount_usd,
		       tick, sqrt_price_x96, log_index
		FROM swaps WHERE id = $1`, id,
	).Scan(&sw.ID, &sw.TransactionID, &sw.Timestamp, &sw.PoolID, &sw.Token0ID, &sw.Token1ID,
		&sw.Sender, &sw.Recipient, &sw.Origin, &sw.Amount0, &sw.Amount1, &sw.AmountUSD,
		&sw.Tick, &sqrtPrice, &sw.LogIndex)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load swap %s: %w", id, err)
	}
	sw.SqrtPriceX96 = NumericToBigInt(sqrtPrice)
	return &sw, nil
}

func (s *EntityStore) SaveSwap(ctx context.Context, sw *entity.Swap) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO swaps (
			id, transaction_id, timestamp, pool_id, token0_id, token1_id,
			sender, recipient, origin, amount0, amount1, amount_usd,
			tick, sqrt_price_x96, log_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		sw.ID, sw.TransactionID, sw.Timestamp, sw.PoolID, sw.Token0ID, sw.Token1ID,
		sw.Sender, sw.Recipient, sw.Origin, sw.Amount0, sw.Amount1, sw.AmountUSD,
		sw.Tick, BigIntToNumeric(sw.SqrtPriceX96), sw.LogIndex)
	if err != nil {
		return fmt.Errorf("save swap %s: %w", sw.ID, err)
	}
	return nil
}

func (s *EntityStore) FactoryDayData(ctx context.Context, id string) (*entity.FactoryDayData, error) {
	var d entity.FactoryDayData
	err := s.pool.QueryRow(ctx, `
		SELECT id, date, volume_native, volume_usd, volume_usd_untracked, fees_usd, tvl_usd, tx_count
		FROM factory_day_data WHERE id = $1`, id,
	).Scan(&d.ID, &d.Date, &d.VolumeNative, &d.VolumeUSD, &d.VolumeUSDUntracked,
		&d.FeesUSD, &d.TVLUSD, &d.TxCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load factory day data %s: %w", id, err)
	}
	return &d, nil
}

func (s *EntityStore) SaveFactoryDayData(ctx context.Context, d *entity.FactoryDayData) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO factory_day_data (id, date, volume_native, volume_usd, volume_usd_untracked, fees_usd, tvl_usd, tx_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			volume_native = EXCLUDED.volume_native,
			volume_usd = EXCLUDED.volume_usd,
			volume_usd_untracked = EXCLUDED.volume_usd_untracked,
			fees_usd = EXCLUDED.fees_usd,
			tvl_usd = EXCLUDED.tvl_usd,
			tx_count = EXCLUDED.tx_count`,
		d.ID, d.Date, d.VolumeNative, d.VolumeUSD, d.VolumeUSDUntracked, d.FeesUSD, d.TVLUSD, d.TxCount)
	if err != nil {
		return fmt.Errorf("save factory day data %s: %w", d.ID, err)
	}
	return nil
}

func (s *EntityStore) PoolInterval(ctx context.Context, id string) (*entity.PoolIntervalData, error) {
	var d entity.PoolIntervalData
	var liquidity, sqrtPrice, fg0, fg1 *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, period, period_start, pool_id, open, high, low, close,
		       volume_token0, volume_token1, volume_usd, fees_usd,
		       liquidity, sqrt_price, token0_price, token1_price, tick, tvl_usd,
		       fee_growth_global_0_x128, fee_growth_global_1_x128, tx_count
		FROM pool_interval_data WHERE id = $1`, id,
	).Scan(&d.ID, &d.Period, &d.PeriodStart, &d.PoolID, &d.Open, &d.High, &d.Low, &d.Close,
		&d.VolumeToken0, &d.VolumeToken1, &d.VolumeUSD, &d.FeesUSD,
		&liquidity, &sqrtPrice, &d.Token0Price, &d.Token1Price, &d.Tick, &d.TVLUSD,
		&fg0, &fg1, &d.TxCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load pool interval %s: %w", id, err)
	}
	d.Liquidity = NumericToBigInt(liquidity)
	d.SqrtPrice = NumericToBigInt(sqrtPrice)
	d.FeeGrowthGlobal0X128 = NumericToBigInt(fg0)
	d.FeeGrowthGlobal1X128 = NumericToBigInt(fg1)
	return &d, nil
}

func (s *EntityStore) SavePoolInterval(ctx context.Context, d *entity.PoolIntervalData) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_interval_data (
			id, period, period_start, pool_id, open, high, low, close,
			volume_token0, volume_token1, volume_usd, fees_usd,
			liquidity, sqrt_price, token0_price, token1_price, tick, tvl_usd,
			fee_growth_global_0_x128, fee_growth_global_1_x128, tx_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume_token0 = EXCLUDED.volume_token0,
			volume_token1 = EXCLUDED.volume_token1,
			volume_usd = EXCLUDED.volume_usd,
			fees_usd = EXCLUDED.fees_usd,
			liquidity = EXCLUDED.liquidity,
			sqrt_price = EXCLUDED.sqrt_price,
			token0_price = EXCLUDED.token0_price,
			token1_price = EXCLUDED.token1_price,
			tick = EXCLUDED.tick,
			tvl_usd = EXCLUDED.tvl_usd,
			fee_growth_global_0_x128 = EXCLUDED.fee_growth_global_0_x128,
			fee_growth_global_1_x128 = EXCLUDED.fee_growth_global_1_x128,
			tx_count = EXCLUDED.tx_count`,
		d.ID, d.Period, d.PeriodStart, d.PoolID, d.Open, d.High, d.Low, d.Close,
		d.VolumeToken0, d.VolumeToken1, d.VolumeUSD, d.FeesUSD,
		BigIntToNumeric(d.Liquidity), BigIntToNumeric(d.SqrtPrice),
		d.Token0Price, d.Token1Price, d.Tick, d.TVLUSD,
		BigIntToNumeric(d.FeeGrowthGlobal0X128), BigIntToNumeric(d.FeeGrowthGlobal1X128), d.TxCount)
	if err != nil {
		return fmt.Errorf("save pool interval %s: %w", d.ID, err)
	}
	return nil
}

func (s *EntityStore) TokenInterval(ctx context.Context, id string) (*entity.TokenIntervalData, error) {
	var d entity.TokenIntervalData
	err := s.pool.QueryRow(ctx, `
		SELECT id, period, period_start, token_id, open, high, low, close,
		       volume, volume_usd, untracked_volume_usd, fees_usd,
		       price_usd, total_value_locked, total_value_locked_usd, tx_count
		FROM token_interval_data WHERE id = $1`, id,
	).Scan(&d.ID, &d.Period, &d.PeriodStart, &d.TokenID, &d.Open, &d.High, &d.Low, &d.Close,
		&d.Volume, &d.VolumeUSD, &d.UntrackedVolumeUSD, &d.FeesUSD,
		&d.PriceUSD, &d.TotalValueLocked, &d.TotalValueLockedUSD, &d.TxCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load token interval %s: %w", id, err)
	}
	return &d, nil
}

func (s *EntityStore) SaveTokenInterval(ctx context.Context, d *entity.TokenIntervalData) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_interval_data (
			id, period, period_start, token_id, open, high, low, close,
			volume, volume_usd, untracked_volume_usd, fees_usd,
			price_usd, total_value_locked, total_value_locked_usd, tx_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			volume_usd = EXCLUDED.volume_usd,
			untracked_volume_usd = EXCLUDED.untracked_volume_usd,
			fees_usd = EXCLUDED.fees_usd,
			price_usd = EXCLUDED.price_usd,
			total_value_locked = EXCLUDED.total_value_locked,
			total_value_locked_usd = EXCLUDED.total_value_locked_usd,
			tx_count = EXCLUDED.tx_count`,
		d.ID, d.Period, d.PeriodStart, d.TokenID, d.Open, d.High, d.Low, d.Close,
		d.Volume, d.VolumeUSD, d.UntrackedVolumeUSD, d.FeesUSD,
		d.PriceUSD, d.TotalValueLocked, d.TotalValueLockedUSD, d.TxCount)
	if err != nil {
		return fmt.Errorf("save token interval %s: %w", d.ID, err)
	}
	return nil
}

func (s *EntityStore) TickDayData(ctx context.Context, id string) (*entity.TickDayData, error) {
	var d entity.TickDayData
	var gross, net, fo0, fo1 *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, date, pool_id, tick_id, liquidity_gross, liquidity_net,
		       fee_growth_outside_0_x128, fee_growth_outside_1_x128
		FROM tick_day_data WHERE id = $1`, id,
	).Scan(&d.ID, &d.Date, &d.PoolID, &d.TickID, &gross, &net, &fo0, &fo1)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load tick day data %s: %w", id, err)
	}
	d.LiquidityGross = NumericToBigInt(gross)
	d.LiquidityNet = NumericToBigInt(net)
	d.FeeGrowthOutside0X128 = NumericToBigInt(fo0)
	d.FeeGrowthOutside1X128 = NumericToBigInt(fo1)
	return &d, nil
}

func (s *EntityStore) SaveTickDayData(ctx context.Context, d *entity.TickDayData) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tick_day_data (
			id, date, pool_id, tick_id, liquidity_gross, liquidity_net,
			fee_growth_outside_0_x128, fee_growth_outside_1_x128
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			liquidity_gross = EXCLUDED.liquidity_gross,
			liquidity_net = EXCLUDED.liquidity_net,
			fee_growth_outside_0_x128 = EXCLUDED.fee_growth_outside_0_x128,
			fee_growth_outside_1_x128 = EXCLUDED.fee_growth_outside_1_x128`,
		d.ID, d.Date, d.PoolID, d.TickID, BigIntToNumeric(d.LiquidityGross), BigIntToNumeric(d.LiquidityNet),
		BigIntToNumeric(d.FeeGrowthOutside0X128), BigIntToNumeric(d.FeeGrowthOutside1X128))
	if err != nil {
		return fmt.Errorf("save tick day data %s: %w", d.ID, err)
	}
	return nil
}

func (s *EntityStore) BridgeSequence(ctx context.Context, id string) (*entity.BridgeSequence, error) {
	var b entity.BridgeSequence
	err := s.pool.QueryRow(ctx,
		`SELECT id, seq FROM bridge_sequences WHERE id = $1`, id,
	).Scan(&b.ID, &b.Seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load bridge sequence %s: %w", id, err)
	}
	return &b, nil
}

func (s *EntityStore) SaveBridgeSequence(ctx context.Context, b *entity.BridgeSequence) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_sequences (id, seq)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.Seq)
	if err != nil {
		return fmt.Errorf("save bridge sequence %s: %w", b.ID, err)
	}
	return nil
}

func (s *EntityStore) BridgeTransfer(ctx context.Context, id string) (*entity.BridgeTransfer, error) {
	var t entity.BridgeTransfer
	var amount, txFee *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, seq, sender, receiver, amount, contract_address,
		       destination_tx_hash, operator, timestamp, deliver_timestamp,
		       block_height, tx_fee, status
		FROM bridge_transfers WHERE id = $1`, id,
	).Scan(&t.ID, &t.Seq, &t.Sender, &t.Receiver, &amount, &t.ContractAddress,
		&t.DestinationTxHash, &t.Operator, &t.Timestamp, &t.DeliverTimestamp,
		&t.BlockHeight, &txFee, &t.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load bridge transfer %s: %w", id, err)
	}
	t.Amount = NumericToBigInt(amount)
	t.TxFee = NumericToBigInt(txFee)
	return &t, nil
}

func (s *EntityStore) SaveBridgeTransfer(ctx context.Context, t *entity.BridgeTransfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_transfers (
			id, seq, sender, receiver, amount, contract_address,
			destination_tx_hash, operator, timestamp, deliver_timestamp,
			block_height, tx_fee, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			destination_tx_hash = EXCLUDED.destination_tx_hash,
			operator = EXCLUDED.operator,
			deliver_timestamp = EXCLUDED.deliver_timestamp,
			block_height = EXCLUDED.block_height,
			tx_fee = EXCLUDED.tx_fee,
			status = EXCLUDED.status`,
		t.ID, t.Seq, t.Sender, t.Receiver, BigIntToNumeric(t.Amount), t.ContractAddress,
		t.DestinationTxHash, t.Operator, t.Timestamp, t.DeliverTimestamp,
		t.BlockHeight, BigIntToNumeric(t.TxFee), t.Status)
	if err != nil {
		return fmt.Errorf("save bridge transfer %s: %w", t.ID, err)
	}
	return nil
}

func (s *EntityStore) FinschiaTransfer(ctx context.Context, id string) (*entity.FinschiaTransfer, error) {
	var t entity.FinschiaTransfer
	var amount *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, seq, sender, receiver, amount, source_tx_hash, timestamp, block_height, status
		FROM finschia_transfers WHERE id = $1`, id,
	).Scan(&t.ID, &t.Seq, &t.Sender, &t.Receiver, &amount, &t.SourceTxHash,
		&t.Timestamp, &t.BlockHeight, &t.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load finschia transfer %s: %w", id, err)
	}
	t.Amount = NumericToBigInt(amount)
	return &t, nil
}

func (s *EntityStore) SaveFinschiaTransfer(ctx context.Context, t *entity.FinschiaTransfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO finschia_transfers (
			id, seq, sender, receiver, amount, source_tx_hash, timestamp, block_height, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			block_height = EXCLUDED.block_height`,
		t.ID, t.Seq, t.Sender, t.Receiver, BigIntToNumeric(t.Amount), t.SourceTxHash,
		t.Timestamp, t.BlockHeight, t.Status)
	if err != nil {
		return fmt.Errorf("save finschia transfer %s: %w", t.ID, err)
	}
	return nil
}

func (s *EntityStore) BridgeState(ctx context.Context, id string) (*entity.BridgeState, error) {
	var b entity.BridgeState
	err := s.pool.QueryRow(ctx,
		`SELECT id, transfer_lock FROM bridge_states WHERE id = $1`, id,
	).Scan(&b.ID, &b.TransferLock)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load bridge state %s: %w", id, err)
	}
	return &b, nil
}

func (s *EntityStore) SaveBridgeState(ctx context.Context, b *entity.BridgeState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_states (id, transfer_lock)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET transfer_lock = EXCLUDED.transfer_lock`,
		b.ID, b.TransferLock)
	if err != nil {
		return fmt.Errorf("save bridge state %s: %w", b.ID, err)
	}
	return nil
}
