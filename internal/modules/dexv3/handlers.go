package dexv3

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/numeric"
	"github.com/klaytn/dex-indexer-example/internal/pricing"
)

// loadTransaction gets or creates the transaction row for an event.
func (m *Module) loadTransaction(ctx context.Context, event *core.EventContext) (*entity.Transaction, error) {
	txID := strings.ToLower(event.TxHash)
	tx, err := m.store.Transaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", txID, err)
	}
	if tx == nil {
		tx = &entity.Transaction{
			ID:          txID,
			BlockNumber: event.BlockNumber,
			Timestamp:   event.Timestamp,
			GasPrice:    big.NewInt(0),
		}
		if err := m.store.SaveTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to save transaction %s: %w", txID, err)
		}
	}
	return tx, nil
}

// handlePoolCreated creates the pool entity for a factory event at or after
// the configured start block.
func (m *Module) handlePoolCreated(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	if event.BlockNumber < m.config.StartBlock {
		return nil
	}

	poolAddr := parsed.AddressArg("pool")
	token0 := parsed.AddressArg("token0")
	token1 := parsed.AddressArg("token1")
	fee := parsed.BigArg("fee")
	if fee == nil {
		return fmt.Errorf("PoolCreated event without fee argument in tx %s", event.TxHash)
	}

	pool, err := m.createPool(ctx, poolAddr, token0, token1, fee.Int64(), event.BlockNumber, event.Timestamp, event.Backfill)
	if err != nil {
		return err
	}
	if pool == nil {
		m.logger.Debug().Str("pool", strings.ToLower(poolAddr.Hex())).Msg("skipped pool creation")
	}
	return nil
}

// createPool is shared by the PoolCreated handler and the one-time factory
// walk. During backfill, pools with no on-chain liquidity yet are skipped;
// they get picked up once they emit events after going live. Returns the
// pool, or nil when creation was skipped.
func (m *Module) createPool(ctx context.Context, poolAddr, token0Addr, token1Addr common.Address, fee int64, blockNumber uint64, timestamp int64, backfill bool) (*entity.Pool, error) {
	poolID := strings.ToLower(poolAddr.Hex())

	existing, err := m.store.Pool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	if existing != nil {
		return existing, nil
	}

	if backfill {
		liq, err := m.chain.Liquidity(ctx, poolAddr)
		if err != nil {
			return nil, fmt.Errorf("liveness check failed for pool %s: %w", poolID, err)
		}
		if liq.Sign() <= 0 {
			return nil, nil
		}
	}

	token0, err := m.tokens.ResolveOrCreate(ctx, token0Addr.Hex())
	if err != nil {
		return nil, err
	}
	token1, err := m.tokens.ResolveOrCreate(ctx, token1Addr.Hex())
	if err != nil {
		return nil, err
	}
	if token0 == nil || token1 == nil {
		m.logger.Warn().Str("pool", poolID).Msg("token unavailable, pool not created")
		return nil, nil
	}

	pool := &entity.Pool{
		ID:                   poolID,
		Token0ID:             token0.ID,
		Token1ID:             token1.ID,
		FeeTier:              fee,
		CreatedAtTimestamp:   timestamp,
		CreatedAtBlock:       blockNumber,
		Liquidity:            big.NewInt(0),
		SqrtPrice:            big.NewInt(0),
		FeeGrowthGlobal0X128: big.NewInt(0),
		FeeGrowthGlobal1X128: big.NewInt(0),
	}

	token0.PoolCount++
	token1.PoolCount++

	// A reference token on either side makes the pool usable for pricing
	// the counter token.
	if pricing.IsWhitelisted(token0.ID) {
		wl := &entity.WhitelistPool{
			ID:      entity.WhitelistPoolID(poolID, token1.ID),
			TokenID: token1.ID,
			PoolID:  poolID,
		}
		if err := m.store.SaveWhitelistPool(ctx, wl); err != nil {
			return nil, fmt.Errorf("failed to save whitelist row for %s: %w", token1.ID, err)
		}
	}
	if pricing.IsWhitelisted(token1.ID) {
		wl := &entity.WhitelistPool{
			ID:      entity.WhitelistPoolID(poolID, token0.ID),
			TokenID: token0.ID,
			PoolID:  poolID,
		}
		if err := m.store.SaveWhitelistPool(ctx, wl); err != nil {
			return nil, fmt.Errorf("failed to save whitelist row for %s: %w", token0.ID, err)
		}
	}

	factory, err := m.store.Factory(ctx, m.factoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load factory: %w", err)
	}
	if factory == nil {
		return nil, fmt.Errorf("factory %s does not exist", m.factoryID)
	}
	factory.PoolCount++

	if m.watcher != nil {
		if err := m.watcher.WatchAddress(m.Name(), poolID); err != nil {
			return nil, fmt.Errorf("failed to watch pool %s: %w", poolID, err)
		}
	}

	if err := m.store.SaveToken(ctx, token0); err != nil {
		return nil, fmt.Errorf("failed to save token %s: %w", token0.ID, err)
	}
	if err := m.store.SaveToken(ctx, token1); err != nil {
		return nil, fmt.Errorf("failed to save token %s: %w", token1.ID, err)
	}
	if err := m.store.SavePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to save pool %s: %w", poolID, err)
	}
	if err := m.store.SaveFactory(ctx, factory); err != nil {
		return nil, fmt.Errorf("failed to save factory: %w", err)
	}

	m.logger.Info().
		Str("pool", poolID).
		Str("token0", token0.Symbol).
		Str("token1", token1.Symbol).
		Int64("fee", fee).
		Msg("created v3 pool")
	return pool, nil
}

// handleInitialize records the pool's first price and refreshes the derived
// native rates of both tokens.
func (m *Module) handleInitialize(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("pool %s does not exist", poolID)
	}

	sqrtPrice := parsed.BigArg("sqrtPriceX96")
	tickArg := parsed.BigArg("tick")
	if sqrtPrice == nil || tickArg == nil {
		return fmt.Errorf("Initialize event missing arguments in tx %s", event.TxHash)
	}
	pool.SqrtPrice = sqrtPrice
	tick := tickArg.Int64()
	pool.Tick = &tick

	token0, token1, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}
	pool.Token0Price, pool.Token1Price = numeric.SqrtPriceX96ToTokenPrices(pool.SqrtPrice, token0.Decimals, token1.Decimals)

	bundle, err := m.requireBundle(ctx)
	if err != nil {
		return err
	}
	nativePrice, err := m.pricing.NativePriceUSD(ctx)
	if err != nil {
		return err
	}
	bundle.NativePriceUSD = nativePrice

	if _, err := m.aggregates.UpdatePoolIntervals(ctx, pool, event.Timestamp); err != nil {
		return err
	}

	if token0.DerivedNative, err = m.pricing.NativePerToken(ctx, token0); err != nil {
		return err
	}
	if token1.DerivedNative, err = m.pricing.NativePerToken(ctx, token1); err != nil {
		return err
	}

	return m.saveAll(ctx,
		func() error { return m.store.SavePool(ctx, pool) },
		func() error { return m.store.SaveBundle(ctx, bundle) },
		func() error { return m.store.SaveToken(ctx, token0) },
		func() error { return m.store.SaveToken(ctx, token1) },
	)
}

// handleMint accounts a liquidity add: token and pool TVL, active liquidity
// when the range covers the current tick, and both boundary ticks.
func (m *Module) handleMint(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	if pool == nil {
		m.logger.Warn().Str("pool", poolID).Str("tx", event.TxHash).Msg("mint for unknown pool")
		return nil
	}

	bundle, err := m.requireBundle(ctx)
	if err != nil {
		return err
	}
	factory, err := m.requireFactory(ctx)
	if err != nil {
		return err
	}
	token0, token1, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}
	transaction, err := m.loadTransaction(ctx, event)
	if err != nil {
		return err
	}

	amount := parsed.BigArg("amount")
	if amount == nil || parsed.BigArg("tickLower") == nil || parsed.BigArg("tickUpper") == nil {
		return fmt.Errorf("Mint event missing arguments in tx %s", event.TxHash)
	}
	amount0 := numeric.ConvertTokenToDecimal(parsed.BigArg("amount0"), token0.Decimals)
	amount1 := numeric.ConvertTokenToDecimal(parsed.BigArg("amount1"), token1.Decimals)

	amountUSD := amount0*(token0.DerivedNative*bundle.NativePriceUSD) +
		amount1*(token1.DerivedNative*bundle.NativePriceUSD)

	// reset tvl aggregates until new amounts calculated
	factory.TotalValueLockedNative -= pool.TotalValueLockedNative
	factory.TxCount++

	token0.TxCount++
	token0.TotalValueLocked += amount0
	token0.TotalValueLockedUSD = token0.TotalValueLocked * token0.DerivedNative * bundle.NativePriceUSD

	token1.TxCount++
	token1.TotalValueLocked += amount1
	token1.TotalValueLockedUSD = token1.TotalValueLocked * token1.DerivedNative * bundle.NativePriceUSD

	pool.TxCount++

	// Pool liquidity tracks only the currently active range; update it when
	// the new position includes the current tick.
	tickLower := parsed.BigArg("tickLower").Int64()
	tickUpper := parsed.BigArg("tickUpper").Int64()
	if pool.Tick != nil && tickLower <= *pool.Tick && tickUpper > *pool.Tick {
		pool.Liquidity = new(big.Int).Add(pool.Liquidity, amount)
	}

	pool.TotalValueLockedToken0 += amount0
	pool.TotalValueLockedToken1 += amount1
	pool.TotalValueLockedNative = pool.TotalValueLockedToken0*token0.DerivedNative +
		pool.TotalValueLockedToken1*token1.DerivedNative
	pool.TotalValueLockedUSD = pool.TotalValueLockedNative * bundle.NativePriceUSD

	factory.TotalValueLockedNative += pool.TotalValueLockedNative
	factory.TotalValueLockedUSD = factory.TotalValueLockedNative * bundle.NativePriceUSD

	mint := &entity.Mint{
		ID:            transaction.ID + "#" + strconv.FormatUint(pool.TxCount, 10),
		TransactionID: transaction.ID,
		Timestamp:     transaction.Timestamp,
		PoolID:        pool.ID,
		Token0ID:      pool.Token0ID,
		Token1ID:      pool.Token1ID,
		Owner:         strings.ToLower(parsed.AddressArg("owner").Hex()),
		Sender:        strings.ToLower(parsed.AddressArg("sender").Hex()),
		Origin:        strings.ToLower(event.TxFrom),
		Amount:        amount,
		Amount0:       amount0,
		Amount1:       amount1,
		AmountUSD:     amountUSD,
		TickLower:     tickLower,
		TickUpper:     tickUpper,
		LogIndex:      parsed.LogIndex,
	}

	lowerTick, err := m.getOrCreateTick(ctx, pool, tickLower, event)
	if err != nil {
		return err
	}
	upperTick, err := m.getOrCreateTick(ctx, pool, tickUpper, event)
	if err != nil {
		return err
	}

	lowerTick.LiquidityGross = new(big.Int).Add(lowerTick.LiquidityGross, amount)
	lowerTick.LiquidityNet = new(big.Int).Add(lowerTick.LiquidityNet, amount)
	upperTick.LiquidityGross = new(big.Int).Add(upperTick.LiquidityGross, amount)
	upperTick.LiquidityNet = new(big.Int).Sub(upperTick.LiquidityNet, amount)

	if err := m.updateIntervals(ctx, factory, pool, token0, token1, event.Timestamp); err != nil {
		return err
	}
	if err := m.refreshTickFees(ctx, lowerTick, event.Timestamp); err != nil {
		return err
	}
	if err := m.refreshTickFees(ctx, upperTick, event.Timestamp); err != nil {
		return err
	}

	return m.saveAll(ctx,
		func() error { return m.store.SaveToken(ctx, token0) },
		func() error { return m.store.SaveToken(ctx, token1) },
		func() error { return m.store.SavePool(ctx, pool) },
		func() error { return m.store.SaveFactory(ctx, factory) },
		func() error { return m.store.SaveMint(ctx, mint) },
	)
}

// handleBurn is the inverse of handleMint. The boundary ticks must already
// exist, a burn can only remove previously minted liquidity.
func (m *Module) handleBurn(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("pool %s does not exist", poolID)
	}

	bundle, err := m.requireBundle(ctx)
	if err != nil {
		return err
	}
	factory, err := m.requireFactory(ctx)
	if err != nil {
		return err
	}
	token0, token1, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}
	transaction, err := m.loadTransaction(ctx, event)
	if err != nil {
		return err
	}

	amount := parsed.BigArg("amount")
	if amount == nil || parsed.BigArg("tickLower") == nil || parsed.BigArg("tickUpper") == nil {
		return fmt.Errorf("Burn event missing arguments in tx %s", event.TxHash)
	}
	amount0 := numeric.ConvertTokenToDecimal(parsed.BigArg("amount0"), token0.Decimals)
	amount1 := numeric.ConvertTokenToDecimal(parsed.BigArg("amount1"), token1.Decimals)

	amountUSD := amount0*token0.DerivedNative*bundle.NativePriceUSD +
		amount1*token1.DerivedNative*bundle.NativePriceUSD

	// reset tvl aggregates until new amounts calculated
	factory.TotalValueLockedNative -= pool.TotalValueLockedNative
	factory.TxCount++

	token0.TxCount++
	token0.TotalValueLocked -= amount0
	token0.TotalValueLockedUSD = token0.TotalValueLocked * token0.DerivedNative * bundle.NativePriceUSD

	token1.TxCount++
	token1.TotalValueLocked -= amount1
	token1.TotalValueLockedUSD = token1.TotalValueLocked * token1.DerivedNative * bundle.NativePriceUSD

	pool.TxCount++

	tickLower := parsed.BigArg("tickLower").Int64()
	tickUpper := parsed.BigArg("tickUpper").Int64()
	if pool.Tick != nil && tickLower <= *pool.Tick && tickUpper > *pool.Tick {
		pool.Liquidity = new(big.Int).Sub(pool.Liquidity, amount)
	}

	pool.TotalValueLockedToken0 -= amount0
	pool.TotalValueLockedToken1 -= amount1
	pool.TotalValueLockedNative = pool.TotalValueLockedToken0*token0.DerivedNative +
		pool.TotalValueLockedToken1*token1.DerivedNative
	pool.TotalValueLockedUSD = pool.TotalValueLockedNative * bundle.NativePriceUSD

	factory.TotalValueLockedNative += pool.TotalValueLockedNative
	factory.TotalValueLockedUSD = factory.TotalValueLockedNative * bundle.NativePriceUSD

	burn := &entity.Burn{
		ID:            transaction.ID + "#" + strconv.FormatUint(pool.TxCount, 10),
		TransactionID: transaction.ID,
		Timestamp:     transaction.Timestamp,
		PoolID:        pool.ID,
		Token0ID:      pool.Token0ID,
		Token1ID:      pool.Token1ID,
		Owner:         strings.ToLower(parsed.AddressArg("owner").Hex()),
		Origin:        strings.ToLower(event.TxFrom),
		Amount:        amount,
		Amount0:       amount0,
		Amount1:       amount1,
		AmountUSD:     amountUSD,
		TickLower:     tickLower,
		TickUpper:     tickUpper,
		LogIndex:      parsed.LogIndex,
	}

	lowerTick, err := m.store.Tick(ctx, entity.TickID(pool.ID, tickLower))
	if err != nil {
		return fmt.Errorf("failed to load lower tick: %w", err)
	}
	upperTick, err := m.store.Tick(ctx, entity.TickID(pool.ID, tickUpper))
	if err != nil {
		return fmt.Errorf("failed to load upper tick: %w", err)
	}
	if lowerTick == nil || upperTick == nil {
		return fmt.Errorf("burn on pool %s references missing ticks [%d, %d]", pool.ID, tickLower, tickUpper)
	}

	lowerTick.LiquidityGross = new(big.Int).Sub(lowerTick.LiquidityGross, amount)
	lowerTick.LiquidityNet = new(big.Int).Sub(lowerTick.LiquidityNet, amount)
	upperTick.LiquidityGross = new(big.Int).Sub(upperTick.LiquidityGross, amount)
	upperTick.LiquidityNet = new(big.Int).Add(upperTick.LiquidityNet, amount)

	if err := m.updateIntervals(ctx, factory, pool, token0, token1, event.Timestamp); err != nil {
		return err
	}
	if err := m.refreshTickFees(ctx, lowerTick, event.Timestamp); err != nil {
		return err
	}
	if err := m.refreshTickFees(ctx, upperTick, event.Timestamp); err != nil {
		return err
	}

	return m.saveAll(ctx,
		func() error { return m.store.SaveToken(ctx, token0) },
		func() error { return m.store.SaveToken(ctx, token1) },
		func() error { return m.store.SavePool(ctx, pool) },
		func() error { return m.store.SaveFactory(ctx, factory) },
		func() error { return m.store.SaveBurn(ctx, burn) },
	)
}

// handleSwap is the hot path: rolling volume and fee sums, TVL, price
// refreshes, the rollup buckets, and the fee-growth state of crossed ticks.
func (m *Module) handleSwap(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("pool %s does not exist", poolID)
	}
	if pool.ID == mispricedPool {
		return nil
	}

	bundle, err := m.requireBundle(ctx)
	if err != nil {
		return err
	}
	factory, err := m.requireFactory(ctx)
	if err != nil {
		return err
	}
	token0, token1, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}
	transaction, err := m.loadTransaction(ctx, event)
	if err != nil {
		return err
	}

	nativePrice, err := m.pricing.NativePriceUSD(ctx)
	if err != nil {
		return err
	}
	feeGrowthGlobal0, feeGrowthGlobal1, err := m.chain.FeeGrowthGlobals(ctx, parsed.Address)
	if err != nil {
		return err
	}

	if parsed.BigArg("liquidity") == nil || parsed.BigArg("tick") == nil || parsed.BigArg("sqrtPriceX96") == nil {
		return fmt.Errorf("Swap event missing arguments in tx %s", event.TxHash)
	}

	var oldTick *int64
	if pool.Tick != nil {
		v := *pool.Tick
		oldTick = &v
	}

	// signed token deltas
	amount0 := numeric.ConvertTokenToDecimal(parsed.BigArg("amount0"), token0.Decimals)
	amount1 := numeric.ConvertTokenToDecimal(parsed.BigArg("amount1"), token1.Decimals)

	amount0Abs := amount0
	if amount0Abs < 0 {
		amount0Abs = -amount0Abs
	}
	amount1Abs := amount1
	if amount1Abs < 0 {
		amount1Abs = -amount1Abs
	}

	amount0USD := amount0Abs * token0.DerivedNative * bundle.NativePriceUSD
	amount1USD := amount1Abs * token1.DerivedNative * bundle.NativePriceUSD

	// halved since one swap has an inflow and an outflow leg of the same
	// economic volume
	tracked, err := m.pricing.TrackedAmountUSD(ctx, amount0Abs, token0, amount1Abs, token1)
	if err != nil {
		return err
	}
	amountTotalUSDTracked := tracked / 2
	amountTotalNativeTracked := numeric.SafeDiv(amountTotalUSDTracked, bundle.NativePriceUSD)
	amountTotalUSDUntracked := (amount0USD + amount1USD) / 2

	feesNative := amountTotalNativeTracked * float64(pool.FeeTier) / 1000000
	feesUSD := amountTotalUSDTracked * float64(pool.FeeTier) / 1000000

	factory.TxCount++
	factory.TotalVolumeNative += amountTotalNativeTracked
	factory.TotalVolumeUSD += amountTotalUSDTracked
	factory.UntrackedVolumeUSD += amountTotalUSDUntracked
	factory.TotalFeesNative += feesNative
	factory.TotalFeesUSD += feesUSD

	// reset aggregate tvl before individual pool tvl updates
	factory.TotalValueLockedNative -= pool.TotalValueLockedNative

	pool.VolumeToken0 += amount0Abs
	pool.VolumeToken1 += amount1Abs
	pool.VolumeUSD += amountTotalUSDTracked
	pool.UntrackedVolumeUSD += amountTotalUSDUntracked
	pool.FeesUSD += feesUSD
	pool.TxCount++

	pool.Liquidity = parsed.BigArg("liquidity")
	newTick := parsed.BigArg("tick").Int64()
	pool.Tick = &newTick
	pool.SqrtPrice = parsed.BigArg("sqrtPriceX96")
	pool.TotalValueLockedToken0 += amount0
	pool.TotalValueLockedToken1 += amount1

	token0.Volume += amount0Abs
	token0.TotalValueLocked += amount0
	token0.VolumeUSD += amountTotalUSDTracked
	token0.UntrackedVolumeUSD += amountTotalUSDUntracked
	token0.FeesUSD += feesUSD
	token0.TxCount++

	token1.Volume += amount1Abs
	token1.TotalValueLocked += amount1
	token1.VolumeUSD += amountTotalUSDTracked
	token1.UntrackedVolumeUSD += amountTotalUSDUntracked
	token1.FeesUSD += feesUSD
	token1.TxCount++

	pool.Token0Price, pool.Token1Price = numeric.SqrtPriceX96ToTokenPrices(pool.SqrtPrice, token0.Decimals, token1.Decimals)

	bundle.NativePriceUSD = nativePrice

	if token0.DerivedNative, err = m.pricing.NativePerToken(ctx, token0); err != nil {
		return err
	}
	if token1.DerivedNative, err = m.pricing.NativePerToken(ctx, token1); err != nil {
		return err
	}

	// everything affected by the new USD rates
	pool.TotalValueLockedNative = pool.TotalValueLockedToken0*token0.DerivedNative +
		pool.TotalValueLockedToken1*token1.DerivedNative
	pool.TotalValueLockedUSD = pool.TotalValueLockedNative * bundle.NativePriceUSD

	factory.TotalValueLockedNative += pool.TotalValueLockedNative
	factory.TotalValueLockedUSD = factory.TotalValueLockedNative * bundle.NativePriceUSD

	token0.TotalValueLockedUSD = token0.TotalValueLocked * token0.DerivedNative * bundle.NativePriceUSD
	token1.TotalValueLockedUSD = token1.TotalValueLocked * token1.DerivedNative * bundle.NativePriceUSD

	swap := &entity.Swap{
		ID:            transaction.ID + "#" + strconv.FormatUint(pool.TxCount, 10),
		TransactionID: transaction.ID,
		Timestamp:     transaction.Timestamp,
		PoolID:        pool.ID,
		Token0ID:      pool.Token0ID,
		Token1ID:      pool.Token1ID,
		Sender:        strings.ToLower(parsed.AddressArg("sender").Hex()),
		Recipient:     strings.ToLower(parsed.AddressArg("recipient").Hex()),
		Origin:        strings.ToLower(event.TxFrom),
		Amount0:       amount0,
		Amount1:       amount1,
		AmountUSD:     amountTotalUSDTracked,
		Tick:          newTick,
		SqrtPriceX96:  pool.SqrtPrice,
		LogIndex:      parsed.LogIndex,
	}

	pool.FeeGrowthGlobal0X128 = feeGrowthGlobal0
	pool.FeeGrowthGlobal1X128 = feeGrowthGlobal1

	// rollup buckets, then caller-side volume deltas
	factoryDay, err := m.aggregates.UpdateFactoryDay(ctx, factory, event.Timestamp)
	if err != nil {
		return err
	}
	poolBuckets, err := m.aggregates.UpdatePoolIntervals(ctx, pool, event.Timestamp)
	if err != nil {
		return err
	}
	token0Buckets, err := m.aggregates.UpdateTokenIntervals(ctx, token0, event.Timestamp)
	if err != nil {
		return err
	}
	token1Buckets, err := m.aggregates.UpdateTokenIntervals(ctx, token1, event.Timestamp)
	if err != nil {
		return err
	}

	factoryDay.VolumeNative += amountTotalNativeTracked
	factoryDay.VolumeUSD += amountTotalUSDTracked
	factoryDay.FeesUSD += feesUSD
	if err := m.store.SaveFactoryDayData(ctx, factoryDay); err != nil {
		return err
	}

	for _, bucket := range poolBuckets {
		bucket.VolumeUSD += amountTotalUSDTracked
		bucket.VolumeToken0 += amount0Abs
		bucket.VolumeToken1 += amount1Abs
		bucket.FeesUSD += feesUSD
		if err := m.store.SavePoolInterval(ctx, bucket); err != nil {
			return err
		}
	}
	for _, bucket := range token0Buckets {
		bucket.Volume += amount0Abs
		bucket.VolumeUSD += amountTotalUSDTracked
		bucket.UntrackedVolumeUSD += amountTotalUSDTracked
		bucket.FeesUSD += feesUSD
		if err := m.store.SaveTokenInterval(ctx, bucket); err != nil {
			return err
		}
	}
	for _, bucket := range token1Buckets {
		bucket.Volume += amount1Abs
		bucket.VolumeUSD += amountTotalUSDTracked
		bucket.UntrackedVolumeUSD += amountTotalUSDTracked
		bucket.FeesUSD += feesUSD
		if err := m.store.SaveTokenInterval(ctx, bucket); err != nil {
			return err
		}
	}

	if err := m.saveAll(ctx,
		func() error { return m.store.SaveBundle(ctx, bundle) },
		func() error { return m.store.SaveSwap(ctx, swap) },
		func() error { return m.store.SaveFactory(ctx, factory) },
		func() error { return m.store.SavePool(ctx, pool) },
		func() error { return m.store.SaveToken(ctx, token0) },
		func() error { return m.store.SaveToken(ctx, token1) },
	); err != nil {
		return err
	}

	if m.publisher != nil {
		if err := m.publisher.PublishSwap(ctx, pool, swap); err != nil {
			m.logger.Warn().Err(err).Str("pool", pool.ID).Msg("failed to publish swap")
		}
	}

	if oldTick == nil {
		m.logger.Warn().Str("pool", pool.ID).Msg("swap before initialize, skipping tick sweep")
		return nil
	}
	return m.sweepCrossedTicks(ctx, pool, *oldTick, newTick, event.Timestamp)
}

// sweepCrossedTicks refreshes the fee-growth-outside snapshots of every
// initialized tick between the old and new tick, stepping by the fee tier's
// tick spacing. Sweeps crossing more than maxTickCrossings ticks are
// abandoned, the ticks get refreshed by later events.
func (m *Module) sweepCrossedTicks(ctx context.Context, pool *entity.Pool, oldTick, newTick int64, timestamp int64) error {
	tickSpacing, err := feeTierToTickSpacing(pool.FeeTier)
	if err != nil {
		return err
	}

	modulo := newTick % tickSpacing
	if modulo == 0 {
		// the current tick is itself initialized
		if err := m.refreshTickAt(ctx, pool.ID, newTick, timestamp); err != nil {
			return err
		}
	}

	numIters := (oldTick - newTick) / tickSpacing
	if numIters < 0 {
		numIters = -numIters
	}
	if numIters > maxTickCrossings {
		return nil
	}

	if newTick > oldTick {
		for i := oldTick + tickSpacing + modulo; i <= newTick; i += tickSpacing {
			if err := m.refreshTickAt(ctx, pool.ID, i, timestamp); err != nil {
				return err
			}
		}
	} else if newTick < oldTick {
		for i := oldTick - modulo; i >= newTick; i -= tickSpacing {
			if err := m.refreshTickAt(ctx, pool.ID, i, timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleFlash only refreshes the pool's fee-growth accumulators; a flash
// loan moves no net liquidity.
func (m *Module) handleFlash(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("pool %s does not exist", poolID)
	}

	feeGrowthGlobal0, feeGrowthGlobal1, err := m.chain.FeeGrowthGlobals(ctx, parsed.Address)
	if err != nil {
		return err
	}
	pool.FeeGrowthGlobal0X128 = feeGrowthGlobal0
	pool.FeeGrowthGlobal1X128 = feeGrowthGlobal1
	return m.store.SavePool(ctx, pool)
}

func (m *Module) getOrCreateTick(ctx context.Context, pool *entity.Pool, tickIdx int64, event *core.EventContext) (*entity.Tick, error) {
	id := entity.TickID(pool.ID, tickIdx)
	tick, err := m.store.Tick(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tick %s: %w", id, err)
	}
	if tick == nil {
		tick = &entity.Tick{
			ID:                    id,
			PoolID:                pool.ID,
			TickIdx:               tickIdx,
			LiquidityGross:        big.NewInt(0),
			LiquidityNet:          big.NewInt(0),
			FeeGrowthOutside0X128: big.NewInt(0),
			FeeGrowthOutside1X128: big.NewInt(0),
			CreatedAtTimestamp:    event.Timestamp,
			CreatedAtBlock:        event.BlockNumber,
		}
	}
	return tick, nil
}

// refreshTickFees re-reads a tick's fee-growth-outside snapshots from the
// chain, saves it and rolls its daily row forward.
func (m *Module) refreshTickFees(ctx context.Context, tick *entity.Tick, timestamp int64) error {
	fg0, fg1, err := m.chain.TickFeeGrowthOutside(ctx, common.HexToAddress(tick.PoolID), tick.TickIdx)
	if err != nil {
		return err
	}
	tick.FeeGrowthOutside0X128 = fg0
	tick.FeeGrowthOutside1X128 = fg1
	if err := m.store.SaveTick(ctx, tick); err != nil {
		return fmt.Errorf("failed to save tick %s: %w", tick.ID, err)
	}
	_, err = m.aggregates.UpdateTickDay(ctx, tick, timestamp)
	return err
}

// refreshTickAt refreshes the tick at the given index if it exists. Not all
// swept indices have tick rows; absence is expected.
func (m *Module) refreshTickAt(ctx context.Context, poolID string, tickIdx int64, timestamp int64) error {
	tick, err := m.store.Tick(ctx, entity.TickID(poolID, tickIdx))
	if err != nil {
		return err
	}
	if tick == nil {
		return nil
	}
	return m.refreshTickFees(ctx, tick, timestamp)
}

// updateIntervals rolls the factory day, pool, and token buckets forward
// without volume deltas. Mint and burn move no volume.
func (m *Module) updateIntervals(ctx context.Context, factory *entity.Factory, pool *entity.Pool, token0, token1 *entity.Token, timestamp int64) error {
	if _, err := m.aggregates.UpdateFactoryDay(ctx, factory, timestamp); err != nil {
		return err
	}
	if _, err := m.aggregates.UpdatePoolIntervals(ctx, pool, timestamp); err != nil {
		return err
	}
	if _, err := m.aggregates.UpdateTokenIntervals(ctx, token0, timestamp); err != nil {
		return err
	}
	if _, err := m.aggregates.UpdateTokenIntervals(ctx, token1, timestamp); err != nil {
		return err
	}
	return nil
}

func (m *Module) poolTokens(ctx context.Context, pool *entity.Pool) (*entity.Token, *entity.Token, error) {
	token0, err := m.store.Token(ctx, pool.Token0ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token %s: %w", pool.Token0ID, err)
	}
	token1, err := m.store.Token(ctx, pool.Token1ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token %s: %w", pool.Token1ID, err)
	}
	if token0 == nil || token1 == nil {
		return nil, nil, fmt.Errorf("pool %s references missing tokens", pool.ID)
	}
	return token0, token1, nil
}

func (m *Module) requireBundle(ctx context.Context) (*entity.Bundle, error) {
	bundle, err := m.store.Bundle(ctx, entity.BundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle: %w", err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("bundle %q does not exist", entity.BundleID)
	}
	return bundle, nil
}

func (m *Module) requireFactory(ctx context.Context) (*entity.Factory, error) {
	factory, err := m.store.Factory(ctx, m.factoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load factory: %w", err)
	}
	if factory == nil {
		return nil, fmt.Errorf("factory %s does not exist", m.factoryID)
	}
	return factory, nil
}

func (m *Module) saveAll(_ context.Context, saves ...func() error) error {
	for _, save := range saves {
		if err := save(); err != nil {
			return err
		}
	}
	return nil
}

// feeTierToTickSpacing maps a pool's fee tier to its fixed tick spacing.
func feeTierToTickSpacing(feeTier int64) (int64, error) {
	switch feeTier {
	case 10000:
		return 200, nil
	case 3000:
		return 60, nil
	case 500:
		return 10, nil
	case 100:
		return 1, nil
	default:
		return 0, fmt.Errorf("unexpected fee tier %d", feeTier)
	}
}
