package dexv2

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
	"github.com/klaytn/dex-indexer-example/internal/tokens"
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

// handleCreatePool creates the pool entity for a factory event at or after
// the configured start block.
func (m *Module) handleCreatePool(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	if event.BlockNumber < m.config.StartBlock {
		return nil
	}

	poolAddr := parsed.AddressArg("pool")
	tokenA := parsed.AddressArg("tokenA")
	tokenB := parsed.AddressArg("tokenB")

	pool, err := m.createPool(ctx, poolAddr, tokenA, tokenB, event.BlockNumber, event.Timestamp, event.Backfill)
	if err != nil {
		return err
	}
	if pool == nil {
		m.logger.Debug().Str("pool", strings.ToLower(poolAddr.Hex())).Msg("skipped v2 pool creation")
	}
	return nil
}

// createPool is shared by the CreatePool handler and the one-time factory
// walk. The current reserves are read up front; during backfill a pool whose
// first reserve is still empty gets skipped and picked up on its next event.
// Returns the pool, or nil when creation was skipped.
func (m *Module) createPool(ctx context.Context, poolAddr, tokenAAddr, tokenBAddr common.Address, blockNumber uint64, timestamp int64, backfill bool) (*entity.V2Pool, error) {
	poolID := strings.ToLower(poolAddr.Hex())

	existing, err := m.store.V2Pool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to load v2 pool %s: %w", poolID, err)
	}
	if existing != nil {
		return existing, nil
	}

	reserveA, reserveB, err := m.chain.CurrentPool(ctx, poolAddr)
	if err != nil {
		return nil, fmt.Errorf("reserve read failed for v2 pool %s: %w", poolID, err)
	}
	if backfill && reserveA.Sign() <= 0 {
		return nil, nil
	}

	tokenA, err := m.tokens.ResolveOrCreate(ctx, tokenAAddr.Hex())
	if err != nil {
		return nil, err
	}
	tokenB, err := m.tokens.ResolveOrCreate(ctx, tokenBAddr.Hex())
	if err != nil {
		return nil, err
	}
	if tokenA == nil || tokenB == nil {
		m.logger.Warn().Str("pool", poolID).Msg("token unavailable, v2 pool not created")
		return nil, nil
	}

	pool := &entity.V2Pool{
		ID:         poolID,
		Symbol:     tokenA.Symbol + "-" + tokenB.Symbol,
		TokenAID:   tokenA.ID,
		TokenBID:   tokenB.ID,
		LiquidityA: reserveA,
		LiquidityB: reserveB,
	}

	tokenA.PoolCount++
	tokenB.PoolCount++

	// A reference token on either side makes the pool usable for pricing
	// the counter token.
	if pricing.IsWhitelisted(tokenA.ID) {
		wl := &entity.WhitelistPool{
			ID:      entity.WhitelistPoolID(poolID, tokenB.ID),
			TokenID: tokenB.ID,
			PoolID:  poolID,
		}
		if err := m.store.SaveWhitelistPool(ctx, wl); err != nil {
			return nil, fmt.Errorf("failed to save whitelist row for %s: %w", tokenB.ID, err)
		}
	}
	if pricing.IsWhitelisted(tokenB.ID) {
		wl := &entity.WhitelistPool{
			ID:      entity.WhitelistPoolID(poolID, tokenA.ID),
			TokenID: tokenA.ID,
			PoolID:  poolID,
		}
		if err := m.store.SaveWhitelistPool(ctx, wl); err != nil {
			return nil, fmt.Errorf("failed to save whitelist row for %s: %w", tokenA.ID, err)
		}
	}

	factory, err := m.store.V2Factory(ctx, m.factoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load v2 factory: %w", err)
	}
	if factory == nil {
		return nil, fmt.Errorf("v2 factory %s does not exist", m.factoryID)
	}
	factory.PoolCount++

	if m.watcher != nil {
		if err := m.watcher.WatchAddress(m.Name(), poolID); err != nil {
			return nil, fmt.Errorf("failed to watch v2 pool %s: %w", poolID, err)
		}
	}

	if err := m.store.SaveToken(ctx, tokenA); err != nil {
		return nil, fmt.Errorf("failed to save token %s: %w", tokenA.ID, err)
	}
	if err := m.store.SaveToken(ctx, tokenB); err != nil {
		return nil, fmt.Errorf("failed to save token %s: %w", tokenB.ID, err)
	}
	if err := m.store.SaveV2Pool(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to save v2 pool %s: %w", poolID, err)
	}
	if err := m.store.SaveV2Factory(ctx, factory); err != nil {
		return nil, fmt.Errorf("failed to save v2 factory: %w", err)
	}

	m.logger.Info().
		Str("pool", poolID).
		Str("symbol", pool.Symbol).
		Msg("created v2 pool")
	return pool, nil
}

// handleExchange covers both exchange directions; the contract emits the
// same argument layout for ExchangePos and ExchangeNeg. The event's tokenA
// is the sold token and does not have to be the pool's stored token A, so
// every update is matched against the stored ordering first.
func (m *Module) handleExchange(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.V2Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load v2 pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("v2 pool %s does not exist", poolID)
	}

	bundle, err := m.requireBundle(ctx)
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
	tokenA, tokenB, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}

	rawAmountA := parsed.BigArg("amountA")
	rawAmountB := parsed.BigArg("amountB")
	if rawAmountA == nil || rawAmountB == nil {
		return fmt.Errorf("Exchange event missing arguments in tx %s", event.TxHash)
	}
	eventTokenA := tokens.Normalize(parsed.AddressArg("tokenA").Hex())

	// The decimal conversion has to follow the event's ordering, not the
	// pool's: when the sold token is the pool's token B, amountA is a
	// token B quantity.
	var amountA, amountB float64
	if tokenA.ID == eventTokenA {
		amountA = numeric.ConvertTokenToDecimal(rawAmountA, tokenA.Decimals)
		amountB = numeric.ConvertTokenToDecimal(rawAmountB, tokenB.Decimals)
	} else {
		amountA = numeric.ConvertTokenToDecimal(rawAmountA, tokenB.Decimals)
		amountB = numeric.ConvertTokenToDecimal(rawAmountB, tokenA.Decimals)
	}

	amountAAbs := amountA
	if amountAAbs < 0 {
		amountAAbs = -amountAAbs
	}
	amountBAbs := amountB
	if amountBAbs < 0 {
		amountBAbs = -amountBAbs
	}

	// halved since one swap has an inflow and an outflow leg of the same
	// economic volume
	tracked, err := m.pricing.TrackedAmountUSD(ctx, amountAAbs, tokenA, amountBAbs, tokenB)
	if err != nil {
		return err
	}
	amountTotalUSDTracked := tracked / 2

	if eventTokenA == pool.TokenAID {
		pool.VolumeTokenA += amountAAbs
		pool.VolumeTokenB += amountBAbs
		pool.VolumeUSD += amountTotalUSDTracked

		pool.LiquidityA = new(big.Int).Add(pool.LiquidityA, rawAmountA)
		pool.LiquidityB = new(big.Int).Sub(pool.LiquidityB, rawAmountB)

		pool.TokenAPrice = amountB / amountA
		pool.TokenBPrice = amountA / amountB

		tokenA.TotalValueLocked += amountA
		tokenB.TotalValueLocked -= amountB
	} else {
		pool.VolumeTokenA += amountBAbs
		pool.VolumeTokenB += amountAAbs
		pool.VolumeUSD += amountTotalUSDTracked

		pool.LiquidityA = new(big.Int).Sub(pool.LiquidityA, rawAmountA)
		pool.LiquidityB = new(big.Int).Add(pool.LiquidityB, rawAmountB)

		pool.TokenAPrice = amountA / amountB
		pool.TokenBPrice = amountB / amountA

		tokenA.TotalValueLocked -= amountA
		tokenB.TotalValueLocked += amountB
	}

	if err := m.repairReserves(ctx, pool); err != nil {
		return err
	}

	tokenA.Volume += amountAAbs
	tokenA.VolumeUSD += amountTotalUSDTracked
	tokenA.TxCount++

	tokenB.Volume += amountBAbs
	tokenB.VolumeUSD += amountTotalUSDTracked
	tokenB.TxCount++

	bundle.NativePriceUSD = nativePrice

	if tokenA.DerivedNative, err = m.pricing.NativePerToken(ctx, tokenA); err != nil {
		return err
	}
	if tokenB.DerivedNative, err = m.pricing.NativePerToken(ctx, tokenB); err != nil {
		return err
	}

	tokenA.TotalValueLockedUSD = tokenA.TotalValueLocked * tokenA.DerivedNative * bundle.NativePriceUSD
	tokenB.TotalValueLockedUSD = tokenB.TotalValueLocked * tokenB.DerivedNative * bundle.NativePriceUSD

	// The swap row keeps the raw base-unit amounts; decimal interpretation
	// depends on event-side ordering the reader no longer has.
	rawA, _ := new(big.Float).SetInt(rawAmountA).Float64()
	rawB, _ := new(big.Float).SetInt(rawAmountB).Float64()
	swap := &entity.Swap{
		ID:            transaction.ID + "#" + strconv.FormatUint(pool.TxCount, 10),
		TransactionID: transaction.ID,
		Timestamp:     transaction.Timestamp,
		PoolID:        pool.ID,
		Token0ID:      pool.TokenAID,
		Token1ID:      pool.TokenBID,
		Origin:        strings.ToLower(event.TxFrom),
		Amount0:       rawA,
		Amount1:       rawB,
		AmountUSD:     amountTotalUSDTracked,
		Tick:          0,
		SqrtPriceX96:  big.NewInt(0),
		LogIndex:      parsed.LogIndex,
	}

	if err := m.applyTokenBucketDeltas(ctx, tokenA, amountAAbs, amountTotalUSDTracked, event.Timestamp); err != nil {
		return err
	}
	if err := m.applyTokenBucketDeltas(ctx, tokenB, amountBAbs, amountTotalUSDTracked, event.Timestamp); err != nil {
		return err
	}

	if err := m.saveAll(ctx,
		func() error { return m.store.SaveBundle(ctx, bundle) },
		func() error { return m.store.SaveSwap(ctx, swap) },
		func() error { return m.store.SaveV2Pool(ctx, pool) },
		func() error { return m.store.SaveToken(ctx, tokenA) },
		func() error { return m.store.SaveToken(ctx, tokenB) },
	); err != nil {
		return err
	}

	if m.publisher != nil {
		if err := m.publisher.PublishV2Swap(ctx, pool, swap); err != nil {
			m.logger.Warn().Err(err).Str("pool", pool.ID).Msg("failed to publish v2 swap")
		}
	}
	return nil
}

// handleAddLiquidity adjusts reserves and token TVL and records a Mint with
// the range fields zeroed; ranges only exist on the concentrated side.
func (m *Module) handleAddLiquidity(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.V2Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load v2 pool %s: %w", poolID, err)
	}
	if pool == nil {
		m.logger.Warn().
			Str("pool", poolID).
			Str("tx", event.TxHash).
			Msg("add liquidity on unknown v2 pool")
		return nil
	}

	bundle, err := m.requireBundle(ctx)
	if err != nil {
		return err
	}
	transaction, err := m.loadTransaction(ctx, event)
	if err != nil {
		return err
	}
	tokenA, tokenB, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}

	rawAmountA := parsed.BigArg("amountA")
	rawAmountB := parsed.BigArg("amountB")
	if rawAmountA == nil || rawAmountB == nil {
		return fmt.Errorf("AddLiquidity event missing arguments in tx %s", event.TxHash)
	}
	amountA := numeric.ConvertTokenToDecimal(rawAmountA, tokenA.Decimals)
	amountB := numeric.ConvertTokenToDecimal(rawAmountB, tokenB.Decimals)

	amountUSD := amountA*(tokenA.DerivedNative*bundle.NativePriceUSD) +
		amountB*(tokenB.DerivedNative*bundle.NativePriceUSD)

	tokenA.TxCount++
	tokenA.TotalValueLocked += amountA
	tokenA.TotalValueLockedUSD = tokenA.TotalValueLocked * tokenA.DerivedNative * bundle.NativePriceUSD

	tokenB.TxCount++
	tokenB.TotalValueLocked += amountB
	tokenB.TotalValueLockedUSD = tokenB.TotalValueLocked * tokenB.DerivedNative * bundle.NativePriceUSD

	pool.TxCount++
	pool.LiquidityA = new(big.Int).Add(pool.LiquidityA, rawAmountA)
	pool.LiquidityB = new(big.Int).Add(pool.LiquidityB, rawAmountB)

	if err := m.repairReserves(ctx, pool); err != nil {
		return err
	}

	user := strings.ToLower(parsed.AddressArg("user").Hex())
	mint := &entity.Mint{
		ID:            transaction.ID + "#" + strconv.FormatUint(pool.TxCount, 10),
		TransactionID: transaction.ID,
		Timestamp:     transaction.Timestamp,
		PoolID:        pool.ID,
		Token0ID:      pool.TokenAID,
		Token1ID:      pool.TokenBID,
		Owner:         user,
		Sender:        user,
		Origin:        strings.ToLower(event.TxFrom),
		Amount:        big.NewInt(0),
		Amount0:       amountA,
		Amount1:       amountB,
		AmountUSD:     amountUSD,
		TickLower:     0,
		TickUpper:     0,
		LogIndex:      parsed.LogIndex,
	}

	if _, err := m.aggregates.UpdateTokenIntervals(ctx, tokenA, event.Timestamp); err != nil {
		return err
	}
	if _, err := m.aggregates.UpdateTokenIntervals(ctx, tokenB, event.Timestamp); err != nil {
		return err
	}

	return m.saveAll(ctx,
		func() error { return m.store.SaveToken(ctx, tokenA) },
		func() error { return m.store.SaveToken(ctx, tokenB) },
		func() error { return m.store.SaveV2Pool(ctx, pool) },
		func() error { return m.store.SaveMint(ctx, mint) },
	)
}

// handleRemoveLiquidity is the inverse of handleAddLiquidity and records a
// Burn.
func (m *Module) handleRemoveLiquidity(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	poolID := strings.ToLower(parsed.Address.Hex())
	pool, err := m.store.V2Pool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to load v2 pool %s: %w", poolID, err)
	}
	if pool == nil {
		return fmt.Errorf("v2 pool %s does not exist", poolID)
	}

	bundle, err := m.requireBundle(ctx)
	if err != nil {
		return err
	}
	transaction, err := m.loadTransaction(ctx, event)
	if err != nil {
		return err
	}
	tokenA, tokenB, err := m.poolTokens(ctx, pool)
	if err != nil {
		return err
	}

	rawAmountA := parsed.BigArg("amountA")
	rawAmountB := parsed.BigArg("amountB")
	if rawAmountA == nil || rawAmountB == nil {
		return fmt.Errorf("RemoveLiquidity event missing arguments in tx %s", event.TxHash)
	}
	amountA := numeric.ConvertTokenToDecimal(rawAmountA, tokenA.Decimals)
	amountB := numeric.ConvertTokenToDecimal(rawAmountB, tokenB.Decimals)

	amountUSD := amountA*tokenA.DerivedNative*bundle.NativePriceUSD +
		amountB*tokenB.DerivedNative*bundle.NativePriceUSD

	tokenA.TxCount++
	tokenA.TotalValueLocked -= amountA
	tokenA.TotalValueLockedUSD = tokenA.TotalValueLocked * tokenA.DerivedNative * bundle.NativePriceUSD

	tokenB.TxCount++
	tokenB.TotalValueLocked -= amountB
	tokenB.TotalValueLockedUSD = tokenB.TotalValueLocked * tokenB.DerivedNative * bundle.NativePriceUSD

	pool.TxCount++
	pool.LiquidityA = new(big.Int).Sub(pool.LiquidityA, rawAmountA)
	pool.LiquidityB = new(big.Int).Sub(pool.LiquidityB, rawAmountB)

	if err := m.repairReserves(ctx, pool); err != nil {
		return err
	}

	burn := &entity.Burn{
		ID:            transaction.ID + "#" + strconv.FormatUint(pool.TxCount, 10),
		TransactionID: transaction.ID,
		Timestamp:     transaction.Timestamp,
		PoolID:        pool.ID,
		Token0ID:      pool.TokenAID,
		Token1ID:      pool.TokenBID,
		Owner:         strings.ToLower(parsed.AddressArg("user").Hex()),
		Origin:        strings.ToLower(event.TxFrom),
		Amount:        big.NewInt(0),
		Amount0:       amountA,
		Amount1:       amountB,
		AmountUSD:     amountUSD,
		TickLower:     0,
		TickUpper:     0,
		LogIndex:      parsed.LogIndex,
	}

	if _, err := m.aggregates.UpdateTokenIntervals(ctx, tokenA, event.Timestamp); err != nil {
		return err
	}
	if _, err := m.aggregates.UpdateTokenIntervals(ctx, tokenB, event.Timestamp); err != nil {
		return err
	}

	return m.saveAll(ctx,
		func() error { return m.store.SaveToken(ctx, tokenA) },
		func() error { return m.store.SaveToken(ctx, tokenB) },
		func() error { return m.store.SaveV2Pool(ctx, pool) },
		func() error { return m.store.SaveBurn(ctx, burn) },
	)
}

// repairReserves re-reads both reserves from the chain when a local
// computation drove either one non-positive. Accumulated ordering drift is
// expected on these pools; the live state is authoritative.
func (m *Module) repairReserves(ctx context.Context, pool *entity.V2Pool) error {
	if pool.LiquidityA.Sign() > 0 && pool.LiquidityB.Sign() > 0 {
		return nil
	}
	reserveA, reserveB, err := m.chain.CurrentPool(ctx, common.HexToAddress(pool.ID))
	if err != nil {
		return fmt.Errorf("reserve repair failed for v2 pool %s: %w", pool.ID, err)
	}
	pool.LiquidityA = reserveA
	pool.LiquidityB = reserveB
	m.logger.Debug().Str("pool", pool.ID).Msg("resynced v2 reserves from chain")
	return nil
}

// applyTokenBucketDeltas rolls the token's buckets forward and adds the
// exchange's volume contribution to each. Pool-level buckets are not kept
// for the constant-product pools.
func (m *Module) applyTokenBucketDeltas(ctx context.Context, token *entity.Token, amountAbs, trackedUSD float64, timestamp int64) error {
	buckets, err := m.aggregates.UpdateTokenIntervals(ctx, token, timestamp)
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		bucket.Volume += amountAbs
		bucket.VolumeUSD += trackedUSD
		bucket.UntrackedVolumeUSD += trackedUSD
		if err := m.store.SaveTokenInterval(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) poolTokens(ctx context.Context, pool *entity.V2Pool) (*entity.Token, *entity.Token, error) {
	tokenA, err := m.store.Token(ctx, pool.TokenAID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token %s: %w", pool.TokenAID, err)
	}
	tokenB, err := m.store.Token(ctx, pool.TokenBID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token %s: %w", pool.TokenBID, err)
	}
	if tokenA == nil || tokenB == nil {
		return nil, nil, fmt.Errorf("v2 pool %s references missing tokens", pool.ID)
	}
	return tokenA, tokenB, nil
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

func (m *Module) saveAll(_ context.Context, saves ...func() error) error {
	for _, save := range saves {
		if err := save(); err != nil {
			return err
		}
	}
	return nil
}
