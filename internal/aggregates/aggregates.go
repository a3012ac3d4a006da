// Package aggregates maintains the day/hour/minute rollup rows. The
// updaters get-or-create the bucket for an event's timestamp, widen OHLC
// bounds and refresh the snapshot fields; volume and fee deltas are added by
// the calling handler afterwards, since only the handler knows them.
package aggregates

import (
	"context"
	"fmt"
	"math/big"

	"github.com/klaytn/dex-indexer-example/internal/entity"
)

// PoolPeriods are the bucket widths maintained per pool and per token.
var PoolPeriods = []entity.Period{entity.PeriodDay, entity.PeriodHour, entity.PeriodMinute}

type Updater struct {
	store entity.Store
}

func NewUpdater(store entity.Store) *Updater {
	return &Updater{store: store}
}

// UpdateFactoryDay rolls the protocol-wide daily row forward. TVL and tx
// count are snapshots of the factory's life-to-date totals, so callers
// derive per-day deltas by differencing consecutive rows.
func (u *Updater) UpdateFactoryDay(ctx context.Context, factory *entity.Factory, timestamp int64) (*entity.FactoryDayData, error) {
	id := entity.BucketID(factory.ID, entity.PeriodDay, timestamp)
	day, err := u.store.FactoryDayData(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load factory day %s: %w", id, err)
	}
	if day == nil {
		day = &entity.FactoryDayData{
			ID:   id,
			Date: entity.PeriodDay.BucketStart(timestamp),
		}
	}
	day.TVLUSD = factory.TotalValueLockedUSD
	day.TxCount = factory.TxCount

	if err := u.store.SaveFactoryDayData(ctx, day); err != nil {
		return nil, fmt.Errorf("failed to save factory day %s: %w", id, err)
	}
	return day, nil
}

// UpdatePoolInterval rolls one pool bucket forward. OHLC tracks token0's
// price; everything else mirrors the pool's latest state.
func (u *Updater) UpdatePoolInterval(ctx context.Context, pool *entity.Pool, period entity.Period, timestamp int64) (*entity.PoolIntervalData, error) {
	id := entity.BucketID(pool.ID, period, timestamp)
	bucket, err := u.store.PoolInterval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool bucket %s: %w", id, err)
	}
	if bucket == nil {
		bucket = &entity.PoolIntervalData{
			ID:          id,
			Period:      period,
			PeriodStart: period.BucketStart(timestamp),
			PoolID:      pool.ID,
			Open:        pool.Token0Price,
			High:        pool.Token0Price,
			Low:         pool.Token0Price,
			Close:       pool.Token0Price,
		}
	}

	if pool.Token0Price > bucket.High {
		bucket.High = pool.Token0Price
	}
	if pool.Token0Price < bucket.Low {
		bucket.Low = pool.Token0Price
	}
	bucket.Close = pool.Token0Price

	bucket.Liquidity = pool.Liquidity
	bucket.SqrtPrice = pool.SqrtPrice
	bucket.Token0Price = pool.Token0Price
	bucket.Token1Price = pool.Token1Price
	if pool.Tick != nil {
		bucket.Tick = *pool.Tick
	}
	bucket.FeeGrowthGlobal0X128 = pool.FeeGrowthGlobal0X128
	bucket.FeeGrowthGlobal1X128 = pool.FeeGrowthGlobal1X128
	bucket.TVLUSD = pool.TotalValueLockedUSD
	bucket.TxCount++

	if err := u.store.SavePoolInterval(ctx, bucket); err != nil {
		return nil, fmt.Errorf("failed to save pool bucket %s: %w", id, err)
	}
	return bucket, nil
}

// UpdatePoolIntervals updates all three pool buckets, returned in
// day/hour/minute order.
func (u *Updater) UpdatePoolIntervals(ctx context.Context, pool *entity.Pool, timestamp int64) ([]*entity.PoolIntervalData, error) {
	buckets := make([]*entity.PoolIntervalData, 0, len(PoolPeriods))
	for _, period := range PoolPeriods {
		bucket, err := u.UpdatePoolInterval(ctx, pool, period, timestamp)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// UpdateTokenInterval rolls one token bucket forward. OHLC tracks the
// token's USD price derived through the bundle.
func (u *Updater) UpdateTokenInterval(ctx context.Context, token *entity.Token, period entity.Period, timestamp int64) (*entity.TokenIntervalData, error) {
	bundle, err := u.store.Bundle(ctx, entity.BundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle: %w", err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("bundle %q does not exist", entity.BundleID)
	}
	tokenPrice := token.DerivedNative * bundle.NativePriceUSD

	id := entity.BucketID(token.ID, period, timestamp)
	bucket, err := u.store.TokenInterval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load token bucket %s: %w", id, err)
	}
	if bucket == nil {
		bucket = &entity.TokenIntervalData{
			ID:          id,
			Period:      period,
			PeriodStart: period.BucketStart(timestamp),
			TokenID:     token.ID,
			Open:        tokenPrice,
			High:        tokenPrice,
			Low:         tokenPrice,
			Close:       tokenPrice,
		}
	}

	if tokenPrice > bucket.High {
		bucket.High = tokenPrice
	}
	if tokenPrice < bucket.Low {
		bucket.Low = tokenPrice
	}
	bucket.Close = tokenPrice
	bucket.PriceUSD = tokenPrice
	bucket.TotalValueLocked = token.TotalValueLocked
	bucket.TotalValueLockedUSD = token.TotalValueLockedUSD
	bucket.TxCount++

	if err := u.store.SaveTokenInterval(ctx, bucket); err != nil {
		return nil, fmt.Errorf("failed to save token bucket %s: %w", id, err)
	}
	return bucket, nil
}

// UpdateTokenIntervals updates all three token buckets, returned in
// day/hour/minute order.
func (u *Updater) UpdateTokenIntervals(ctx context.Context, token *entity.Token, timestamp int64) ([]*entity.TokenIntervalData, error) {
	buckets := make([]*entity.TokenIntervalData, 0, len(PoolPeriods))
	for _, period := range PoolPeriods {
		bucket, err := u.UpdateTokenInterval(ctx, token, period, timestamp)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// UpdateTickDay snapshots a tick's liquidity and fee-growth state into its
// daily row. Pure snapshot, no OHLC.
func (u *Updater) UpdateTickDay(ctx context.Context, tick *entity.Tick, timestamp int64) (*entity.TickDayData, error) {
	id := entity.BucketID(tick.ID, entity.PeriodDay, timestamp)
	day, err := u.store.TickDayData(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tick day %s: %w", id, err)
	}
	if day == nil {
		day = &entity.TickDayData{
			ID:     id,
			Date:   entity.PeriodDay.BucketStart(timestamp),
			PoolID: tick.PoolID,
			TickID: tick.ID,
		}
	}
	day.LiquidityGross = cloneBig(tick.LiquidityGross)
	day.LiquidityNet = cloneBig(tick.LiquidityNet)
	day.FeeGrowthOutside0X128 = cloneBig(tick.FeeGrowthOutside0X128)
	day.FeeGrowthOutside1X128 = cloneBig(tick.FeeGrowthOutside1X128)

	if err := u.store.SaveTickDayData(ctx, day); err != nil {
		return nil, fmt.Errorf("failed to save tick day %s: %w", id, err)
	}
	return day, nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
