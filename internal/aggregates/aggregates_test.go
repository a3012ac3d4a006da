package aggregates

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/dex-indexer-example/internal/entity"
)

func setup(t *testing.T) (*Updater, *entity.MemStore) {
	t.Helper()
	store := entity.NewMemStore()
	require.NoError(t, store.SaveBundle(context.Background(), &entity.Bundle{ID: entity.BundleID, NativePriceUSD: 2}))
	return NewUpdater(store), store
}

func TestUpdatePoolIntervalOHLC(t *testing.T) {
	updater, _ := setup(t)
	ctx := context.Background()
	tick := int64(100)
	pool := &entity.Pool{
		ID:                  "0xpool",
		Token0Price:         10,
		Token1Price:         0.1,
		Liquidity:           big.NewInt(500),
		SqrtPrice:           big.NewInt(12345),
		Tick:                &tick,
		TotalValueLockedUSD: 1000,
	}

	// ts 90000 is inside day 1, hour 25, minute 1500
	bucket, err := updater.UpdatePoolInterval(ctx, pool, entity.PeriodDay, 90000)
	require.NoError(t, err)
	assert.Equal(t, "0xpool-day-1", bucket.ID)
	assert.Equal(t, int64(86400), bucket.PeriodStart)
	assert.Equal(t, 10.0, bucket.Open)
	assert.Equal(t, 10.0, bucket.High)
	assert.Equal(t, 10.0, bucket.Low)
	assert.Equal(t, 10.0, bucket.Close)
	assert.Equal(t, uint64(1), bucket.TxCount)
	assert.Equal(t, int64(100), bucket.Tick)

	// price rises within the same bucket
	pool.Token0Price = 15
	bucket, err = updater.UpdatePoolInterval(ctx, pool, entity.PeriodDay, 91000)
	require.NoError(t, err)
	assert.Equal(t, 10.0, bucket.Open)
	assert.Equal(t, 15.0, bucket.High)
	assert.Equal(t, 10.0, bucket.Low)
	assert.Equal(t, 15.0, bucket.Close)
	assert.Equal(t, uint64(2), bucket.TxCount)

	// then dips below the open
	pool.Token0Price = 8
	bucket, err = updater.UpdatePoolInterval(ctx, pool, entity.PeriodDay, 92000)
	require.NoError(t, err)
	assert.Equal(t, 10.0, bucket.Open)
	assert.Equal(t, 15.0, bucket.High)
	assert.Equal(t, 8.0, bucket.Low)
	assert.Equal(t, 8.0, bucket.Close)

	// next day opens a fresh bucket at the current price
	next, err := updater.UpdatePoolInterval(ctx, pool, entity.PeriodDay, 90000+86400)
	require.NoError(t, err)
	assert.Equal(t, "0xpool-day-2", next.ID)
	assert.Equal(t, 8.0, next.Open)
	assert.Equal(t, uint64(1), next.TxCount)
}

func TestUpdatePoolIntervalsAllPeriods(t *testing.T) {
	updater, _ := setup(t)
	pool := &entity.Pool{ID: "0xpool", Token0Price: 3}

	buckets, err := updater.UpdatePoolIntervals(context.Background(), pool, 90000)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "0xpool-day-1", buckets[0].ID)
	assert.Equal(t, "0xpool-hour-25", buckets[1].ID)
	assert.Equal(t, "0xpool-minute-1500", buckets[2].ID)
	assert.Equal(t, entity.PeriodDay, buckets[0].Period)
	assert.Equal(t, entity.PeriodHour, buckets[1].Period)
	assert.Equal(t, entity.PeriodMinute, buckets[2].Period)
}

func TestUpdateTokenIntervalUSDPrice(t *testing.T) {
	updater, _ := setup(t)
	ctx := context.Background()
	token := &entity.Token{ID: "0xtoken", DerivedNative: 5, TotalValueLocked: 42, TotalValueLockedUSD: 420}

	// bundle rate 2 -> USD price 10
	bucket, err := updater.UpdateTokenInterval(ctx, token, entity.PeriodHour, 7200)
	require.NoError(t, err)
	assert.Equal(t, "0xtoken-hour-2", bucket.ID)
	assert.Equal(t, 10.0, bucket.Open)
	assert.Equal(t, 10.0, bucket.PriceUSD)
	assert.Equal(t, 42.0, bucket.TotalValueLocked)

	token.DerivedNative = 4
	bucket, err = updater.UpdateTokenInterval(ctx, token, entity.PeriodHour, 7300)
	require.NoError(t, err)
	assert.Equal(t, 10.0, bucket.Open)
	assert.Equal(t, 10.0, bucket.High)
	assert.Equal(t, 8.0, bucket.Low)
	assert.Equal(t, 8.0, bucket.Close)
	assert.Equal(t, uint64(2), bucket.TxCount)
}

func TestUpdateTokenIntervalMissingBundle(t *testing.T) {
	updater := NewUpdater(entity.NewMemStore())

	_, err := updater.UpdateTokenInterval(context.Background(), &entity.Token{ID: "0xtoken"}, entity.PeriodDay, 0)
	assert.Error(t, err)
}

func TestUpdateFactoryDaySnapshots(t *testing.T) {
	updater, store := setup(t)
	ctx := context.Background()
	factory := &entity.Factory{ID: "0xfactory", TotalValueLockedUSD: 100, TxCount: 7}

	day, err := updater.UpdateFactoryDay(ctx, factory, 90000)
	require.NoError(t, err)
	assert.Equal(t, "0xfactory-day-1", day.ID)
	assert.Equal(t, int64(86400), day.Date)
	assert.Equal(t, 100.0, day.TVLUSD)
	assert.Equal(t, uint64(7), day.TxCount)

	// caller-added volume survives the next snapshot refresh
	day.VolumeUSD = 55
	require.NoError(t, store.SaveFactoryDayData(ctx, day))

	factory.TotalValueLockedUSD = 130
	factory.TxCount = 9
	day, err = updater.UpdateFactoryDay(ctx, factory, 91000)
	require.NoError(t, err)
	assert.Equal(t, 130.0, day.TVLUSD)
	assert.Equal(t, uint64(9), day.TxCount)
	assert.Equal(t, 55.0, day.VolumeUSD)
}

func TestUpdateTickDaySnapshot(t *testing.T) {
	updater, _ := setup(t)
	ctx := context.Background()
	tick := &entity.Tick{
		ID:                    entity.TickID("0xpool", 60),
		PoolID:                "0xpool",
		TickIdx:               60,
		LiquidityGross:        big.NewInt(1000),
		LiquidityNet:          big.NewInt(-200),
		FeeGrowthOutside0X128: big.NewInt(11),
		FeeGrowthOutside1X128: big.NewInt(22),
	}

	day, err := updater.UpdateTickDay(ctx, tick, 90000)
	require.NoError(t, err)
	assert.Equal(t, tick.ID+"-day-1", day.ID)
	assert.Equal(t, "1000", day.LiquidityGross.String())
	assert.Equal(t, "-200", day.LiquidityNet.String())

	tick.LiquidityGross = big.NewInt(3000)
	day, err = updater.UpdateTickDay(ctx, tick, 91000)
	require.NoError(t, err)
	assert.Equal(t, "3000", day.LiquidityGross.String())
	assert.Equal(t, "22", day.FeeGrowthOutside1X128.String())
}
