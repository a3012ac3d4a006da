package entity

import (
	"math/big"
	"strconv"
)

// Period is the width of a time-bucket aggregate.
type Period string

const (
	PeriodDay    Period = "day"
	PeriodHour   Period = "hour"
	PeriodMinute Period = "minute"
)

// Seconds returns the bucket width in seconds.
func (p Period) Seconds() int64 {
	switch p {
	case PeriodDay:
		return 86400
	case PeriodHour:
		return 3600
	case PeriodMinute:
		return 60
	}
	return 86400
}

// BucketIndex returns the bucket ordinal for a unix timestamp.
func (p Period) BucketIndex(timestamp int64) int64 {
	return timestamp / p.Seconds()
}

// BucketStart returns the unix timestamp of the bucket's left edge.
func (p Period) BucketStart(timestamp int64) int64 {
	return p.BucketIndex(timestamp) * p.Seconds()
}

// BucketID builds the composite bucket id for an entity. The period is part
// of the id because all widths share one table.
func BucketID(entityID string, p Period, timestamp int64) string {
	return entityID + "-" + string(p) + "-" + strconv.FormatInt(p.BucketIndex(timestamp), 10)
}

// FactoryDayData is the protocol-wide daily rollup.
type FactoryDayData struct {
	ID   string
	Date int64

	VolumeNative       float64
	VolumeUSD          float64
	VolumeUSDUntracked float64
	FeesUSD            float64
	TVLUSD             float64

	TxCount uint64
}

// PoolIntervalData is the per-pool rollup for one day/hour/minute bucket.
// Open/High/Low/Close track token0's price within the bucket; the remaining
// snapshot fields always mirror the pool's latest state.
type PoolIntervalData struct {
	ID          string
	Period      Period
	PeriodStart int64
	PoolID      string

	Open  float64
	High  float64
	Low   float64
	Close float64

	VolumeToken0 float64
	VolumeToken1 float64
	VolumeUSD    float64
	FeesUSD      float64

	Liquidity   *big.Int
	SqrtPrice   *big.Int
	Token0Price float64
	Token1Price float64
	Tick        int64
	TVLUSD      float64

	FeeGrowthGlobal0X128 *big.Int
	FeeGrowthGlobal1X128 *big.Int

	TxCount uint64
}

// TokenIntervalData is the per-token rollup for one day/hour/minute bucket.
// OHLC tracks the token's USD price.
type TokenIntervalData struct {
	ID          string
	Period      Period
	PeriodStart int64
	TokenID     string

	Open  float64
	High  float64
	Low   float64
	Close float64

	Volume             float64
	VolumeUSD          float64
	UntrackedVolumeUSD float64
	FeesUSD            float64

	PriceUSD            float64
	TotalValueLocked    float64
	TotalValueLockedUSD float64

	TxCount uint64
}

// TickDayData is the per-tick daily snapshot of liquidity and fee growth.
type TickDayData struct {
	ID     string
	Date   int64
	PoolID string
	TickID string

	LiquidityGross *big.Int
	LiquidityNet   *big.Int

	FeeGrowthOutside0X128 *big.Int
	FeeGrowthOutside1X128 *big.Int
}
