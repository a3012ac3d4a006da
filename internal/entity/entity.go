package entity

import (
	"math/big"
	"strconv"
)

// BundleID is the id of the singleton exchange-rate row. The bundle holds the
// current native-coin (KLAY) to USD rate and is refreshed opportunistically by
// the swap handlers.
const BundleID = "1"

// Bundle is the singleton native/USD exchange-rate record.
type Bundle struct {
	ID             string
	NativePriceUSD float64
}

// Token is an ERC20 (or the synthetic native coin) referenced by at least one
// pool. Raw chain quantities stay as big integers; running USD/native sums are
// floating point by design.
type Token struct {
	ID          string
	Symbol      string
	Name        string
	Decimals    int64
	TotalSupply *big.Int

	// DerivedNative is the price of one token in units of the native coin,
	// maintained by the pricing resolver. Zero means "price unknown".
	DerivedNative float64

	Volume              float64
	VolumeUSD           float64
	UntrackedVolumeUSD  float64
	FeesUSD             float64
	TotalValueLocked    float64
	TotalValueLockedUSD float64

	TxCount   uint64
	PoolCount uint64
}

// Pool is a concentrated-liquidity pool. Token ordering is fixed at creation
// from the factory event arguments.
type Pool struct {
	ID       string
	Token0ID string
	Token1ID string
	FeeTier  int64

	CreatedAtTimestamp int64
	CreatedAtBlock     uint64

	Liquidity *big.Int
	SqrtPrice *big.Int
	// Tick is nil until the pool emits Initialize.
	Tick *int64

	FeeGrowthGlobal0X128 *big.Int
	FeeGrowthGlobal1X128 *big.Int

	Token0Price float64
	Token1Price float64

	TotalValueLockedToken0 float64
	TotalValueLockedToken1 float64
	TotalValueLockedNative float64
	TotalValueLockedUSD    float64

	VolumeToken0       float64
	VolumeToken1       float64
	VolumeUSD          float64
	UntrackedVolumeUSD float64
	FeesUSD            float64

	TxCount uint64
}

// V2Pool is a constant-product pool. Reserves are raw base-unit amounts and may
// be resynced from the chain when a local computation drifts non-positive.
type V2Pool struct {
	ID       string
	Symbol   string
	TokenAID string
	TokenBID string

	LiquidityA *big.Int
	LiquidityB *big.Int

	TokenAPrice float64
	TokenBPrice float64

	VolumeTokenA float64
	VolumeTokenB float64
	VolumeUSD    float64

	TxCount uint64
}

// WhitelistPool joins a pool to its non-reference token. The pricing resolver
// walks these rows to derive a token's native price from reference-token pools.
type WhitelistPool struct {
	ID      string
	TokenID string
	PoolID  string
}

// Factory holds protocol-wide counters for the concentrated-liquidity side.
// InitializedAtBlock is zero until the one-time pool backfill has run; keeping
// the flag on the row makes initialization idempotent across restarts.
type Factory struct {
	ID        string
	Owner     string
	PoolCount uint64

	TotalVolumeNative  float64
	TotalVolumeUSD     float64
	UntrackedVolumeUSD float64
	TotalFeesNative    float64
	TotalFeesUSD       float64

	TotalValueLockedNative float64
	TotalValueLockedUSD    float64

	TxCount            uint64
	InitializedAtBlock uint64
}

// V2Factory holds protocol-wide counters for the constant-product side.
type V2Factory struct {
	ID        string
	PoolCount uint64

	TotalVolumeNative  float64
	TotalVolumeUSD     float64
	InitializedAtBlock uint64
}

// Tick is a per-pool price boundary touched by at least one position.
type Tick struct {
	ID      string
	PoolID  string
	TickIdx int64

	LiquidityGross *big.Int
	LiquidityNet   *big.Int

	FeeGrowthOutside0X128 *big.Int
	FeeGrowthOutside1X128 *big.Int

	CreatedAtTimestamp int64
	CreatedAtBlock     uint64
}

// Transaction is one chain transaction, shared by the Mint/Burn/Swap rows it
// produced.
type Transaction struct {
	ID          string
	BlockNumber uint64
	Timestamp   int64
	GasUsed     uint64
	GasPrice    *big.Int
}

// Mint is one liquidity-add occurrence. Tick bounds are zero for v2 pools.
type Mint struct {
	ID            string
	TransactionID string
	Timestamp     int64
	PoolID        string
	Token0ID      string
	Token1ID      string

	Owner  string
	Sender string
	Origin string

	Amount    *big.Int
	Amount0   float64
	Amount1   float64
	AmountUSD float64

	TickLower int64
	TickUpper int64
	LogIndex  uint
}

// Burn is one liquidity-remove occurrence.
type Burn struct {
	ID            string
	TransactionID string
	Timestamp     int64
	PoolID        string
	Token0ID      string
	Token1ID      string

	Owner  string
	Origin string

	Amount    *big.Int
	Amount0   float64
	Amount1   float64
	AmountUSD float64

	TickLower int64
	TickUpper int64
	LogIndex  uint
}

// Swap is one trade occurrence. Amounts are signed token deltas.
type Swap struct {
	ID            string
	TransactionID string
	Timestamp     int64
	PoolID        string
	Token0ID      string
	Token1ID      string

	Sender    string
	Recipient string
	Origin    string

	Amount0   float64
	Amount1   float64
	AmountUSD float64

	Tick         int64
	SqrtPriceX96 *big.Int
	LogIndex     uint
}

// TickID builds the composite id used for tick rows.
func TickID(poolID string, tickIdx int64) string {
	return poolID + "#" + strconv.FormatInt(tickIdx, 10)
}

// WhitelistPoolID builds the composite id guarding duplicate whitelist rows.
func WhitelistPoolID(poolID, tokenID string) string {
	return poolID + tokenID
}
