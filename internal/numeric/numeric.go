// Package numeric holds the shared decimal and price math used by the
// module handlers. Raw on-chain amounts stay in *big.Int; anything derived
// (prices, USD sums) is float64.
package numeric

import (
	"math"
	"math/big"
)

// Q96 is 2^96, the fixed-point scale of sqrtPriceX96.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// SafeDiv divides a by b, returning 0 when b is zero.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// ConvertTokenToDecimal scales a raw token amount down by the token's
// decimals. A nil amount converts to 0.
func ConvertTokenToDecimal(amount *big.Int, decimals int64) float64 {
	if amount == nil {
		return 0
	}
	if decimals == 0 {
		f, _ := new(big.Float).SetInt(amount).Float64()
		return f
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), divisor).Float64()
	return out
}

// SqrtPriceX96ToTokenPrices derives both token spot prices from a pool's
// sqrtPriceX96. price0 is token0 denominated in token1 adjusted for the
// decimals gap, price1 its inverse.
func SqrtPriceX96ToTokenPrices(sqrtPriceX96 *big.Int, decimals0, decimals1 int64) (float64, float64) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return 0, 0
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), new(big.Float).SetInt(Q96)).Float64()
	price0 := ratio * ratio / math.Pow(10, float64(decimals1-decimals0))
	price1 := SafeDiv(1, price0)
	return price0, price1
}

// Abs returns a new big.Int holding |v|. Swap event amounts are signed,
// the aggregate sums want magnitudes.
func Abs(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(v)
}
