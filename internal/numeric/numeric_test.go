package numeric

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqrtPriceX96ToTokenPrices(t *testing.T) {
	t.Run("usdc-wkaia style pair, 6 vs 18 decimals", func(t *testing.T) {
		sqrtPrice, ok := new(big.Int).SetString("2018382873588440326581633304624437", 10)
		require.True(t, ok)

		price0, price1 := SqrtPriceX96ToTokenPrices(sqrtPrice, 6, 18)
		assert.GreaterOrEqual(t, price1, 1539.296)
		assert.Less(t, price1, 1541.0)
		assert.InDelta(t, 1.0, price0*price1, 1e-9)
	})

	t.Run("inverted decimals", func(t *testing.T) {
		sqrtPrice, ok := new(big.Int).SetString("39136252928812004705448", 10)
		require.True(t, ok)

		_, price1 := SqrtPriceX96ToTokenPrices(sqrtPrice, 18, 6)
		assert.GreaterOrEqual(t, price1, 1.0)
	})

	t.Run("equal decimals near parity", func(t *testing.T) {
		sqrtPrice, ok := new(big.Int).SetString("79067369644737471999018165015", 10)
		require.True(t, ok)

		price0, price1 := SqrtPriceX96ToTokenPrices(sqrtPrice, 6, 6)
		assert.GreaterOrEqual(t, price1, 1.0)
		assert.InDelta(t, 1.0, price0, 0.01)
	})

	t.Run("zero sqrt price", func(t *testing.T) {
		price0, price1 := SqrtPriceX96ToTokenPrices(big.NewInt(0), 18, 18)
		assert.Zero(t, price0)
		assert.Zero(t, price1)
	})

	t.Run("nil sqrt price", func(t *testing.T) {
		price0, price1 := SqrtPriceX96ToTokenPrices(nil, 18, 18)
		assert.Zero(t, price0)
		assert.Zero(t, price1)
	})
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 0.0, SafeDiv(10, 0))
	assert.Equal(t, 2.5, SafeDiv(5, 2))
}

func TestConvertTokenToDecimal(t *testing.T) {
	amount, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	assert.InDelta(t, 1.5, ConvertTokenToDecimal(amount, 18), 1e-12)

	assert.InDelta(t, 2.5, ConvertTokenToDecimal(big.NewInt(2500000), 6), 1e-12)
	assert.Equal(t, 42.0, ConvertTokenToDecimal(big.NewInt(42), 0))
	assert.Zero(t, ConvertTokenToDecimal(nil, 18))

	neg := big.NewInt(-1000000)
	assert.InDelta(t, -1.0, ConvertTokenToDecimal(neg, 6), 1e-12)
}

func TestAbs(t *testing.T) {
	assert.Equal(t, "5", Abs(big.NewInt(-5)).String())
	assert.Equal(t, "5", Abs(big.NewInt(5)).String())
	assert.Equal(t, "0", Abs(nil).String())

	v := big.NewInt(-7)
	_ = Abs(v)
	assert.Equal(t, "-7", v.String())
}
