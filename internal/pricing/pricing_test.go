package pricing

import (
	"context"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/tokens"
)

const testTokenAddr = "0x00000000000000000000000000000000000000aa"

func newEngine(t *testing.T) (*Engine, *entity.MemStore) {
	t.Helper()
	store := entity.NewMemStore()
	require.NoError(t, store.SaveBundle(context.Background(), &entity.Bundle{ID: entity.BundleID, NativePriceUSD: 2}))
	return NewEngine(store, zerolog.Nop()), store
}

func saveWKLAY(t *testing.T, store *entity.MemStore) *entity.Token {
	t.Helper()
	wklay := &entity.Token{ID: WKLAYAddress, Symbol: "WKLAY", Decimals: 18, DerivedNative: 1}
	require.NoError(t, store.SaveToken(context.Background(), wklay))
	return wklay
}

func TestNativePerTokenSentinels(t *testing.T) {
	engine, _ := newEngine(t)

	for _, id := range []string{WKLAYAddress, tokens.NativeAddress} {
		price, err := engine.NativePerToken(context.Background(), &entity.Token{ID: id})
		require.NoError(t, err)
		assert.Equal(t, 1.0, price)
	}
}

func TestNativePerTokenNoCandidates(t *testing.T) {
	engine, _ := newEngine(t)

	price, err := engine.NativePerToken(context.Background(), &entity.Token{ID: testTokenAddr})
	require.NoError(t, err)
	assert.Zero(t, price)
}

func TestNativePerTokenSelectsDeepestPool(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	saveWKLAY(t, store)

	shallow := &entity.Pool{
		ID: "0xpool1", Token0ID: testTokenAddr, Token1ID: WKLAYAddress,
		Liquidity: big.NewInt(1), Token0Price: 5, TotalValueLockedToken1: 20000,
	}
	deep := &entity.Pool{
		ID: "0xpool2", Token0ID: testTokenAddr, Token1ID: WKLAYAddress,
		Liquidity: big.NewInt(1), Token0Price: 7, TotalValueLockedToken1: 50000,
	}
	require.NoError(t, store.SavePool(ctx, shallow))
	require.NoError(t, store.SavePool(ctx, deep))
	for _, pool := range []*entity.Pool{shallow, deep} {
		require.NoError(t, store.SaveWhitelistPool(ctx, &entity.WhitelistPool{
			ID:      entity.WhitelistPoolID(pool.ID, testTokenAddr),
			TokenID: testTokenAddr,
			PoolID:  pool.ID,
		}))
	}

	price, err := engine.NativePerToken(ctx, &entity.Token{ID: testTokenAddr})
	require.NoError(t, err)
	assert.Equal(t, 7.0, price)
}

func TestNativePerTokenMinimumLiquidity(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	saveWKLAY(t, store)

	thin := &entity.Pool{
		ID: "0xthin", Token0ID: testTokenAddr, Token1ID: WKLAYAddress,
		Liquidity: big.NewInt(1), Token0Price: 5, TotalValueLockedToken1: 50,
	}
	require.NoError(t, store.SavePool(ctx, thin))
	require.NoError(t, store.SaveWhitelistPool(ctx, &entity.WhitelistPool{
		ID:      entity.WhitelistPoolID(thin.ID, testTokenAddr),
		TokenID: testTokenAddr,
		PoolID:  thin.ID,
	}))

	price, err := engine.NativePerToken(ctx, &entity.Token{ID: testTokenAddr})
	require.NoError(t, err)
	assert.Zero(t, price)
}

func TestNativePerTokenSkipsZeroLiquidity(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	saveWKLAY(t, store)

	drained := &entity.Pool{
		ID: "0xdrained", Token0ID: testTokenAddr, Token1ID: WKLAYAddress,
		Liquidity: big.NewInt(0), Token0Price: 9, TotalValueLockedToken1: 90000,
	}
	live := &entity.Pool{
		ID: "0xlive", Token0ID: testTokenAddr, Token1ID: WKLAYAddress,
		Liquidity: big.NewInt(1), Token0Price: 3, TotalValueLockedToken1: 30000,
	}
	for _, pool := range []*entity.Pool{drained, live} {
		require.NoError(t, store.SavePool(ctx, pool))
		require.NoError(t, store.SaveWhitelistPool(ctx, &entity.WhitelistPool{
			ID:      entity.WhitelistPoolID(pool.ID, testTokenAddr),
			TokenID: testTokenAddr,
			PoolID:  pool.ID,
		}))
	}

	price, err := engine.NativePerToken(ctx, &entity.Token{ID: testTokenAddr})
	require.NoError(t, err)
	assert.Equal(t, 3.0, price)
}

func TestNativePerTokenV2Pool(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	saveWKLAY(t, store)

	// 30000 WKLAY on the counter side
	reserveB, ok := new(big.Int).SetString("30000000000000000000000", 10)
	require.True(t, ok)
	v2 := &entity.V2Pool{
		ID: "0xv2pool", TokenAID: testTokenAddr, TokenBID: WKLAYAddress,
		LiquidityA: big.NewInt(1000), LiquidityB: reserveB,
		TokenAPrice: 4, TokenBPrice: 0.25,
	}
	require.NoError(t, store.SaveV2Pool(ctx, v2))
	require.NoError(t, store.SaveWhitelistPool(ctx, &entity.WhitelistPool{
		ID:      entity.WhitelistPoolID(v2.ID, testTokenAddr),
		TokenID: testTokenAddr,
		PoolID:  v2.ID,
	}))

	price, err := engine.NativePerToken(ctx, &entity.Token{ID: testTokenAddr})
	require.NoError(t, err)
	assert.Equal(t, 4.0, price)
}

func TestTrackedAmountUSD(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	wklay := &entity.Token{ID: WKLAYAddress, DerivedNative: 1}
	usdt := &entity.Token{ID: "0xcee8faf64bb97a73bb51e115aa89c17ffa8dd167", DerivedNative: 0.5}
	obscure := &entity.Token{ID: testTokenAddr, DerivedNative: 3}

	// bundle price is 2: wklay leg 10*1*2=20, usdt leg 8*0.5*2=8
	both, err := engine.TrackedAmountUSD(ctx, 10, wklay, 8, usdt)
	require.NoError(t, err)
	assert.InDelta(t, 28, both, 1e-9)

	// symmetric under swapping the pairs
	flipped, err := engine.TrackedAmountUSD(ctx, 8, usdt, 10, wklay)
	require.NoError(t, err)
	assert.InDelta(t, both, flipped, 1e-9)

	// one whitelisted leg doubles
	oneSide, err := engine.TrackedAmountUSD(ctx, 10, wklay, 8, obscure)
	require.NoError(t, err)
	assert.InDelta(t, 40, oneSide, 1e-9)

	oneSideFlipped, err := engine.TrackedAmountUSD(ctx, 8, obscure, 10, wklay)
	require.NoError(t, err)
	assert.InDelta(t, 40, oneSideFlipped, 1e-9)

	// neither whitelisted
	none, err := engine.TrackedAmountUSD(ctx, 10, obscure, 8, &entity.Token{ID: "0x00000000000000000000000000000000000000bb"})
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestTrackedAmountUSDMissingBundle(t *testing.T) {
	engine := NewEngine(entity.NewMemStore(), zerolog.Nop())

	_, err := engine.TrackedAmountUSD(context.Background(), 1, &entity.Token{ID: WKLAYAddress}, 1, &entity.Token{ID: testTokenAddr})
	assert.Error(t, err)
}

func TestNativePriceUSD(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	price, err := engine.NativePriceUSD(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, price)

	require.NoError(t, store.SavePool(ctx, &entity.Pool{ID: USDCWKLAYPool, Token0Price: 0.18}))
	price, err = engine.NativePriceUSD(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.18, price)
}
