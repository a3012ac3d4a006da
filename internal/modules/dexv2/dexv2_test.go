package dexv2

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/dex-indexer-example/internal/aggregates"
	"github.com/klaytn/dex-indexer-example/internal/chain"
	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/pricing"
	"github.com/klaytn/dex-indexer-example/internal/tokens"
)

const (
	testFactory = "0x00000000000000000000000000000000000000f2"
	testTokenA  = pricing.WKLAYAddress
	testTokenB  = "0x00000000000000000000000000000000000000cc"
	testPool    = "0x0000000000000000000000000000000000000bbb"
	testUser    = "0x00000000000000000000000000000000000000d1"
)

type stubV2Chain struct {
	reserveA *big.Int
	reserveB *big.Int
	reads    int
}

func (s *stubV2Chain) CurrentPool(_ context.Context, _ common.Address) (*big.Int, *big.Int, error) {
	s.reads++
	return new(big.Int).Set(s.reserveA), new(big.Int).Set(s.reserveB), nil
}

func (s *stubV2Chain) V2PoolTokens(_ context.Context, _ common.Address) (common.Address, common.Address, error) {
	return common.HexToAddress(testTokenA), common.HexToAddress(testTokenB), nil
}

type stubWatcher struct {
	watched []string
}

func (s *stubWatcher) WatchAddress(_, address string) error {
	s.watched = append(s.watched, address)
	return nil
}

type stubERC20 struct {
	metadata map[string]chain.TokenMetadata
}

func (s *stubERC20) TokenMetadata(_ context.Context, token common.Address) (chain.TokenMetadata, error) {
	return s.metadata[tokens.Normalize(token.Hex())], nil
}

func wei(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

func newTestModule(t *testing.T, store *entity.MemStore, chainStub *stubV2Chain, watcher *stubWatcher) *Module {
	t.Helper()
	erc20 := &stubERC20{metadata: map[string]chain.TokenMetadata{
		testTokenA: {Symbol: "WKLAY", Name: "Wrapped Klay", Decimals: 18, DecimalsOK: true, TotalSupply: big.NewInt(0)},
		testTokenB: {Symbol: "TKN", Name: "Test Token", Decimals: 18, DecimalsOK: true, TotalSupply: big.NewInt(0)},
	}}
	manifest := &core.Manifest{
		Name:    moduleName,
		Version: moduleVersion,
		Context: map[string]interface{}{
			"factoryAddress": testFactory,
			"startBlock":     100,
		},
	}
	m, err := New(manifest, Deps{
		Store:      store,
		Chain:      chainStub,
		Tokens:     tokens.NewResolver(store, erc20, zerolog.Nop()),
		Pricing:    pricing.NewEngine(store, zerolog.Nop()),
		Aggregates: aggregates.NewUpdater(store),
		Watcher:    watcher,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func packEventData(t *testing.T, contractABI *abi.ABI, name string, vals ...interface{}) []byte {
	t.Helper()
	ev, ok := contractABI.Events[name]
	require.True(t, ok)
	data, err := ev.Inputs.Pack(vals...)
	require.NoError(t, err)
	return data
}

func (m *Module) createPoolLog(t *testing.T, block uint64) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testFactory),
		Topics:  []common.Hash{m.factoryABI.Events["CreatePool"].ID},
		Data: packEventData(t, m.factoryABI, "CreatePool",
			common.HexToAddress(testTokenA), common.HexToAddress(testTokenB),
			common.HexToAddress(testPool), big.NewInt(30)),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x11"),
		Index:       0,
	}
}

func (m *Module) exchangeLog(t *testing.T, block uint64, soldToken string, amountA, amountB *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testPool),
		Topics:  []common.Hash{m.poolABI.Events["ExchangePos"].ID},
		Data: packEventData(t, m.poolABI, "ExchangePos",
			common.HexToAddress(soldToken), amountA,
			common.HexToAddress(testTokenB), amountB),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x12"),
		Index:       1,
	}
}

func (m *Module) liquidityLog(t *testing.T, name string, block uint64, amountA, amountB *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testPool),
		Topics:  []common.Hash{m.poolABI.Events[name].ID},
		Data: packEventData(t, m.poolABI, name,
			common.HexToAddress(testUser),
			common.HexToAddress(testTokenA), amountA,
			common.HexToAddress(testTokenB), amountB,
			big.NewInt(1)),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x13"),
		Index:       2,
	}
}

func evmEvent(log *types.Log, timestamp int64) *core.EventContext {
	return core.NormalizeEVM(log, timestamp)
}

func setupLivePool(t *testing.T, m *Module, store *entity.MemStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.createPoolLog(t, 150), 1000)))

	// a priced reference token and a live bundle rate, as the v3 side
	// would have established them
	bundle, err := store.Bundle(ctx, entity.BundleID)
	require.NoError(t, err)
	bundle.NativePriceUSD = 1
	require.NoError(t, store.SaveBundle(ctx, bundle))

	tokenA, err := store.Token(ctx, testTokenA)
	require.NoError(t, err)
	tokenA.DerivedNative = 1
	require.NoError(t, store.SaveToken(ctx, tokenA))
}

func TestCreatePoolSkippedDuringBackfillWithoutReserves(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: big.NewInt(0), reserveB: wei(5)}
	m := newTestModule(t, store, chainStub, &stubWatcher{})

	event := evmEvent(m.createPoolLog(t, 150), 1000)
	event.Backfill = true
	require.NoError(t, m.HandleEvent(context.Background(), event))

	pool, err := store.V2Pool(context.Background(), testPool)
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestCreatePoolRegistersPoolAndWhitelist(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: wei(10), reserveB: wei(20)}
	watcher := &stubWatcher{}
	m := newTestModule(t, store, chainStub, watcher)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.createPoolLog(t, 150), 1000)))

	pool, err := store.V2Pool(ctx, testPool)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, "WKLAY-TKN", pool.Symbol)
	assert.Equal(t, testTokenA, pool.TokenAID)
	assert.Equal(t, testTokenB, pool.TokenBID)
	assert.Equal(t, wei(10).String(), pool.LiquidityA.String())
	assert.Equal(t, wei(20).String(), pool.LiquidityB.String())

	wl, err := store.WhitelistPool(ctx, entity.WhitelistPoolID(testPool, testTokenB))
	require.NoError(t, err)
	require.NotNil(t, wl)

	factory, err := store.V2Factory(ctx, testFactory)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), factory.PoolCount)

	assert.Equal(t, []string{testPool}, watcher.watched)

	// replaying the same event must not double-count
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.createPoolLog(t, 150), 1000)))
	factory, err = store.V2Factory(ctx, testFactory)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), factory.PoolCount)
}

func TestCreatePoolBeforeStartBlockIgnored(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store, &stubV2Chain{reserveA: wei(1), reserveB: wei(1)}, &stubWatcher{})

	require.NoError(t, m.HandleEvent(context.Background(), evmEvent(m.createPoolLog(t, 50), 1000)))

	pool, err := store.V2Pool(context.Background(), testPool)
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestExchangeMatchingSide(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: wei(10), reserveB: wei(20)}
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m, store)
	ctx := context.Background()

	// sell 1 token A for 0.5 token B; the event's side ordering matches
	// the pool's
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.exchangeLog(t, 151, testTokenA, wei(2), wei(1)), 1010)))

	pool, err := store.V2Pool(ctx, testPool)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pool.VolumeTokenA, 1e-9)
	assert.InDelta(t, 1.0, pool.VolumeTokenB, 1e-9)
	assert.Equal(t, wei(12).String(), pool.LiquidityA.String())
	assert.Equal(t, wei(19).String(), pool.LiquidityB.String())
	assert.InDelta(t, 0.5, pool.TokenAPrice, 1e-9)
	assert.InDelta(t, 2.0, pool.TokenBPrice, 1e-9)

	// one whitelisted leg at derived 1, bundle 1: tracked = 2*2/2 = 2
	assert.InDelta(t, 2.0, pool.VolumeUSD, 1e-9)

	tokenA, err := store.Token(ctx, testTokenA)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, tokenA.TotalValueLocked, 1e-9)
	assert.InDelta(t, 2.0, tokenA.Volume, 1e-9)
	tokenB, err := store.Token(ctx, testTokenB)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, tokenB.TotalValueLocked, 1e-9)

	swap, err := store.Swap(ctx, common.HexToHash("0x12").Hex()+"#0")
	require.NoError(t, err)
	require.NotNil(t, swap)
	assert.Equal(t, int64(0), swap.Tick)
	assert.Equal(t, "", swap.Sender)
	assert.InDelta(t, 2.0, swap.AmountUSD, 1e-9)
}

func TestExchangeOppositeSide(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: wei(10), reserveB: wei(20)}
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m, store)
	ctx := context.Background()

	// the sold token is the pool's token B, so every update flips sides
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.exchangeLog(t, 151, testTokenB, wei(4), wei(2)), 1010)))

	pool, err := store.V2Pool(ctx, testPool)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pool.VolumeTokenA, 1e-9)
	assert.InDelta(t, 4.0, pool.VolumeTokenB, 1e-9)
	assert.Equal(t, wei(6).String(), pool.LiquidityA.String())
	assert.Equal(t, wei(22).String(), pool.LiquidityB.String())
	assert.InDelta(t, 2.0, pool.TokenAPrice, 1e-9)
	assert.InDelta(t, 0.5, pool.TokenBPrice, 1e-9)

	tokenA, err := store.Token(ctx, testTokenA)
	require.NoError(t, err)
	assert.InDelta(t, -4.0, tokenA.TotalValueLocked, 1e-9)
	tokenB, err := store.Token(ctx, testTokenB)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, tokenB.TotalValueLocked, 1e-9)
}

func TestExchangeRepairsDriftedReserves(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: wei(10), reserveB: wei(20)}
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m, store)
	ctx := context.Background()

	// selling B removes more A than the pool holds locally; the handler
	// must fall back to the live reserves instead of keeping a negative
	chainStub.reserveA = wei(77)
	chainStub.reserveB = wei(88)
	readsBefore := chainStub.reads
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.exchangeLog(t, 151, testTokenB, wei(15), wei(3)), 1010)))

	pool, err := store.V2Pool(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, wei(77).String(), pool.LiquidityA.String())
	assert.Equal(t, wei(88).String(), pool.LiquidityB.String())
	assert.Equal(t, readsBefore+1, chainStub.reads)
}

func TestAddLiquidityRecordsMint(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: wei(10), reserveB: wei(20)}
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m, store)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.liquidityLog(t, "AddLiquidity", 151, wei(3), wei(6)), 1010)))

	pool, err := store.V2Pool(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, wei(13).String(), pool.LiquidityA.String())
	assert.Equal(t, wei(26).String(), pool.LiquidityB.String())
	assert.Equal(t, uint64(1), pool.TxCount)

	mint, err := store.Mint(ctx, common.HexToHash("0x13").Hex()+"#1")
	require.NoError(t, err)
	require.NotNil(t, mint)
	assert.Equal(t, testUser, mint.Owner)
	assert.Equal(t, int64(0), mint.TickLower)
	assert.Equal(t, int64(0), mint.TickUpper)
	assert.Equal(t, "0", mint.Amount.String())
	assert.InDelta(t, 3.0, mint.Amount0, 1e-9)
	assert.InDelta(t, 6.0, mint.Amount1, 1e-9)
	// token A leg priced at 1 USD, token B unpriced
	assert.InDelta(t, 3.0, mint.AmountUSD, 1e-9)

	tokenA, err := store.Token(ctx, testTokenA)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, tokenA.TotalValueLocked, 1e-9)
	assert.InDelta(t, 3.0, tokenA.TotalValueLockedUSD, 1e-9)
}

func TestRemoveLiquidityRepairsReserves(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := &stubV2Chain{reserveA: big.NewInt(5), reserveB: big.NewInt(100)}
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m, store)
	ctx := context.Background()

	// removing 10 from a local reserve of 5 would go negative; the stored
	// reserves must come from the live read instead
	chainStub.reserveA = big.NewInt(40)
	chainStub.reserveB = big.NewInt(90)
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.liquidityLog(t, "RemoveLiquidity", 151, big.NewInt(10), big.NewInt(20)), 1010)))

	pool, err := store.V2Pool(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, "40", pool.LiquidityA.String())
	assert.Equal(t, "90", pool.LiquidityB.String())

	burn, err := store.Burn(ctx, common.HexToHash("0x13").Hex()+"#1")
	require.NoError(t, err)
	require.NotNil(t, burn)
	assert.Equal(t, testUser, burn.Owner)
	assert.Equal(t, int64(0), burn.TickLower)
	assert.Equal(t, "0", burn.Amount.String())
}
