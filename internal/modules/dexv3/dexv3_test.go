package dexv3

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
	testFactory = "0x00000000000000000000000000000000000000f3"
	testToken0  = pricing.WKLAYAddress
	testToken1  = "0x00000000000000000000000000000000000000bb"
	testPool    = "0x0000000000000000000000000000000000000aaa"
)

type stubChain struct {
	liquidity *big.Int
	fg0, fg1  *big.Int
	tickFG0   *big.Int
	tickFG1   *big.Int
	tickReads []int64
	fgCalls   int
}

func (s *stubChain) Liquidity(_ context.Context, _ common.Address) (*big.Int, error) {
	return s.liquidity, nil
}

func (s *stubChain) FeeGrowthGlobals(_ context.Context, _ common.Address) (*big.Int, *big.Int, error) {
	s.fgCalls++
	return s.fg0, s.fg1, nil
}

func (s *stubChain) TickFeeGrowthOutside(_ context.Context, _ common.Address, tickIdx int64) (*big.Int, *big.Int, error) {
	s.tickReads = append(s.tickReads, tickIdx)
	return s.tickFG0, s.tickFG1, nil
}

func (s *stubChain) PoolImmutables(_ context.Context, _ common.Address) (common.Address, common.Address, int64, error) {
	return common.Address{}, common.Address{}, 0, nil
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

func newStubChain() *stubChain {
	return &stubChain{
		liquidity: big.NewInt(1),
		fg0:       big.NewInt(11),
		fg1:       big.NewInt(13),
		tickFG0:   big.NewInt(5),
		tickFG1:   big.NewInt(7),
	}
}

func newTestModule(t *testing.T, store *entity.MemStore, chainStub *stubChain, watcher *stubWatcher) *Module {
	t.Helper()
	erc20 := &stubERC20{metadata: map[string]chain.TokenMetadata{
		testToken0: {Symbol: "WKLAY", Name: "Wrapped Klay", Decimals: 18, DecimalsOK: true, TotalSupply: big.NewInt(0)},
		testToken1: {Symbol: "TKN", Name: "Test Token", Decimals: 18, DecimalsOK: true, TotalSupply: big.NewInt(0)},
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
	var nonIndexed abi.Arguments
	for _, in := range ev.Inputs {
		if !in.Indexed {
			nonIndexed = append(nonIndexed, in)
		}
	}
	data, err := nonIndexed.Pack(vals...)
	require.NoError(t, err)
	return data
}

func addrTopic(addr string) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32))
}

func intTopic(v int64) common.Hash {
	b := big.NewInt(v)
	if b.Sign() < 0 {
		b.Add(b, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BigToHash(b)
}

func evmEvent(log *types.Log, timestamp int64) *core.EventContext {
	return core.NormalizeEVM(log, timestamp)
}

func (m *Module) poolCreatedLog(t *testing.T, block uint64) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testFactory),
		Topics: []common.Hash{
			m.factoryABI.Events["PoolCreated"].ID,
			addrTopic(testToken0),
			addrTopic(testToken1),
			intTopic(3000),
		},
		Data:        packEventData(t, m.factoryABI, "PoolCreated", big.NewInt(60), common.HexToAddress(testPool)),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x01"),
		Index:       0,
	}
}

func TestPoolCreatedSkippedDuringBackfillWithoutLiquidity(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := newStubChain()
	chainStub.liquidity = big.NewInt(0)
	m := newTestModule(t, store, chainStub, &stubWatcher{})

	event := evmEvent(m.poolCreatedLog(t, 150), 1000)
	event.Backfill = true
	require.NoError(t, m.HandleEvent(context.Background(), event))

	pool, err := store.Pool(context.Background(), testPool)
	require.NoError(t, err)
	assert.Nil(t, pool)

	factory, err := store.Factory(context.Background(), testFactory)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), factory.PoolCount)
}

func TestPoolCreatedBeforeStartBlockIgnored(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store, newStubChain(), &stubWatcher{})

	require.NoError(t, m.HandleEvent(context.Background(), evmEvent(m.poolCreatedLog(t, 50), 1000)))

	pool, err := store.Pool(context.Background(), testPool)
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestPoolCreatedRegistersPoolAndWhitelist(t *testing.T) {
	store := entity.NewMemStore()
	watcher := &stubWatcher{}
	m := newTestModule(t, store, newStubChain(), watcher)

	require.NoError(t, m.HandleEvent(context.Background(), evmEvent(m.poolCreatedLog(t, 150), 1000)))

	ctx := context.Background()
	pool, err := store.Pool(ctx, testPool)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Equal(t, testToken0, pool.Token0ID)
	assert.Equal(t, testToken1, pool.Token1ID)
	assert.Equal(t, int64(3000), pool.FeeTier)
	assert.Equal(t, uint64(150), pool.CreatedAtBlock)

	// WKLAY on side 0 makes the pool a pricing candidate for token1
	wl, err := store.WhitelistPool(ctx, entity.WhitelistPoolID(testPool, testToken1))
	require.NoError(t, err)
	require.NotNil(t, wl)
	assert.Equal(t, testToken1, wl.TokenID)

	factory, err := store.Factory(ctx, testFactory)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), factory.PoolCount)

	assert.Equal(t, []string{testPool}, watcher.watched)

	// replaying the same event must not double-count
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.poolCreatedLog(t, 150), 1000)))
	factory, err = store.Factory(ctx, testFactory)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), factory.PoolCount)
}

func (m *Module) initializeLog(t *testing.T, block uint64, sqrtPrice *big.Int, tick int64) *types.Log {
	return &types.Log{
		Address:     common.HexToAddress(testPool),
		Topics:      []common.Hash{m.poolABI.Events["Initialize"].ID},
		Data:        packEventData(t, m.poolABI, "Initialize", sqrtPrice, big.NewInt(tick)),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x02"),
		Index:       0,
	}
}

func (m *Module) mintLog(t *testing.T, block uint64, tickLower, tickUpper int64, amount, amount0, amount1 *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testPool),
		Topics: []common.Hash{
			m.poolABI.Events["Mint"].ID,
			addrTopic("0x00000000000000000000000000000000000000e1"),
			intTopic(tickLower),
			intTopic(tickUpper),
		},
		Data:        packEventData(t, m.poolABI, "Mint", common.HexToAddress("0x00000000000000000000000000000000000000e2"), amount, amount0, amount1),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x03"),
		Index:       1,
	}
}

func (m *Module) burnLog(t *testing.T, block uint64, tickLower, tickUpper int64, amount, amount0, amount1 *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testPool),
		Topics: []common.Hash{
			m.poolABI.Events["Burn"].ID,
			addrTopic("0x00000000000000000000000000000000000000e1"),
			intTopic(tickLower),
			intTopic(tickUpper),
		},
		Data:        packEventData(t, m.poolABI, "Burn", amount, amount0, amount1),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x04"),
		Index:       1,
	}
}

func (m *Module) swapLog(t *testing.T, block uint64, amount0, amount1, sqrtPrice, liquidity *big.Int, tick int64) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(testPool),
		Topics: []common.Hash{
			m.poolABI.Events["Swap"].ID,
			addrTopic("0x00000000000000000000000000000000000000e1"),
			addrTopic("0x00000000000000000000000000000000000000e2"),
		},
		Data:        packEventData(t, m.poolABI, "Swap", amount0, amount1, sqrtPrice, liquidity, big.NewInt(tick)),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x05"),
		Index:       2,
	}
}

var sqrtPriceOne = new(big.Int).Lsh(big.NewInt(1), 96)

func setupLivePool(t *testing.T, m *Module) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.poolCreatedLog(t, 150), 1000)))
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.initializeLog(t, 151, sqrtPriceOne, 0), 1010)))
}

func TestInitializeSetsPriceAndTick(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store, newStubChain(), &stubWatcher{})
	setupLivePool(t, m)

	pool, err := store.Pool(context.Background(), testPool)
	require.NoError(t, err)
	require.NotNil(t, pool.Tick)
	assert.Equal(t, int64(0), *pool.Tick)
	assert.InDelta(t, 1.0, pool.Token0Price, 1e-9)
	assert.InDelta(t, 1.0, pool.Token1Price, 1e-9)
	assert.Equal(t, sqrtPriceOne.String(), pool.SqrtPrice.String())

	// WKLAY prices at 1 by definition
	token0, err := store.Token(context.Background(), testToken0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, token0.DerivedNative)
}

func TestMintBurnTickRoundTrip(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := newStubChain()
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m)
	ctx := context.Background()

	amount := big.NewInt(1000)
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.mintLog(t, 152, -60, 60, amount, wei, wei), 1020)))

	pool, err := store.Pool(ctx, testPool)
	require.NoError(t, err)
	// [-60, 60) straddles the current tick 0
	assert.Equal(t, "1000", pool.Liquidity.String())
	assert.InDelta(t, 1.0, pool.TotalValueLockedToken0, 1e-9)
	assert.InDelta(t, 1.0, pool.TotalValueLockedToken1, 1e-9)

	lower, err := store.Tick(ctx, entity.TickID(testPool, -60))
	require.NoError(t, err)
	require.NotNil(t, lower)
	assert.Equal(t, "1000", lower.LiquidityGross.String())
	assert.Equal(t, "1000", lower.LiquidityNet.String())
	assert.Equal(t, "5", lower.FeeGrowthOutside0X128.String())

	upper, err := store.Tick(ctx, entity.TickID(testPool, 60))
	require.NoError(t, err)
	require.NotNil(t, upper)
	assert.Equal(t, "1000", upper.LiquidityGross.String())
	assert.Equal(t, "-1000", upper.LiquidityNet.String())

	mint, err := store.Mint(ctx, common.HexToHash("0x03").Hex()+"#1")
	require.NoError(t, err)
	require.NotNil(t, mint)
	assert.Equal(t, int64(-60), mint.TickLower)
	assert.Equal(t, int64(60), mint.TickUpper)

	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.burnLog(t, 153, -60, 60, amount, wei, wei), 1030)))

	pool, err = store.Pool(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, "0", pool.Liquidity.String())
	assert.InDelta(t, 0.0, pool.TotalValueLockedToken0, 1e-9)

	lower, err = store.Tick(ctx, entity.TickID(testPool, -60))
	require.NoError(t, err)
	assert.Equal(t, "0", lower.LiquidityGross.String())
	assert.Equal(t, "0", lower.LiquidityNet.String())
	upper, err = store.Tick(ctx, entity.TickID(testPool, 60))
	require.NoError(t, err)
	assert.Equal(t, "0", upper.LiquidityNet.String())

	token0, err := store.Token(ctx, testToken0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, token0.TotalValueLocked, 1e-9)
}

func TestBurnOnMissingTicksFails(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store, newStubChain(), &stubWatcher{})
	setupLivePool(t, m)

	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	err := m.HandleEvent(context.Background(), evmEvent(m.burnLog(t, 152, -120, 120, big.NewInt(10), wei, wei), 1020))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing ticks")
}

func TestSwapUpdatesPoolAndAggregates(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := newStubChain()
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m)
	ctx := context.Background()

	amount := big.NewInt(1000)
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	require.NoError(t, m.HandleEvent(ctx, evmEvent(m.mintLog(t, 152, -60, 60, amount, wei, wei), 1020)))

	// sell 1 token0 for 0.5 token1, tick moves 0 -> -60
	halfWei := new(big.Int).Div(wei, big.NewInt(2))
	swapLog := m.swapLog(t, 153, wei, new(big.Int).Neg(halfWei), sqrtPriceOne, big.NewInt(2000), -60)
	require.NoError(t, m.HandleEvent(ctx, evmEvent(swapLog, 1030)))

	pool, err := store.Pool(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, "2000", pool.Liquidity.String())
	require.NotNil(t, pool.Tick)
	assert.Equal(t, int64(-60), *pool.Tick)
	assert.InDelta(t, 1.0, pool.VolumeToken0, 1e-9)
	assert.InDelta(t, 0.5, pool.VolumeToken1, 1e-9)
	assert.Equal(t, "11", pool.FeeGrowthGlobal0X128.String())
	assert.Equal(t, "13", pool.FeeGrowthGlobal1X128.String())

	// one whitelisted leg: tracked = 2 * leg0 / 2 = 1 USD at a rate of 1
	assert.InDelta(t, 1.0, pool.VolumeUSD, 1e-9)
	assert.InDelta(t, 0.003, pool.FeesUSD, 1e-9)

	swap, err := store.Swap(ctx, common.HexToHash("0x05").Hex()+"#2")
	require.NoError(t, err)
	require.NotNil(t, swap)
	assert.InDelta(t, 1.0, swap.Amount0, 1e-9)
	assert.InDelta(t, -0.5, swap.Amount1, 1e-9)
	assert.Equal(t, int64(-60), swap.Tick)

	// signed deltas flow into TVL
	assert.InDelta(t, 2.0, pool.TotalValueLockedToken0, 1e-9)
	assert.InDelta(t, 0.5, pool.TotalValueLockedToken1, 1e-9)

	factory, err := store.Factory(ctx, testFactory)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, factory.TotalVolumeUSD, 1e-9)
	assert.Equal(t, uint64(2), factory.TxCount)

	// the crossed tick at -60 had its fee state refreshed
	assert.Contains(t, chainStub.tickReads, int64(-60))

	// day bucket carries the volume delta
	bucket, err := store.PoolInterval(ctx, entity.BucketID(testPool, entity.PeriodDay, 1030))
	require.NoError(t, err)
	require.NotNil(t, bucket)
	assert.InDelta(t, 1.0, bucket.VolumeToken0, 1e-9)
	assert.InDelta(t, 1.0, bucket.VolumeUSD, 1e-9)
}

func TestSwapOnMispricedPoolSkipped(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := newStubChain()
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	ctx := context.Background()

	tick := int64(0)
	require.NoError(t, store.SavePool(ctx, &entity.Pool{
		ID:        mispricedPool,
		Token0ID:  testToken0,
		Token1ID:  testToken1,
		FeeTier:   3000,
		Liquidity: big.NewInt(0),
		SqrtPrice: big.NewInt(0),
		Tick:      &tick,
	}))

	log := m.swapLog(t, 160, big.NewInt(1), big.NewInt(-1), sqrtPriceOne, big.NewInt(1), 0)
	log.Address = common.HexToAddress(mispricedPool)
	require.NoError(t, m.HandleEvent(ctx, evmEvent(log, 1040)))

	pool, err := store.Pool(ctx, mispricedPool)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pool.TxCount)
	assert.Equal(t, 0, chainStub.fgCalls)
}

func TestFlashRefreshesFeeGrowthOnly(t *testing.T) {
	store := entity.NewMemStore()
	chainStub := newStubChain()
	m := newTestModule(t, store, chainStub, &stubWatcher{})
	setupLivePool(t, m)
	ctx := context.Background()

	flashLog := &types.Log{
		Address: common.HexToAddress(testPool),
		Topics: []common.Hash{
			m.poolABI.Events["Flash"].ID,
			addrTopic("0x00000000000000000000000000000000000000e1"),
			addrTopic("0x00000000000000000000000000000000000000e2"),
		},
		Data:        packEventData(t, m.poolABI, "Flash", big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)),
		BlockNumber: 154,
		TxHash:      common.HexToHash("0x06"),
		Index:       0,
	}
	require.NoError(t, m.HandleEvent(ctx, evmEvent(flashLog, 1040)))

	pool, err := store.Pool(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, "11", pool.FeeGrowthGlobal0X128.String())
	assert.Equal(t, "13", pool.FeeGrowthGlobal1X128.String())
	assert.Equal(t, uint64(0), pool.TxCount)
}

func TestFeeTierToTickSpacing(t *testing.T) {
	for feeTier, want := range map[int64]int64{10000: 200, 3000: 60, 500: 10, 100: 1} {
		got, err := feeTierToTickSpacing(feeTier)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := feeTierToTickSpacing(1234)
	require.Error(t, err)
}
