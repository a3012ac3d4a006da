package core

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	name    string
	filters []EventFilter
	events  []*EventContext
}

func (m *fakeModule) Name() string { return m.name }
func (m *fakeModule) Version() string { return "1.0.0" }
func (m *fakeModule) Manifest() *Manifest {
	return &Manifest{
		Name:    m.name,
		Version: "1.0.0",
		DataSources: []DataSource{{
			Kind: "ethereum/contract",
			Name: "Test",
			Source: DataSourceSource{ABI: "Test"},
			Mapping: DataSourceMapping{
				EventHandlers: []EventHandler{{Event: "Test()", Handler: "handleTest"}},
			},
		}},
	}
}
func (m *fakeModule) Initialize(context.Context) error { return nil }
func (m *fakeModule) HandleEvent(_ context.Context, event *EventContext) error {
	m.events = append(m.events, event)
	return nil
}
func (m *fakeModule) GetEventFilters() []EventFilter { return m.filters }
func (m *fakeModule) GetStartBlock() uint64 { return 0 }
func (m *fakeModule) Backfill(context.Context, uint64, uint64) error { return nil }

func newRunningRegistry(t *testing.T, modules ...*fakeModule) *ModuleRegistry {
	t.Helper()
	registry := NewModuleRegistry(NewMemStateStore(), zerolog.Nop())
	for _, m := range modules {
		require.NoError(t, registry.RegisterModule(m))
	}
	require.NoError(t, registry.Start())
	return registry
}

func TestRegistryRoutesByTopic(t *testing.T) {
	topic := common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")
	module := &fakeModule{name: "dexv3", filters: []EventFilter{{Topic0: topic.Hex()}}}
	other := &fakeModule{name: "bridge", filters: []EventFilter{{CosmosType: "fbridge"}}}
	registry := newRunningRegistry(t, module, other)

	log := &types.Log{
		Address:     common.HexToAddress("0x1"),
		Topics:      []common.Hash{topic},
		BlockNumber: 42,
	}
	require.NoError(t, registry.ProcessEvent(context.Background(), NormalizeEVM(log, 1700000000)))

	require.Len(t, module.events, 1)
	assert.Empty(t, other.events)
	assert.Equal(t, uint64(42), module.events[0].BlockNumber)
	assert.Equal(t, int64(1700000000), module.events[0].Timestamp)

	state, err := registry.GetModuleState("dexv3")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), state.LastProcessedBlock)
}

func TestRegistryWatchAddress(t *testing.T) {
	module := &fakeModule{name: "dexv3"}
	registry := newRunningRegistry(t, module)

	poolAddr := common.HexToAddress("0xabc0000000000000000000000000000000000001")
	log := &types.Log{
		Address: poolAddr,
		Topics:  []common.Hash{common.HexToHash("0xdead")},
	}
	require.NoError(t, registry.ProcessEvent(context.Background(), NormalizeEVM(log, 0)))
	assert.Empty(t, module.events)

	require.NoError(t, registry.WatchAddress("dexv3", poolAddr.Hex()))
	require.NoError(t, registry.ProcessEvent(context.Background(), NormalizeEVM(log, 0)))
	assert.Len(t, module.events, 1)

	assert.Error(t, registry.WatchAddress("missing", poolAddr.Hex()))
}

func TestRegistryRoutesCosmosByType(t *testing.T) {
	module := &fakeModule{name: "bridge", filters: []EventFilter{{CosmosType: "fbridge.Provision"}}}
	registry := newRunningRegistry(t, module)

	event := NormalizeCosmos(&CosmosEvent{
		Type:       "fbridge.Provision",
		Attributes: map[string]string{"seq": `"17"`, "amount": "5000"},
		Height:     900,
		TxHash:     "ABCDEF",
	}, 1700000100)
	require.NoError(t, registry.ProcessEvent(context.Background(), event))

	require.Len(t, module.events, 1)
	got := module.events[0]
	assert.Equal(t, OriginCosmos, got.Origin)
	assert.Equal(t, "17", got.Attribute("seq"))
	assert.Equal(t, "5000", got.Attribute("amount"))
	assert.Equal(t, uint64(900), got.BlockNumber)
}

func TestRegistrySkipsInactiveModule(t *testing.T) {
	topic := common.HexToHash("0x1111")
	module := &fakeModule{name: "dexv3", filters: []EventFilter{{Topic0: topic.Hex()}}}
	registry := newRunningRegistry(t, module)

	require.NoError(t, registry.state.UpdateModuleStatus(context.Background(), "dexv3", StatusPaused))

	log := &types.Log{Topics: []common.Hash{topic}}
	require.NoError(t, registry.ProcessEvent(context.Background(), NormalizeEVM(log, 0)))
	assert.Empty(t, module.events)
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "value", StripQuotes(`"value"`))
	assert.Equal(t, "value", StripQuotes("value"))
	assert.Equal(t, `"`, StripQuotes(`"`))
	assert.Equal(t, "", StripQuotes(`""`))
}

func TestEventParserDecodesSwap(t *testing.T) {
	const swapABI = `[{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"address","name":"sender","type":"address"},
		{"indexed":true,"internalType":"address","name":"recipient","type":"address"},
		{"indexed":false,"internalType":"int256","name":"amount0","type":"int256"},
		{"indexed":false,"internalType":"int256","name":"amount1","type":"int256"},
		{"indexed":false,"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
		{"indexed":false,"internalType":"uint128","name":"liquidity","type":"uint128"},
		{"indexed":false,"internalType":"int24","name":"tick","type":"int24"}
	],"name":"Swap","type":"event"}]`

	parsed, err := abi.JSON(strings.NewReader(swapABI))
	require.NoError(t, err)

	parser := NewEventParser()
	parser.AddABI(&parsed)

	sender := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	args := parsed.Events["Swap"].Inputs.NonIndexed()
	packed, err := args.Pack(
		big.NewInt(-1000),
		big.NewInt(2000),
		big.NewInt(3),
		big.NewInt(4),
		big.NewInt(-60),
	)
	require.NoError(t, err)

	log := &types.Log{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		Topics: []common.Hash{
			parsed.Events["Swap"].ID,
			common.BytesToHash(common.LeftPadBytes(sender.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(recipient.Bytes(), 32)),
		},
		Data:        packed,
		BlockNumber: 7,
	}

	event, err := parser.ParseEvent(log)
	require.NoError(t, err)
	assert.Equal(t, "Swap", event.EventName)
	assert.Equal(t, sender, event.AddressArg("sender"))
	assert.Equal(t, recipient, event.AddressArg("recipient"))
	assert.Equal(t, "-1000", event.BigArg("amount0").String())
	assert.Equal(t, "2000", event.BigArg("amount1").String())
	assert.Equal(t, "-60", event.BigArg("tick").String())
}

func TestEventParserUnknownTopic(t *testing.T) {
	parser := NewEventParser()
	_, err := parser.ParseEvent(&types.Log{Topics: []common.Hash{common.HexToHash("0xbeef")}})
	assert.ErrorContains(t, err, "unknown event topic")
}
