package processor

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/dex-indexer-example/internal/database"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/rpc"
)

type captureModule struct {
	name    string
	filters []core.EventFilter
	events  []*core.EventContext
}

func (m *captureModule) Name() string { return m.name }

func (m *captureModule) Version() string { return "1.0.0" }
func (m *captureModule) Manifest() *core.Manifest {
	return &core.Manifest{
		Name:    m.name,
		Version: "1.0.0",
		DataSources: []core.DataSource{{
			Kind:   "ethereum/contract",
			Name:   "Test",
			Source: core.DataSourceSource{ABI: "Test"},
			Mapping: core.DataSourceMapping{
				EventHandlers: []core.EventHandler{{Event: "Test()", Handler: "handleTest"}},
			},
		}},
	}
}
func (m *captureModule) Initialize(context.Context) error { return nil }
func (m *captureModule) HandleEvent(_ context.Context, event *core.EventContext) error {
	m.events = append(m.events, event)
	return nil
}
func (m *captureModule) GetEventFilters() []core.EventFilter { return m.filters }

func (m *captureModule) GetStartBlock() uint64 { return 0 }

func (m *captureModule) Backfill(context.Context, uint64, uint64) error { return nil }

func TestConvertBlock(t *testing.T) {
	header := &types.Header{
		Number:     big.NewInt(136150000),
		ParentHash: common.HexToHash("0x01"),
		Time:       1717000000,
		GasLimit:   60000000,
		GasUsed:    1234567,
	}
	block := types.NewBlockWithHeader(header)

	p := &BlockProcessor{logger: zerolog.Nop()}
	dbBlock := p.convertBlock(block)

	assert.Equal(t, uint64(136150000), dbBlock.Number)
	assert.Equal(t, block.Hash().Hex(), dbBlock.Hash)
	assert.Equal(t, common.HexToHash("0x01").Hex(), dbBlock.ParentHash)
	assert.Equal(t, int64(1717000000), dbBlock.Timestamp)
	assert.Equal(t, uint64(60000000), dbBlock.GasLimit)
	assert.Equal(t, uint64(1234567), dbBlock.GasUsed)
	assert.Equal(t, 0, dbBlock.TransactionCount)
}

func TestConvertTransactionRecoversSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	signer := types.LatestSignerForChainID(big.NewInt(8217))
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(25000000000),
	}), signer, key)
	require.NoError(t, err)

	p := &TransactionProcessor{logger: zerolog.Nop()}
	dbTx := p.convertTransaction(tx, 100, 3)

	assert.Equal(t, tx.Hash().Hex(), dbTx.Hash)
	assert.Equal(t, sender.Hex(), dbTx.FromAddress)
	assert.Equal(t, to.Hex(), *dbTx.ToAddress)
	assert.Equal(t, uint64(100), dbTx.BlockNumber)
	assert.Equal(t, 3, dbTx.TransactionIndex)
	assert.Equal(t, uint64(7), dbTx.Nonce)
	assert.Equal(t, "1000", dbTx.Value.String())
}

func TestConvertTransactionWithMetaOverridesKaiaFields(t *testing.T) {
	// Kaia typed transactions arrive re-encoded as legacy transactions, so
	// the hash and sender computed locally are wrong and the node-reported
	// metadata must win.
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      90000,
		GasPrice: big.NewInt(25000000000),
		V:        big.NewInt(0),
		R:        big.NewInt(0),
		S:        big.NewInt(1),
	})

	meta := &rpc.TransactionMeta{
		Hash:         common.HexToHash("0xfeed"),
		From:         common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		IsKaiaType:   true,
		OriginalType: 0x31,
	}

	p := &TransactionProcessor{logger: zerolog.Nop()}
	dbTx := p.convertTransactionWithMeta(tx, 200, 0, meta)

	assert.Equal(t, meta.Hash.Hex(), dbTx.Hash)
	assert.Equal(t, meta.From.Hex(), dbTx.FromAddress)
}

func TestDispatchEventsRoutesToModules(t *testing.T) {
	topic := common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")
	module := &captureModule{name: "dexv3", filters: []core.EventFilter{{Topic0: topic.Hex()}}}

	registry := core.NewModuleRegistry(core.NewMemStateStore(), zerolog.Nop())
	require.NoError(t, registry.RegisterModule(module))
	require.NoError(t, registry.Start())

	header := &types.Header{Number: big.NewInt(500), Time: 1717000123}
	block := types.NewBlockWithHeader(header)

	txHash := common.HexToHash("0xabc1")
	receipts := []*types.Receipt{{
		TxHash: txHash,
		Logs: []*types.Log{
			{
				Address:     common.HexToAddress("0x00000000000000000000000000000000000000dd"),
				Topics:      []common.Hash{topic},
				BlockNumber: 500,
				TxHash:      txHash,
			},
			{
				// Unrelated topic, must not reach the module
				Address:     common.HexToAddress("0x00000000000000000000000000000000000000dd"),
				Topics:      []common.Hash{common.HexToHash("0x02")},
				BlockNumber: 500,
				TxHash:      txHash,
			},
		},
	}}

	sender := "0x00000000000000000000000000000000000000EE"
	transactions := []*database.Transaction{{
		Hash:        txHash.Hex(),
		FromAddress: sender,
	}}

	p := &BlockProcessor{registry: registry, logger: zerolog.Nop()}
	require.NoError(t, p.dispatchEvents(context.Background(), block, receipts, transactions))

	require.Len(t, module.events, 1)
	event := module.events[0]
	assert.Equal(t, uint64(500), event.BlockNumber)
	assert.Equal(t, int64(1717000123), event.Timestamp)
	assert.Equal(t, strings.ToLower(sender), event.TxFrom)
	assert.False(t, event.Backfill)
}
