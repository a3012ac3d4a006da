package bridge

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
)

const testBridge = "0x00000000000000000000000000000000000000ee"

func newTestModule(t *testing.T, store *entity.MemStore) *Module {
	t.Helper()
	manifest := &core.Manifest{
		Name:    moduleName,
		Version: moduleVersion,
		Context: map[string]interface{}{
			"bridgeAddress": testBridge,
		},
	}
	m, err := New(manifest, Deps{Store: store}, zerolog.Nop())
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

func (m *Module) bridgeLog(t *testing.T, name string, block uint64, vals ...interface{}) *types.Log {
	return &types.Log{
		Address:     common.HexToAddress(testBridge),
		Topics:      []common.Hash{m.bridgeABI.Events[name].ID},
		Data:        packEventData(t, m.bridgeABI, name, vals...),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x21"),
		Index:       0,
	}
}

// provision mirrors the struct parameter of the provision events; the packer
// matches fields to tuple components by name.
type provision struct {
	Seq      *big.Int
	Sender   string
	Receiver string
	Amount   *big.Int
}

func seqOnly(seq int64) provision {
	return provision{Seq: big.NewInt(seq), Amount: big.NewInt(0)}
}

func provisionEvent(t *testing.T, m *Module, block uint64, seq int64, timestamp int64) *core.EventContext {
	log := m.bridgeLog(t, "ProvisionConfirm", block, provision{
		Seq:      big.NewInt(seq),
		Sender:   "link1sender",
		Receiver: "0xreceiver",
		Amount:   big.NewInt(5000),
	})
	return core.NormalizeEVM(log, timestamp)
}

func TestProvisionConfirmCreatesTransfer(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, provisionEvent(t, m, 200, 7, 1000)))

	transfer, err := store.BridgeTransfer(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, transfer)
	assert.Equal(t, uint64(7), transfer.Seq)
	assert.Equal(t, "link1sender", transfer.Sender)
	assert.Equal(t, "0xreceiver", transfer.Receiver)
	assert.Equal(t, "5000", transfer.Amount.String())
	assert.Equal(t, entity.StatusConfirming, transfer.Status)
	assert.Equal(t, testBridge, transfer.ContractAddress)
	// no announced lock yet, so the protocol default applies
	assert.Equal(t, int64(1000+1800), transfer.DeliverTimestamp)
	assert.Equal(t, uint64(200), transfer.BlockHeight)

	seq, err := store.BridgeSequence(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, seq)
	assert.Equal(t, uint64(7), seq.Seq)
}

func TestProvisionEventsHashTupleSignature(t *testing.T) {
	m := newTestModule(t, entity.NewMemStore())

	// the contract emits one struct parameter, so topic0 hashes the
	// canonical tuple form, not a flattened argument list
	provisionSig := "((uint256,string,string,uint256))"
	for _, name := range []string{"ProvisionConfirm", "Claim", "RemoveProvision"} {
		want := crypto.Keccak256Hash([]byte(name + provisionSig))
		assert.Equal(t, want, m.bridgeABI.Events[name].ID, name)
	}
	assert.Equal(t, crypto.Keccak256Hash([]byte("HoldClaim(uint256,uint256)")), m.bridgeABI.Events["HoldClaim"].ID)
}

func TestProvisionConfirmDecodesTupleLayout(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)
	ctx := context.Background()

	// Hand-built payload: a tuple with dynamic members sits behind a
	// leading offset word, with the string offsets relative to the start
	// of the tuple.
	word := func(n int64) []byte { return common.LeftPadBytes(big.NewInt(n).Bytes(), 32) }
	str := func(s string) []byte {
		return append(word(int64(len(s))), common.RightPadBytes([]byte(s), 32)...)
	}
	data := word(0x20)                 // offset to the provision tuple
	data = append(data, word(7)...)    // seq
	data = append(data, word(0x80)...) // sender offset
	data = append(data, word(0xc0)...) // receiver offset
	data = append(data, word(5000)...) // amount
	data = append(data, str("link1sender")...)
	data = append(data, str("0xreceiver")...)

	log := &types.Log{
		Address:     common.HexToAddress(testBridge),
		Topics:      []common.Hash{m.bridgeABI.Events["ProvisionConfirm"].ID},
		Data:        data,
		BlockNumber: 200,
		TxHash:      common.HexToHash("0x21"),
	}
	require.NoError(t, m.HandleEvent(ctx, core.NormalizeEVM(log, 1000)))

	transfer, err := store.BridgeTransfer(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, transfer)
	assert.Equal(t, uint64(7), transfer.Seq)
	assert.Equal(t, "link1sender", transfer.Sender)
	assert.Equal(t, "0xreceiver", transfer.Receiver)
	assert.Equal(t, "5000", transfer.Amount.String())
}

func TestTransferStatusMachine(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, provisionEvent(t, m, 200, 9, 1000)))

	// operator puts the claim on hold indefinitely
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	hold := m.bridgeLog(t, "HoldClaim", 201, big.NewInt(9), maxUint256)
	require.NoError(t, m.HandleEvent(ctx, core.NormalizeEVM(hold, 1010)))

	transfer, err := store.BridgeTransfer(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusHold, transfer.Status)
	assert.Equal(t, int64(math.MaxInt64), transfer.DeliverTimestamp)

	// release resets the clock to the release time
	release := m.bridgeLog(t, "ReleaseClaim", 202, big.NewInt(9))
	require.NoError(t, m.HandleEvent(ctx, core.NormalizeEVM(release, 1020)))

	transfer, err = store.BridgeTransfer(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusConfirming, transfer.Status)
	assert.Equal(t, int64(1020), transfer.DeliverTimestamp)

	claim := m.bridgeLog(t, "Claim", 203, seqOnly(9))
	require.NoError(t, m.HandleEvent(ctx, core.NormalizeEVM(claim, 1030)))

	transfer, err = store.BridgeTransfer(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDelivered, transfer.Status)
}

func TestRemoveProvisionMarksFailed(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, provisionEvent(t, m, 200, 3, 1000)))

	remove := m.bridgeLog(t, "RemoveProvision", 210, seqOnly(3))
	require.NoError(t, m.HandleEvent(ctx, core.NormalizeEVM(remove, 1100)))

	transfer, err := store.BridgeTransfer(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, transfer.Status)
	assert.Equal(t, uint64(210), transfer.BlockHeight)
}

func TestClaimOnUnknownSequenceIsLoggedNotFailed(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)

	claim := m.bridgeLog(t, "Claim", 200, seqOnly(404))
	require.NoError(t, m.HandleEvent(context.Background(), core.NormalizeEVM(claim, 1000)))

	transfer, err := store.BridgeTransfer(context.Background(), "404")
	require.NoError(t, err)
	assert.Nil(t, transfer)
}

func TestChangeTimeLockAppliesToLaterProvisions(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)
	ctx := context.Background()

	change := m.bridgeLog(t, "ChangeTransferTimeLock", 100, big.NewInt(600))
	require.NoError(t, m.HandleEvent(ctx, core.NormalizeEVM(change, 900)))

	state, err := store.BridgeState(ctx, testBridge)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(600), state.TransferLock)

	require.NoError(t, m.HandleEvent(ctx, provisionEvent(t, m, 200, 11, 1000)))

	transfer, err := store.BridgeTransfer(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, int64(1600), transfer.DeliverTimestamp)
}

func TestFbridgeCreatesFinschiaLeg(t *testing.T) {
	store := entity.NewMemStore()
	m := newTestModule(t, store)
	ctx := context.Background()

	// attribute values arrive JSON-encoded from the chain
	event := core.NormalizeCosmos(&core.CosmosEvent{
		Type: defaultFbridgeEventType,
		Attributes: map[string]string{
			"seq":      `"15"`,
			"sender":   `"link1abc"`,
			"receiver": `"0xdef"`,
			"amount":   `"123456"`,
		},
		Height: 5000,
		TxHash: "ABCDEF",
	}, 2000)
	require.NoError(t, m.HandleEvent(ctx, event))

	transfer, err := store.FinschiaTransfer(ctx, "15")
	require.NoError(t, err)
	require.NotNil(t, transfer)
	assert.Equal(t, uint64(15), transfer.Seq)
	assert.Equal(t, "link1abc", transfer.Sender)
	assert.Equal(t, "0xdef", transfer.Receiver)
	assert.Equal(t, "123456", transfer.Amount.String())
	assert.Equal(t, entity.StatusInflight, transfer.Status)
	assert.Equal(t, uint64(5000), transfer.BlockHeight)
	assert.Equal(t, "ABCDEF", transfer.SourceTxHash)

	seq, err := store.BridgeSequence(ctx, "15")
	require.NoError(t, err)
	require.NotNil(t, seq)

	// an unrelated cosmos event type is ignored
	other := core.NormalizeCosmos(&core.CosmosEvent{
		Type:       "transfer",
		Attributes: map[string]string{"seq": "99"},
	}, 2000)
	require.NoError(t, m.HandleEvent(ctx, other))
	missing, err := store.FinschiaTransfer(ctx, "99")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
