package tokens

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/dex-indexer-example/internal/chain"
	"github.com/klaytn/dex-indexer-example/internal/entity"
)

type stubERC20 struct {
	metadata map[string]chain.TokenMetadata
	err      error
	calls    int
}

func (s *stubERC20) TokenMetadata(_ context.Context, token common.Address) (chain.TokenMetadata, error) {
	s.calls++
	if s.err != nil {
		return chain.TokenMetadata{}, s.err
	}
	return s.metadata[Normalize(token.Hex())], nil
}

func TestResolveOrCreateNative(t *testing.T) {
	store := entity.NewMemStore()
	resolver := NewResolver(store, &stubERC20{}, zerolog.Nop())

	token, err := resolver.ResolveOrCreate(context.Background(), NativeAddress)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "KLAY", token.Symbol)
	assert.Equal(t, int64(18), token.Decimals)
	assert.Equal(t, "0", token.TotalSupply.String())

	saved, err := store.Token(context.Background(), NativeAddress)
	require.NoError(t, err)
	assert.Equal(t, token, saved)
}

func TestResolveOrCreateFromChain(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000aa"
	erc20 := &stubERC20{metadata: map[string]chain.TokenMetadata{
		addr: {
			Symbol:      "TKN",
			Name:        "Test Token",
			Decimals:    6,
			DecimalsOK:  true,
			TotalSupply: big.NewInt(1000000),
		},
	}}
	store := entity.NewMemStore()
	resolver := NewResolver(store, erc20, zerolog.Nop())

	token, err := resolver.ResolveOrCreate(context.Background(), "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, addr, token.ID)
	assert.Equal(t, "TKN", token.Symbol)
	assert.Equal(t, int64(6), token.Decimals)

	// second resolve hits the store, not the chain
	again, err := resolver.ResolveOrCreate(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, 1, erc20.calls)
}

func TestResolveOrCreateUnknownDecimals(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000bb"
	erc20 := &stubERC20{metadata: map[string]chain.TokenMetadata{
		addr: {Symbol: "BAD", Name: "Bad Token"},
	}}
	store := entity.NewMemStore()
	resolver := NewResolver(store, erc20, zerolog.Nop())

	token, err := resolver.ResolveOrCreate(context.Background(), addr)
	require.NoError(t, err)
	assert.Nil(t, token)

	saved, err := store.Token(context.Background(), addr)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestResolveOrCreateStaticFallback(t *testing.T) {
	// WKLAY misses decimals on chain but has a static definition
	addr := "0x19aac5f612f524b754ca7e7c41cbfa2e981a4432"
	erc20 := &stubERC20{metadata: map[string]chain.TokenMetadata{
		addr: {Symbol: "unknown", Name: "unknown"},
	}}
	store := entity.NewMemStore()
	resolver := NewResolver(store, erc20, zerolog.Nop())

	token, err := resolver.ResolveOrCreate(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "WKLAY", token.Symbol)
	assert.Equal(t, "Wrapped Klay", token.Name)
	assert.Equal(t, int64(18), token.Decimals)
}

func TestResolveOrCreateChainError(t *testing.T) {
	erc20 := &stubERC20{err: errors.New("rpc down")}
	resolver := NewResolver(entity.NewMemStore(), erc20, zerolog.Nop())

	token, err := resolver.ResolveOrCreate(context.Background(), "0x00000000000000000000000000000000000000cc")
	assert.Error(t, err)
	assert.Nil(t, token)
}
