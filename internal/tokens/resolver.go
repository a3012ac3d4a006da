// Package tokens lazily materializes Token entities on first reference,
// probing the chain for ERC20 metadata and falling back to the static
// definition table for contracts that misreport it.
package tokens

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/chain"
	"github.com/klaytn/dex-indexer-example/internal/entity"
)

// NativeAddress is the sentinel the pool contracts use for the chain's
// native currency. It never has a token contract behind it.
const NativeAddress = "0x0000000000000000000000000000000000000000"

// Resolver creates tokens on demand. Decimals are load-bearing for every
// downstream amount conversion, so a token whose decimals cannot be
// determined is not created at all.
type Resolver struct {
	store  entity.Store
	erc20  chain.ERC20Reader
	logger zerolog.Logger
}

func NewResolver(store entity.Store, erc20 chain.ERC20Reader, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		erc20:  erc20,
		logger: logger.With().Str("component", "tokens").Logger(),
	}
}

// Normalize lowercases a hex address for use as an entity id.
func Normalize(address string) string {
	return strings.ToLower(address)
}

// ResolveOrCreate returns the token for an address, creating it from chain
// metadata on first sight. Returns (nil, nil) when the token's decimals
// cannot be determined; callers skip whatever referenced it.
func (r *Resolver) ResolveOrCreate(ctx context.Context, address string) (*entity.Token, error) {
	id := Normalize(address)

	token, err := r.store.Token(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load token %s: %w", id, err)
	}
	if token != nil {
		return token, nil
	}

	token = &entity.Token{ID: id, TotalSupply: new(big.Int)}

	if id == NativeAddress {
		token.Symbol = "KLAY"
		token.Name = "klaytn native token"
		token.Decimals = 18
	} else {
		metadata, err := r.erc20.TokenMetadata(ctx, common.HexToAddress(id))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch metadata for %s: %w", id, err)
		}

		static, hasStatic := chain.StaticTokenFromAddress(common.HexToAddress(id))
		if !metadata.DecimalsOK {
			if !hasStatic {
				r.logger.Warn().Str("token", id).Msg("could not determine token decimals, skipping")
				return nil, nil
			}
			metadata.Decimals = static.Decimals
			metadata.DecimalsOK = true
		}
		if metadata.Symbol == "unknown" && hasStatic {
			metadata.Symbol = static.Symbol
		}
		if metadata.Name == "unknown" && hasStatic {
			metadata.Name = static.Name
		}

		token.Symbol = metadata.Symbol
		token.Name = metadata.Name
		token.Decimals = metadata.Decimals
		if metadata.TotalSupply != nil {
			token.TotalSupply = metadata.TotalSupply
		}
	}

	if err := r.store.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token %s: %w", id, err)
	}
	r.logger.Debug().Str("token", id).Str("symbol", token.Symbol).Int64("decimals", token.Decimals).Msg("created token")
	return token, nil
}
