// Package pricing derives token prices in the chain's native currency by
// walking whitelist trading pairs, and classifies swap volume as tracked or
// untracked USD.
package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/numeric"
	"github.com/klaytn/dex-indexer-example/internal/tokens"
)

const (
	// WKLAYAddress is the canonical wrapped-native token.
	WKLAYAddress = "0x19aac5f612f524b754ca7e7c41cbfa2e981a4432"

	// USDCWKLAYPool anchors the native-to-USD rate.
	USDCWKLAYPool = "0x2c081f2ee4ac7c695caf6ae0fcb83ca4edd0f61f"

	// MinimumNativeLocked is the least whole-unit native liquidity a pool
	// must hold before it can price a token. Guards against thin pools.
	MinimumNativeLocked = 10000.0
)

// whitelistTokens are the reference tokens a pool may be priced against.
// All lowercase.
var whitelistTokens = []string{
	WKLAYAddress,
	tokens.NativeAddress,
	"0x999999999939ba65abb254339eec0b2a0dac80e9", // GCKLAY
	"0xef82b1c6a550e730d8283e1edd4977cd01faf435", // SIX
	"0x5c74070fdea071359b86082bd9f9b3deaafbe32b", // KDAI
	"0xcee8faf64bb97a73bb51e115aa89c17ffa8dd167", // oUSDT
	"0x754288077d0ff82af7a5317c7cb8c444d421d103", // oUSDC
	"0x210bc03f49052169d5588a52c317f71cf2078b85", // oBUSD
	"0x34d21b1e550d73cee41151c77f3c73359527a396", // oETH
	"0x16d0e1fbd024c600ca0380a4c5d57ee7a2ecbf9c", // oWBTC
	"0x9eaefb09fe4aabfbe6b1ca316a3c36afc83a393f", // oXRP
	"0x574e9c26bda8b95d7329505b4657103710eb32ea", // oBNB
	"0xc6a2ad8cc6e4a7e08fc37cc5954be07d499e7654", // KSP
	"0xa323d7386b671e8799dca3582d6658fdcdcd940a", // SKLAY
	"0x5096db80b21ef45230c9e423c373f1fc9c0198dd", // WEMIX
	"0xd51c337147c8033a43f3b5ce0023382320c113aa", // FINIX
	"0x02cbe46fb8a1f579254a9b485788f2d86cad51aa", // BORA
	"0xdd483a970a7a7fef2b223c3510fac852799a88bf", // MIX
	"0xd068c52d81f4409b9502da926ace3301cc41f623", // MBX
	"0x1223baf4f5fb9c9002a2154262440b9ed09d01a7", // LAY
	"0x5fff3a6c16c2208103f318f4713d4d90601a7313", // KLEVA
	"0xd2137fdf10bd9e4e850c17539eb24cfe28777753", // USDK
	"0xd109065ee17e2dc20b3472a4d4fb5907bd687d09", // KLAP
	"0xf80f2b22932fcec6189b9153aa18662b15cc9c00", // stKLAY
	"0x8888888888885b073f3c81258c27e83db228d5f3", // SCNR
	"0xe4f05a66ec68b54a58b17c22107b02e0232cc817", // WKLAY (alt deployment)
	"0x6270b58be569a7c0b8f47594f191631ae5b2c86c", // USDC
	"0xd6dab4cff47df175349e6e7ee2bf7c40bb8c05a3", // USDT
	"0xdcbacf3f7a069922e677912998c8d57423c37dfa", // WBTC
	"0xcd6f29dc9ca217d0973d3d21bf58edd3ca871a86", // WETH
	"0x078db7827a5531359f6cb63f62cfa20183c4f10c", // DAI
}

var whitelistSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(whitelistTokens))
	for _, addr := range whitelistTokens {
		set[strings.ToLower(addr)] = struct{}{}
	}
	return set
}()

// IsWhitelisted reports whether an address is a pricing reference token.
func IsWhitelisted(address string) bool {
	_, ok := whitelistSet[strings.ToLower(address)]
	return ok
}

// Engine answers price questions against the entity store.
type Engine struct {
	store  entity.Store
	logger zerolog.Logger
}

func NewEngine(store entity.Store, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "pricing").Logger(),
	}
}

// NativePriceUSD returns the current native-to-USD rate, read from the
// anchor stable pool when it exists. Before that pool trades the rate
// defaults to 1 so early USD figures stay native-denominated.
func (e *Engine) NativePriceUSD(ctx context.Context) (float64, error) {
	pool, err := e.store.Pool(ctx, USDCWKLAYPool)
	if err != nil {
		return 0, fmt.Errorf("failed to load anchor pool: %w", err)
	}
	if pool != nil && pool.Token0Price > 0 {
		return pool.Token0Price, nil
	}
	return 1, nil
}

// NativePerToken finds a token's price in native units by scanning its
// whitelist pools and taking the one with the deepest qualifying native
// liquidity. Returns 0 when no pool qualifies; a missing price is data,
// not an error.
func (e *Engine) NativePerToken(ctx context.Context, token *entity.Token) (float64, error) {
	if token.ID == WKLAYAddress || token.ID == tokens.NativeAddress {
		return 1, nil
	}

	whitelist, err := e.store.WhitelistPoolsByToken(ctx, token.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load whitelist pools for %s: %w", token.ID, err)
	}

	priceSoFar := 0.0
	largestLiquidityNative := 0.0

	for _, record := range whitelist {
		pool, err := e.store.Pool(ctx, record.PoolID)
		if err != nil {
			return 0, fmt.Errorf("failed to load pool %s: %w", record.PoolID, err)
		}
		if pool == nil {
			v2Pool, err := e.store.V2Pool(ctx, record.PoolID)
			if err != nil {
				return 0, fmt.Errorf("failed to load v2 pool %s: %w", record.PoolID, err)
			}
			if v2Pool == nil {
				e.logger.Warn().Str("pool", record.PoolID).Str("token", token.ID).Msg("whitelist record points at unknown pool")
				continue
			}
			if v2Pool.TokenAID == token.ID {
				counter, err := e.store.Token(ctx, v2Pool.TokenBID)
				if err != nil {
					return 0, err
				}
				if counter == nil {
					continue
				}
				lockedCounter := numeric.ConvertTokenToDecimal(v2Pool.LiquidityB, counter.Decimals)
				if lockedCounter >= 0 {
					nativeLocked := math.Floor(lockedCounter * counter.DerivedNative)
					if nativeLocked > largestLiquidityNative && nativeLocked > MinimumNativeLocked {
						largestLiquidityNative = nativeLocked
						priceSoFar = v2Pool.TokenAPrice * counter.DerivedNative
					}
				}
			}
			if v2Pool.TokenBID == token.ID {
				counter, err := e.store.Token(ctx, v2Pool.TokenAID)
				if err != nil {
					return 0, err
				}
				if counter == nil {
					continue
				}
				lockedCounter := numeric.ConvertTokenToDecimal(v2Pool.LiquidityA, counter.Decimals)
				if lockedCounter >= 0 {
					nativeLocked := math.Floor(lockedCounter * counter.DerivedNative)
					if nativeLocked > largestLiquidityNative && nativeLocked > MinimumNativeLocked {
						largestLiquidityNative = nativeLocked
						priceSoFar = v2Pool.TokenBPrice * counter.DerivedNative
					}
				}
			}
			continue
		}

		if pool.Liquidity == nil || pool.Liquidity.Sign() <= 0 {
			continue
		}
		if pool.Token0ID == token.ID {
			counter, err := e.store.Token(ctx, pool.Token1ID)
			if err != nil {
				return 0, err
			}
			if counter == nil {
				continue
			}
			nativeLocked := math.Floor(pool.TotalValueLockedToken1 * counter.DerivedNative)
			if nativeLocked > largestLiquidityNative && nativeLocked > MinimumNativeLocked {
				largestLiquidityNative = nativeLocked
				priceSoFar = pool.Token0Price * counter.DerivedNative
			}
		}
		if pool.Token1ID == token.ID {
			counter, err := e.store.Token(ctx, pool.Token0ID)
			if err != nil {
				return 0, err
			}
			if counter == nil {
				continue
			}
			nativeLocked := math.Floor(pool.TotalValueLockedToken0 * counter.DerivedNative)
			if nativeLocked > largestLiquidityNative && nativeLocked > MinimumNativeLocked {
				largestLiquidityNative = nativeLocked
				priceSoFar = pool.Token1Price * counter.DerivedNative
			}
		}
	}

	return priceSoFar, nil
}

// TrackedAmountUSD classifies a two-sided amount pair against the
// whitelist: both sides whitelisted sums both legs, one side doubles that
// leg, neither tracks nothing.
func (e *Engine) TrackedAmountUSD(ctx context.Context, amount0 float64, token0 *entity.Token, amount1 float64, token1 *entity.Token) (float64, error) {
	bundle, err := e.store.Bundle(ctx, entity.BundleID)
	if err != nil {
		return 0, fmt.Errorf("failed to load bundle: %w", err)
	}
	if bundle == nil {
		return 0, fmt.Errorf("bundle %q does not exist", entity.BundleID)
	}

	price0USD := token0.DerivedNative * bundle.NativePriceUSD
	price1USD := token1.DerivedNative * bundle.NativePriceUSD

	whitelisted0 := IsWhitelisted(token0.ID)
	whitelisted1 := IsWhitelisted(token1.ID)

	switch {
	case whitelisted0 && whitelisted1:
		return amount0*price0USD + amount1*price1USD, nil
	case whitelisted0:
		return amount0 * price0USD * 2, nil
	case whitelisted1:
		return amount1 * price1USD * 2, nil
	default:
		return 0, nil
	}
}
