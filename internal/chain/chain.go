// Package chain wraps the on-chain reads the event handlers depend on:
// ERC20 metadata, concentrated-liquidity pool state and v2 reserve reads.
// Handlers depend on the small reader interfaces so tests can stub the RPC
// layer out entirely.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// TokenMetadata is the result of probing an ERC20 contract. DecimalsOK
// reports whether the decimals call itself succeeded; token creation must
// not proceed on a guessed decimals value.
type TokenMetadata struct {
	Symbol      string
	Name        string
	Decimals    int64
	DecimalsOK  bool
	TotalSupply *big.Int
}

// ERC20Reader fetches token metadata from the chain.
type ERC20Reader interface {
	TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)
}

// PoolReader reads live state from a concentrated-liquidity pool contract.
type PoolReader interface {
	Liquidity(ctx context.Context, pool common.Address) (*big.Int, error)
	FeeGrowthGlobals(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error)
	TickFeeGrowthOutside(ctx context.Context, pool common.Address, tickIdx int64) (*big.Int, *big.Int, error)
	PoolImmutables(ctx context.Context, pool common.Address) (token0, token1 common.Address, fee int64, err error)
}

// V2PoolReader reads both reserves of a v2 pool in one call.
type V2PoolReader interface {
	CurrentPool(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error)
	V2PoolTokens(ctx context.Context, pool common.Address) (tokenA, tokenB common.Address, err error)
}

// FactoryReader enumerates the pools a factory has already deployed. Used
// once per factory to seed pools created before the indexer's start block.
type FactoryReader interface {
	PoolCount(ctx context.Context, factory common.Address) (int64, error)
	PoolAddress(ctx context.Context, factory common.Address, index int64) (common.Address, error)
	V2PoolCount(ctx context.Context, factory common.Address) (int64, error)
	V2PoolAddress(ctx context.Context, factory common.Address, index int64) (common.Address, error)
}

// Client implements the reader interfaces over an ethclient connection.
type Client struct {
	rpc          *ethclient.Client
	erc20ABI     abi.ABI
	poolABI      abi.ABI
	v2PoolABI    abi.ABI
	factoryABI   abi.ABI
	v2FactoryABI abi.ABI
	logger       zerolog.Logger
}

var (
	_ ERC20Reader   = (*Client)(nil)
	_ PoolReader    = (*Client)(nil)
	_ V2PoolReader  = (*Client)(nil)
	_ FactoryReader = (*Client)(nil)
)

func NewClient(rpc *ethclient.Client, logger zerolog.Logger) (*Client, error) {
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(poolABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}
	v2PoolABI, err := abi.JSON(strings.NewReader(v2PoolABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v2 pool ABI: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	v2FactoryABI, err := abi.JSON(strings.NewReader(v2FactoryABIString))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v2 factory ABI: %w", err)
	}
	return &Client{
		rpc:          rpc,
		erc20ABI:     erc20ABI,
		poolABI:      poolABI,
		v2PoolABI:    v2PoolABI,
		factoryABI:   factoryABI,
		v2FactoryABI: v2FactoryABI,
		logger:       logger.With().Str("component", "chain").Logger(),
	}, nil
}

// Dial connects to the RPC endpoint and returns a ready Client.
func Dial(endpoint string, logger zerolog.Logger) (*Client, error) {
	rpc, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return NewClient(rpc, logger)
}

// TokenMetadata probes name/symbol/decimals/totalSupply, falling back to the
// bytes32 NAME/SYMBOL variants some older tokens expose.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	metadata := TokenMetadata{Symbol: "unknown", Name: "unknown"}
	contract := bind.NewBoundContract(token, c.erc20ABI, c.rpc, c.rpc, c.rpc)
	opts := &bind.CallOpts{Context: ctx}

	var results []interface{}
	results = make([]interface{}, 1)
	results[0] = new(string)
	if err := contract.Call(opts, &results, "name"); err == nil {
		if name, ok := results[0].(*string); ok && name != nil && *name != "" {
			metadata.Name = *name
		}
	}
	if metadata.Name == "unknown" {
		results = make([]interface{}, 1)
		results[0] = new([32]byte)
		if err := contract.Call(opts, &results, "NAME"); err == nil {
			if b32, ok := results[0].(*[32]byte); ok && b32 != nil {
				if name := strings.TrimRight(string(b32[:]), "\x00"); name != "" {
					metadata.Name = name
				}
			}
		}
	}

	results = make([]interface{}, 1)
	results[0] = new(string)
	if err := contract.Call(opts, &results, "symbol"); err == nil {
		if sym, ok := results[0].(*string); ok && sym != nil && *sym != "" {
			metadata.Symbol = *sym
		}
	}
	if metadata.Symbol == "unknown" {
		results = make([]interface{}, 1)
		results[0] = new([32]byte)
		if err := contract.Call(opts, &results, "SYMBOL"); err == nil {
			if b32, ok := results[0].(*[32]byte); ok && b32 != nil {
				if sym := strings.TrimRight(string(b32[:]), "\x00"); sym != "" {
					metadata.Symbol = sym
				}
			}
		}
	}

	results = make([]interface{}, 1)
	results[0] = new(uint8)
	if err := contract.Call(opts, &results, "decimals"); err == nil {
		if dec, ok := results[0].(*uint8); ok && dec != nil {
			metadata.Decimals = int64(*dec)
			metadata.DecimalsOK = true
		}
	}

	results = make([]interface{}, 1)
	results[0] = new(*big.Int)
	if err := contract.Call(opts, &results, "totalSupply"); err == nil {
		if ts, ok := results[0].(**big.Int); ok && ts != nil && *ts != nil {
			metadata.TotalSupply = *ts
		}
	}

	return metadata, nil
}

// Liquidity returns the pool's current in-range liquidity.
func (c *Client) Liquidity(ctx context.Context, pool common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(pool, c.poolABI, c.rpc, c.rpc, c.rpc)
	results := make([]interface{}, 1)
	results[0] = new(*big.Int)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &results, "liquidity"); err != nil {
		return nil, fmt.Errorf("liquidity call failed for %s: %w", pool.Hex(), err)
	}
	liq, ok := results[0].(**big.Int)
	if !ok || liq == nil || *liq == nil {
		return nil, fmt.Errorf("unexpected liquidity result for %s", pool.Hex())
	}
	return *liq, nil
}

// FeeGrowthGlobals returns both fee-growth-global accumulators.
func (c *Client) FeeGrowthGlobals(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	contract := bind.NewBoundContract(pool, c.poolABI, c.rpc, c.rpc, c.rpc)
	opts := &bind.CallOpts{Context: ctx}

	read := func(method string) (*big.Int, error) {
		results := make([]interface{}, 1)
		results[0] = new(*big.Int)
		if err := contract.Call(opts, &results, method); err != nil {
			return nil, fmt.Errorf("%s call failed for %s: %w", method, pool.Hex(), err)
		}
		v, ok := results[0].(**big.Int)
		if !ok || v == nil || *v == nil {
			return nil, fmt.Errorf("unexpected %s result for %s", method, pool.Hex())
		}
		return *v, nil
	}

	fg0, err := read("feeGrowthGlobal0X128")
	if err != nil {
		return nil, nil, err
	}
	fg1, err := read("feeGrowthGlobal1X128")
	if err != nil {
		return nil, nil, err
	}
	return fg0, fg1, nil
}

// TickFeeGrowthOutside reads a tick's fee-growth-outside snapshots. Not all
// ticks are initialized on chain, zero values are expected for those.
func (c *Client) TickFeeGrowthOutside(ctx context.Context, pool common.Address, tickIdx int64) (*big.Int, *big.Int, error) {
	contract := bind.NewBoundContract(pool, c.poolABI, c.rpc, c.rpc, c.rpc)
	results := make([]interface{}, 8)
	results[0] = new(*big.Int)
	results[1] = new(*big.Int)
	results[2] = new(*big.Int)
	results[3] = new(*big.Int)
	results[4] = new(*big.Int)
	results[5] = new(*big.Int)
	results[6] = new(uint32)
	results[7] = new(bool)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &results, "ticks", big.NewInt(tickIdx)); err != nil {
		return nil, nil, fmt.Errorf("ticks call failed for %s tick %d: %w", pool.Hex(), tickIdx, err)
	}
	fg0, ok0 := results[2].(**big.Int)
	fg1, ok1 := results[3].(**big.Int)
	if !ok0 || !ok1 || fg0 == nil || fg1 == nil || *fg0 == nil || *fg1 == nil {
		return nil, nil, fmt.Errorf("unexpected ticks result for %s tick %d", pool.Hex(), tickIdx)
	}
	return *fg0, *fg1, nil
}

// CurrentPool returns the live reserves of a v2 pool.
func (c *Client) CurrentPool(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	contract := bind.NewBoundContract(pool, c.v2PoolABI, c.rpc, c.rpc, c.rpc)
	results := make([]interface{}, 2)
	results[0] = new(*big.Int)
	results[1] = new(*big.Int)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &results, "getCurrentPool"); err != nil {
		return nil, nil, fmt.Errorf("getCurrentPool call failed for %s: %w", pool.Hex(), err)
	}
	liqA, okA := results[0].(**big.Int)
	liqB, okB := results[1].(**big.Int)
	if !okA || !okB || liqA == nil || liqB == nil || *liqA == nil || *liqB == nil {
		return nil, nil, fmt.Errorf("unexpected getCurrentPool result for %s", pool.Hex())
	}
	return *liqA, *liqB, nil
}

// PoolImmutables reads the token pair and fee tier fixed at pool deployment.
func (c *Client) PoolImmutables(ctx context.Context, pool common.Address) (common.Address, common.Address, int64, error) {
	contract := bind.NewBoundContract(pool, c.poolABI, c.rpc, c.rpc, c.rpc)
	opts := &bind.CallOpts{Context: ctx}

	readAddr := func(method string) (common.Address, error) {
		results := make([]interface{}, 1)
		results[0] = new(common.Address)
		if err := contract.Call(opts, &results, method); err != nil {
			return common.Address{}, fmt.Errorf("%s call failed for %s: %w", method, pool.Hex(), err)
		}
		addr, ok := results[0].(*common.Address)
		if !ok || addr == nil {
			return common.Address{}, fmt.Errorf("unexpected %s result for %s", method, pool.Hex())
		}
		return *addr, nil
	}

	token0, err := readAddr("token0")
	if err != nil {
		return common.Address{}, common.Address{}, 0, err
	}
	token1, err := readAddr("token1")
	if err != nil {
		return common.Address{}, common.Address{}, 0, err
	}

	results := make([]interface{}, 1)
	results[0] = new(*big.Int)
	if err := contract.Call(opts, &results, "fee"); err != nil {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("fee call failed for %s: %w", pool.Hex(), err)
	}
	fee, ok := results[0].(**big.Int)
	if !ok || fee == nil || *fee == nil {
		return common.Address{}, common.Address{}, 0, fmt.Errorf("unexpected fee result for %s", pool.Hex())
	}
	return token0, token1, (*fee).Int64(), nil
}

// V2PoolTokens reads the token pair of a v2 pool.
func (c *Client) V2PoolTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	contract := bind.NewBoundContract(pool, c.v2PoolABI, c.rpc, c.rpc, c.rpc)
	opts := &bind.CallOpts{Context: ctx}

	readAddr := func(method string) (common.Address, error) {
		results := make([]interface{}, 1)
		results[0] = new(common.Address)
		if err := contract.Call(opts, &results, method); err != nil {
			return common.Address{}, fmt.Errorf("%s call failed for %s: %w", method, pool.Hex(), err)
		}
		addr, ok := results[0].(*common.Address)
		if !ok || addr == nil {
			return common.Address{}, fmt.Errorf("unexpected %s result for %s", method, pool.Hex())
		}
		return *addr, nil
	}

	tokenA, err := readAddr("tokenA")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	tokenB, err := readAddr("tokenB")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return tokenA, tokenB, nil
}

func (c *Client) factoryCount(ctx context.Context, contractABI abi.ABI, factory common.Address) (int64, error) {
	contract := bind.NewBoundContract(factory, contractABI, c.rpc, c.rpc, c.rpc)
	results := make([]interface{}, 1)
	results[0] = new(*big.Int)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &results, "getPoolCount"); err != nil {
		return 0, fmt.Errorf("getPoolCount call failed for %s: %w", factory.Hex(), err)
	}
	count, ok := results[0].(**big.Int)
	if !ok || count == nil || *count == nil {
		return 0, fmt.Errorf("unexpected getPoolCount result for %s", factory.Hex())
	}
	return (*count).Int64(), nil
}

func (c *Client) factoryPoolAt(ctx context.Context, contractABI abi.ABI, factory common.Address, method string, index int64) (common.Address, error) {
	contract := bind.NewBoundContract(factory, contractABI, c.rpc, c.rpc, c.rpc)
	results := make([]interface{}, 1)
	results[0] = new(common.Address)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &results, method, big.NewInt(index)); err != nil {
		return common.Address{}, fmt.Errorf("%s call failed for %s index %d: %w", method, factory.Hex(), index, err)
	}
	addr, ok := results[0].(*common.Address)
	if !ok || addr == nil {
		return common.Address{}, fmt.Errorf("unexpected %s result for %s index %d", method, factory.Hex(), index)
	}
	return *addr, nil
}

// PoolCount returns how many pools the v3 factory has deployed.
func (c *Client) PoolCount(ctx context.Context, factory common.Address) (int64, error) {
	return c.factoryCount(ctx, c.factoryABI, factory)
}

// PoolAddress returns the v3 factory's pool at the given index.
func (c *Client) PoolAddress(ctx context.Context, factory common.Address, index int64) (common.Address, error) {
	return c.factoryPoolAt(ctx, c.factoryABI, factory, "getPoolAddress", index)
}

// V2PoolCount returns how many pools the v2 factory has deployed.
func (c *Client) V2PoolCount(ctx context.Context, factory common.Address) (int64, error) {
	return c.factoryCount(ctx, c.v2FactoryABI, factory)
}

// V2PoolAddress returns the v2 factory's pool at the given index.
func (c *Client) V2PoolAddress(ctx context.Context, factory common.Address, index int64) (common.Address, error) {
	return c.factoryPoolAt(ctx, c.v2FactoryABI, factory, "pools", index)
}
