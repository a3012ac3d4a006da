// Package dexv3 indexes the concentrated-liquidity side of the exchange:
// pool creation, position mints and burns, swaps and flash loans, plus the
// derived pricing and rollup rows they feed.
package dexv3

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/klaytn/dex-indexer-example/internal/aggregates"
	"github.com/klaytn/dex-indexer-example/internal/chain"
	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
	"github.com/klaytn/dex-indexer-example/internal/pricing"
	"github.com/klaytn/dex-indexer-example/internal/tokens"
)

const (
	moduleName    = "dex-v3"
	moduleVersion = "1.0.0"

	// This pool reports a corrupted sqrtPrice and poisons the derived USD
	// rates, so its swaps are dropped entirely.
	mispricedPool = "0x9663f2ca0454accad3e094448ea6f77443880454"

	// Tick sweeps longer than this are abandoned to bound per-event RPC
	// calls. Observed only on pool initialization; the ticks catch up on
	// later events.
	maxTickCrossings = 100
)

// Config is the module configuration, read from the manifest context.
type Config struct {
	FactoryAddress string `yaml:"factoryAddress"`
	StartBlock     uint64 `yaml:"startBlock"`
}

// AddressWatcher registers a new dynamic data source so future events from
// the address route to this module. Satisfied by core.ModuleRegistry.
type AddressWatcher interface {
	WatchAddress(moduleName, address string) error
}

// Publisher pushes finished swaps to realtime subscribers. Optional.
type Publisher interface {
	PublishSwap(ctx context.Context, pool *entity.Pool, swap *entity.Swap) error
}

// Deps are the collaborators the module needs. Store, Chain, Tokens,
// Pricing and Aggregates are required; the rest may be nil.
type Deps struct {
	Store      entity.Store
	Chain      chain.PoolReader
	Factory    chain.FactoryReader
	Tokens     *tokens.Resolver
	Pricing    *pricing.Engine
	Aggregates *aggregates.Updater
	Watcher    AddressWatcher
	Source     core.EventSource
	Publisher  Publisher
}

type handlerFunc func(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error

// Module implements core.Module for the concentrated-liquidity pools.
type Module struct {
	manifest *core.Manifest
	logger   zerolog.Logger
	parser   *core.EventParser

	store      entity.Store
	chain      chain.PoolReader
	factory    chain.FactoryReader
	tokens     *tokens.Resolver
	pricing    *pricing.Engine
	aggregates *aggregates.Updater
	watcher    AddressWatcher
	source     core.EventSource
	publisher  Publisher

	config    *Config
	factoryID string

	factoryABI *abi.ABI
	poolABI    *abi.ABI
	handlers   map[common.Hash]handlerFunc
}

// New builds the module from a manifest. A nil manifest falls back to the
// built-in one; the manifest context overrides the default configuration.
func New(manifest *core.Manifest, deps Deps, logger zerolog.Logger) (*Module, error) {
	if manifest == nil {
		manifest = defaultManifest()
	}

	config := &Config{}
	if manifest.Context != nil {
		contextBytes, _ := yaml.Marshal(manifest.Context)
		if err := yaml.Unmarshal(contextBytes, config); err != nil {
			return nil, fmt.Errorf("failed to parse dex-v3 module config: %w", err)
		}
	}
	if config.FactoryAddress == "" {
		return nil, fmt.Errorf("dex-v3 module requires a factory address")
	}

	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}

	m := &Module{
		manifest:   manifest,
		logger:     logger.With().Str("module", moduleName).Logger(),
		parser:     core.NewEventParser(),
		store:      deps.Store,
		chain:      deps.Chain,
		factory:    deps.Factory,
		tokens:     deps.Tokens,
		pricing:    deps.Pricing,
		aggregates: deps.Aggregates,
		watcher:    deps.Watcher,
		source:     deps.Source,
		publisher:  deps.Publisher,
		config:     config,
		factoryID:  strings.ToLower(config.FactoryAddress),
		factoryABI: &factoryABI,
		poolABI:    &poolABI,
	}
	m.parser.AddABI(m.factoryABI)
	m.parser.AddABI(m.poolABI)

	m.handlers = map[common.Hash]handlerFunc{
		factoryABI.Events["PoolCreated"].ID: m.handlePoolCreated,
		poolABI.Events["Initialize"].ID:     m.handleInitialize,
		poolABI.Events["Mint"].ID:           m.handleMint,
		poolABI.Events["Burn"].ID:           m.handleBurn,
		poolABI.Events["Swap"].ID:           m.handleSwap,
		poolABI.Events["Flash"].ID:          m.handleFlash,
	}
	return m, nil
}

func defaultManifest() *core.Manifest {
	startBlock := uint64(0)
	return &core.Manifest{
		Name:        moduleName,
		Version:     moduleVersion,
		Description: "Concentrated-liquidity pool accounting",
		DataSources: []core.DataSource{
			{
				Kind:    "ethereum/contract",
				Name:    "Factory",
				Network: "kaia",
				Source: core.DataSourceSource{
					ABI:        "Factory",
					StartBlock: &startBlock,
				},
				Mapping: core.DataSourceMapping{
					Kind:     "ethereum/events",
					Entities: []string{"Pool", "Token", "Factory"},
					EventHandlers: []core.EventHandler{
						{Event: "PoolCreated(indexed address,indexed address,indexed uint24,int24,address)", Handler: "handlePoolCreated"},
					},
				},
			},
			{
				Kind:    "ethereum/contract",
				Name:    "Pool",
				Network: "kaia",
				Source: core.DataSourceSource{
					ABI: "Pool",
				},
				Mapping: core.DataSourceMapping{
					Kind:     "ethereum/events",
					Entities: []string{"Pool", "Token", "Tick", "Swap", "Mint", "Burn"},
					EventHandlers: []core.EventHandler{
						{Event: "Initialize(uint160,int24)", Handler: "handleInitialize"},
						{Event: "Mint(address,indexed address,indexed int24,indexed int24,uint128,uint256,uint256)", Handler: "handleMint"},
						{Event: "Burn(indexed address,indexed int24,indexed int24,uint128,uint256,uint256)", Handler: "handleBurn"},
						{Event: "Swap(indexed address,indexed address,int256,int256,uint160,uint128,int24)", Handler: "handleSwap"},
						{Event: "Flash(indexed address,indexed address,uint256,uint256,uint256,uint256)", Handler: "handleFlash"},
					},
				},
			},
		},
	}
}

func (m *Module) Name() string { return m.manifest.Name }

func (m *Module) Version() string { return m.manifest.Version }

func (m *Module) Manifest() *core.Manifest { return m.manifest }

// Initialize makes sure the bundle and factory rows exist and, exactly once,
// seeds pools deployed before the indexer started. The one-time walk is
// keyed off the persisted InitializedAtBlock field so restarts skip it.
func (m *Module) Initialize(ctx context.Context) error {
	bundle, err := m.store.Bundle(ctx, entity.BundleID)
	if err != nil {
		return fmt.Errorf("failed to load bundle: %w", err)
	}
	if bundle == nil {
		if err := m.store.SaveBundle(ctx, &entity.Bundle{ID: entity.BundleID}); err != nil {
			return fmt.Errorf("failed to create bundle: %w", err)
		}
	}

	factory, err := m.store.Factory(ctx, m.factoryID)
	if err != nil {
		return fmt.Errorf("failed to load factory: %w", err)
	}
	if factory == nil {
		factory = &entity.Factory{
			ID:    m.factoryID,
			Owner: tokens.NativeAddress,
		}
		if err := m.store.SaveFactory(ctx, factory); err != nil {
			return fmt.Errorf("failed to create factory: %w", err)
		}
	}

	if factory.InitializedAtBlock == 0 && m.factory != nil {
		if err := m.seedExistingPools(ctx); err != nil {
			return fmt.Errorf("failed to seed existing pools: %w", err)
		}
		factory, err = m.store.Factory(ctx, m.factoryID)
		if err != nil {
			return fmt.Errorf("failed to reload factory: %w", err)
		}
		factory.InitializedAtBlock = m.GetStartBlock()
		if factory.InitializedAtBlock == 0 {
			factory.InitializedAtBlock = 1
		}
		if err := m.store.SaveFactory(ctx, factory); err != nil {
			return fmt.Errorf("failed to persist factory init marker: %w", err)
		}
	}

	m.logger.Info().Str("factory", m.factoryID).Msg("dex-v3 module initialized")
	return nil
}

// seedExistingPools walks the factory's pool list and creates every pool
// that already holds liquidity.
func (m *Module) seedExistingPools(ctx context.Context) error {
	factoryAddr := common.HexToAddress(m.factoryID)
	count, err := m.factory.PoolCount(ctx, factoryAddr)
	if err != nil {
		return err
	}
	for i := int64(0); i < count; i++ {
		poolAddr, err := m.factory.PoolAddress(ctx, factoryAddr, i)
		if err != nil {
			return err
		}
		token0, token1, fee, err := m.chain.PoolImmutables(ctx, poolAddr)
		if err != nil {
			return err
		}
		if _, err := m.createPool(ctx, poolAddr, token0, token1, fee, 0, 0, true); err != nil {
			return err
		}
	}
	m.logger.Info().Int64("pools", count).Msg("seeded pre-existing v3 pools")
	return nil
}

// HandleEvent dispatches an EVM log to the matching handler.
func (m *Module) HandleEvent(ctx context.Context, event *core.EventContext) error {
	if event.Origin != core.OriginEVM || event.EVM == nil || len(event.EVM.Topics) == 0 {
		return nil
	}
	handler, ok := m.handlers[event.EVM.Topics[0]]
	if !ok {
		return nil
	}

	parsed, err := m.parser.ParseEvent(event.EVM)
	if err != nil {
		m.logger.Error().Err(err).
			Str("topic", event.EVM.Topics[0].Hex()).
			Str("address", event.EVM.Address.Hex()).
			Msg("failed to parse v3 event")
		return nil
	}
	parsed.Timestamp = event.Timestamp

	return handler(ctx, event, parsed)
}

// GetEventFilters registers the factory by address and the pool events by
// topic. Individual pool addresses are added at runtime via WatchAddress.
func (m *Module) GetEventFilters() []core.EventFilter {
	filters := []core.EventFilter{
		{Address: m.factoryID, Topic0: m.factoryABI.Events["PoolCreated"].ID.Hex()},
	}
	for _, name := range []string{"Initialize", "Mint", "Burn", "Swap", "Flash"} {
		filters = append(filters, core.EventFilter{Topic0: m.poolABI.Events[name].ID.Hex()})
	}
	return filters
}

func (m *Module) GetStartBlock() uint64 {
	return m.config.StartBlock
}

// Backfill replays stored logs through the normal handler path with the
// backfill flag set, which enables the pool liveness checks.
func (m *Module) Backfill(ctx context.Context, fromBlock, toBlock uint64) error {
	if m.source == nil {
		return fmt.Errorf("dex-v3 module has no event source for backfill")
	}
	m.logger.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Msg("starting dex-v3 backfill")

	topics := make([]string, 0, len(m.handlers))
	for topic := range m.handlers {
		topics = append(topics, strings.ToLower(topic.Hex()))
	}

	processed := 0
	err := m.source.ReplayEVM(ctx, fromBlock, toBlock, topics, []string{m.factoryID}, func(event *core.EventContext) error {
		event.Backfill = true
		if err := m.HandleEvent(ctx, event); err != nil {
			return err
		}
		processed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("dex-v3 backfill failed: %w", err)
	}

	m.logger.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Int("processed", processed).Msg("completed dex-v3 backfill")
	return nil
}
