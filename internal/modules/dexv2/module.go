// Package dexv2 indexes the constant-product side of the exchange. The pools
// predate the concentrated-liquidity deployment and keep plain reserve pairs,
// so the handlers work on raw add/subtract arithmetic with a live re-read
// whenever a reserve would drift non-positive.
package dexv2

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
	moduleName    = "dex-v2"
	moduleVersion = "1.0.0"
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
	PublishV2Swap(ctx context.Context, pool *entity.V2Pool, swap *entity.Swap) error
}

// Deps are the collaborators the module needs. Store, Chain, Tokens,
// Pricing and Aggregates are required; the rest may be nil.
type Deps struct {
	Store      entity.Store
	Chain      chain.V2PoolReader
	Factory    chain.FactoryReader
	Tokens     *tokens.Resolver
	Pricing    *pricing.Engine
	Aggregates *aggregates.Updater
	Watcher    AddressWatcher
	Source     core.EventSource
	Publisher  Publisher
}

type handlerFunc func(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error

// Module implements core.Module for the constant-product pools.
type Module struct {
	manifest *core.Manifest
	logger   zerolog.Logger
	parser   *core.EventParser

	store      entity.Store
	chain      chain.V2PoolReader
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
			return nil, fmt.Errorf("failed to parse dex-v2 module config: %w", err)
		}
	}
	if config.FactoryAddress == "" {
		return nil, fmt.Errorf("dex-v2 module requires a factory address")
	}

	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v2 factory ABI: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse v2 pool ABI: %w", err)
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
		factoryABI.Events["CreatePool"].ID:   m.handleCreatePool,
		poolABI.Events["ExchangePos"].ID:     m.handleExchange,
		poolABI.Events["ExchangeNeg"].ID:     m.handleExchange,
		poolABI.Events["AddLiquidity"].ID:    m.handleAddLiquidity,
		poolABI.Events["RemoveLiquidity"].ID: m.handleRemoveLiquidity,
	}
	return m, nil
}

func defaultManifest() *core.Manifest {
	startBlock := uint64(0)
	return &core.Manifest{
		Name:        moduleName,
		Version:     moduleVersion,
		Description: "Constant-product pool accounting",
		DataSources: []core.DataSource{
			{
				Kind:    "ethereum/contract",
				Name:    "V2Factory",
				Network: "kaia",
				Source: core.DataSourceSource{
					ABI:        "V2Factory",
					StartBlock: &startBlock,
				},
				Mapping: core.DataSourceMapping{
					Kind:     "ethereum/events",
					Entities: []string{"V2Pool", "Token", "V2Factory"},
					EventHandlers: []core.EventHandler{
						{Event: "CreatePool(address,address,address,uint256)", Handler: "handleCreatePool"},
					},
				},
			},
			{
				Kind:    "ethereum/contract",
				Name:    "V2Pool",
				Network: "kaia",
				Source: core.DataSourceSource{
					ABI: "V2Pool",
				},
				Mapping: core.DataSourceMapping{
					Kind:     "ethereum/events",
					Entities: []string{"V2Pool", "Token", "Swap", "Mint", "Burn"},
					EventHandlers: []core.EventHandler{
						{Event: "ExchangePos(address,uint256,address,uint256)", Handler: "handleExchangePos"},
						{Event: "ExchangeNeg(address,uint256,address,uint256)", Handler: "handleExchangeNeg"},
						{Event: "AddLiquidity(address,address,uint256,address,uint256,uint256)", Handler: "handleAddLiquidity"},
						{Event: "RemoveLiquidity(address,address,uint256,address,uint256,uint256)", Handler: "handleRemoveLiquidity"},
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

	factory, err := m.store.V2Factory(ctx, m.factoryID)
	if err != nil {
		return fmt.Errorf("failed to load v2 factory: %w", err)
	}
	if factory == nil {
		factory = &entity.V2Factory{ID: m.factoryID}
		if err := m.store.SaveV2Factory(ctx, factory); err != nil {
			return fmt.Errorf("failed to create v2 factory: %w", err)
		}
	}

	if factory.InitializedAtBlock == 0 && m.factory != nil {
		if err := m.seedExistingPools(ctx); err != nil {
			return fmt.Errorf("failed to seed existing v2 pools: %w", err)
		}
		factory, err = m.store.V2Factory(ctx, m.factoryID)
		if err != nil {
			return fmt.Errorf("failed to reload v2 factory: %w", err)
		}
		factory.InitializedAtBlock = m.GetStartBlock()
		if factory.InitializedAtBlock == 0 {
			factory.InitializedAtBlock = 1
		}
		if err := m.store.SaveV2Factory(ctx, factory); err != nil {
			return fmt.Errorf("failed to persist v2 factory init marker: %w", err)
		}
	}

	m.logger.Info().Str("factory", m.factoryID).Msg("dex-v2 module initialized")
	return nil
}

// seedExistingPools walks the factory's pool list and creates every pool
// that already holds reserves.
func (m *Module) seedExistingPools(ctx context.Context) error {
	factoryAddr := common.HexToAddress(m.factoryID)
	count, err := m.factory.V2PoolCount(ctx, factoryAddr)
	if err != nil {
		return err
	}
	for i := int64(0); i < count; i++ {
		poolAddr, err := m.factory.V2PoolAddress(ctx, factoryAddr, i)
		if err != nil {
			return err
		}
		tokenA, tokenB, err := m.chain.V2PoolTokens(ctx, poolAddr)
		if err != nil {
			return err
		}
		if _, err := m.createPool(ctx, poolAddr, tokenA, tokenB, 0, 0, true); err != nil {
			return err
		}
	}
	m.logger.Info().Int64("pools", count).Msg("seeded pre-existing v2 pools")
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
			Msg("failed to parse v2 event")
		return nil
	}
	parsed.Timestamp = event.Timestamp

	return handler(ctx, event, parsed)
}

// GetEventFilters registers the factory by address and the pool events by
// topic. Individual pool addresses are added at runtime via WatchAddress.
func (m *Module) GetEventFilters() []core.EventFilter {
	filters := []core.EventFilter{
		{Address: m.factoryID, Topic0: m.factoryABI.Events["CreatePool"].ID.Hex()},
	}
	for _, name := range []string{"ExchangePos", "ExchangeNeg", "AddLiquidity", "RemoveLiquidity"} {
		filters = append(filters, core.EventFilter{Topic0: m.poolABI.Events[name].ID.Hex()})
	}
	return filters
}

func (m *Module) GetStartBlock() uint64 {
	return m.config.StartBlock
}

// Backfill replays stored logs through the normal handler path with the
// backfill flag set, which enables the reserve liveness checks.
func (m *Module) Backfill(ctx context.Context, fromBlock, toBlock uint64) error {
	if m.source == nil {
		return fmt.Errorf("dex-v2 module has no event source for backfill")
	}
	m.logger.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Msg("starting dex-v2 backfill")

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
		return fmt.Errorf("dex-v2 backfill failed: %w", err)
	}

	m.logger.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Int("processed", processed).Msg("completed dex-v2 backfill")
	return nil
}
