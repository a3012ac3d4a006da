// Package bridge tracks cross-chain transfers between Finschia and Kaia.
// The Finschia leg arrives as Cosmos events, the Kaia leg as EVM logs from
// the bridge contract; a shared sequence record ties the two together.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
)

const (
	moduleName    = "bridge"
	moduleVersion = "1.0.0"

	// defaultTransferTimeLock applies until the contract announces one.
	defaultTransferTimeLock int64 = 1800

	defaultFbridgeEventType = "lbm.fbridge.v1.EventTransfer"
)

// Config is the module configuration, read from the manifest context.
type Config struct {
	BridgeAddress    string `yaml:"bridgeAddress"`
	StartBlock       uint64 `yaml:"startBlock"`
	FbridgeEventType string `yaml:"fbridgeEventType"`
}

// Publisher pushes transfer status changes to realtime subscribers. Optional.
type Publisher interface {
	PublishTransfer(ctx context.Context, transfer *entity.BridgeTransfer) error
}

// Deps are the collaborators the module needs. Store is required.
type Deps struct {
	Store     entity.Store
	Source    core.EventSource
	Publisher Publisher
}

type handlerFunc func(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error

// Module implements core.Module for the bridge contract pair.
type Module struct {
	manifest *core.Manifest
	logger   zerolog.Logger
	parser   *core.EventParser

	store     entity.Store
	source    core.EventSource
	publisher Publisher

	config   *Config
	bridgeID string

	bridgeABI *abi.ABI
	handlers  map[common.Hash]handlerFunc
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
			return nil, fmt.Errorf("failed to parse bridge module config: %w", err)
		}
	}
	if config.BridgeAddress == "" {
		return nil, fmt.Errorf("bridge module requires a bridge contract address")
	}
	if config.FbridgeEventType == "" {
		config.FbridgeEventType = defaultFbridgeEventType
	}

	bridgeABI, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge ABI: %w", err)
	}

	m := &Module{
		manifest:  manifest,
		logger:    logger.With().Str("module", moduleName).Logger(),
		parser:    core.NewEventParser(),
		store:     deps.Store,
		source:    deps.Source,
		publisher: deps.Publisher,
		config:    config,
		bridgeID:  strings.ToLower(config.BridgeAddress),
		bridgeABI: &bridgeABI,
	}
	m.parser.AddABI(m.bridgeABI)

	m.handlers = map[common.Hash]handlerFunc{
		bridgeABI.Events["ProvisionConfirm"].ID:       m.handleProvisionConfirm,
		bridgeABI.Events["Claim"].ID:                  m.handleClaim,
		bridgeABI.Events["RemoveProvision"].ID:        m.handleRemoveProvision,
		bridgeABI.Events["HoldClaim"].ID:              m.handleHoldClaim,
		bridgeABI.Events["ReleaseClaim"].ID:           m.handleReleaseClaim,
		bridgeABI.Events["ChangeTransferTimeLock"].ID: m.handleChangeTimeLock,
	}
	return m, nil
}

func defaultManifest() *core.Manifest {
	startBlock := uint64(0)
	return &core.Manifest{
		Name:        moduleName,
		Version:     moduleVersion,
		Description: "Finschia to Kaia transfer tracking",
		DataSources: []core.DataSource{
			{
				Kind:    "ethereum/contract",
				Name:    "Bridge",
				Network: "kaia",
				Source: core.DataSourceSource{
					ABI:        "Bridge",
					StartBlock: &startBlock,
				},
				Mapping: core.DataSourceMapping{
					Kind:     "ethereum/events",
					Entities: []string{"BridgeSequence", "BridgeTransfer", "BridgeState"},
					EventHandlers: []core.EventHandler{
						{Event: "ProvisionConfirm((uint256,string,string,uint256))", Handler: "handleProvisionConfirm"},
						{Event: "Claim((uint256,string,string,uint256))", Handler: "handleClaim"},
						{Event: "RemoveProvision((uint256,string,string,uint256))", Handler: "handleRemoveProvision"},
						{Event: "HoldClaim(uint256,uint256)", Handler: "handleHoldClaim"},
						{Event: "ReleaseClaim(uint256)", Handler: "handleReleaseClaim"},
						{Event: "ChangeTransferTimeLock(uint256)", Handler: "handleChangeTimeLock"},
					},
				},
			},
			{
				Kind:    "cosmos/events",
				Name:    "Fbridge",
				Network: "finschia",
				Mapping: core.DataSourceMapping{
					Kind:     "cosmos/events",
					Entities: []string{"BridgeSequence", "FinschiaTransfer"},
					EventHandlers: []core.EventHandler{
						{Event: defaultFbridgeEventType, Handler: "handleFbridge"},
					},
				},
			},
		},
	}
}

func (m *Module) Name() string { return m.manifest.Name }

func (m *Module) Version() string { return m.manifest.Version }

func (m *Module) Manifest() *core.Manifest { return m.manifest }

func (m *Module) Initialize(_ context.Context) error {
	m.logger.Info().Str("bridge", m.bridgeID).Msg("bridge module initialized")
	return nil
}

// HandleEvent routes Cosmos events to the Finschia handler and EVM logs to
// the matching bridge contract handler.
func (m *Module) HandleEvent(ctx context.Context, event *core.EventContext) error {
	if event.Origin == core.OriginCosmos {
		if event.Cosmos == nil || event.Cosmos.Type != m.config.FbridgeEventType {
			return nil
		}
		return m.handleFbridge(ctx, event)
	}

	if event.EVM == nil || len(event.EVM.Topics) == 0 {
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
			Msg("failed to parse bridge event")
		return nil
	}
	parsed.Timestamp = event.Timestamp

	return handler(ctx, event, parsed)
}

func (m *Module) GetEventFilters() []core.EventFilter {
	filters := make([]core.EventFilter, 0, len(m.handlers)+1)
	for _, name := range []string{"ProvisionConfirm", "Claim", "RemoveProvision", "HoldClaim", "ReleaseClaim", "ChangeTransferTimeLock"} {
		filters = append(filters, core.EventFilter{
			Address: m.bridgeID,
			Topic0:  m.bridgeABI.Events[name].ID.Hex(),
		})
	}
	filters = append(filters, core.EventFilter{CosmosType: m.config.FbridgeEventType})
	return filters
}

func (m *Module) GetStartBlock() uint64 {
	return m.config.StartBlock
}

// Backfill replays stored bridge logs through the normal handler path.
func (m *Module) Backfill(ctx context.Context, fromBlock, toBlock uint64) error {
	if m.source == nil {
		return fmt.Errorf("bridge module has no event source for backfill")
	}
	m.logger.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Msg("starting bridge backfill")

	topics := make([]string, 0, len(m.handlers))
	for topic := range m.handlers {
		topics = append(topics, strings.ToLower(topic.Hex()))
	}

	processed := 0
	err := m.source.ReplayEVM(ctx, fromBlock, toBlock, topics, []string{m.bridgeID}, func(event *core.EventContext) error {
		event.Backfill = true
		if err := m.HandleEvent(ctx, event); err != nil {
			return err
		}
		processed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("bridge backfill failed: %w", err)
	}

	m.logger.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Int("processed", processed).Msg("completed bridge backfill")
	return nil
}
