package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ModuleRegistry manages the lifecycle of indexer modules and routes
// normalized events to them.
type ModuleRegistry struct {
	modules map[string]Module
	state   StateStore
	logger  zerolog.Logger

	// Event routing
	eventFilters   map[string][]string // topic0 -> module names
	addressFilters map[string][]string // address -> module names
	cosmosFilters  map[string][]string // cosmos event type -> module names

	// Lifecycle management
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewModuleRegistry creates a new module registry
func NewModuleRegistry(state StateStore, logger zerolog.Logger) *ModuleRegistry {
	ctx, cancel := context.WithCancel(context.Background())

	return &ModuleRegistry{
		modules:        make(map[string]Module),
		state:          state,
		logger:         logger.With().Str("component", "module_registry").Logger(),
		eventFilters:   make(map[string][]string),
		addressFilters: make(map[string][]string),
		cosmosFilters:  make(map[string][]string),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// RegisterModule registers a new module
func (r *ModuleRegistry) RegisterModule(module Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := module.Name()

	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s is already registered", name)
	}

	manifest := module.Manifest()
	if manifest == nil {
		return fmt.Errorf("module %s has no manifest", name)
	}
	if err := manifest.ValidateManifest(); err != nil {
		return fmt.Errorf("module %s has invalid manifest: %w", name, err)
	}

	if err := module.Initialize(r.ctx); err != nil {
		return fmt.Errorf("failed to initialize module %s: %w", name, err)
	}

	filters := module.GetEventFilters()
	for _, filter := range filters {
		r.addFilter(name, filter)
	}

	r.modules[name] = module

	if err := r.state.InitModuleState(r.ctx, name, module.Version()); err != nil {
		r.logger.Error().Err(err).Str("module", name).Msg("Failed to initialize module state")
		return fmt.Errorf("failed to initialize module state for %s: %w", name, err)
	}

	r.logger.Info().
		Str("module", name).
		Str("version", module.Version()).
		Int("filters", len(filters)).
		Msg("Module registered successfully")

	return nil
}

func (r *ModuleRegistry) addFilter(name string, filter EventFilter) {
	if filter.Topic0 != "" {
		topic := strings.ToLower(filter.Topic0)
		r.eventFilters[topic] = appendUnique(r.eventFilters[topic], name)
		r.logger.Debug().Str("module", name).Str("topic0", topic).Msg("Registered topic filter")
	}
	if filter.Address != "" {
		address := strings.ToLower(filter.Address)
		r.addressFilters[address] = appendUnique(r.addressFilters[address], name)
		r.logger.Debug().Str("module", name).Str("address", address).Msg("Registered address filter")
	}
	if filter.CosmosType != "" {
		r.cosmosFilters[filter.CosmosType] = appendUnique(r.cosmosFilters[filter.CosmosType], name)
		r.logger.Debug().Str("module", name).Str("cosmos_type", filter.CosmosType).Msg("Registered cosmos filter")
	}
}

// WatchAddress registers a contract address for a module at runtime. Pool
// creation handlers call this so events from freshly created pools route
// back to them.
func (r *ModuleRegistry) WatchAddress(moduleName, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[moduleName]; !exists {
		return fmt.Errorf("module %s is not registered", moduleName)
	}
	r.addFilter(moduleName, EventFilter{Address: address})
	return nil
}

// UnregisterModule removes a module from the registry
func (r *ModuleRegistry) UnregisterModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		return fmt.Errorf("module %s is not registered", name)
	}

	for topic, moduleNames := range r.eventFilters {
		r.eventFilters[topic] = removeFromSlice(moduleNames, name)
		if len(r.eventFilters[topic]) == 0 {
			delete(r.eventFilters, topic)
		}
	}
	for address, moduleNames := range r.addressFilters {
		r.addressFilters[address] = removeFromSlice(moduleNames, name)
		if len(r.addressFilters[address]) == 0 {
			delete(r.addressFilters, address)
		}
	}
	for eventType, moduleNames := range r.cosmosFilters {
		r.cosmosFilters[eventType] = removeFromSlice(moduleNames, name)
		if len(r.cosmosFilters[eventType]) == 0 {
			delete(r.cosmosFilters, eventType)
		}
	}

	delete(r.modules, name)

	r.logger.Info().Str("module", name).Msg("Module unregistered")
	return nil
}

// ProcessEvent routes an event to interested modules
func (r *ModuleRegistry) ProcessEvent(ctx context.Context, event *EventContext) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		return nil
	}

	interestedModules := r.findInterestedModules(event)
	if len(interestedModules) == 0 {
		return nil
	}

	for _, moduleName := range interestedModules {
		module, exists := r.modules[moduleName]
		if !exists {
			r.logger.Warn().Str("module", moduleName).Msg("Module not found during event processing")
			continue
		}

		status, err := r.getModuleStatus(ctx, moduleName)
		if err != nil {
			r.logger.Error().Err(err).Str("module", moduleName).Msg("Failed to get module status")
			continue
		}
		if status != StatusActive && status != StatusBackfilling {
			r.logger.Debug().
				Str("module", moduleName).
				Str("status", string(status)).
				Msg("Skipping event for inactive module")
			continue
		}

		if err := module.HandleEvent(ctx, event); err != nil {
			r.logger.Error().
				Err(err).
				Str("module", moduleName).
				Uint64("block", event.BlockNumber).
				Str("tx_hash", event.TxHash).
				Msg("Module failed to process event")

			if err := r.state.UpdateModuleStatus(ctx, moduleName, StatusError); err != nil {
				r.logger.Error().Err(err).Str("module", moduleName).Msg("Failed to update module status to error")
			}
			continue
		}

		if err := r.state.UpdateModuleBlock(ctx, moduleName, event.BlockNumber); err != nil {
			r.logger.Error().Err(err).Str("module", moduleName).Msg("Failed to update module block")
		}
	}

	return nil
}

// findInterestedModules finds modules that should process this event
func (r *ModuleRegistry) findInterestedModules(event *EventContext) []string {
	var interested []string
	seen := make(map[string]bool)

	switch event.Origin {
	case OriginEVM:
		if event.EVM == nil {
			return nil
		}
		if len(event.EVM.Topics) > 0 {
			topic0 := strings.ToLower(event.EVM.Topics[0].Hex())
			for _, name := range r.eventFilters[topic0] {
				if !seen[name] {
					interested = append(interested, name)
					seen[name] = true
				}
			}
		}
		address := strings.ToLower(event.EVM.Address.Hex())
		for _, name := range r.addressFilters[address] {
			if !seen[name] {
				interested = append(interested, name)
				seen[name] = true
			}
		}
	case OriginCosmos:
		if event.Cosmos == nil {
			return nil
		}
		for _, name := range r.cosmosFilters[event.Cosmos.Type] {
			if !seen[name] {
				interested = append(interested, name)
				seen[name] = true
			}
		}
	}

	return interested
}

// Start begins the module registry lifecycle
func (r *ModuleRegistry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("module registry is already running")
	}

	r.running = true
	r.logger.Info().Int("modules", len(r.modules)).Msg("Module registry started")
	return nil
}

// Stop gracefully stops the module registry
func (r *ModuleRegistry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.running = false
	r.cancel()

	r.logger.Info().Msg("Module registry stopped")
	return nil
}

// GetModule returns a registered module by name
func (r *ModuleRegistry) GetModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, exists := r.modules[name]
	return module, exists
}

// ListModules returns all registered module names
func (r *ModuleRegistry) ListModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// GetModuleState returns the current state of a module
func (r *ModuleRegistry) GetModuleState(name string) (*ModuleState, error) {
	state, err := r.state.ModuleState(r.ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get module state for %s: %w", name, err)
	}
	if state == nil {
		return nil, fmt.Errorf("module %s has no state", name)
	}
	return state, nil
}

func (r *ModuleRegistry) getModuleStatus(ctx context.Context, name string) (ModuleStatus, error) {
	state, err := r.state.ModuleState(ctx, name)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "", fmt.Errorf("module %s has no state", name)
	}
	return ModuleStatus(state.Status), nil
}

// TriggerBackfill starts backfilling for a module
func (r *ModuleRegistry) TriggerBackfill(name string, fromBlock, toBlock uint64) error {
	r.mu.RLock()
	module, exists := r.modules[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("module %s not found", name)
	}

	if err := r.state.UpdateModuleStatus(r.ctx, name, StatusBackfilling); err != nil {
		return fmt.Errorf("failed to update module state for backfill: %w", err)
	}
	if err := r.state.SetBackfillRange(r.ctx, name, &fromBlock, &toBlock); err != nil {
		return fmt.Errorf("failed to set backfill range: %w", err)
	}

	go func() {
		r.logger.Info().
			Str("module", name).
			Uint64("from", fromBlock).
			Uint64("to", toBlock).
			Msg("Starting module backfill")

		start := time.Now()
		err := module.Backfill(r.ctx, fromBlock, toBlock)

		if err != nil {
			r.logger.Error().
				Err(err).
				Str("module", name).
				Dur("duration", time.Since(start)).
				Msg("Module backfill failed")

			r.state.UpdateModuleStatus(r.ctx, name, StatusError)
			return
		}

		r.logger.Info().
			Str("module", name).
			Uint64("blocks", toBlock-fromBlock+1).
			Dur("duration", time.Since(start)).
			Msg("Module backfill completed")

		r.state.UpdateModuleStatus(r.ctx, name, StatusActive)
		r.state.SetBackfillRange(r.ctx, name, nil, nil)
	}()

	return nil
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}

// Helper function to remove an item from a slice
func removeFromSlice(slice []string, item string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != item {
			result = append(result, s)
		}
	}
	return result
}
