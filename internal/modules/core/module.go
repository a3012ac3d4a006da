package core

import (
	"context"
	"sync"
)

// Module is one self-contained handler set: the dex v3 accounting module,
// the v2 module, the bridge module. Modules receive normalized event
// contexts and own all entity writes for their events.
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// Version returns the module version
	Version() string

	// Manifest returns the module's manifest configuration
	Manifest() *Manifest

	// Initialize prepares the module's ABIs, handler tables and any
	// persisted one-time state
	Initialize(ctx context.Context) error

	// HandleEvent processes a single normalized event matching this
	// module's filters
	HandleEvent(ctx context.Context, event *EventContext) error

	// GetEventFilters returns the event filters this module is interested in
	GetEventFilters() []EventFilter

	// GetStartBlock returns the block number from which this module should
	// start processing
	GetStartBlock() uint64

	// Backfill replays stored historical events through the module
	Backfill(ctx context.Context, fromBlock, toBlock uint64) error
}

// EventSource replays stored events for a module's backfill pass. The
// database layer implements it over the raw event log table.
type EventSource interface {
	// ReplayEVM streams stored logs matching any of the topics or addresses,
	// in block/log-index order, through fn. Events are delivered with the
	// Backfill flag set.
	ReplayEVM(ctx context.Context, fromBlock, toBlock uint64, topics, addresses []string, fn func(*EventContext) error) error
}

// EventFilter defines what events a module wants to receive
type EventFilter struct {
	// Address is the contract address to watch (optional, empty = all addresses)
	Address string `yaml:"address,omitempty"`

	// Topic0 is the EVM event signature hash (optional)
	Topic0 string `yaml:"topic0,omitempty"`

	// CosmosType is the Cosmos event type to match (optional)
	CosmosType string `yaml:"cosmosType,omitempty"`
}

// ModuleState is the persisted processing state of a module.
type ModuleState struct {
	ModuleName         string  `db:"module_name"`
	Version            string  `db:"version"`
	LastProcessedBlock uint64  `db:"last_processed_block"`
	Status             string  `db:"status"`
	BackfillFromBlock  *uint64 `db:"backfill_from_block"`
	BackfillToBlock    *uint64 `db:"backfill_to_block"`
	UpdatedAt          int64   `db:"updated_at"`
}

// ModuleStatus represents the possible states of a module
type ModuleStatus string

const (
	StatusActive      ModuleStatus = "active"
	StatusBackfilling ModuleStatus = "backfilling"
	StatusPaused      ModuleStatus = "paused"
	StatusError       ModuleStatus = "error"
)

// StateStore persists module processing state across restarts.
type StateStore interface {
	InitModuleState(ctx context.Context, name, version string) error
	ModuleState(ctx context.Context, name string) (*ModuleState, error)
	UpdateModuleBlock(ctx context.Context, name string, blockNumber uint64) error
	UpdateModuleStatus(ctx context.Context, name string, status ModuleStatus) error
	SetBackfillRange(ctx context.Context, name string, fromBlock, toBlock *uint64) error
}

// MemStateStore is the in-memory StateStore used by tests.
type MemStateStore struct {
	mu     sync.Mutex
	states map[string]*ModuleState
}

func NewMemStateStore() *MemStateStore {
	return &MemStateStore{states: make(map[string]*ModuleState)}
}

func (s *MemStateStore) InitModuleState(_ context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, exists := s.states[name]; exists {
		state.Version = version
		return nil
	}
	s.states[name] = &ModuleState{ModuleName: name, Version: version, Status: string(StatusActive)}
	return nil
}

func (s *MemStateStore) ModuleState(_ context.Context, name string) (*ModuleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[name], nil
}

func (s *MemStateStore) UpdateModuleBlock(_ context.Context, name string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state := s.states[name]; state != nil {
		state.LastProcessedBlock = blockNumber
	}
	return nil
}

func (s *MemStateStore) UpdateModuleStatus(_ context.Context, name string, status ModuleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state := s.states[name]; state != nil {
		state.Status = string(status)
	}
	return nil
}

func (s *MemStateStore) SetBackfillRange(_ context.Context, name string, fromBlock, toBlock *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state := s.states[name]; state != nil {
		state.BackfillFromBlock = fromBlock
		state.BackfillToBlock = toBlock
	}
	return nil
}
