package entity

import (
	"context"
	"sync"
)

// MemStore is a map-backed Store. It backs the test suites and doubles as a
// scratch store for dry-run backfills. Entities are stored by pointer, so
// callers observe their own writes immediately.
type MemStore struct {
	mu sync.RWMutex

	bundles        map[string]*Bundle
	tokens         map[string]*Token
	pools          map[string]*Pool
	v2Pools        map[string]*V2Pool
	factories      map[string]*Factory
	v2Factories    map[string]*V2Factory
	whitelist      map[string]*WhitelistPool
	whitelistOrder []string
	ticks          map[string]*Tick
	transactions   map[string]*Transaction
	mints          map[string]*Mint
	burns          map[string]*Burn
	swaps          map[string]*Swap

	factoryDays   map[string]*FactoryDayData
	poolIntervals map[string]*PoolIntervalData
	tokenInterval map[string]*TokenIntervalData
	tickDays      map[string]*TickDayData

	bridgeSeqs        map[string]*BridgeSequence
	bridgeTransfers   map[string]*BridgeTransfer
	finschiaTransfers map[string]*FinschiaTransfer
	bridgeStates      map[string]*BridgeState
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		bundles:           make(map[string]*Bundle),
		tokens:            make(map[string]*Token),
		pools:             make(map[string]*Pool),
		v2Pools:           make(map[string]*V2Pool),
		factories:         make(map[string]*Factory),
		v2Factories:       make(map[string]*V2Factory),
		whitelist:         make(map[string]*WhitelistPool),
		ticks:             make(map[string]*Tick),
		transactions:      make(map[string]*Transaction),
		mints:             make(map[string]*Mint),
		burns:             make(map[string]*Burn),
		swaps:             make(map[string]*Swap),
		factoryDays:       make(map[string]*FactoryDayData),
		poolIntervals:     make(map[string]*PoolIntervalData),
		tokenInterval:     make(map[string]*TokenIntervalData),
		tickDays:          make(map[string]*TickDayData),
		bridgeSeqs:        make(map[string]*BridgeSequence),
		bridgeTransfers:   make(map[string]*BridgeTransfer),
		finschiaTransfers: make(map[string]*FinschiaTransfer),
		bridgeStates:      make(map[string]*BridgeState),
	}
}

func getFrom[T any](s *MemStore, m map[string]*T, id string) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return m[id], nil
}

func saveTo[T any](s *MemStore, m map[string]*T, id string, v *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[id] = v
	return nil
}

func (s *MemStore) Bundle(_ context.Context, id string) (*Bundle, error) {
	return getFrom(s, s.bundles, id)
}
func (s *MemStore) SaveBundle(_ context.Context, b *Bundle) error {
	return saveTo(s, s.bundles, b.ID, b)
}

func (s *MemStore) Token(_ context.Context, id string) (*Token, error) {
	return getFrom(s, s.tokens, id)
}
func (s *MemStore) SaveToken(_ context.Context, t *Token) error {
	return saveTo(s, s.tokens, t.ID, t)
}

func (s *MemStore) Pool(_ context.Context, id string) (*Pool, error) {
	return getFrom(s, s.pools, id)
}
func (s *MemStore) SavePool(_ context.Context, p *Pool) error {
	return saveTo(s, s.pools, p.ID, p)
}

func (s *MemStore) V2Pool(_ context.Context, id string) (*V2Pool, error) {
	return getFrom(s, s.v2Pools, id)
}
func (s *MemStore) SaveV2Pool(_ context.Context, p *V2Pool) error {
	return saveTo(s, s.v2Pools, p.ID, p)
}

func (s *MemStore) Factory(_ context.Context, id string) (*Factory, error) {
	return getFrom(s, s.factories, id)
}
func (s *MemStore) SaveFactory(_ context.Context, f *Factory) error {
	return saveTo(s, s.factories, f.ID, f)
}

func (s *MemStore) V2Factory(_ context.Context, id string) (*V2Factory, error) {
	return getFrom(s, s.v2Factories, id)
}
func (s *MemStore) SaveV2Factory(_ context.Context, f *V2Factory) error {
	return saveTo(s, s.v2Factories, f.ID, f)
}

func (s *MemStore) WhitelistPool(_ context.Context, id string) (*WhitelistPool, error) {
	return getFrom(s, s.whitelist, id)
}

func (s *MemStore) SaveWhitelistPool(_ context.Context, w *WhitelistPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.whitelist[w.ID]; !exists {
		s.whitelistOrder = append(s.whitelistOrder, w.ID)
	}
	s.whitelist[w.ID] = w
	return nil
}

func (s *MemStore) WhitelistPoolsByToken(_ context.Context, tokenID string) ([]*WhitelistPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*WhitelistPool
	for _, id := range s.whitelistOrder {
		if w := s.whitelist[id]; w != nil && w.TokenID == tokenID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *MemStore) Tick(_ context.Context, id string) (*Tick, error) {
	return getFrom(s, s.ticks, id)
}
func (s *MemStore) SaveTick(_ context.Context, t *Tick) error {
	return saveTo(s, s.ticks, t.ID, t)
}

func (s *MemStore) Transaction(_ context.Context, id string) (*Transaction, error) {
	return getFrom(s, s.transactions, id)
}
func (s *MemStore) SaveTransaction(_ context.Context, t *Transaction) error {
	return saveTo(s, s.transactions, t.ID, t)
}

func (s *MemStore) Mint(_ context.Context, id string) (*Mint, error) {
	return getFrom(s, s.mints, id)
}
func (s *MemStore) SaveMint(_ context.Context, m *Mint) error {
	return saveTo(s, s.mints, m.ID, m)
}

func (s *MemStore) Burn(_ context.Context, id string) (*Burn, error) {
	return getFrom(s, s.burns, id)
}
func (s *MemStore) SaveBurn(_ context.Context, b *Burn) error {
	return saveTo(s, s.burns, b.ID, b)
}

func (s *MemStore) Swap(_ context.Context, id string) (*Swap, error) {
	return getFrom(s, s.swaps, id)
}
func (s *MemStore) SaveSwap(_ context.Context, sw *Swap) error {
	return saveTo(s, s.swaps, sw.ID, sw)
}

func (s *MemStore) FactoryDayData(_ context.Context, id string) (*FactoryDayData, error) {
	return getFrom(s, s.factoryDays, id)
}
func (s *MemStore) SaveFactoryDayData(_ context.Context, d *FactoryDayData) error {
	return saveTo(s, s.factoryDays, d.ID, d)
}

func (s *MemStore) PoolInterval(_ context.Context, id string) (*PoolIntervalData, error) {
	return getFrom(s, s.poolIntervals, id)
}
func (s *MemStore) SavePoolInterval(_ context.Context, d *PoolIntervalData) error {
	return saveTo(s, s.poolIntervals, d.ID, d)
}

func (s *MemStore) TokenInterval(_ context.Context, id string) (*TokenIntervalData, error) {
	return getFrom(s, s.tokenInterval, id)
}
func (s *MemStore) SaveTokenInterval(_ context.Context, d *TokenIntervalData) error {
	return saveTo(s, s.tokenInterval, d.ID, d)
}

func (s *MemStore) TickDayData(_ context.Context, id string) (*TickDayData, error) {
	return getFrom(s, s.tickDays, id)
}
func (s *MemStore) SaveTickDayData(_ context.Context, d *TickDayData) error {
	return saveTo(s, s.tickDays, d.ID, d)
}

func (s *MemStore) BridgeSequence(_ context.Context, id string) (*BridgeSequence, error) {
	return getFrom(s, s.bridgeSeqs, id)
}
func (s *MemStore) SaveBridgeSequence(_ context.Context, q *BridgeSequence) error {
	return saveTo(s, s.bridgeSeqs, q.ID, q)
}

func (s *MemStore) BridgeTransfer(_ context.Context, id string) (*BridgeTransfer, error) {
	return getFrom(s, s.bridgeTransfers, id)
}
func (s *MemStore) SaveBridgeTransfer(_ context.Context, t *BridgeTransfer) error {
	return saveTo(s, s.bridgeTransfers, t.ID, t)
}

func (s *MemStore) FinschiaTransfer(_ context.Context, id string) (*FinschiaTransfer, error) {
	return getFrom(s, s.finschiaTransfers, id)
}
func (s *MemStore) SaveFinschiaTransfer(_ context.Context, t *FinschiaTransfer) error {
	return saveTo(s, s.finschiaTransfers, t.ID, t)
}

func (s *MemStore) BridgeState(_ context.Context, id string) (*BridgeState, error) {
	return getFrom(s, s.bridgeStates, id)
}
func (s *MemStore) SaveBridgeState(_ context.Context, st *BridgeState) error {
	return saveTo(s, s.bridgeStates, st.ID, st)
}
