package entity

import "context"

// Store is the keyed entity persistence consumed by all event handlers.
//
// Getters return (nil, nil) when no row exists; absence is ordinary data for
// most callers (see the pricing resolver and token resolver). Saves are
// upserts. Implementations must provide read-your-writes consistency within a
// single handler invocation; nothing stronger is assumed.
type Store interface {
	Bundle(ctx context.Context, id string) (*Bundle, error)
	SaveBundle(ctx context.Context, b *Bundle) error

	Token(ctx context.Context, id string) (*Token, error)
	SaveToken(ctx context.Context, t *Token) error

	Pool(ctx context.Context, id string) (*Pool, error)
	SavePool(ctx context.Context, p *Pool) error

	V2Pool(ctx context.Context, id string) (*V2Pool, error)
	SaveV2Pool(ctx context.Context, p *V2Pool) error

	Factory(ctx context.Context, id string) (*Factory, error)
	SaveFactory(ctx context.Context, f *Factory) error

	V2Factory(ctx context.Context, id string) (*V2Factory, error)
	SaveV2Factory(ctx context.Context, f *V2Factory) error

	WhitelistPool(ctx context.Context, id string) (*WhitelistPool, error)
	SaveWhitelistPool(ctx context.Context, w *WhitelistPool) error
	// WhitelistPoolsByToken lists all join rows for a token, in insertion
	// order. The pricing resolver scans these linearly.
	WhitelistPoolsByToken(ctx context.Context, tokenID string) ([]*WhitelistPool, error)

	Tick(ctx context.Context, id string) (*Tick, error)
	SaveTick(ctx context.Context, t *Tick) error

	Transaction(ctx context.Context, id string) (*Transaction, error)
	SaveTransaction(ctx context.Context, t *Transaction) error

	Mint(ctx context.Context, id string) (*Mint, error)
	SaveMint(ctx context.Context, m *Mint) error

	Burn(ctx context.Context, id string) (*Burn, error)
	SaveBurn(ctx context.Context, b *Burn) error

	Swap(ctx context.Context, id string) (*Swap, error)
	SaveSwap(ctx context.Context, s *Swap) error

	FactoryDayData(ctx context.Context, id string) (*FactoryDayData, error)
	SaveFactoryDayData(ctx context.Context, d *FactoryDayData) error

	PoolInterval(ctx context.Context, id string) (*PoolIntervalData, error)
	SavePoolInterval(ctx context.Context, d *PoolIntervalData) error

	TokenInterval(ctx context.Context, id string) (*TokenIntervalData, error)
	SaveTokenInterval(ctx context.Context, d *TokenIntervalData) error

	TickDayData(ctx context.Context, id string) (*TickDayData, error)
	SaveTickDayData(ctx context.Context, d *TickDayData) error

	BridgeSequence(ctx context.Context, id string) (*BridgeSequence, error)
	SaveBridgeSequence(ctx context.Context, s *BridgeSequence) error

	BridgeTransfer(ctx context.Context, id string) (*BridgeTransfer, error)
	SaveBridgeTransfer(ctx context.Context, t *BridgeTransfer) error

	FinschiaTransfer(ctx context.Context, id string) (*FinschiaTransfer, error)
	SaveFinschiaTransfer(ctx context.Context, t *FinschiaTransfer) error

	BridgeState(ctx context.Context, id string) (*BridgeState, error)
	SaveBridgeState(ctx context.Context, s *BridgeState) error
}
