package core

import (
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// EventOrigin tags which chain family an event came from.
type EventOrigin string

const (
	OriginEVM    EventOrigin = "evm"
	OriginCosmos EventOrigin = "cosmos"
)

// CosmosEvent is one event emitted by a Cosmos-SDK transaction, already
// flattened to a type plus string attributes.
type CosmosEvent struct {
	Type       string
	Attributes map[string]string
	Height     uint64
	TxHash     string
}

// EventContext is the one normalized record the registry dispatches.
// Exactly one of EVM or Cosmos is set, per Origin.
type EventContext struct {
	Origin EventOrigin

	EVM    *types.Log
	Cosmos *CosmosEvent

	BlockNumber uint64
	Timestamp   int64
	TxHash      string
	// TxFrom is the transaction sender, when the feed provides it.
	TxFrom string

	// Backfill marks events replayed from storage during a module's
	// historical pass rather than received live.
	Backfill bool
}

// NormalizeEVM wraps a log into an event context. The caller supplies the
// block timestamp since logs don't carry one.
func NormalizeEVM(log *types.Log, timestamp int64) *EventContext {
	return &EventContext{
		Origin:      OriginEVM,
		EVM:         log,
		BlockNumber: log.BlockNumber,
		Timestamp:   timestamp,
		TxHash:      log.TxHash.Hex(),
	}
}

// NormalizeCosmos wraps a Cosmos event into an event context. Attribute
// values arrive JSON-encoded from some chains, so surrounding quotes are
// stripped here once instead of at every read site.
func NormalizeCosmos(event *CosmosEvent, timestamp int64) *EventContext {
	attrs := make(map[string]string, len(event.Attributes))
	for key, value := range event.Attributes {
		attrs[key] = StripQuotes(value)
	}
	return &EventContext{
		Origin: OriginCosmos,
		Cosmos: &CosmosEvent{
			Type:       event.Type,
			Attributes: attrs,
			Height:     event.Height,
			TxHash:     event.TxHash,
		},
		BlockNumber: event.Height,
		Timestamp:   timestamp,
		TxHash:      event.TxHash,
	}
}

// StripQuotes removes one pair of surrounding double quotes, if present.
func StripQuotes(value string) string {
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value[1 : len(value)-1]
	}
	return value
}

// Attribute returns a Cosmos attribute value, or "" for EVM events and
// missing keys.
func (e *EventContext) Attribute(key string) string {
	if e.Cosmos == nil {
		return ""
	}
	return e.Cosmos.Attributes[key]
}
