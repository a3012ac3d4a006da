package core

import (
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParsedEvent represents a decoded EVM event log
type ParsedEvent struct {
	// Raw log data
	Log *types.Log

	// Event information
	EventName string
	Address   common.Address

	// Parsed event data
	Args map[string]interface{}

	// Transaction context
	TransactionHash  common.Hash
	TransactionIndex uint
	BlockNumber      uint64
	BlockHash        common.Hash
	LogIndex         uint

	// Block timestamp carried over from the event context
	Timestamp int64
}

// EventParser handles parsing of event logs using ABI definitions
type EventParser struct {
	events map[common.Hash]*abi.Event // topic0 -> event
}

// NewEventParser creates a new event parser
func NewEventParser() *EventParser {
	return &EventParser{
		events: make(map[common.Hash]*abi.Event),
	}
}

// AddABI indexes all events of a contract ABI by topic hash
func (p *EventParser) AddABI(contractABI *abi.ABI) {
	for name := range contractABI.Events {
		event := contractABI.Events[name]
		p.events[event.ID] = &event
	}
}

// ParseEvent parses a log into a ParsedEvent
func (p *EventParser) ParseEvent(log *types.Log) (*ParsedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrInvalidEvent{Reason: "no topics in log"}
	}

	eventABI, exists := p.events[log.Topics[0]]
	if !exists {
		return nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}

	args := make(map[string]interface{})

	// Parse indexed parameters (topics[1:])
	topicIndex := 1
	for _, input := range eventABI.Inputs {
		if input.Indexed && topicIndex < len(log.Topics) {
			args[input.Name] = p.parseIndexedArg(log.Topics[topicIndex], input.Type)
			topicIndex++
		}
	}

	// Parse non-indexed parameters (data field)
	if len(log.Data) > 0 {
		nonIndexedInputs := make(abi.Arguments, 0)
		for _, input := range eventABI.Inputs {
			if !input.Indexed {
				nonIndexedInputs = append(nonIndexedInputs, input)
			}
		}

		if len(nonIndexedInputs) > 0 {
			nonIndexedArgs, err := nonIndexedInputs.Unpack(log.Data)
			if err != nil {
				return nil, ErrEventParsing{Event: eventABI.Name, Err: err}
			}
			for i, input := range nonIndexedInputs {
				if i < len(nonIndexedArgs) {
					args[input.Name] = nonIndexedArgs[i]
				}
			}
		}
	}

	return &ParsedEvent{
		Log:              log,
		EventName:        eventABI.Name,
		Address:          log.Address,
		Args:             args,
		TransactionHash:  log.TxHash,
		TransactionIndex: log.TxIndex,
		BlockNumber:      log.BlockNumber,
		BlockHash:        log.BlockHash,
		LogIndex:         log.Index,
	}, nil
}

// parseIndexedArg converts a topic hash to the appropriate Go type
func (p *EventParser) parseIndexedArg(topic common.Hash, argType abi.Type) interface{} {
	switch argType.T {
	case abi.AddressTy:
		return common.HexToAddress(topic.Hex())
	case abi.IntTy:
		// indexed int24/int128 topics are sign-extended over 32 bytes
		v := new(big.Int).SetBytes(topic.Bytes())
		if v.Bit(255) == 1 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		return v
	case abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.BoolTy:
		return topic.Big().Cmp(common.Big0) != 0
	case abi.BytesTy, abi.FixedBytesTy:
		return topic.Bytes()
	case abi.StringTy, abi.HashTy:
		return topic.Hex()
	default:
		// For complex types, return the raw hash
		return topic.Hex()
	}
}

// BigArg reads a *big.Int argument by name, nil when absent or mistyped.
func (e *ParsedEvent) BigArg(name string) *big.Int {
	v, _ := e.Args[name].(*big.Int)
	return v
}

// AddressArg reads an address argument by name.
func (e *ParsedEvent) AddressArg(name string) common.Address {
	v, _ := e.Args[name].(common.Address)
	return v
}

// StringArg reads a string argument by name, "" when absent or mistyped.
func (e *ParsedEvent) StringArg(name string) string {
	v, _ := e.Args[name].(string)
	return v
}

// TupleBigArg reads a *big.Int component of a struct-typed argument.
func (e *ParsedEvent) TupleBigArg(name, component string) *big.Int {
	v, _ := e.tupleField(name, component).(*big.Int)
	return v
}

// TupleStringArg reads a string component of a struct-typed argument.
func (e *ParsedEvent) TupleStringArg(name, component string) string {
	v, _ := e.tupleField(name, component).(string)
	return v
}

// The ABI decoder hands tuple arguments over as anonymous structs whose
// fields carry the CamelCase component names, so the lookup goes through
// reflection.
func (e *ParsedEvent) tupleField(name, component string) interface{} {
	v := reflect.ValueOf(e.Args[name])
	if v.Kind() != reflect.Struct {
		return nil
	}
	f := v.FieldByName(abi.ToCamelCase(component))
	if !f.IsValid() {
		return nil
	}
	return f.Interface()
}

// Error types
type ErrInvalidEvent struct {
	Reason string
}

func (e ErrInvalidEvent) Error() string {
	return "invalid event: " + e.Reason
}

type ErrUnknownEvent struct {
	Topic string
}

func (e ErrUnknownEvent) Error() string {
	return "unknown event topic: " + e.Topic
}

type ErrEventParsing struct {
	Event string
	Err   error
}

func (e ErrEventParsing) Error() string {
	return "failed to parse event " + e.Event + ": " + e.Err.Error()
}
