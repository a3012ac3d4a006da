package entity

import "math/big"

// TransferStatus is the lifecycle state of a cross-chain transfer leg.
type TransferStatus string

const (
	StatusInflight   TransferStatus = "INFLIGHT"
	StatusConfirming TransferStatus = "CONFIRMING"
	StatusDelivered  TransferStatus = "DELIVERED"
	StatusFailed     TransferStatus = "FAILED"
	StatusHold       TransferStatus = "HOLD"
)

// BridgeSequence ties the source and destination legs of one transfer
// together. It is created by whichever leg is observed first.
type BridgeSequence struct {
	ID  string
	Seq uint64
}

// BridgeTransfer is the EVM-side (destination) leg of a transfer, keyed by the
// bridge sequence number.
type BridgeTransfer struct {
	ID                string
	Seq               uint64
	Sender            string
	Receiver          string
	Amount            *big.Int
	ContractAddress   string
	DestinationTxHash string
	Operator          string

	Timestamp        int64
	DeliverTimestamp int64
	BlockHeight      uint64

	TxFee  *big.Int
	Status TransferStatus
}

// FinschiaTransfer is the Cosmos-side (source) leg of a transfer.
type FinschiaTransfer struct {
	ID           string
	Seq          uint64
	Sender       string
	Receiver     string
	Amount       *big.Int
	SourceTxHash string

	Timestamp   int64
	BlockHeight uint64

	Status TransferStatus
}

// BridgeState stores per-contract bridge parameters, currently only the
// transfer time lock.
type BridgeState struct {
	ID           string
	TransferLock int64
}
