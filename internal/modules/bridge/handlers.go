package bridge

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/klaytn/dex-indexer-example/internal/entity"
	"github.com/klaytn/dex-indexer-example/internal/modules/core"
)

// ensureSequence creates the shared sequence record linking both transfer
// legs, whichever leg shows up first.
func (m *Module) ensureSequence(ctx context.Context, seq uint64) error {
	id := strconv.FormatUint(seq, 10)
	existing, err := m.store.BridgeSequence(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load bridge sequence %s: %w", id, err)
	}
	if existing != nil {
		return nil
	}
	if err := m.store.SaveBridgeSequence(ctx, &entity.BridgeSequence{ID: id, Seq: seq}); err != nil {
		return fmt.Errorf("failed to save bridge sequence %s: %w", id, err)
	}
	m.logger.Info().Uint64("seq", seq).Msg("new bridge sequence")
	return nil
}

// transferTimeLock returns the announced lock for a bridge contract, or the
// protocol default when none has been recorded yet.
func (m *Module) transferTimeLock(ctx context.Context, contract string) (int64, error) {
	state, err := m.store.BridgeState(ctx, contract)
	if err != nil {
		return 0, fmt.Errorf("failed to load bridge state %s: %w", contract, err)
	}
	if state == nil {
		return defaultTransferTimeLock, nil
	}
	return state.TransferLock, nil
}

func (m *Module) seqArg(parsed *core.ParsedEvent, event *core.EventContext) (uint64, error) {
	seq := parsed.BigArg("seq")
	if seq == nil || !seq.IsUint64() {
		return 0, fmt.Errorf("%s event without usable seq in tx %s", parsed.EventName, event.TxHash)
	}
	return seq.Uint64(), nil
}

// provisionSeq reads the sequence number out of the provision struct the
// ProvisionConfirm/Claim/RemoveProvision events carry.
func (m *Module) provisionSeq(parsed *core.ParsedEvent, event *core.EventContext) (uint64, error) {
	seq := parsed.TupleBigArg("provision", "seq")
	if seq == nil || !seq.IsUint64() {
		return 0, fmt.Errorf("%s event without usable provision seq in tx %s", parsed.EventName, event.TxHash)
	}
	return seq.Uint64(), nil
}

// handleProvisionConfirm opens the Kaia leg of a transfer. The expected
// delivery time is the confirmation time plus the contract's transfer lock.
func (m *Module) handleProvisionConfirm(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	seq, err := m.provisionSeq(parsed, event)
	if err != nil {
		return err
	}
	if err := m.ensureSequence(ctx, seq); err != nil {
		return err
	}

	contract := strings.ToLower(parsed.Address.Hex())
	lock, err := m.transferTimeLock(ctx, contract)
	if err != nil {
		return err
	}

	amount := parsed.TupleBigArg("provision", "amount")
	if amount == nil {
		amount = big.NewInt(0)
	}

	transfer := &entity.BridgeTransfer{
		ID:                strconv.FormatUint(seq, 10),
		Seq:               seq,
		Sender:            parsed.TupleStringArg("provision", "sender"),
		Receiver:          parsed.TupleStringArg("provision", "receiver"),
		Amount:            amount,
		ContractAddress:   contract,
		DestinationTxHash: strings.ToLower(event.TxHash),
		Operator:          strings.ToLower(event.TxFrom),
		Timestamp:         event.Timestamp,
		DeliverTimestamp:  event.Timestamp + lock,
		BlockHeight:       event.BlockNumber,
		TxFee:             big.NewInt(0),
		Status:            entity.StatusConfirming,
	}
	if err := m.store.SaveBridgeTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("failed to save bridge transfer %d: %w", seq, err)
	}

	m.logger.Info().Uint64("seq", seq).Str("receiver", transfer.Receiver).Msg("provision confirmed")
	m.publish(ctx, transfer)
	return nil
}

// setStatus loads the Kaia leg by sequence and applies a mutation. A missing
// record is logged rather than failed; the provision event may predate the
// module's start block.
func (m *Module) setStatus(ctx context.Context, seq uint64, eventName string, mutate func(*entity.BridgeTransfer)) error {
	id := strconv.FormatUint(seq, 10)
	transfer, err := m.store.BridgeTransfer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load bridge transfer %s: %w", id, err)
	}
	if transfer == nil {
		m.logger.Error().Uint64("seq", seq).Str("event", eventName).Msg("bridge record not found")
		return nil
	}
	mutate(transfer)
	if err := m.store.SaveBridgeTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("failed to save bridge transfer %s: %w", id, err)
	}
	m.logger.Info().Uint64("seq", seq).Str("event", eventName).Str("status", string(transfer.Status)).Msg("bridge record updated")
	m.publish(ctx, transfer)
	return nil
}

func (m *Module) handleClaim(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	seq, err := m.provisionSeq(parsed, event)
	if err != nil {
		return err
	}
	return m.setStatus(ctx, seq, "Claim", func(t *entity.BridgeTransfer) {
		t.Status = entity.StatusDelivered
	})
}

func (m *Module) handleRemoveProvision(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	seq, err := m.provisionSeq(parsed, event)
	if err != nil {
		return err
	}
	return m.setStatus(ctx, seq, "RemoveProvision", func(t *entity.BridgeTransfer) {
		t.Status = entity.StatusFailed
		t.DestinationTxHash = strings.ToLower(event.TxHash)
		t.BlockHeight = event.BlockNumber
	})
}

func (m *Module) handleHoldClaim(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	seq, err := m.seqArg(parsed, event)
	if err != nil {
		return err
	}
	timeArg := parsed.BigArg("time")
	if timeArg == nil {
		return fmt.Errorf("HoldClaim event without time in tx %s", event.TxHash)
	}
	// the contract signals an indefinite hold with the uint256 max value
	deliver := int64(math.MaxInt64)
	if timeArg.IsInt64() {
		deliver = timeArg.Int64()
	}
	return m.setStatus(ctx, seq, "HoldClaim", func(t *entity.BridgeTransfer) {
		t.Status = entity.StatusHold
		t.DeliverTimestamp = deliver
	})
}

func (m *Module) handleReleaseClaim(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	seq, err := m.seqArg(parsed, event)
	if err != nil {
		return err
	}
	return m.setStatus(ctx, seq, "ReleaseClaim", func(t *entity.BridgeTransfer) {
		t.Status = entity.StatusConfirming
		t.DeliverTimestamp = event.Timestamp
	})
}

func (m *Module) handleChangeTimeLock(ctx context.Context, event *core.EventContext, parsed *core.ParsedEvent) error {
	timeArg := parsed.BigArg("time")
	if timeArg == nil || !timeArg.IsInt64() {
		return fmt.Errorf("ChangeTransferTimeLock event without usable time in tx %s", event.TxHash)
	}

	contract := strings.ToLower(parsed.Address.Hex())
	state, err := m.store.BridgeState(ctx, contract)
	if err != nil {
		return fmt.Errorf("failed to load bridge state %s: %w", contract, err)
	}
	if state == nil {
		state = &entity.BridgeState{ID: contract}
	}
	state.TransferLock = timeArg.Int64()
	if err := m.store.SaveBridgeState(ctx, state); err != nil {
		return fmt.Errorf("failed to save bridge state %s: %w", contract, err)
	}

	m.logger.Info().Str("bridge", contract).Int64("transferLock", state.TransferLock).Msg("transfer time lock changed")
	return nil
}

// handleFbridge opens the Finschia leg of a transfer from a Cosmos event.
func (m *Module) handleFbridge(ctx context.Context, event *core.EventContext) error {
	seqAttr := event.Attribute("seq")
	if seqAttr == "" {
		return fmt.Errorf("fbridge event without seq attribute in tx %s", event.TxHash)
	}
	seq, err := strconv.ParseUint(seqAttr, 10, 64)
	if err != nil {
		return fmt.Errorf("fbridge event with malformed seq %q: %w", seqAttr, err)
	}
	if err := m.ensureSequence(ctx, seq); err != nil {
		return err
	}

	amount := big.NewInt(0)
	if raw := event.Attribute("amount"); raw != "" {
		if _, ok := amount.SetString(raw, 10); !ok {
			return fmt.Errorf("fbridge event with malformed amount %q", raw)
		}
	}

	transfer := &entity.FinschiaTransfer{
		ID:           seqAttr,
		Seq:          seq,
		Sender:       event.Attribute("sender"),
		Receiver:     event.Attribute("receiver"),
		Amount:       amount,
		SourceTxHash: event.TxHash,
		Timestamp:    event.Timestamp,
		BlockHeight:  event.BlockNumber,
		Status:       entity.StatusInflight,
	}
	if err := m.store.SaveFinschiaTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("failed to save finschia transfer %d: %w", seq, err)
	}

	m.logger.Info().Uint64("seq", seq).Str("receiver", transfer.Receiver).Msg("finschia transfer recorded")
	return nil
}

func (m *Module) publish(ctx context.Context, transfer *entity.BridgeTransfer) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishTransfer(ctx, transfer); err != nil {
		m.logger.Warn().Err(err).Uint64("seq", transfer.Seq).Msg("failed to publish bridge transfer")
	}
}
