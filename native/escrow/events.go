package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"nervix/core/types"
	"nervix/native/fees"
)

const (
	EventTypeEscrowCreated    = "escrow.created"
	EventTypeEscrowFunded     = "escrow.funded"
	EventTypeEscrowReleased   = "escrow.released"
	EventTypeEscrowRefunded   = "escrow.refunded"
	EventTypeEscrowDisputed   = "escrow.disputed"
	EventTypePaused           = "escrow.paused"
	EventTypeUnpaused         = "escrow.unpaused"
	EventTypeFeesUpdated      = "escrow.fees_updated"
	EventTypeWithdrawn        = "escrow.withdrawn"
	EventTypeOwnerTransferred = "escrow.owner_transferred"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewFundedEvent is emitted once the fee has been taken and the payout locked.
func NewFundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowFunded, e) }

func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowDisputed, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(uint64(sanitized.ID), 10)
	attrs["status"] = sanitized.Status.String()
	attrs["requester"] = hex.EncodeToString(sanitized.Requester[:])
	attrs["assignee"] = hex.EncodeToString(sanitized.Assignee[:])
	attrs["feeType"] = sanitized.FeeType.String()
	attrs["amount"] = sanitized.Amount.String()
	attrs["fundedAmount"] = sanitized.FundedAmount.String()
	attrs["feeCollected"] = sanitized.FeeCollected.String()
	attrs["openClaw"] = strconv.FormatBool(sanitized.OpenClaw)
	attrs["taskHash"] = hex.EncodeToString(sanitized.TaskHash[:])
	attrs["deadline"] = strconv.FormatUint(uint64(sanitized.Deadline), 10)
	attrs["createdAt"] = strconv.FormatUint(sanitized.CreatedAt, 10)
	if sanitized.QueryID != 0 {
		attrs["queryId"] = strconv.FormatUint(sanitized.QueryID, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewPauseEvent reports a change of the pause flag.
func NewPauseEvent(paused bool, by [20]byte) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"by": hex.EncodeToString(by[:]),
	}}
}

func NewFeesUpdatedEvent(s fees.Schedule) *types.Event {
	return &types.Event{Type: EventTypeFeesUpdated, Attributes: map[string]string{
		"taskBps":             strconv.FormatUint(uint64(s.TaskBps), 10),
		"settlementBps":       strconv.FormatUint(uint64(s.SettlementBps), 10),
		"transferBps":         strconv.FormatUint(uint64(s.TransferBps), 10),
		"openClawDiscountBps": strconv.FormatUint(uint64(s.DiscountBps), 10),
	}}
}

func NewWithdrawnEvent(to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"to":     hex.EncodeToString(to[:]),
		"amount": cloneBigInt(amount).String(),
	}}
}

func NewOwnerTransferredEvent(previous, next [20]byte) *types.Event {
	return &types.Event{Type: EventTypeOwnerTransferred, Attributes: map[string]string{
		"previous": hex.EncodeToString(previous[:]),
		"owner":    hex.EncodeToString(next[:]),
	}}
}
