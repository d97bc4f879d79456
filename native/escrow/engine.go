package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"nervix/core/events"
	"nervix/core/types"
	"nervix/native/common"
	"nervix/native/fees"
)

// ModuleName identifies the escrow ledger to the pause guard.
const ModuleName = "escrow"

var errNilState = errors.New("escrow engine: state not configured")

type engineState interface {
	EscrowParams() (*Params, error)
	SetEscrowParams(*Params) error
	EscrowGet(id uint32) (*Escrow, bool, error)
	EscrowPut(*Escrow) error
	Balance(addr [20]byte) (*big.Int, error)
	SetBalance(addr [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine applies escrow transitions against the injected state. It is not
// safe for concurrent use; the node serialises all writes.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// IsPaused implements common.PauseView. A state read failure is treated as
// paused.
func (e *Engine) IsPaused(module string) bool {
	if module != ModuleName {
		return false
	}
	params, err := e.params()
	if err != nil {
		return true
	}
	return params.Paused
}

func (e *Engine) guard() error {
	if err := common.Guard(e, ModuleName); err != nil {
		return ErrPaused
	}
	return nil
}

func (e *Engine) params() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, err := e.state.EscrowParams()
	if err != nil {
		return nil, fmt.Errorf("escrow engine: load params: %w", err)
	}
	return p, nil
}

func (e *Engine) loadEscrow(id uint32) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, fmt.Errorf("escrow engine: load escrow %d: %w", id, err)
	}
	if !ok {
		return nil, ErrEscrowNotFound.withf("id %d", id)
	}
	return esc, nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := e.state.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("escrow engine: vault balance %s below transfer %s", fromBal, amount)
	}
	toBal, err := e.state.Balance(to)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return e.state.SetBalance(to, new(big.Int).Add(toBal, amount))
}

// Params returns a copy of the ledger-wide parameters.
func (e *Engine) Params() (*Params, error) {
	p, err := e.params()
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Escrow returns the record with the given id.
func (e *Engine) Escrow(id uint32) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Create registers a new escrow in the Created state and assigns it the next
// sequential id.
func (e *Engine) Create(caller [20]byte, req CreateEscrow, queryID uint64) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !req.FeeType.Valid() {
		return nil, ErrInvalidFeeType.withf("%d", uint8(req.FeeType))
	}
	if req.Amount != nil && req.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount.withf("negative amount")
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:           params.EscrowCount,
		Status:       StatusCreated,
		FeeType:      req.FeeType,
		Amount:       cloneBigInt(req.Amount),
		FundedAmount: big.NewInt(0),
		FeeCollected: big.NewInt(0),
		CreatedAt:    e.now(),
		Deadline:     req.Deadline,
		Requester:    caller,
		Assignee:     req.Assignee,
		TaskHash:     req.TaskHash,
		OpenClaw:     req.OpenClaw,
		QueryID:      queryID,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	params.EscrowCount++
	if err := e.state.SetEscrowParams(params); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Fund locks the requested amount. The attached value must already be
// credited to the vault and cover the amount plus the gas reserve. The fee is
// computed once here and sent to the treasury.
func (e *Engine) Fund(caller [20]byte, id uint32, value *big.Int) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Requester {
		return nil, ErrNotRequester
	}
	if esc.Status != StatusCreated {
		return nil, ErrInvalidStatus.withf("escrow %d is %s", id, esc.Status)
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(esc.Amount, params.MinGasReserve)
	if value == nil || value.Cmp(required) < 0 {
		return nil, ErrInsufficientValue.withf("need %s", required)
	}
	quote, err := params.Schedule().Quote(esc.Amount, esc.FeeType, esc.OpenClaw)
	if err != nil {
		return nil, ErrInvalidFeeType.withf("%v", err)
	}
	if err := e.transfer(params.Vault, params.Treasury, quote.Fee); err != nil {
		return nil, err
	}
	esc.FeeCollected = quote.Fee
	esc.FundedAmount = quote.Payout
	esc.Status = StatusFunded
	params.TotalFeesCollected = new(big.Int).Add(params.TotalFeesCollected, quote.Fee)
	params.LockedAmount = new(big.Int).Add(params.LockedAmount, quote.Payout)
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.state.SetEscrowParams(params); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(esc))
	return esc.Clone(), nil
}

// Release pays the funded amount to the assignee.
func (e *Engine) Release(caller [20]byte, id uint32) (*Escrow, error) {
	return e.settle(caller, id, StatusReleased)
}

// Refund returns the funded amount to the requester. Only the owner may
// refund, from Funded or Disputed; this is the only exit from a dispute.
func (e *Engine) Refund(caller [20]byte, id uint32) (*Escrow, error) {
	return e.settle(caller, id, StatusRefunded)
}

func (e *Engine) settle(caller [20]byte, id uint32, target EscrowStatus) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	recipient := esc.Assignee
	switch target {
	case StatusReleased:
		if caller != esc.Requester {
			return nil, ErrNotRequester
		}
		if esc.Status != StatusFunded {
			return nil, ErrInvalidStatus.withf("escrow %d is %s", id, esc.Status)
		}
	case StatusRefunded:
		if caller != params.Owner {
			return nil, ErrNotOwner
		}
		if !esc.Status.Locked() {
			return nil, ErrInvalidStatus.withf("escrow %d is %s", id, esc.Status)
		}
		recipient = esc.Requester
	default:
		return nil, fmt.Errorf("escrow engine: unsupported settlement %s", target)
	}
	if err := e.transfer(params.Vault, recipient, esc.FundedAmount); err != nil {
		return nil, err
	}
	esc.Status = target
	params.LockedAmount = new(big.Int).Sub(params.LockedAmount, esc.FundedAmount)
	if params.LockedAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow engine: locked amount underflow settling %d", id)
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.state.SetEscrowParams(params); err != nil {
		return nil, err
	}
	if target == StatusReleased {
		e.emit(NewReleasedEvent(esc))
	} else {
		e.emit(NewRefundedEvent(esc))
	}
	return esc.Clone(), nil
}

// Dispute freezes a funded escrow. No funds move.
func (e *Engine) Dispute(caller [20]byte, id uint32) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Requester {
		return nil, ErrNotRequester
	}
	if esc.Status != StatusFunded {
		return nil, ErrInvalidStatus.withf("escrow %d is %s", id, esc.Status)
	}
	esc.Status = StatusDisputed
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewDisputedEvent(esc))
	return esc.Clone(), nil
}

func (e *Engine) ownerParams(caller [20]byte) (*Params, error) {
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	if caller != params.Owner {
		return nil, ErrNotOwner
	}
	return params, nil
}

// Pause halts every non-administrative operation.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	params, err := e.ownerParams(caller)
	if err != nil {
		return err
	}
	params.Paused = paused
	if err := e.state.SetEscrowParams(params); err != nil {
		return err
	}
	e.emit(NewPauseEvent(paused, caller))
	return nil
}

// UpdateFees overwrites all four rates at once. Existing funded escrows keep
// the fee computed when they were funded.
func (e *Engine) UpdateFees(caller [20]byte, schedule fees.Schedule) error {
	params, err := e.ownerParams(caller)
	if err != nil {
		return err
	}
	if err := schedule.Validate(); err != nil {
		return ErrInvalidFees.withf("%v", err)
	}
	params.ApplySchedule(schedule)
	if err := e.state.SetEscrowParams(params); err != nil {
		return err
	}
	e.emit(NewFeesUpdatedEvent(schedule))
	return nil
}

// Withdrawable returns the vault balance not backing a Funded or Disputed
// escrow.
func (e *Engine) Withdrawable() (*big.Int, error) {
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	return e.withdrawable(params)
}

func (e *Engine) withdrawable(params *Params) (*big.Int, error) {
	vault, err := e.state.Balance(params.Vault)
	if err != nil {
		return nil, err
	}
	free := new(big.Int).Sub(vault, params.LockedAmount)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free, nil
}

// Withdraw moves unlocked vault funds to the owner.
func (e *Engine) Withdraw(caller [20]byte, amount *big.Int) error {
	params, err := e.ownerParams(caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount.withf("withdraw amount must be positive")
	}
	free, err := e.withdrawable(params)
	if err != nil {
		return err
	}
	if amount.Cmp(free) > 0 {
		return ErrInsufficientBalance.withf("available %s", free)
	}
	if err := e.transfer(params.Vault, params.Owner, amount); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(params.Owner, amount))
	return nil
}

// TransferOwner hands administrative control to newOwner.
func (e *Engine) TransferOwner(caller [20]byte, newOwner [20]byte) error {
	params, err := e.ownerParams(caller)
	if err != nil {
		return err
	}
	if newOwner == ([20]byte{}) {
		return ErrInvalidAddress.withf("new owner must be non-zero")
	}
	previous := params.Owner
	params.Owner = newOwner
	if err := e.state.SetEscrowParams(params); err != nil {
		return err
	}
	e.emit(NewOwnerTransferredEvent(previous, newOwner))
	return nil
}
