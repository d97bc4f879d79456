package escrow

import (
	"math/big"
)

// Context carries the authenticated caller and the value attached to the
// message. The value has already been credited to the vault.
type Context struct {
	Caller [20]byte
	Value  *big.Int
}

// Receipt summarises an applied operation. Escrow is nil for administrative
// operations.
type Receipt struct {
	Opcode  Opcode
	QueryID uint64
	Escrow  *Escrow
}

// Dispatcher routes decoded messages to the engine.
type Dispatcher struct {
	engine *Engine
}

// NewDispatcher binds a dispatcher to engine.
func NewDispatcher(engine *Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Engine exposes the underlying engine for read access.
func (d *Dispatcher) Engine() *Engine { return d.engine }

// Apply executes msg on behalf of ctx.Caller. Either the whole operation takes
// effect or an error is returned; callers discard partial writes on error.
func (d *Dispatcher) Apply(ctx Context, msg Message) (*Receipt, error) {
	if d == nil || d.engine == nil {
		return nil, errNilState
	}
	if msg.Op == nil {
		return nil, ErrMalformedMessage.withf("nil operation")
	}
	var (
		esc *Escrow
		err error
	)
	switch op := msg.Op.(type) {
	case CreateEscrow:
		esc, err = d.engine.Create(ctx.Caller, op, msg.QueryID)
	case FundEscrow:
		esc, err = d.engine.Fund(ctx.Caller, op.EscrowID, ctx.Value)
	case ReleaseEscrow:
		esc, err = d.engine.Release(ctx.Caller, op.EscrowID)
	case RefundEscrow:
		esc, err = d.engine.Refund(ctx.Caller, op.EscrowID)
	case DisputeEscrow:
		esc, err = d.engine.Dispute(ctx.Caller, op.EscrowID)
	case Pause:
		err = d.engine.Pause(ctx.Caller)
	case Unpause:
		err = d.engine.Unpause(ctx.Caller)
	case UpdateFees:
		err = d.engine.UpdateFees(ctx.Caller, op.Schedule())
	case Withdraw:
		err = d.engine.Withdraw(ctx.Caller, op.Amount)
	case TransferOwner:
		err = d.engine.TransferOwner(ctx.Caller, op.NewOwner)
	default:
		return nil, ErrUnknownOpcode.withf("%T", msg.Op)
	}
	if err != nil {
		return nil, err
	}
	return &Receipt{Opcode: msg.Op.Opcode(), QueryID: msg.QueryID, Escrow: esc}, nil
}
