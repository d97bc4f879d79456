package escrow

import (
	"fmt"
	"math/big"

	"nervix/native/fees"
)

// Opcode is the 32-bit operation tag that prefixes every ledger message.
type Opcode uint32

const (
	OpCreateEscrow  Opcode = 0x4e565831
	OpFundEscrow    Opcode = 0x4e565832
	OpReleaseEscrow Opcode = 0x4e565833
	OpRefundEscrow  Opcode = 0x4e565834
	OpDisputeEscrow Opcode = 0x4e565835
	OpPause         Opcode = 0x4e565840
	OpUnpause       Opcode = 0x4e565841
	OpUpdateFees    Opcode = 0x4e565842
	OpWithdraw      Opcode = 0x4e565843
	OpTransferOwner Opcode = 0x4e565844
)

var opcodeNames = map[Opcode]string{
	OpCreateEscrow:  "createEscrow",
	OpFundEscrow:    "fundEscrow",
	OpReleaseEscrow: "releaseEscrow",
	OpRefundEscrow:  "refundEscrow",
	OpDisputeEscrow: "disputeEscrow",
	OpPause:         "pause",
	OpUnpause:       "unpause",
	OpUpdateFees:    "updateFees",
	OpWithdraw:      "withdraw",
	OpTransferOwner: "transferOwner",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", uint32(o))
}

// Admin reports whether the opcode is reserved for the owner. Admin
// operations bypass the pause gate.
func (o Opcode) Admin() bool {
	return o >= OpPause && o <= OpTransferOwner
}

// Op is one decoded ledger operation. The set of implementations is closed.
type Op interface {
	Opcode() Opcode
	isOp()
}

// CreateEscrow registers a new escrow for the caller.
type CreateEscrow struct {
	FeeType  fees.FeeType
	Amount   *big.Int
	Deadline uint32
	Assignee [20]byte
	TaskHash [32]byte
	OpenClaw bool
}

// FundEscrow locks the escrow amount using the attached value.
type FundEscrow struct{ EscrowID uint32 }

type ReleaseEscrow struct{ EscrowID uint32 }

type RefundEscrow struct{ EscrowID uint32 }

type DisputeEscrow struct{ EscrowID uint32 }

type Pause struct{}

type Unpause struct{}

// UpdateFees replaces all four rates.
type UpdateFees struct {
	TaskBps       uint16
	SettlementBps uint16
	TransferBps   uint16
	DiscountBps   uint16
}

// Schedule converts the operation into a fee schedule.
func (u UpdateFees) Schedule() fees.Schedule {
	return fees.Schedule{TaskBps: u.TaskBps, SettlementBps: u.SettlementBps, TransferBps: u.TransferBps, DiscountBps: u.DiscountBps}
}

type Withdraw struct{ Amount *big.Int }

type TransferOwner struct{ NewOwner [20]byte }

func (CreateEscrow) Opcode() Opcode  { return OpCreateEscrow }
func (FundEscrow) Opcode() Opcode    { return OpFundEscrow }
func (ReleaseEscrow) Opcode() Opcode { return OpReleaseEscrow }
func (RefundEscrow) Opcode() Opcode  { return OpRefundEscrow }
func (DisputeEscrow) Opcode() Opcode { return OpDisputeEscrow }
func (Pause) Opcode() Opcode         { return OpPause }
func (Unpause) Opcode() Opcode       { return OpUnpause }
func (UpdateFees) Opcode() Opcode    { return OpUpdateFees }
func (Withdraw) Opcode() Opcode      { return OpWithdraw }
func (TransferOwner) Opcode() Opcode { return OpTransferOwner }

func (CreateEscrow) isOp()  {}
func (FundEscrow) isOp()    {}
func (ReleaseEscrow) isOp() {}
func (RefundEscrow) isOp()  {}
func (DisputeEscrow) isOp() {}
func (Pause) isOp()         {}
func (Unpause) isOp()       {}
func (UpdateFees) isOp()    {}
func (Withdraw) isOp()      {}
func (TransferOwner) isOp() {}

// Message is an operation together with its client correlation id.
type Message struct {
	QueryID uint64
	Op      Op
}
