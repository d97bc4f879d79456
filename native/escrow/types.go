package escrow

import (
	"fmt"
	"math/big"

	"nervix/native/fees"
)

// EscrowStatus represents the lifecycle states of a single escrow.
type EscrowStatus uint8

const (
	StatusCreated EscrowStatus = iota
	StatusFunded
	StatusReleased
	StatusRefunded
	StatusDisputed
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	return s <= StatusDisputed
}

// Terminal reports whether no further transition is possible.
func (s EscrowStatus) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Locked reports whether the escrow still holds its payout in the vault.
func (s EscrowStatus) Locked() bool {
	return s == StatusFunded || s == StatusDisputed
}

func (s EscrowStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Escrow is the durable record for one task payment. FundedAmount and
// FeeCollected stay zero until the requester funds the escrow and never change
// afterwards.
type Escrow struct {
	ID           uint32
	Status       EscrowStatus
	FeeType      fees.FeeType
	Amount       *big.Int
	FundedAmount *big.Int
	FeeCollected *big.Int
	CreatedAt    uint64
	Deadline     uint32
	Requester    [20]byte
	Assignee     [20]byte
	TaskHash     [32]byte
	OpenClaw     bool
	QueryID      uint64
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.FundedAmount = cloneBigInt(e.FundedAmount)
	clone.FeeCollected = cloneBigInt(e.FeeCollected)
	return &clone
}

// SanitizeEscrow validates a record loaded from or written to storage.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if !clone.FeeType.Valid() {
		return nil, fmt.Errorf("invalid escrow fee type: %d", clone.FeeType)
	}
	if clone.Amount.Sign() < 0 || clone.FundedAmount.Sign() < 0 || clone.FeeCollected.Sign() < 0 {
		return nil, fmt.Errorf("escrow amounts must be non-negative")
	}
	if clone.Status == StatusCreated && (clone.FundedAmount.Sign() != 0 || clone.FeeCollected.Sign() != 0) {
		return nil, fmt.Errorf("unfunded escrow %d carries funds", clone.ID)
	}
	return clone, nil
}

// Params is the ledger-wide configuration and counters.
type Params struct {
	Owner              [20]byte
	Treasury           [20]byte
	Vault              [20]byte
	Paused             bool
	EscrowCount        uint32
	TaskFeeBps         uint16
	SettlementFeeBps   uint16
	TransferFeeBps     uint16
	OpenClawDiscount   uint16
	TotalFeesCollected *big.Int
	LockedAmount       *big.Int
	MinGasReserve      *big.Int
}

// Clone returns a deep copy of the parameters.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalFeesCollected = cloneBigInt(p.TotalFeesCollected)
	clone.LockedAmount = cloneBigInt(p.LockedAmount)
	clone.MinGasReserve = cloneBigInt(p.MinGasReserve)
	return &clone
}

// Schedule returns the fee rates as a fees.Schedule.
func (p *Params) Schedule() fees.Schedule {
	if p == nil {
		return fees.Schedule{}
	}
	return fees.Schedule{
		TaskBps:       p.TaskFeeBps,
		SettlementBps: p.SettlementFeeBps,
		TransferBps:   p.TransferFeeBps,
		DiscountBps:   p.OpenClawDiscount,
	}
}

// ApplySchedule overwrites all four rates.
func (p *Params) ApplySchedule(s fees.Schedule) {
	p.TaskFeeBps = s.TaskBps
	p.SettlementFeeBps = s.SettlementBps
	p.TransferFeeBps = s.TransferBps
	p.OpenClawDiscount = s.DiscountBps
}

// DefaultMinGasReserve is 0.01 units at nine decimals.
var DefaultMinGasReserve = big.NewInt(10_000_000)

// NewParams builds genesis parameters with zeroed counters.
func NewParams(owner, treasury, vault [20]byte, schedule fees.Schedule, minGasReserve *big.Int) *Params {
	p := &Params{
		Owner:              owner,
		Treasury:           treasury,
		Vault:              vault,
		TotalFeesCollected: big.NewInt(0),
		LockedAmount:       big.NewInt(0),
		MinGasReserve:      cloneBigInt(DefaultMinGasReserve),
	}
	if minGasReserve != nil {
		p.MinGasReserve = cloneBigInt(minGasReserve)
	}
	p.ApplySchedule(schedule)
	return p
}

// ContractInfo is the read-only summary exposed to clients.
type ContractInfo struct {
	Owner              [20]byte
	Treasury           [20]byte
	Vault              [20]byte
	Paused             bool
	EscrowCount        uint32
	Fees               fees.Schedule
	TotalFeesCollected *big.Int
	MinGasReserve      *big.Int
}

// Info projects the parameters onto the client-facing summary.
func (p *Params) Info() ContractInfo {
	return ContractInfo{
		Owner:              p.Owner,
		Treasury:           p.Treasury,
		Vault:              p.Vault,
		Paused:             p.Paused,
		EscrowCount:        p.EscrowCount,
		Fees:               p.Schedule(),
		TotalFeesCollected: cloneBigInt(p.TotalFeesCollected),
		MinGasReserve:      cloneBigInt(p.MinGasReserve),
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
