package fees

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// BasisPointsDenominator is the fixed-point scale for every rate in the schedule.
const BasisPointsDenominator = 10_000

// Default rates applied at genesis when no schedule is configured.
const (
	DefaultTaskBps       uint16 = 250
	DefaultSettlementBps uint16 = 150
	DefaultTransferBps   uint16 = 100
	DefaultDiscountBps   uint16 = 2000
)

// FeeType selects which base rate applies to an escrow.
type FeeType uint8

const (
	FeeTypeTask FeeType = iota
	FeeTypeSettlement
	FeeTypeTransfer
)

var (
	ErrInvalidFeeType = errors.New("fees: invalid fee type")
	ErrRateOutOfRange = errors.New("fees: rate exceeds 10000 basis points")
)

// Valid reports whether the fee type is one of the known variants.
func (t FeeType) Valid() bool {
	return t <= FeeTypeTransfer
}

func (t FeeType) String() string {
	switch t {
	case FeeTypeTask:
		return "task"
	case FeeTypeSettlement:
		return "settlement"
	case FeeTypeTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseFeeType accepts either the lowercase name or the numeric discriminant.
func ParseFeeType(value string) (FeeType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "task", "0":
		return FeeTypeTask, nil
	case "settlement", "1":
		return FeeTypeSettlement, nil
	case "transfer", "2":
		return FeeTypeTransfer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidFeeType, value)
	}
}

// Result is the outcome of a single fee computation.
type Result struct {
	Fee          *big.Int
	Payout       *big.Int
	EffectiveBps uint16
}

// EffectiveBps returns the rate after the optional discount is applied. The
// discount is itself expressed in basis points of the base rate.
func EffectiveBps(baseBps uint16, discounted bool, discountBps uint16) uint16 {
	if !discounted {
		return baseBps
	}
	if discountBps >= BasisPointsDenominator {
		return 0
	}
	eff := uint32(baseBps) * uint32(BasisPointsDenominator-uint32(discountBps)) / BasisPointsDenominator
	return uint16(eff)
}

// Compute splits amount into a fee and payout. All arithmetic is integer and
// rounds toward zero, so fee+payout always equals amount.
func Compute(amount *big.Int, baseBps uint16, discounted bool, discountBps uint16) Result {
	amt := big.NewInt(0)
	if amount != nil && amount.Sign() > 0 {
		amt.Set(amount)
	}
	eff := EffectiveBps(baseBps, discounted, discountBps)
	fee := new(big.Int).Mul(amt, big.NewInt(int64(eff)))
	fee.Quo(fee, big.NewInt(BasisPointsDenominator))
	payout := new(big.Int).Sub(amt, fee)
	return Result{Fee: fee, Payout: payout, EffectiveBps: eff}
}

// Schedule is the set of rates shared by every escrow on the ledger.
type Schedule struct {
	TaskBps       uint16 `json:"taskBps" toml:"task_bps" yaml:"task_bps"`
	SettlementBps uint16 `json:"settlementBps" toml:"settlement_bps" yaml:"settlement_bps"`
	TransferBps   uint16 `json:"transferBps" toml:"transfer_bps" yaml:"transfer_bps"`
	DiscountBps   uint16 `json:"openClawDiscountBps" toml:"openclaw_discount_bps" yaml:"openclaw_discount_bps"`
}

// DefaultSchedule returns the launch rates.
func DefaultSchedule() Schedule {
	return Schedule{
		TaskBps:       DefaultTaskBps,
		SettlementBps: DefaultSettlementBps,
		TransferBps:   DefaultTransferBps,
		DiscountBps:   DefaultDiscountBps,
	}
}

// Validate ensures every rate stays within the basis-point scale.
func (s Schedule) Validate() error {
	checks := []struct {
		name string
		v    uint16
	}{
		{"task", s.TaskBps},
		{"settlement", s.SettlementBps},
		{"transfer", s.TransferBps},
		{"openclaw discount", s.DiscountBps},
	}
	for _, c := range checks {
		if c.v > BasisPointsDenominator {
			return fmt.Errorf("%w: %s=%d", ErrRateOutOfRange, c.name, c.v)
		}
	}
	return nil
}

// Rate returns the base rate for the fee type.
func (s Schedule) Rate(t FeeType) (uint16, error) {
	switch t {
	case FeeTypeTask:
		return s.TaskBps, nil
	case FeeTypeSettlement:
		return s.SettlementBps, nil
	case FeeTypeTransfer:
		return s.TransferBps, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidFeeType, uint8(t))
	}
}

// Quote computes the fee for amount under this schedule.
func (s Schedule) Quote(amount *big.Int, t FeeType, openClaw bool) (Result, error) {
	rate, err := s.Rate(t)
	if err != nil {
		return Result{}, err
	}
	return Compute(amount, rate, openClaw, s.DiscountBps), nil
}
