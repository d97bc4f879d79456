package preview

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of minor-unit digits in one major unit.
const Decimals = 9

// Symbol is the display suffix for major-unit amounts.
const Symbol = "NVX"

var (
	ErrInvalidAmount  = errors.New("preview: invalid amount")
	ErrAmountTooLarge = errors.New("preview: amount overflows 256 bits")
)

// ParseAmount converts a decimal string of major units into minor units.
// Digits past the ninth decimal place are truncated.
func ParseAmount(value string) (*big.Int, error) {
	v, err := parseUint256(value)
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

func parseUint256(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", Decimals-len(frac)), "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	out, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrAmountTooLarge, value)
	}
	return out, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatAmount renders minor units as a trimmed decimal string of major units.
func FormatAmount(minor *big.Int) string {
	if minor == nil || minor.Sign() == 0 {
		return "0"
	}
	neg := minor.Sign() < 0
	digits := new(big.Int).Abs(minor).String()
	if len(digits) <= Decimals {
		digits = strings.Repeat("0", Decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-Decimals]
	frac := strings.TrimRight(digits[len(digits)-Decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// AddBuffer returns amount plus a gas buffer, both in minor units.
func AddBuffer(amount, buffer *big.Int) (*big.Int, error) {
	a, overflow := uint256.FromBig(amount)
	if overflow || amount.Sign() < 0 {
		return nil, ErrAmountTooLarge
	}
	b, overflow := uint256.FromBig(buffer)
	if overflow || buffer.Sign() < 0 {
		return nil, ErrAmountTooLarge
	}
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrAmountTooLarge
	}
	return sum.ToBig(), nil
}

// FundValue is the value to attach when funding an escrow of amount: the
// ledger's minimum gas reserve or the configured buffer, whichever is larger,
// on top of the amount.
func FundValue(amount, minGasReserve, buffer *big.Int) (*big.Int, error) {
	extra := buffer
	if minGasReserve != nil && (extra == nil || minGasReserve.Cmp(extra) > 0) {
		extra = minGasReserve
	}
	if extra == nil {
		extra = new(big.Int)
	}
	return AddBuffer(amount, extra)
}
