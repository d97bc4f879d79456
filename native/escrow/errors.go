package escrow

import (
	"errors"
	"fmt"
)

// Kind groups ledger errors by how a client should react to them.
type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthorization
	KindState
	KindPaused
	KindInsufficientValue
	KindNotFound
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindPaused:
		return "paused"
	case KindInsufficientValue:
		return "insufficient_value"
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Error is a rejected operation. Code matches the exit codes published to
// wallets; two errors are equal under errors.Is when their codes match.
type Error struct {
	Kind Kind
	Code uint16
	Msg  string
}

func (e *Error) Error() string { return "escrow: " + e.Msg }

// Is matches errors that share the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: e.Msg + ": " + fmt.Sprintf(format, args...)}
}

var (
	ErrNotOwner            = &Error{Kind: KindAuthorization, Code: 100, Msg: "caller is not the owner"}
	ErrPaused              = &Error{Kind: KindPaused, Code: 101, Msg: "ledger is paused"}
	ErrEscrowNotFound      = &Error{Kind: KindNotFound, Code: 102, Msg: "escrow not found"}
	ErrInvalidStatus       = &Error{Kind: KindState, Code: 103, Msg: "invalid escrow status"}
	ErrInsufficientValue   = &Error{Kind: KindInsufficientValue, Code: 104, Msg: "insufficient attached value"}
	ErrInvalidFeeType      = &Error{Kind: KindInvalidArgument, Code: 105, Msg: "invalid fee type"}
	ErrInvalidFees         = &Error{Kind: KindInvalidArgument, Code: 106, Msg: "fee rate out of range"}
	ErrNotRequester        = &Error{Kind: KindAuthorization, Code: 107, Msg: "caller is not the requester"}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientValue, Code: 108, Msg: "insufficient withdrawable balance"}
	ErrInvalidAddress      = &Error{Kind: KindInvalidArgument, Code: 109, Msg: "invalid address"}
	ErrMalformedMessage    = &Error{Kind: KindInvalidArgument, Code: 110, Msg: "malformed message"}
	ErrInvalidAmount       = &Error{Kind: KindInvalidArgument, Code: 111, Msg: "invalid amount"}
	ErrUnknownOpcode       = &Error{Kind: KindInvalidArgument, Code: 0xffff, Msg: "unknown opcode"}
)

// KindOf returns the kind of a ledger error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the exit code of a ledger error, or zero.
func CodeOf(err error) uint16 {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
