package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

type wireMessage struct {
	Opcode  uint32
	QueryID uint64
	Body    rlp.RawValue
}

// EncodeMessage serialises msg as the RLP list [opcode, queryId, body].
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Op == nil {
		return nil, ErrMalformedMessage.withf("nil operation")
	}
	body, err := rlp.EncodeToBytes(msg.Op)
	if err != nil {
		return nil, fmt.Errorf("escrow: encode %s: %w", msg.Op.Opcode(), err)
	}
	return rlp.EncodeToBytes(wireMessage{Opcode: uint32(msg.Op.Opcode()), QueryID: msg.QueryID, Body: body})
}

// DecodeMessage parses a wire message. It is the only place raw bytes become
// typed operations.
func DecodeMessage(data []byte) (Message, error) {
	var wire wireMessage
	if err := rlp.DecodeBytes(data, &wire); err != nil {
		return Message{}, ErrMalformedMessage.withf("%v", err)
	}
	op, err := decodeBody(Opcode(wire.Opcode), wire.Body)
	if err != nil {
		return Message{}, err
	}
	return Message{QueryID: wire.QueryID, Op: op}, nil
}

func decodeBody(code Opcode, body []byte) (Op, error) {
	var err error
	switch code {
	case OpCreateEscrow:
		var op CreateEscrow
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpFundEscrow:
		var op FundEscrow
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpReleaseEscrow:
		var op ReleaseEscrow
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpRefundEscrow:
		var op RefundEscrow
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpDisputeEscrow:
		var op DisputeEscrow
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpPause:
		var op Pause
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpUnpause:
		var op Unpause
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpUpdateFees:
		var op UpdateFees
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpWithdraw:
		var op Withdraw
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	case OpTransferOwner:
		var op TransferOwner
		if err = rlp.DecodeBytes(body, &op); err == nil {
			return op, nil
		}
	default:
		return nil, ErrUnknownOpcode.withf("%s", code)
	}
	return nil, ErrMalformedMessage.withf("%s body: %v", code, err)
}
