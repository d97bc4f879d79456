package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"nervix/core"
	"nervix/core/state"
	"nervix/core/types"
	"nervix/crypto"
	"nervix/native/escrow"
	"nervix/native/fees"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// LedgerErrorData accompanies errors raised by the escrow ledger.
type LedgerErrorData struct {
	ExitCode uint16 `json:"exitCode"`
	Kind     string `json:"kind"`
}

// FeeScheduleJSON is the fee schedule in basis points.
type FeeScheduleJSON struct {
	TaskBps             uint16 `json:"taskBps"`
	SettlementBps       uint16 `json:"settlementBps"`
	TransferBps         uint16 `json:"transferBps"`
	OpenClawDiscountBps uint16 `json:"openClawDiscountBps"`
}

func feeScheduleJSON(s fees.Schedule) FeeScheduleJSON {
	return FeeScheduleJSON{TaskBps: s.TaskBps, SettlementBps: s.SettlementBps, TransferBps: s.TransferBps, OpenClawDiscountBps: s.DiscountBps}
}

// Schedule converts back into a fees.Schedule.
func (f FeeScheduleJSON) Schedule() fees.Schedule {
	return fees.Schedule{TaskBps: f.TaskBps, SettlementBps: f.SettlementBps, TransferBps: f.TransferBps, DiscountBps: f.OpenClawDiscountBps}
}

type ContractInfoResult struct {
	Owner              string          `json:"owner"`
	Treasury           string          `json:"treasury"`
	Vault              string          `json:"vault"`
	Paused             bool            `json:"paused"`
	EscrowCount        uint32          `json:"escrowCount"`
	Fees               FeeScheduleJSON `json:"fees"`
	TotalFeesCollected string          `json:"totalFeesCollected"`
	MinGasReserve      string          `json:"minGasReserve"`
}

func contractInfoResult(info escrow.ContractInfo) ContractInfoResult {
	return ContractInfoResult{
		Owner:              formatAddress(info.Owner),
		Treasury:           formatAddress(info.Treasury),
		Vault:              formatAddress(info.Vault),
		Paused:             info.Paused,
		EscrowCount:        info.EscrowCount,
		Fees:               feeScheduleJSON(info.Fees),
		TotalFeesCollected: info.TotalFeesCollected.String(),
		MinGasReserve:      info.MinGasReserve.String(),
	}
}

type EscrowJSON struct {
	ID           uint32 `json:"id"`
	Status       string `json:"status"`
	StatusCode   uint8  `json:"statusCode"`
	FeeType      string `json:"feeType"`
	Amount       string `json:"amount"`
	FundedAmount string `json:"fundedAmount"`
	FeeCollected string `json:"feeCollected"`
	CreatedAt    uint64 `json:"createdAt"`
	Deadline     uint32 `json:"deadline"`
	Requester    string `json:"requester"`
	Assignee     string `json:"assignee"`
	TaskHash     string `json:"taskHash"`
	OpenClaw     bool   `json:"isOpenClaw"`
	QueryID      uint64 `json:"queryId,omitempty"`
}

func escrowJSON(e *escrow.Escrow) *EscrowJSON {
	if e == nil {
		return nil
	}
	return &EscrowJSON{
		ID:           e.ID,
		Status:       e.Status.String(),
		StatusCode:   uint8(e.Status),
		FeeType:      e.FeeType.String(),
		Amount:       e.Amount.String(),
		FundedAmount: e.FundedAmount.String(),
		FeeCollected: e.FeeCollected.String(),
		CreatedAt:    e.CreatedAt,
		Deadline:     e.Deadline,
		Requester:    formatAddress(e.Requester),
		Assignee:     formatAddress(e.Assignee),
		TaskHash:     "0x" + hex.EncodeToString(e.TaskHash[:]),
		OpenClaw:     e.OpenClaw,
		QueryID:      e.QueryID,
	}
}

type TreasuryInfoResult struct {
	Treasury           string `json:"treasury"`
	Balance            string `json:"balance"`
	TotalFeesCollected string `json:"totalFeesCollected"`
}

func treasuryInfoResult(info core.TreasuryInfo) TreasuryInfoResult {
	return TreasuryInfoResult{
		Treasury:           formatAddress(info.Treasury),
		Balance:            info.Balance.String(),
		TotalFeesCollected: info.TotalFeesCollected.String(),
	}
}

type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type EventJSON struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func eventJSON(evt state.StoredEvent) EventJSON {
	return EventJSON{Seq: evt.Seq, Type: evt.Event.Type, Attributes: evt.Event.Attributes}
}

// SubmitParams is the JSON form of a signed ledger message.
type SubmitParams struct {
	Payload string `json:"payload"`
	Value   string `json:"value"`
	Nonce   uint64 `json:"nonce"`
	R       string `json:"r"`
	S       string `json:"s"`
	V       uint8  `json:"v"`
}

// NewSubmitParams encodes a signed message for transport.
func NewSubmitParams(msg *types.SignedMessage) SubmitParams {
	value := "0"
	if msg.Value != nil {
		value = msg.Value.String()
	}
	out := SubmitParams{
		Payload: "0x" + hex.EncodeToString(msg.Payload),
		Value:   value,
		Nonce:   msg.Nonce,
	}
	if msg.R != nil && msg.S != nil && msg.V != nil {
		out.R = "0x" + msg.R.Text(16)
		out.S = "0x" + msg.S.Text(16)
		out.V = uint8(msg.V.Uint64())
	}
	return out
}

// Message decodes the parameters into a signed message.
func (p SubmitParams) Message() (*types.SignedMessage, error) {
	payload, err := decodeHex(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	value := big.NewInt(0)
	if strings.TrimSpace(p.Value) != "" {
		var ok bool
		value, ok = new(big.Int).SetString(strings.TrimSpace(p.Value), 10)
		if !ok || value.Sign() < 0 {
			return nil, fmt.Errorf("value: invalid amount %q", p.Value)
		}
	}
	r, ok := new(big.Int).SetString(strings.TrimPrefix(p.R, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("r: invalid hex")
	}
	s, ok := new(big.Int).SetString(strings.TrimPrefix(p.S, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("s: invalid hex")
	}
	return &types.SignedMessage{
		Payload: payload,
		Value:   value,
		Nonce:   p.Nonce,
		R:       r,
		S:       s,
		V:       new(big.Int).SetUint64(uint64(p.V)),
	}, nil
}

type SubmitResult struct {
	Sender  string      `json:"sender"`
	Nonce   uint64      `json:"nonce"`
	Op      string      `json:"op"`
	QueryID uint64      `json:"queryId"`
	Escrow  *EscrowJSON `json:"escrow,omitempty"`
	Events  []EventJSON `json:"events"`
}

func submitResult(r *core.Receipt) SubmitResult {
	out := SubmitResult{
		Sender:  formatAddress(r.Sender),
		Nonce:   r.Nonce,
		Op:      r.Opcode.String(),
		QueryID: r.QueryID,
		Escrow:  escrowJSON(r.Escrow),
		Events:  make([]EventJSON, 0, len(r.Events)),
	}
	for _, evt := range r.Events {
		out.Events = append(out.Events, eventJSON(evt))
	}
	return out
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromBytes(addr).String()
}

func decodeHex(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	return hex.DecodeString(trimmed)
}
