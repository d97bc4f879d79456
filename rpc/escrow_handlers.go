package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"nervix/core"
	"nervix/core/state"
	"nervix/core/types"
	"nervix/crypto"
	"nervix/native/escrow"
)

// JSON-RPC error codes for rejected ledger operations. Clients match on these
// rather than on messages.
const (
	CodeLedgerUnauthorized      = -32031
	CodeLedgerInvalidState      = -32032
	CodeLedgerPaused            = -32033
	CodeLedgerInsufficientValue = -32034
	CodeLedgerNotFound          = -32035
	CodeLedgerInvalidArgument   = -32036
	CodeInvalidNonce            = -32037
	CodeInvalidSignature        = -32038
)

const maxEventsPerPage = 500

// writeLedgerError maps ledger and node failures onto JSON-RPC errors.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, core.ErrInvalidNonce):
		writeError(w, http.StatusConflict, id, CodeInvalidNonce, "invalid_nonce", err.Error())
		return
	case errors.Is(err, types.ErrMissingSignature), errors.Is(err, types.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, id, CodeInvalidSignature, "invalid_signature", err.Error())
		return
	case errors.Is(err, core.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, "node_closed", nil)
		return
	}

	var ledgerErr *escrow.Error
	if !errors.As(err, &ledgerErr) {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
		return
	}
	data := LedgerErrorData{ExitCode: ledgerErr.Code, Kind: ledgerErr.Kind.String()}
	status := http.StatusBadRequest
	code := CodeLedgerInvalidArgument
	switch ledgerErr.Kind {
	case escrow.KindAuthorization:
		status, code = http.StatusForbidden, CodeLedgerUnauthorized
	case escrow.KindState:
		status, code = http.StatusConflict, CodeLedgerInvalidState
	case escrow.KindPaused:
		status, code = http.StatusConflict, CodeLedgerPaused
	case escrow.KindInsufficientValue:
		status, code = http.StatusPaymentRequired, CodeLedgerInsufficientValue
	case escrow.KindNotFound:
		status, code = http.StatusNotFound, CodeLedgerNotFound
	case escrow.KindInternal:
		status, code = http.StatusInternalServerError, codeServerError
	}
	writeError(w, status, id, code, err.Error(), data)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected signed message parameter", nil)
		return
	}
	var params SubmitParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid message format", err.Error())
		return
	}
	msg, err := params.Message()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.node.Submit(r.Context(), msg)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, submitResult(receipt))
}

func (s *Server) handleGetContractInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	info, err := s.node.ContractInfo()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, contractInfoResult(info))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected escrow id parameter", nil)
		return
	}
	id, err := parseEscrowID(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.Escrow(id)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowJSON(record))
}

func (s *Server) handleGetOwner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	owner, err := s.node.Owner()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAddress(owner))
}

func (s *Server) handleGetOpenClawDiscount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	discount, err := s.node.OpenClawDiscount()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, discount)
}

func (s *Server) handleGetTreasuryInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	info, err := s.node.Treasury()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryInfoResult(info))
}

func (s *Server) handleGetWithdrawable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	amount, err := s.node.Withdrawable()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amount.String())
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{Address: formatAddress(addr), Balance: balance.String(), Nonce: nonce})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressParam(w, req)
	if !ok {
		return
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, nonce)
}

func (s *Server) handleEventsSince(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var from uint64
	limit := maxEventsPerPage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &from); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid sequence parameter", err.Error())
			return
		}
	}
	if len(req.Params) > 1 {
		if err := json.Unmarshal(req.Params[1], &limit); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid limit parameter", err.Error())
			return
		}
	}
	if limit <= 0 || limit > maxEventsPerPage {
		limit = maxEventsPerPage
	}
	evts, err := s.node.EventsSince(from, limit)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, eventsJSON(evts))
}

func (s *Server) addressParam(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected address parameter", nil)
		return [20]byte{}, false
	}
	var raw string
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address must be a string", err.Error())
		return [20]byte{}, false
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return [20]byte{}, false
	}
	return addr, true
}

// parseEscrowID accepts a JSON number or a decimal string.
func parseEscrowID(raw json.RawMessage) (uint32, error) {
	var num uint32
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("invalid escrow id")
	}
	parsed, err := strconv.ParseUint(strings.TrimSpace(text), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid escrow id %q", text)
	}
	return uint32(parsed), nil
}

func eventsJSON(evts []state.StoredEvent) []EventJSON {
	out := make([]EventJSON, 0, len(evts))
	for _, evt := range evts {
		out = append(out, eventJSON(evt))
	}
	return out
}
