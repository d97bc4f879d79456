package server

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"nervix/crypto"
	"nervix/native/escrow"
	"nervix/native/fees"
	"nervix/services/escrow-mirror/nodeclient"
	"nervix/services/escrow-mirror/preview"
)

const maxBuilderBody = 16 << 10

// TxPayload is an unsigned ledger message for the caller to sign and submit.
type TxPayload struct {
	To           string `json:"to"`
	Value        string `json:"value"`
	ValueDisplay string `json:"valueDisplay"`
	Payload      string `json:"payload"`
	QueryID      uint64 `json:"queryId"`
	Description  string `json:"description"`
}

type createRequest struct {
	Amount   string `json:"amount"`
	FeeType  string `json:"feeType"`
	Deadline uint32 `json:"deadline"`
	Assignee string `json:"assignee"`
	TaskHash string `json:"taskHash"`
	OpenClaw bool   `json:"isOpenClaw"`
}

type escrowRefRequest struct {
	EscrowID uint32 `json:"escrowId"`
}

func (s *Server) handleBuildCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := preview.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if amount.Sign() == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	feeType := fees.FeeTypeTask
	if strings.TrimSpace(req.FeeType) != "" {
		if feeType, err = fees.ParseFeeType(req.FeeType); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	assignee, err := crypto.ParseAddress(req.Assignee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid assignee address")
		return
	}
	taskHash, err := parseTaskHash(req.TaskHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	op := escrow.CreateEscrow{
		FeeType:  feeType,
		Amount:   amount,
		Deadline: req.Deadline,
		Assignee: assignee,
		TaskHash: taskHash,
		OpenClaw: req.OpenClaw,
	}
	s.writePayload(w, r, op, s.cfg.DefaultBuffer,
		fmt.Sprintf("Create escrow for %s %s", preview.FormatAmount(amount), preview.Symbol))
}

// handleBuildFund reads the escrow amount and the ledger's minimum gas
// reserve so the attached value always covers both.
func (s *Server) handleBuildFund(w http.ResponseWriter, r *http.Request) {
	var req escrowRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	record, err := s.cfg.Node.Escrow(ctx, req.EscrowID)
	if err != nil {
		if errors.Is(err, nodeclient.ErrNotFound) {
			writeError(w, http.StatusNotFound, "escrow not found")
			return
		}
		s.writeUnknown(w, r, "escrow", err)
		return
	}
	amount, ok := new(big.Int).SetString(record.Amount, 10)
	if !ok {
		s.writeUnknown(w, r, "escrow", fmt.Errorf("malformed amount %q", record.Amount))
		return
	}
	info, _, err := s.contractInfo(r.Context())
	if err != nil {
		s.writeUnknown(w, r, "contract info", err)
		return
	}
	reserve, ok := new(big.Int).SetString(info.MinGasReserve, 10)
	if !ok {
		s.writeUnknown(w, r, "contract info", fmt.Errorf("malformed min gas reserve %q", info.MinGasReserve))
		return
	}
	value, err := preview.FundValue(amount, reserve, s.cfg.FundBuffer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writePayload(w, r, escrow.FundEscrow{EscrowID: req.EscrowID}, value,
		fmt.Sprintf("Fund escrow #%d with %s %s", req.EscrowID, preview.FormatAmount(amount), preview.Symbol))
}

func (s *Server) handleBuildRelease(w http.ResponseWriter, r *http.Request) {
	var req escrowRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.writePayload(w, r, escrow.ReleaseEscrow{EscrowID: req.EscrowID}, s.cfg.DefaultBuffer,
		fmt.Sprintf("Release payment for escrow #%d", req.EscrowID))
}

func (s *Server) writePayload(w http.ResponseWriter, r *http.Request, op escrow.Op, value *big.Int, description string) {
	info, _, err := s.contractInfo(r.Context())
	if err != nil {
		s.writeUnknown(w, r, "contract info", err)
		return
	}
	queryID := newQueryID()
	payload, err := escrow.EncodeMessage(escrow.Message{QueryID: queryID, Op: op})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TxPayload{
		To:           info.Vault,
		Value:        value.String(),
		ValueDisplay: preview.FormatAmount(value) + " " + preview.Symbol,
		Payload:      "0x" + hex.EncodeToString(payload),
		QueryID:      queryID,
		Description:  description,
	})
}

func newQueryID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func parseTaskHash(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(out) {
		return out, errors.New("taskHash must be 32 hex-encoded bytes")
	}
	copy(out[:], raw)
	return out, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBuilderBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
