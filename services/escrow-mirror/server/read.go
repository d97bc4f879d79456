package server

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nervix/native/fees"
	"nervix/observability"
	"nervix/rpc"
	"nervix/services/escrow-mirror/middleware"
	"nervix/services/escrow-mirror/models"
	"nervix/services/escrow-mirror/nodeclient"
	"nervix/services/escrow-mirror/preview"
)

const (
	balanceStatusOK      = "ok"
	balanceStatusUnknown = "unknown"
)

type infoResponse struct {
	Network string `json:"network"`
	State   string `json:"state"`
	rpc.ContractInfoResult
	TotalFeesDisplay      string    `json:"totalFeesCollectedDisplay"`
	TreasuryBalance       *string   `json:"treasuryBalance"`
	TreasuryBalanceView   *string   `json:"treasuryBalanceDisplay"`
	TreasuryBalanceStatus string    `json:"treasuryBalanceStatus"`
	ObservedAt            time.Time `json:"observedAt"`
}

// handleInfo reads the ledger parameters live. The treasury balance is the
// account balance at the treasury address, not the fee counter.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	info, err := s.cfg.Node.ContractInfo(ctx)
	if err != nil {
		s.writeUnknown(w, r, "contract info", err)
		return
	}
	resp := infoResponse{
		Network:               s.cfg.Network,
		State:                 "ok",
		ContractInfoResult:    *info,
		TotalFeesDisplay:      displayMinor(info.TotalFeesCollected),
		TreasuryBalanceStatus: balanceStatusUnknown,
		ObservedAt:            s.now().UTC(),
	}
	balance, err := s.cfg.Node.Balance(ctx, info.Treasury)
	if err == nil {
		display := displayMinor(balance.Balance)
		resp.TreasuryBalance = &balance.Balance
		resp.TreasuryBalanceView = &display
		resp.TreasuryBalanceStatus = balanceStatusOK
	} else {
		s.logger.Warn("treasury balance read failed", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

type escrowResponse struct {
	*rpc.EscrowJSON
	AmountDisplay       string `json:"amountDisplay"`
	FundedAmountDisplay string `json:"fundedAmountDisplay"`
	FeeDisplay          string `json:"feeCollectedDisplay"`
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	record, err := s.cfg.Node.Escrow(ctx, uint32(id))
	if err != nil {
		if errors.Is(err, nodeclient.ErrNotFound) {
			writeError(w, http.StatusNotFound, "escrow not found")
			return
		}
		s.writeUnknown(w, r, "escrow", err)
		return
	}
	writeJSON(w, http.StatusOK, escrowResponse{
		EscrowJSON:          record,
		AmountDisplay:       displayMinor(record.Amount),
		FundedAmountDisplay: displayMinor(record.FundedAmount),
		FeeDisplay:          displayMinor(record.FeeCollected),
	})
}

type previewResponse struct {
	preview.Result
	ScheduleObservedAt time.Time `json:"scheduleObservedAt"`
}

// handlePreview computes fee and payout with the same fee engine the ledger
// uses, against the latest observed schedule.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	amount, err := preview.ParseAmount(query.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feeType := fees.FeeTypeTask
	if raw := strings.TrimSpace(query.Get("feeType")); raw != "" {
		feeType, err = fees.ParseFeeType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	openClaw := false
	if raw := strings.TrimSpace(query.Get("openClaw")); raw != "" {
		openClaw, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid openClaw flag")
			return
		}
	}
	info, observedAt, err := s.contractInfo(r.Context())
	if err != nil {
		s.writeUnknown(w, r, "fee schedule", err)
		return
	}
	result, err := preview.Compute(amount, feeType, openClaw, info.Fees.Schedule())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observability.Mirror().RecordPreview(feeType.String())
	if s.cfg.PreviewAudit && s.cfg.Store != nil {
		audit := models.PreviewAudit{
			ID:           uuid.New(),
			RequestID:    middleware.RequestIDFromContext(r.Context()),
			Amount:       result.Amount,
			FeeType:      result.FeeType,
			OpenClaw:     openClaw,
			Fee:          result.Fee,
			Payout:       result.Payout,
			EffectiveBps: result.EffectiveBps,
		}
		if err := s.cfg.Store.RecordPreview(r.Context(), audit); err != nil {
			s.logger.Warn("record preview audit", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, previewResponse{Result: result, ScheduleObservedAt: observedAt})
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	info, err := s.cfg.Node.TreasuryInfo(ctx)
	if err != nil {
		s.writeUnknown(w, r, "treasury", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"treasury":                  info.Treasury,
		"balance":                   info.Balance,
		"balanceDisplay":            displayMinor(info.Balance),
		"totalFeesCollected":        info.TotalFeesCollected,
		"totalFeesCollectedDisplay": displayMinor(info.TotalFeesCollected),
	})
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	owner, err := s.cfg.Node.Owner(ctx)
	if err != nil {
		s.writeUnknown(w, r, "owner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner})
}

func (s *Server) handleDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	bps, err := s.cfg.Node.OpenClawDiscount(ctx)
	if err != nil {
		s.writeUnknown(w, r, "discount", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint16{"openClawDiscountBps": bps})
}

// displayMinor renders a decimal minor-unit string in major units. Values that
// do not parse are returned unchanged.
func displayMinor(minor string) string {
	v, ok := new(big.Int).SetString(minor, 10)
	if !ok {
		return minor
	}
	return preview.FormatAmount(v) + " " + preview.Symbol
}
