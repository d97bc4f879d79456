package state

import (
	"errors"
	"math/big"
	"testing"

	"nervix/core/types"
	"nervix/native/escrow"
	"nervix/native/fees"
	"nervix/storage"
)

func TestParamsRoundTripThroughStorage(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if _, err := m.EscrowParams(); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected not initialised, got %v", err)
	}
	owner := [20]byte{1}
	p := escrow.NewParams(owner, [20]byte{2}, [20]byte{3}, fees.DefaultSchedule(), nil)
	p.EscrowCount = 7
	p.TotalFeesCollected = big.NewInt(12345)
	if err := m.SetEscrowParams(p); err != nil {
		t.Fatalf("set params: %v", err)
	}
	got, err := m.EscrowParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if got.Owner != owner || got.EscrowCount != 7 || got.TotalFeesCollected.Int64() != 12345 || got.TaskFeeBps != 250 {
		t.Fatalf("unexpected params: %+v", got)
	}
}

func TestEscrowRecordsAndBalances(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if _, ok, err := m.EscrowGet(0); ok || err != nil {
		t.Fatalf("expected missing escrow, got ok=%v err=%v", ok, err)
	}
	rec := &escrow.Escrow{ID: 4, Status: escrow.StatusFunded, Amount: big.NewInt(100), FundedAmount: big.NewInt(98), FeeCollected: big.NewInt(2), OpenClaw: true}
	if err := m.EscrowPut(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := m.EscrowGet(4)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.FundedAmount.Int64() != 98 || !got.OpenClaw || got.Status != escrow.StatusFunded {
		t.Fatalf("unexpected record: %+v", got)
	}

	addr := [20]byte{9}
	if err := m.Credit(addr, big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.Debit(addr, big.NewInt(51)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := m.Debit(addr, big.NewInt(20)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if bal, _ := m.Balance(addr); bal.Int64() != 30 {
		t.Fatalf("expected 30, got %s", bal)
	}
}

func TestEventLog(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	stored, err := m.AppendEvents([]types.Event{
		{Type: "escrow.created", Attributes: map[string]string{"id": "0"}},
		{Type: "escrow.funded", Attributes: map[string]string{"id": "0", "feeCollected": "5"}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored[1].Seq != 1 {
		t.Fatalf("unexpected seq %d", stored[1].Seq)
	}
	evts, err := m.EventsSince(1, 10)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(evts) != 1 || evts[0].Event.Type != "escrow.funded" || evts[0].Event.Attributes["feeCollected"] != "5" {
		t.Fatalf("unexpected events: %+v", evts)
	}
}
