package fees

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/BurntSushi/toml"
)

func oneMajor() *big.Int { return big.NewInt(1_000_000_000) }

func TestComputeOpenClawDiscount(t *testing.T) {
	amount := new(big.Int).Mul(big.NewInt(10), oneMajor())

	plain := Compute(amount, 250, false, 2000)
	if plain.EffectiveBps != 250 {
		t.Fatalf("expected 250 bps, got %d", plain.EffectiveBps)
	}
	if want := big.NewInt(250_000_000); plain.Fee.Cmp(want) != 0 {
		t.Fatalf("fee mismatch: want %s got %s", want, plain.Fee)
	}
	if want := big.NewInt(9_750_000_000); plain.Payout.Cmp(want) != 0 {
		t.Fatalf("payout mismatch: want %s got %s", want, plain.Payout)
	}

	disc := Compute(amount, 250, true, 2000)
	if disc.EffectiveBps != 200 {
		t.Fatalf("expected 200 bps, got %d", disc.EffectiveBps)
	}
	if want := big.NewInt(200_000_000); disc.Fee.Cmp(want) != 0 {
		t.Fatalf("fee mismatch: want %s got %s", want, disc.Fee)
	}
	if want := big.NewInt(9_800_000_000); disc.Payout.Cmp(want) != 0 {
		t.Fatalf("payout mismatch: want %s got %s", want, disc.Payout)
	}
}

func TestEffectiveBpsFloors(t *testing.T) {
	cases := []struct {
		base, discount uint16
		disc           bool
		want           uint16
	}{
		{250, 2000, false, 250},
		{250, 2000, true, 200},
		{150, 2000, true, 120},
		{100, 3333, true, 66},
		{1, 5000, true, 0},
		{250, 10000, true, 0},
		{10000, 0, true, 10000},
	}
	for _, tc := range cases {
		if got := EffectiveBps(tc.base, tc.disc, tc.discount); got != tc.want {
			t.Fatalf("EffectiveBps(%d,%v,%d) = %d, want %d", tc.base, tc.disc, tc.discount, got, tc.want)
		}
	}
}

func TestComputeConservesAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		amount := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 96))
		base := uint16(rng.Intn(BasisPointsDenominator + 1))
		discount := uint16(rng.Intn(BasisPointsDenominator + 1))
		disc := rng.Intn(2) == 0

		first := Compute(amount, base, disc, discount)
		second := Compute(amount, base, disc, discount)
		if first.Fee.Cmp(second.Fee) != 0 || first.Payout.Cmp(second.Payout) != 0 {
			t.Fatalf("non-deterministic result for %s", amount)
		}
		sum := new(big.Int).Add(first.Fee, first.Payout)
		if sum.Cmp(amount) != 0 {
			t.Fatalf("fee+payout=%s, amount=%s", sum, amount)
		}
		if first.Fee.Sign() < 0 || first.Fee.Cmp(amount) > 0 {
			t.Fatalf("fee %s out of range for amount %s", first.Fee, amount)
		}
	}
}

func TestComputeZeroAmount(t *testing.T) {
	res := Compute(nil, 250, false, 0)
	if res.Fee.Sign() != 0 || res.Payout.Sign() != 0 {
		t.Fatalf("expected zero result, got fee=%s payout=%s", res.Fee, res.Payout)
	}
}

func TestScheduleQuoteAndValidate(t *testing.T) {
	s := DefaultSchedule()
	if err := s.Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
	res, err := s.Quote(big.NewInt(1_000_000), FeeTypeSettlement, true)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if res.EffectiveBps != 120 || res.Fee.Int64() != 12_000 {
		t.Fatalf("unexpected quote: bps=%d fee=%s", res.EffectiveBps, res.Fee)
	}
	if _, err := s.Quote(big.NewInt(1), FeeType(3), false); !errors.Is(err, ErrInvalidFeeType) {
		t.Fatalf("expected invalid fee type, got %v", err)
	}
	s.TransferBps = 10_001
	if err := s.Validate(); !errors.Is(err, ErrRateOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestScheduleDecodesTOML(t *testing.T) {
	var cfg struct {
		Fees Schedule `toml:"fees"`
	}
	doc := `
[fees]
task_fee_bps = 300
settlement_bps = 175
transfer_bps = 90
discount_bps = 1500
`
	if _, err := toml.Decode(doc, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Schedule{TaskBps: 300, SettlementBps: 175, TransferBps: 90, DiscountBps: 1500}
	if cfg.Fees != want {
		t.Fatalf("unexpected schedule: %+v", cfg.Fees)
	}
}

func TestParseFeeType(t *testing.T) {
	for in, want := range map[string]FeeType{"task": FeeTypeTask, "Settlement": FeeTypeSettlement, "2": FeeTypeTransfer} {
		got, err := ParseFeeType(in)
		if err != nil || got != want {
			t.Fatalf("ParseFeeType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFeeType("bounty"); err == nil {
		t.Fatalf("expected error for unknown fee type")
	}
}
