package preview

import (
	"math/big"

	"nervix/native/fees"
)

// Result is a fee preview. Raw amounts are minor units; display fields are
// major units.
type Result struct {
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
	FeeType       string `json:"feeType"`
	OpenClaw      bool   `json:"isOpenClaw"`
	Fee           string `json:"fee"`
	FeeDisplay    string `json:"feeDisplay"`
	Payout        string `json:"payout"`
	PayoutDisplay string `json:"payoutDisplay"`
	EffectiveBps  uint16 `json:"effectiveFeeBps"`
}

// Compute previews the fee the ledger would charge for amount under schedule.
func Compute(amount *big.Int, feeType fees.FeeType, openClaw bool, schedule fees.Schedule) (Result, error) {
	quote, err := schedule.Quote(amount, feeType, openClaw)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Amount:        amount.String(),
		AmountDisplay: FormatAmount(amount) + " " + Symbol,
		FeeType:       feeType.String(),
		OpenClaw:      openClaw,
		Fee:           quote.Fee.String(),
		FeeDisplay:    FormatAmount(quote.Fee) + " " + Symbol,
		Payout:        quote.Payout.String(),
		PayoutDisplay: FormatAmount(quote.Payout) + " " + Symbol,
		EffectiveBps:  quote.EffectiveBps,
	}, nil
}
