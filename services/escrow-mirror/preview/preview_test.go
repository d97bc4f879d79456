package preview

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"math/rand"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"nervix/core"
	"nervix/core/genesis"
	"nervix/core/types"
	"nervix/crypto"
	"nervix/native/escrow"
	"nervix/native/fees"
	"nervix/storage"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10", "10000000000"},
		{"10.5", "10500000000"},
		{" 0.25 ", "250000000"},
		{"0.000000001", "1"},
		{"0.0000000019", "1"},
		{"1.", "1000000000"},
		{".5", "500000000"},
		{"000", "0"},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.String(), tc.in)
	}

	for _, bad := range []string{"", ".", "-1", "1e3", "1,5", "0x10", "1.2.3", "+4"} {
		_, err := ParseAmount(bad)
		require.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
	huge := "1000000000000000000000000000000000000000000000000000000000000000000000000000000"
	_, err := ParseAmount(huge)
	require.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0", FormatAmount(nil))
	require.Equal(t, "10", FormatAmount(big.NewInt(10_000_000_000)))
	require.Equal(t, "0.2", FormatAmount(big.NewInt(200_000_000)))
	require.Equal(t, "9.8", FormatAmount(big.NewInt(9_800_000_000)))
	require.Equal(t, "0.000000001", FormatAmount(big.NewInt(1)))
	require.Equal(t, "-1.5", FormatAmount(big.NewInt(-1_500_000_000)))
}

func TestAddBuffer(t *testing.T) {
	sum, err := AddBuffer(big.NewInt(10_000_000_000), big.NewInt(15_000_000))
	require.NoError(t, err)
	require.Equal(t, "10015000000", sum.String())

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, err = AddBuffer(max, big.NewInt(1))
	require.ErrorIs(t, err, ErrAmountTooLarge)
	_, err = AddBuffer(big.NewInt(-1), big.NewInt(1))
	require.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestFundValueUsesLargerOfReserveAndBuffer(t *testing.T) {
	amount := big.NewInt(1_000_000_000)
	v, err := FundValue(amount, big.NewInt(10_000_000), big.NewInt(15_000_000))
	require.NoError(t, err)
	require.Equal(t, "1015000000", v.String())

	v, err = FundValue(amount, big.NewInt(20_000_000), big.NewInt(15_000_000))
	require.NoError(t, err)
	require.Equal(t, "1020000000", v.String())

	v, err = FundValue(amount, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "1000000000", v.String())
}

func TestComputeOpenClawDiscount(t *testing.T) {
	amount, err := ParseAmount("10")
	require.NoError(t, err)

	res, err := Compute(amount, fees.FeeTypeTask, true, fees.DefaultSchedule())
	require.NoError(t, err)
	require.Equal(t, uint16(200), res.EffectiveBps)
	require.Equal(t, "200000000", res.Fee)
	require.Equal(t, "0.2 NVX", res.FeeDisplay)
	require.Equal(t, "9.8 NVX", res.PayoutDisplay)

	res, err = Compute(amount, fees.FeeTypeTask, false, fees.DefaultSchedule())
	require.NoError(t, err)
	require.Equal(t, "0.25 NVX", res.FeeDisplay)

	_, err = Compute(amount, fees.FeeType(9), false, fees.DefaultSchedule())
	require.ErrorIs(t, err, fees.ErrInvalidFeeType)
}

type signer struct {
	key   *ecdsa.PrivateKey
	addr  [20]byte
	nonce uint64
}

func (s *signer) submit(t *testing.T, node *core.Node, op escrow.Op, value *big.Int) *core.Receipt {
	t.Helper()
	payload, err := escrow.EncodeMessage(escrow.Message{QueryID: s.nonce, Op: op})
	require.NoError(t, err)
	msg := &types.SignedMessage{Payload: payload, Value: value, Nonce: s.nonce}
	require.NoError(t, msg.Sign(s.key))
	s.nonce++
	receipt, err := node.Submit(context.Background(), msg)
	require.NoError(t, err)
	return receipt
}

// The mirror's preview must agree with what the ledger actually settles.
func TestPreviewMatchesLedgerSettlement(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	requester := &signer{key: key, addr: [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))}
	assignee := [20]byte{0xA5}

	supply := new(big.Int).Lsh(big.NewInt(1), 120)
	spec := &genesis.GenesisSpec{
		Owner:    crypto.AddressFromBytes([20]byte{0x01}).String(),
		Treasury: crypto.AddressFromBytes([20]byte{0x7E}).String(),
		Vault:    crypto.AddressFromBytes([20]byte{0x5A}).String(),
		Fees:     &fees.Schedule{TaskBps: 250, SettlementBps: 150, TransferBps: 100, DiscountBps: 2000},
		Alloc:    map[string]string{crypto.AddressFromBytes(requester.addr).String(): supply.String()},
	}
	db := storage.NewMemDB()
	require.NoError(t, genesis.Apply(spec, db))
	node, err := core.NewNode(db)
	require.NoError(t, err)
	t.Cleanup(node.Close)

	info, err := node.ContractInfo()
	require.NoError(t, err)
	reserve := new(big.Int).Set(escrow.DefaultMinGasReserve)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		amount := new(big.Int).Add(big.NewInt(1), new(big.Int).Rand(rng, big.NewInt(1_000_000_000_000)))
		feeType := fees.FeeType(rng.Intn(3))
		openClaw := rng.Intn(2) == 1

		parsed, err := ParseAmount(FormatAmount(amount))
		require.NoError(t, err)
		require.Zero(t, parsed.Cmp(amount), "round trip %s", amount)

		want, err := Compute(parsed, feeType, openClaw, info.Fees)
		require.NoError(t, err)

		before, err := node.Balance(assignee)
		require.NoError(t, err)

		created := requester.submit(t, node, escrow.CreateEscrow{FeeType: feeType, Amount: amount, Assignee: assignee, OpenClaw: openClaw}, big.NewInt(0))
		id := created.Escrow.ID
		requester.submit(t, node, escrow.FundEscrow{EscrowID: id}, new(big.Int).Add(amount, reserve))
		released := requester.submit(t, node, escrow.ReleaseEscrow{EscrowID: id}, big.NewInt(0))

		require.Equal(t, want.Fee, released.Escrow.FeeCollected.String(), "triple %d", i)
		after, err := node.Balance(assignee)
		require.NoError(t, err)
		require.Equal(t, want.Payout, new(big.Int).Sub(after, before).String(), "triple %d", i)
	}
}
