package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nervix/crypto"
	"nervix/native/escrow"
	"nervix/native/fees"
	"nervix/rpc"
	"nervix/services/escrow-mirror/middleware"
	"nervix/services/escrow-mirror/models"
	"nervix/services/escrow-mirror/nodeclient"
)

const testSecret = "mirror-secret"

type fakeNode struct {
	mu         sync.Mutex
	info       rpc.ContractInfoResult
	infoErr    error
	blockInfo  bool
	balance    string
	balanceErr error
	escrows    map[uint32]rpc.EscrowJSON
	events     []rpc.EventJSON
}

func (f *fakeNode) ContractInfo(ctx context.Context) (*rpc.ContractInfoResult, error) {
	f.mu.Lock()
	block, info, err := f.blockInfo, f.info, f.infoErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("call escrow_getContractInfo: %w", ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (f *fakeNode) Escrow(_ context.Context, id uint32) (*rpc.EscrowJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.escrows[id]
	if !ok {
		return nil, &nodeclient.Error{Status: http.StatusNotFound, Code: rpc.CodeLedgerNotFound, Message: "escrow not found"}
	}
	return &record, nil
}

func (f *fakeNode) Owner(context.Context) (string, error) { return f.info.Owner, nil }

func (f *fakeNode) OpenClawDiscount(context.Context) (uint16, error) {
	return f.info.Fees.OpenClawDiscountBps, nil
}

func (f *fakeNode) TreasuryInfo(context.Context) (*rpc.TreasuryInfoResult, error) {
	return &rpc.TreasuryInfoResult{Treasury: f.info.Treasury, Balance: f.balance, TotalFeesCollected: f.info.TotalFeesCollected}, nil
}

func (f *fakeNode) Balance(_ context.Context, addr string) (*rpc.BalanceResult, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &rpc.BalanceResult{Address: addr, Balance: f.balance}, nil
}

func (f *fakeNode) EventsSince(_ context.Context, from uint64, limit int) ([]rpc.EventJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rpc.EventJSON
	for _, evt := range f.events {
		if evt.Seq >= from && len(out) < limit {
			out = append(out, evt)
		}
	}
	return out, nil
}

var testVault = crypto.AddressFromBytes([20]byte{0x5A}).String()

func newFakeNode() *fakeNode {
	return &fakeNode{
		info: rpc.ContractInfoResult{
			Owner:              crypto.AddressFromBytes([20]byte{0x01}).String(),
			Treasury:           crypto.AddressFromBytes([20]byte{0x7E}).String(),
			Vault:              testVault,
			EscrowCount:        1,
			Fees:               rpc.FeeScheduleJSON{TaskBps: 250, SettlementBps: 150, TransferBps: 100, OpenClawDiscountBps: 2000},
			TotalFeesCollected: "250000000",
			MinGasReserve:      "10000000",
		},
		balance: "1500000000",
		escrows: map[uint32]rpc.EscrowJSON{
			0: {ID: 0, Status: "created", FeeType: "task", Amount: "1000000000", FundedAmount: "0", FeeCollected: "0"},
		},
	}
}

func newTestStore(t *testing.T) *models.Store {
	t.Helper()
	db, err := models.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return models.NewStore(db)
}

func newTestServer(node nodeclient.NodeClient, mutate func(*Config)) http.Handler {
	cfg := Config{
		Network:     "nervix-test",
		Node:        node,
		NodeTimeout: 50 * time.Millisecond,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: testSecret,
		}, nil),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg).Handler()
}

func do(t *testing.T, h http.Handler, method, target, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func txToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "webapp",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scopeTx,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestInfoIncludesTreasuryBalance(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)
	rec, body := do(t, h, http.MethodGet, "/v1/escrow/info", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["state"])
	require.Equal(t, "1500000000", body["treasuryBalance"])
	require.Equal(t, "1.5 NVX", body["treasuryBalanceDisplay"])
	require.Equal(t, "ok", body["treasuryBalanceStatus"])
	require.Equal(t, "250000000", body["totalFeesCollected"])
	require.Equal(t, testVault, body["vault"])
}

func TestInfoTreasuryBalanceUnknown(t *testing.T) {
	node := newFakeNode()
	node.balanceErr = context.DeadlineExceeded
	h := newTestServer(node, nil)
	rec, body := do(t, h, http.MethodGet, "/v1/escrow/info", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, body, "treasuryBalance")
	require.Nil(t, body["treasuryBalance"])
	require.Equal(t, "unknown", body["treasuryBalanceStatus"])
}

func TestInfoTimeoutIsUnknown(t *testing.T) {
	node := newFakeNode()
	node.blockInfo = true
	h := newTestServer(node, nil)
	rec, body := do(t, h, http.MethodGet, "/v1/escrow/info", "", "")
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.Equal(t, "unknown", body["state"])
	require.NotContains(t, body, "escrowCount")
}

func TestInfoNodeFailureIsBadGateway(t *testing.T) {
	node := newFakeNode()
	node.infoErr = errors.New("connection refused")
	h := newTestServer(node, nil)
	rec, body := do(t, h, http.MethodGet, "/v1/escrow/info", "", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "unknown", body["state"])
}

func TestGetEscrow(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)

	rec, body := do(t, h, http.MethodGet, "/v1/escrow/0", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "created", body["status"])
	require.Equal(t, "1 NVX", body["amountDisplay"])

	rec, _ = do(t, h, http.MethodGet, "/v1/escrow/9", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/v1/escrow/abc", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewAppliesDiscount(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)
	rec, body := do(t, h, http.MethodGet, "/v1/escrow/preview?amount=10.5&feeType=task&openClaw=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10500000000", body["amount"])
	require.Equal(t, "210000000", body["fee"])
	require.Equal(t, "10290000000", body["payout"])
	require.EqualValues(t, 200, body["effectiveFeeBps"])

	rec, body = do(t, h, http.MethodGet, "/v1/escrow/preview?amount=10&feeType=settlement", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "150000000", body["fee"])
}

func TestPreviewValidation(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)
	for _, target := range []string{
		"/v1/escrow/preview?amount=abc",
		"/v1/escrow/preview?amount=-1",
		"/v1/escrow/preview?amount=1&feeType=bogus",
		"/v1/escrow/preview?amount=1&openClaw=maybe",
	} {
		rec, _ := do(t, h, http.MethodGet, target, "", "")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestPreviewAuditIsOptIn(t *testing.T) {
	store := newTestStore(t)
	h := newTestServer(newFakeNode(), func(cfg *Config) {
		cfg.Store = store
		cfg.PreviewAudit = true
	})
	rec, _ := do(t, h, http.MethodGet, "/v1/escrow/preview?amount=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var audits []models.PreviewAudit
	require.NoError(t, store.DB().Find(&audits).Error)
	require.Len(t, audits, 1)
	require.Equal(t, "2000000000", audits[0].Amount)
	require.Equal(t, "50000000", audits[0].Fee)
	require.NotEmpty(t, audits[0].RequestID)
}

func TestReadSupplements(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)

	rec, body := do(t, h, http.MethodGet, "/v1/escrow/owner", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crypto.AddressFromBytes([20]byte{0x01}).String(), body["owner"])

	rec, body = do(t, h, http.MethodGet, "/v1/escrow/discount", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2000, body["openClawDiscountBps"])

	rec, body = do(t, h, http.MethodGet, "/v1/escrow/treasury", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0.25 NVX", body["totalFeesCollectedDisplay"])

	rec, body = do(t, h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func decodePayload(t *testing.T, rec *httptest.ResponseRecorder) escrow.Message {
	t.Helper()
	var payload TxPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	raw, err := hex.DecodeString(strings.TrimPrefix(payload.Payload, "0x"))
	require.NoError(t, err)
	msg, err := escrow.DecodeMessage(raw)
	require.NoError(t, err)
	require.Equal(t, payload.QueryID, msg.QueryID)
	return msg
}

func TestBuildersRequireToken(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)
	rec, _ := do(t, h, http.MethodPost, "/v1/escrow/tx/release", "", `{"escrowId":0}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildCreate(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)
	assignee := crypto.AddressFromBytes([20]byte{0xA5}).String()
	taskHash := "0x" + strings.Repeat("ab", 32)
	body := fmt.Sprintf(`{"amount":"10","feeType":"transfer","deadline":1900000000,"assignee":%q,"taskHash":%q,"isOpenClaw":true}`, assignee, taskHash)

	rec, out := do(t, h, http.MethodPost, "/v1/escrow/tx/create", txToken(t), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, testVault, out["to"])
	require.Equal(t, "50000000", out["value"])
	require.Equal(t, "Create escrow for 10 NVX", out["description"])

	msg := decodePayload(t, rec)
	op, ok := msg.Op.(escrow.CreateEscrow)
	require.True(t, ok)
	require.Equal(t, fees.FeeTypeTransfer, op.FeeType)
	require.Equal(t, "10000000000", op.Amount.String())
	require.Equal(t, uint32(1900000000), op.Deadline)
	require.Equal(t, [20]byte{0xA5}, op.Assignee)
	require.True(t, op.OpenClaw)

	rec, _ = do(t, h, http.MethodPost, "/v1/escrow/tx/create", txToken(t), `{"amount":"10","assignee":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildFundAddsGasBuffer(t *testing.T) {
	h := newTestServer(newFakeNode(), nil)
	rec, out := do(t, h, http.MethodPost, "/v1/escrow/tx/fund", txToken(t), `{"escrowId":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1015000000", out["value"])
	require.Equal(t, "Fund escrow #0 with 1 NVX", out["description"])
	msg := decodePayload(t, rec)
	require.Equal(t, escrow.FundEscrow{EscrowID: 0}, msg.Op)

	rec, _ = do(t, h, http.MethodPost, "/v1/escrow/tx/fund", txToken(t), `{"escrowId":7}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildFundCoversLedgerGasReserve(t *testing.T) {
	node := newFakeNode()
	node.info.MinGasReserve = "20000000"
	h := newTestServer(node, nil)
	rec, out := do(t, h, http.MethodPost, "/v1/escrow/tx/fund", txToken(t), `{"escrowId":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1020000000", out["value"])
}

func TestBuildRelease(t *testing.T) {
	h := newTestServer(newFakeNode(), func(cfg *Config) { cfg.DefaultBuffer = big.NewInt(1) })
	rec, out := do(t, h, http.MethodPost, "/v1/escrow/tx/release", txToken(t), `{"escrowId":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "1", out["value"])
	require.Equal(t, "Release payment for escrow #3", out["description"])
	require.Equal(t, escrow.ReleaseEscrow{EscrowID: 3}, decodePayload(t, rec).Op)
}
