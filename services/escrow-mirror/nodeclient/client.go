package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nervix/crypto"
	"nervix/rpc"
)

// NodeClient is the read surface of the ledger node used by the mirror.
type NodeClient interface {
	ContractInfo(ctx context.Context) (*rpc.ContractInfoResult, error)
	Escrow(ctx context.Context, id uint32) (*rpc.EscrowJSON, error)
	Owner(ctx context.Context) (string, error)
	OpenClawDiscount(ctx context.Context) (uint16, error)
	TreasuryInfo(ctx context.Context) (*rpc.TreasuryInfoResult, error)
	Balance(ctx context.Context, addr string) (*rpc.BalanceResult, error)
	EventsSince(ctx context.Context, from uint64, limit int) ([]rpc.EventJSON, error)
}

// ErrNotFound is returned when the node reports an unknown escrow.
var ErrNotFound = errors.New("nodeclient: not found")

// Error is a JSON-RPC error returned by the node.
type Error struct {
	Status  int
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("node rpc error %d (status %d): %s", e.Code, e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == rpc.CodeLedgerNotFound
}

// RPCClient implements NodeClient against the node's JSON-RPC server.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func New(baseURL, authToken string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCClient) ContractInfo(ctx context.Context) (*rpc.ContractInfoResult, error) {
	var result rpc.ContractInfoResult
	if err := c.call(ctx, "escrow_getContractInfo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCClient) Escrow(ctx context.Context, id uint32) (*rpc.EscrowJSON, error) {
	var result rpc.EscrowJSON
	if err := c.call(ctx, "escrow_getEscrow", []interface{}{id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCClient) Owner(ctx context.Context) (string, error) {
	var result string
	if err := c.call(ctx, "escrow_getOwner", nil, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (c *RPCClient) OpenClawDiscount(ctx context.Context) (uint16, error) {
	var result uint16
	if err := c.call(ctx, "escrow_getOpenClawDiscount", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

func (c *RPCClient) TreasuryInfo(ctx context.Context) (*rpc.TreasuryInfoResult, error) {
	var result rpc.TreasuryInfoResult
	if err := c.call(ctx, "escrow_getTreasuryInfo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCClient) Balance(ctx context.Context, addr string) (*rpc.BalanceResult, error) {
	if _, err := crypto.ParseAddress(addr); err != nil {
		return nil, err
	}
	var result rpc.BalanceResult
	if err := c.call(ctx, "account_getBalance", []interface{}{addr}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCClient) EventsSince(ctx context.Context, from uint64, limit int) ([]rpc.EventJSON, error) {
	params := []interface{}{from}
	if limit > 0 {
		params = append(params, limit)
	}
	var result []rpc.EventJSON
	if err := c.call(ctx, "events_since", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("node rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("node rpc %s: read body: %w", method, err)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("node rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
		}
		return fmt.Errorf("node rpc %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return &Error{Status: resp.StatusCode, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message, Data: rpcResp.Error.Data}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
