package nodeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nervix/rpc"
)

type recordedCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     int64             `json:"id"`
}

func newStubNode(t *testing.T, handle func(call recordedCall) (int, interface{})) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call recordedCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		calls = append(calls, call)
		status, body := handle(call)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestContractInfoDecodesResultAndIncrementsIDs(t *testing.T) {
	srv, calls := newStubNode(t, func(call recordedCall) (int, interface{}) {
		return http.StatusOK, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"result":  rpc.ContractInfoResult{Owner: "nvx1owner", EscrowCount: 4, TotalFeesCollected: "17"},
		}
	})
	client := New(srv.URL, "", time.Second)

	info, err := client.ContractInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(4), info.EscrowCount)
	require.Equal(t, "17", info.TotalFeesCollected)

	_, err = client.ContractInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, *calls, 2)
	require.Equal(t, "escrow_getContractInfo", (*calls)[0].Method)
	require.Less(t, (*calls)[0].ID, (*calls)[1].ID)
}

func TestEscrowNotFoundMapsToSentinel(t *testing.T) {
	srv, _ := newStubNode(t, func(call recordedCall) (int, interface{}) {
		return http.StatusNotFound, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"error":   map[string]interface{}{"code": rpc.CodeLedgerNotFound, "message": "escrow not found"},
		}
	})
	client := New(srv.URL, "", time.Second)

	_, err := client.Escrow(context.Background(), 9)
	require.ErrorIs(t, err, ErrNotFound)
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, http.StatusNotFound, rpcErr.Status)
}

func TestEventsSinceSendsCursorAndLimit(t *testing.T) {
	srv, calls := newStubNode(t, func(call recordedCall) (int, interface{}) {
		return http.StatusOK, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"result":  []rpc.EventJSON{{Seq: 5, Type: "escrow.created"}},
		}
	})
	client := New(srv.URL, "tok", time.Second)

	evts, err := client.EventsSince(context.Background(), 5, 20)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Len(t, (*calls)[0].Params, 2)
	require.JSONEq(t, "5", string((*calls)[0].Params[0]))
	require.JSONEq(t, "20", string((*calls)[0].Params[1]))
}

func TestCallHonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	client := New(srv.URL, "", 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Owner(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBalanceRejectsMalformedAddressLocally(t *testing.T) {
	client := New("http://127.0.0.1:1", "", time.Second)
	_, err := client.Balance(context.Background(), "nope")
	require.Error(t, err)
}
