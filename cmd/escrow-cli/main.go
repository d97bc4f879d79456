package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"nervix/rpc"
)

const (
	rpcURLEnv     = "NERVIX_RPC_URL"
	rpcTokenEnv   = "NERVIX_RPC_TOKEN"
	keystorePass  = "NERVIX_KEYSTORE_PASS"
	defaultRPCURL = "http://127.0.0.1:8545"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv(rpcTokenEnv)
	httpClient   = &http.Client{Timeout: 15 * time.Second}

	// escrowRPCCall is swapped out in tests.
	escrowRPCCall = callRPC
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return runEscrowCommand(args, stdout, stderr)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return defaultRPCURL
}

// applyGlobalFlags strips --rpc and --token from args.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			setGlobal(arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--rpc="):
			setGlobal("--rpc", strings.TrimPrefix(arg, "--rpc="))
		case strings.HasPrefix(arg, "--token="):
			setGlobal("--token", strings.TrimPrefix(arg, "--token="))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func setGlobal(name, value string) {
	if name == "--rpc" {
		rpcEndpoint = strings.TrimSpace(value)
		return
	}
	rpcAuthToken = strings.TrimSpace(value)
}

func callRPC(method string, params ...interface{}) (json.RawMessage, *rpc.RPCError, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token TOKEN] <command> [flags]

Keys:
  generate-key    Create an encrypted keystore
  address         Print the address held by a keystore

Reads:
  info            Contract parameters and counters
  get             Fetch an escrow by id
  owner           Current owner address
  discount        OpenClaw discount in basis points
  treasury        Treasury balance and fees collected
  withdrawable    Vault surplus the owner may withdraw
  balance         Account balance and nonce
  events          Ledger events from a sequence number

Requester operations (signed):
  create          Register a new escrow
  fund            Lock the escrow amount
  release         Pay the assignee
  dispute         Freeze a funded escrow

Owner operations (signed):
  refund          Return funds to the requester
  pause | unpause
  update-fees     Replace the fee schedule
  withdraw        Withdraw vault surplus to the owner
  transfer-owner  Hand the contract to a new owner

Signed commands read the keystore passphrase from ` + keystorePass + ` or prompt.`)
}
