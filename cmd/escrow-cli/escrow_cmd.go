package main

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"nervix/cmd/internal/passphrase"
	"nervix/core/types"
	"nervix/crypto"
	"nervix/native/escrow"
	"nervix/native/fees"
	"nervix/rpc"
	"nervix/services/escrow-mirror/preview"
)

// defaultFundBuffer is attached on top of the escrow amount unless the
// ledger's minimum gas reserve is larger.
const defaultFundBuffer = "0.015"

var (
	escrowNow = time.Now
	// keystorePassphrase resolves the passphrase for signed commands.
	keystorePassphrase = func() (string, error) {
		return passphrase.NewSource(keystorePass, "keystore").Get()
	}
)

var errUsage = errors.New("usage")

// flagOutput receives flag parse errors and -h output.
var flagOutput io.Writer = io.Discard

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	handlers := map[string]func([]string, io.Writer) error{
		"generate-key":   runGenerateKey,
		"address":        runAddress,
		"info":           readCommand("escrow_getContractInfo"),
		"owner":          readCommand("escrow_getOwner"),
		"discount":       readCommand("escrow_getOpenClawDiscount"),
		"treasury":       readCommand("escrow_getTreasuryInfo"),
		"withdrawable":   readCommand("escrow_getWithdrawable"),
		"get":            runGet,
		"balance":        runBalance,
		"events":         runEvents,
		"create":         runCreate,
		"fund":           runFund,
		"release":        escrowIDCommand("release", func(id uint32) escrow.Op { return escrow.ReleaseEscrow{EscrowID: id} }),
		"refund":         escrowIDCommand("refund", func(id uint32) escrow.Op { return escrow.RefundEscrow{EscrowID: id} }),
		"dispute":        escrowIDCommand("dispute", func(id uint32) escrow.Op { return escrow.DisputeEscrow{EscrowID: id} }),
		"pause":          adminCommand("pause", escrow.Pause{}),
		"unpause":        adminCommand("unpause", escrow.Unpause{}),
		"update-fees":    runUpdateFees,
		"withdraw":       runWithdraw,
		"transfer-owner": runTransferOwner,
	}
	flagOutput = stderr
	handler, ok := handlers[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err := handler(args[1:], stdout); err != nil {
		var rpcErr *rpc.RPCError
		switch {
		case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		case errors.As(err, &rpcErr):
			fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
			if data, err := json.Marshal(rpcErr.Data); err == nil && rpcErr.Data != nil {
				fmt.Fprintf(stderr, "  data: %s\n", data)
			}
		default:
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(flagOutput)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected positional arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

func call(method string, params ...interface{}) (json.RawMessage, error) {
	result, rpcErr, err := escrowRPCCall(method, params...)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

func printResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return nil
	}
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

func readCommand(method string) func([]string, io.Writer) error {
	return func(args []string, stdout io.Writer) error {
		if err := parseFlags(newFlagSet(method), args); err != nil {
			return err
		}
		result, err := call(method)
		if err != nil {
			return err
		}
		return printResult(stdout, result)
	}
}

func runGet(args []string, stdout io.Writer) error {
	fs := newFlagSet("get")
	id := fs.String("id", "", "escrow id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	escrowID, err := parseEscrowID(*id)
	if err != nil {
		return err
	}
	result, err := call("escrow_getEscrow", escrowID)
	if err != nil {
		return err
	}
	return printResult(stdout, result)
}

func runBalance(args []string, stdout io.Writer) error {
	fs := newFlagSet("balance")
	address := fs.String("address", "", "account address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if _, err := crypto.ParseAddress(*address); err != nil {
		return fmt.Errorf("--address: %w", err)
	}
	result, err := call("account_getBalance", *address)
	if err != nil {
		return err
	}
	return printResult(stdout, result)
}

func runEvents(args []string, stdout io.Writer) error {
	fs := newFlagSet("events")
	since := fs.Uint64("since", 0, "first sequence number")
	limit := fs.Int("limit", 100, "maximum events to return")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	result, err := call("events_since", *since, *limit)
	if err != nil {
		return err
	}
	return printResult(stdout, result)
}

func runCreate(args []string, stdout io.Writer) error {
	fs := newFlagSet("create")
	keystorePath := fs.String("keystore", "", "requester keystore")
	amount := fs.String("amount", "", "escrow amount in NVX")
	feeType := fs.String("fee-type", "task", "task, settlement or transfer")
	assignee := fs.String("assignee", "", "assignee address")
	deadline := fs.String("deadline", "", "deadline as +duration (72h, 3d) or RFC3339; empty for none")
	taskHash := fs.String("task-hash", "", "0x-prefixed 32-byte task hash")
	openClaw := fs.Bool("openclaw", false, "apply the OpenClaw discount")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	minor, err := parseMajorAmount("--amount", *amount)
	if err != nil {
		return err
	}
	ft, err := fees.ParseFeeType(*feeType)
	if err != nil {
		return fmt.Errorf("--fee-type: %w", err)
	}
	to, err := crypto.ParseAddress(*assignee)
	if err != nil {
		return fmt.Errorf("--assignee: %w", err)
	}
	var deadlineUnix uint32
	if strings.TrimSpace(*deadline) != "" {
		if deadlineUnix, err = parseDeadline(*deadline, escrowNow()); err != nil {
			return err
		}
	}
	hash, err := parseTaskHash(*taskHash)
	if err != nil {
		return err
	}
	op := escrow.CreateEscrow{FeeType: ft, Amount: minor, Deadline: deadlineUnix, Assignee: to, TaskHash: hash, OpenClaw: *openClaw}
	return submit(stdout, *keystorePath, op, big.NewInt(0))
}

// runFund attaches --value, or the escrow amount plus the larger of the gas
// buffer and the ledger's minimum gas reserve.
func runFund(args []string, stdout io.Writer) error {
	fs := newFlagSet("fund")
	keystorePath := fs.String("keystore", "", "requester keystore")
	id := fs.String("id", "", "escrow id")
	value := fs.String("value", "", "attached value in NVX (default: amount + max(reserve, "+defaultFundBuffer+"))")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	escrowID, err := parseEscrowID(*id)
	if err != nil {
		return err
	}
	var attached *big.Int
	if strings.TrimSpace(*value) != "" {
		if attached, err = parseMajorAmount("--value", *value); err != nil {
			return err
		}
	} else {
		result, err := call("escrow_getEscrow", escrowID)
		if err != nil {
			return err
		}
		var record rpc.EscrowJSON
		if err := json.Unmarshal(result, &record); err != nil {
			return fmt.Errorf("decode escrow: %w", err)
		}
		amount, ok := new(big.Int).SetString(record.Amount, 10)
		if !ok {
			return fmt.Errorf("escrow %d has malformed amount %q", escrowID, record.Amount)
		}
		result, err = call("escrow_getContractInfo")
		if err != nil {
			return err
		}
		var info rpc.ContractInfoResult
		if err := json.Unmarshal(result, &info); err != nil {
			return fmt.Errorf("decode contract info: %w", err)
		}
		reserve, ok := new(big.Int).SetString(info.MinGasReserve, 10)
		if !ok {
			return fmt.Errorf("malformed min gas reserve %q", info.MinGasReserve)
		}
		buffer, _ := preview.ParseAmount(defaultFundBuffer)
		if attached, err = preview.FundValue(amount, reserve, buffer); err != nil {
			return err
		}
	}
	return submit(stdout, *keystorePath, escrow.FundEscrow{EscrowID: escrowID}, attached)
}

func escrowIDCommand(name string, build func(uint32) escrow.Op) func([]string, io.Writer) error {
	return func(args []string, stdout io.Writer) error {
		fs := newFlagSet(name)
		keystorePath := fs.String("keystore", "", "signer keystore")
		id := fs.String("id", "", "escrow id")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		escrowID, err := parseEscrowID(*id)
		if err != nil {
			return err
		}
		return submit(stdout, *keystorePath, build(escrowID), big.NewInt(0))
	}
}

func adminCommand(name string, op escrow.Op) func([]string, io.Writer) error {
	return func(args []string, stdout io.Writer) error {
		fs := newFlagSet(name)
		keystorePath := fs.String("keystore", "", "owner keystore")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		return submit(stdout, *keystorePath, op, big.NewInt(0))
	}
}

func runUpdateFees(args []string, stdout io.Writer) error {
	fs := newFlagSet("update-fees")
	keystorePath := fs.String("keystore", "", "owner keystore")
	task := fs.Uint("task", uint(fees.DefaultTaskBps), "task fee in basis points")
	settlement := fs.Uint("settlement", uint(fees.DefaultSettlementBps), "settlement fee in basis points")
	transfer := fs.Uint("transfer", uint(fees.DefaultTransferBps), "transfer fee in basis points")
	discount := fs.Uint("discount", uint(fees.DefaultDiscountBps), "OpenClaw discount in basis points of the base rate")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	op := escrow.UpdateFees{}
	for _, rate := range []struct {
		name  string
		value uint
		dst   *uint16
	}{
		{"--task", *task, &op.TaskBps},
		{"--settlement", *settlement, &op.SettlementBps},
		{"--transfer", *transfer, &op.TransferBps},
		{"--discount", *discount, &op.DiscountBps},
	} {
		if rate.value > fees.BasisPointsDenominator {
			return fmt.Errorf("%s must be <= %d", rate.name, fees.BasisPointsDenominator)
		}
		*rate.dst = uint16(rate.value)
	}
	return submit(stdout, *keystorePath, op, big.NewInt(0))
}

func runWithdraw(args []string, stdout io.Writer) error {
	fs := newFlagSet("withdraw")
	keystorePath := fs.String("keystore", "", "owner keystore")
	amount := fs.String("amount", "", "amount in NVX")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	minor, err := parseMajorAmount("--amount", *amount)
	if err != nil {
		return err
	}
	return submit(stdout, *keystorePath, escrow.Withdraw{Amount: minor}, big.NewInt(0))
}

func runTransferOwner(args []string, stdout io.Writer) error {
	fs := newFlagSet("transfer-owner")
	keystorePath := fs.String("keystore", "", "owner keystore")
	newOwner := fs.String("new-owner", "", "new owner address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*newOwner)
	if err != nil {
		return fmt.Errorf("--new-owner: %w", err)
	}
	return submit(stdout, *keystorePath, escrow.TransferOwner{NewOwner: addr}, big.NewInt(0))
}

func runGenerateKey(args []string, stdout io.Writer) error {
	fs := newFlagSet("generate-key")
	keystorePath := fs.String("keystore", "", "output keystore path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*keystorePath) == "" {
		return errors.New("--keystore is required")
	}
	pass, err := keystorePassphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return err
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, stdout io.Writer) error {
	fs := newFlagSet("address")
	keystorePath := fs.String("keystore", "", "keystore path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return nil
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := keystorePassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore %s: %w", path, err)
	}
	return key, nil
}

// submit signs op at the sender's next nonce and sends it to the node.
func submit(stdout io.Writer, keystorePath string, op escrow.Op, value *big.Int) error {
	key, err := loadKey(keystorePath)
	if err != nil {
		return err
	}
	sender := key.PubKey().Address().String()
	raw, err := call("account_getNonce", sender)
	if err != nil {
		return err
	}
	var nonce uint64
	if err := json.Unmarshal(raw, &nonce); err != nil {
		return fmt.Errorf("decode nonce: %w", err)
	}
	payload, err := escrow.EncodeMessage(escrow.Message{QueryID: newQueryID(), Op: op})
	if err != nil {
		return err
	}
	msg := &types.SignedMessage{Payload: payload, Value: value, Nonce: nonce}
	if err := msg.Sign(key.PrivateKey); err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	result, err := call("escrow_submit", rpc.NewSubmitParams(msg))
	if err != nil {
		return err
	}
	return printResult(stdout, result)
}

func newQueryID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func parseEscrowID(value string) (uint32, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0, errors.New("--id must be a non-negative integer")
	}
	return uint32(id), nil
}

func parseMajorAmount(name, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	minor, err := preview.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if minor.Sign() == 0 {
		return nil, fmt.Errorf("%s must be positive", name)
	}
	return minor, nil
}

func parseTaskHash(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return out, errors.New("--task-hash must be 0x-prefixed")
	}
	raw, err := hex.DecodeString(trimmed[2:])
	if err != nil || len(raw) != len(out) {
		return out, errors.New("--task-hash must be a 32-byte hex string")
	}
	copy(out[:], raw)
	return out, nil
}

// parseDeadline accepts "+72h", "+3d" or an RFC3339 timestamp and returns unix
// seconds.
func parseDeadline(value string, now time.Time) (uint32, error) {
	trimmed := strings.TrimSpace(value)
	var at time.Time
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDeadlineDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, errors.New("deadline duration must be positive")
		}
		at = now.Add(dur)
	} else {
		ts, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return 0, errors.New("invalid RFC3339 deadline")
		}
		at = ts
	}
	if at.Unix() <= 0 || at.Unix() > math.MaxUint32 {
		return 0, errors.New("deadline out of range")
	}
	return uint32(at.Unix()), nil
}

func parseDeadlineDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(strings.ToLower(value), "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil || days == "" {
			return 0, errors.New("invalid deadline duration")
		}
		return time.Duration(n * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.New("invalid deadline duration")
	}
	return dur, nil
}
