package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"trustlance/core/types"
	"trustlance/crypto"
)

// escrowNow is swapped out in tests.
var escrowNow = time.Now

var callMethods = map[string]string{
	"create":  types.MethodCreate,
	"fund":    types.MethodFund,
	"release": types.MethodRelease,
	"refund":  types.MethodRefund,
	"revise":  types.MethodRequestRevision,
	"dispute": types.MethodRaiseDispute,
}

// runEscrowCall signs and submits one state-changing escrow call.
func runEscrowCall(cmd string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(cmd, stderr)
	keyPath := fs.String("key", "keystore.json", "keystore of the signing party")
	network := fs.String("network", defaultNetworkName(), "network name the call is signed for")
	var (
		id         *uint64
		freelancer *string
		amount     *string
		deadline   *string
		metadata   *string
		note       *string
	)
	switch cmd {
	case "create":
		freelancer = fs.String("freelancer", "", "freelancer address")
		amount = fs.String("amount", "", "escrow amount in base units")
		deadline = fs.String("deadline", "", "deadline as +duration, RFC3339 or unix seconds")
		metadata = fs.String("metadata", "", "job description")
	case "revise":
		id = fs.Uint64("id", 0, "escrow id")
		note = fs.String("note", "", "revision request")
	case "dispute":
		id = fs.Uint64("id", 0, "escrow id")
		note = fs.String("reason", "", "dispute reason")
	default:
		id = fs.Uint64("id", 0, "escrow id")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var params interface{}
	switch cmd {
	case "create":
		p, err := buildCreateParams(*freelancer, *amount, *deadline, *metadata, escrowNow())
		if err != nil {
			return printError(stderr, err.Error())
		}
		params = p
	case "revise", "dispute":
		if err := requireEscrowID(*id); err != nil {
			return printError(stderr, err.Error())
		}
		params = types.NoteParams{ID: *id, Note: *note}
	default:
		if err := requireEscrowID(*id); err != nil {
			return printError(stderr, err.Error())
		}
		params = types.EscrowRef{ID: *id}
	}

	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	call, code := signCall(stderr, key, strings.TrimSpace(*network), callMethods[cmd], params)
	if call == nil {
		return code
	}
	return invoke(stdout, stderr, call.Method, map[string]interface{}{"call": call}, false)
}

// Escrow ids start at 1, so zero means the flag was not given.
func requireEscrowID(id uint64) error {
	if id == 0 {
		return fmt.Errorf("--id is required")
	}
	return nil
}

func buildCreateParams(freelancer, amount, deadline, metadata string, now time.Time) (types.CreateParams, error) {
	freelancer = strings.TrimSpace(freelancer)
	if freelancer == "" {
		return types.CreateParams{}, fmt.Errorf("--freelancer is required")
	}
	addr, err := crypto.DecodeAddress(freelancer)
	if err != nil {
		return types.CreateParams{}, fmt.Errorf("invalid --freelancer: %v", err)
	}
	value, err := normalizeAmount(amount)
	if err != nil {
		return types.CreateParams{}, err
	}
	ts, err := parseDeadline(deadline, now)
	if err != nil {
		return types.CreateParams{}, err
	}
	return types.CreateParams{Freelancer: addr, Amount: value, Deadline: ts, Metadata: metadata}, nil
}

// signCall fetches the signer's nonce and returns a signed call. On failure
// it returns nil and the exit code.
func signCall(stderr io.Writer, key *crypto.PrivateKey, network, method string, params interface{}) (*types.Call, int) {
	if network == "" {
		return nil, printError(stderr, "--network is required")
	}
	from := key.PubKey().Address().String()
	result, rpcErr, err := rpcCall("ledger_nonce", map[string]string{"address": from}, false)
	if err != nil {
		return nil, handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return nil, handleRPCError(stderr, rpcErr)
	}
	var nonce struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(result, &nonce); err != nil {
		return nil, printError(stderr, fmt.Sprintf("decode nonce: %v", err))
	}
	call, err := types.NewCall(network, method, nonce.Nonce, params)
	if err != nil {
		return nil, printError(stderr, err.Error())
	}
	if err := call.Sign(key); err != nil {
		return nil, printError(stderr, fmt.Sprintf("sign call: %v", err))
	}
	return call, 0
}

func runEscrowQuery(cmd string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(cmd, stderr)
	var (
		id    *uint64
		party *string
	)
	switch cmd {
	case "get", "status":
		id = fs.Uint64("id", 0, "escrow id")
	case "list":
		party = fs.String("party", "", "client or freelancer address")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	switch cmd {
	case "get", "status":
		if err := requireEscrowID(*id); err != nil {
			return printError(stderr, err.Error())
		}
		return invoke(stdout, stderr, "escrow_"+cmd, map[string]uint64{"id": *id}, false)
	case "count":
		return invoke(stdout, stderr, "escrow_count", nil, false)
	default:
		addr := strings.TrimSpace(*party)
		if addr == "" {
			return printError(stderr, "--party is required")
		}
		return invoke(stdout, stderr, "escrow_listByParty", map[string]string{"party": addr}, false)
	}
}

func runLedgerCommand(cmd string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(cmd, stderr)
	address := fs.String("address", "", "account address")
	asset := fs.String("asset", "native", "asset symbol")
	var amount *string
	if cmd == "mint" {
		amount = fs.String("amount", "", "amount to credit in base units")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr := strings.TrimSpace(*address)
	if addr == "" {
		return printError(stderr, "--address is required")
	}
	if cmd == "balance" {
		return invoke(stdout, stderr, "ledger_balance", map[string]string{"address": addr, "asset": *asset}, false)
	}
	value, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "ledger_mint", map[string]string{"address": addr, "asset": *asset, "amount": value}, true)
}

// normalizeAmount accepts a positive base-10 integer, optionally with "_"
// separators, and returns its canonical form.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	n, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount format")
	}
	if n.Sign() <= 0 {
		return "", fmt.Errorf("--amount must be positive")
	}
	return n.String(), nil
}

func parseDeadline(value string, now time.Time) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--deadline is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDeadlineDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("deadline duration must be positive")
		}
		return uint64(now.Add(dur).Unix()), nil
	}
	if secs, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		return secs, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid RFC3339 deadline")
	}
	if ts.Unix() < 0 {
		return 0, fmt.Errorf("deadline before unix epoch")
	}
	return uint64(ts.Unix()), nil
}

func parseDeadlineDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		days, err := strconv.ParseFloat(value[:len(value)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid deadline duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	return dur, nil
}
