package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trustlance/core/events"
	"trustlance/core/types"
	"trustlance/crypto"
	"trustlance/integrations/archive"
	"trustlance/native/escrow"
)

type staticPassphrase string

func (p staticPassphrase) Get() (string, error) { return string(p), nil }

func stubPassphrase(t *testing.T) {
	t.Helper()
	original := newPassphrase
	newPassphrase = func() interface{ Get() (string, error) } { return staticPassphrase("correct horse") }
	t.Cleanup(func() { newPassphrase = original })
}

func stubRPC(t *testing.T, fn func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error)) {
	t.Helper()
	original := rpcCall
	rpcCall = fn
	t.Cleanup(func() { rpcCall = original })
}

func writeTestKeystore(t *testing.T) (string, crypto.Address) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "client.json")
	if err := crypto.SaveToKeystoreWithParams(path, key, "correct horse", crypto.LightScrypt); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	return path, key.PubKey().Address()
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := runCLI()
	if code != 1 || !strings.Contains(stderr, "Usage:") {
		t.Fatalf("expected usage, got %d %q", code, stderr)
	}
	code, _, stderr = runCLI("frobnicate")
	if code != 1 || !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("expected unknown command, got %d %q", code, stderr)
	}
	code, stdout, _ := runCLI("help")
	if code != 0 || !strings.Contains(stdout, "escrow-cli") {
		t.Fatalf("expected help on stdout, got %d %q", code, stdout)
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:1", "count"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rpcEndpoint != "http://node:1" || len(rest) != 1 || rest[0] != "count" {
		t.Fatalf("unexpected result %q %v", rpcEndpoint, rest)
	}
	if _, err := applyGlobalFlags([]string{"count", "--rpc=http://node:2"}); err != nil || rpcEndpoint != "http://node:2" {
		t.Fatalf("inline form not applied: %v %q", err, rpcEndpoint)
	}
	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatalf("expected missing value error")
	}
}

func TestParseDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "+72h", want: 1_700_000_000 + 72*3600},
		{in: "+2d", want: 1_700_000_000 + 2*86400},
		{in: "1700000500", want: 1_700_000_500},
		{in: "2023-11-14T22:13:20Z", want: 1_700_000_000},
		{in: "", wantErr: true},
		{in: "+", wantErr: true},
		{in: "+-1h", wantErr: true},
		{in: "tomorrow", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseDeadline(tc.in, now)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestNormalizeAmount(t *testing.T) {
	if got, err := normalizeAmount("1_000_000"); err != nil || got != "1000000" {
		t.Fatalf("got %q, %v", got, err)
	}
	for _, bad := range []string{"", "0", "-5", "1.5", "ten"} {
		if _, err := normalizeAmount(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestEscrowCallArgValidation(t *testing.T) {
	stubRPC(t, func(method string, _ interface{}, _ bool) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call %s", method)
		return nil, nil, nil
	})
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"fund_missing_id", []string{"fund"}, "--id is required"},
		{"dispute_missing_id", []string{"dispute", "--reason", "late"}, "--id is required"},
		{"create_missing_freelancer", []string{"create", "--amount", "10", "--deadline", "+1h"}, "--freelancer is required"},
		{"create_bad_freelancer", []string{"create", "--freelancer", "nope", "--amount", "10", "--deadline", "+1h"}, "invalid --freelancer"},
		{"get_missing_id", []string{"get"}, "--id is required"},
		{"list_missing_party", []string{"list"}, "--party is required"},
		{"balance_missing_address", []string{"balance"}, "--address is required"},
		{"mint_bad_amount", []string{"mint", "--address", "tl1x", "--amount", "abc"}, "invalid amount format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(tc.args...)
			if code != 1 || !strings.Contains(stderr, tc.want) {
				t.Fatalf("got %d %q, want %q", code, stderr, tc.want)
			}
		})
	}
}

func TestCreateSignsCallWithFetchedNonce(t *testing.T) {
	stubPassphrase(t)
	keyPath, clientAddr := writeTestKeystore(t)
	freelancer, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	originalNow := escrowNow
	escrowNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { escrowNow = originalNow }()

	var submitted *types.Call
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		switch method {
		case "ledger_nonce":
			p := params.(map[string]string)
			if p["address"] != clientAddr.String() {
				t.Fatalf("nonce fetched for %s", p["address"])
			}
			return json.RawMessage(`{"address":"x","nonce":3}`), nil, nil
		case types.MethodCreate:
			if requireAuth {
				t.Fatalf("escrow calls must not require admin auth")
			}
			submitted = params.(map[string]interface{})["call"].(*types.Call)
			return json.RawMessage(`{"id":1}`), nil, nil
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil, nil
	})

	code, stdout, stderr := runCLI("create",
		"--key", keyPath,
		"--network", "trustlance-test",
		"--freelancer", freelancer.PubKey().Address().String(),
		"--amount", "2_500",
		"--deadline", "+24h",
		"--metadata", "logo design")
	if code != 0 {
		t.Fatalf("create failed: %s", stderr)
	}
	if !strings.Contains(stdout, `"id": 1`) {
		t.Fatalf("unexpected output %q", stdout)
	}
	if submitted == nil {
		t.Fatalf("call not submitted")
	}
	if submitted.Nonce != 3 || submitted.Network != "trustlance-test" || submitted.Method != types.MethodCreate {
		t.Fatalf("unexpected call %+v", submitted)
	}
	from, err := submitted.From()
	if err != nil || from != clientAddr {
		t.Fatalf("signer %s, %v; want %s", from, err, clientAddr)
	}
	var params types.CreateParams
	if err := submitted.DecodeParams(&params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.Amount != "2500" || params.Deadline != 1_700_000_000+86400 || params.Metadata != "logo design" {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestEscrowCallReportsRPCError(t *testing.T) {
	stubPassphrase(t)
	keyPath, _ := writeTestKeystore(t)
	stubRPC(t, func(method string, _ interface{}, _ bool) (json.RawMessage, *rpcError, error) {
		if method == "ledger_nonce" {
			return json.RawMessage(`{"nonce":0}`), nil, nil
		}
		return nil, &rpcError{Code: -32029, Message: "invalid_status", Data: json.RawMessage(`{"reason":"invalid escrow status for operation","escrowCode":9}`)}, nil
	})
	code, _, stderr := runCLI("release", "--key", keyPath, "--id", "1")
	if code != 1 || !strings.Contains(stderr, "RPC error -32029: invalid_status (invalid escrow status for operation)") {
		t.Fatalf("got %d %q", code, stderr)
	}
}

func TestQueryAndLedgerCommands(t *testing.T) {
	type seen struct {
		method string
		params interface{}
		auth   bool
	}
	var calls []seen
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		calls = append(calls, seen{method, params, requireAuth})
		return json.RawMessage(`{"ok":true}`), nil, nil
	})
	for _, args := range [][]string{
		{"status", "--id", "4"},
		{"count"},
		{"list", "--party", "tl1party"},
		{"mint", "--address", "tl1party", "--amount", "100"},
	} {
		if code, _, stderr := runCLI(args...); code != 0 {
			t.Fatalf("%v failed: %s", args, stderr)
		}
	}
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}
	if calls[0].method != "escrow_status" || calls[0].params.(map[string]uint64)["id"] != 4 {
		t.Fatalf("unexpected status call %+v", calls[0])
	}
	if calls[1].method != "escrow_count" || calls[1].params != nil {
		t.Fatalf("unexpected count call %+v", calls[1])
	}
	if calls[2].method != "escrow_listByParty" {
		t.Fatalf("unexpected list call %+v", calls[2])
	}
	if calls[3].method != "ledger_mint" || !calls[3].auth {
		t.Fatalf("mint must be authenticated: %+v", calls[3])
	}
}

func TestCallRPCSendsBearerToken(t *testing.T) {
	var gotAuth string
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"balance":"100"}}`))
	}))
	defer srv.Close()

	originalEndpoint, originalToken := rpcEndpoint, rpcAuthToken
	rpcEndpoint, rpcAuthToken = srv.URL, "token-123"
	defer func() { rpcEndpoint, rpcAuthToken = originalEndpoint, originalToken }()

	result, rpcErr, err := callRPC("ledger_mint", map[string]string{"address": "a"}, true)
	if err != nil || rpcErr != nil {
		t.Fatalf("call: %v %v", err, rpcErr)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if string(gotBody["method"]) != `"ledger_mint"` {
		t.Fatalf("unexpected method %s", gotBody["method"])
	}
	if !strings.Contains(string(result), `"100"`) {
		t.Fatalf("unexpected result %s", result)
	}

	rpcAuthToken = ""
	if _, _, err := callRPC("ledger_mint", nil, true); err == nil || !strings.Contains(err.Error(), envRPCToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestKeygenAndAddress(t *testing.T) {
	stubPassphrase(t)
	path := filepath.Join(t.TempDir(), "keys", "me.json")
	code, stdout, stderr := runCLI("keygen", "--light", "--out", path)
	if code != 0 {
		t.Fatalf("keygen failed: %s", stderr)
	}
	code, addrOut, stderr := runCLI("address", "--key", path)
	if code != 0 {
		t.Fatalf("address failed: %s", stderr)
	}
	addr := strings.TrimSpace(addrOut)
	if !strings.HasPrefix(addr, "tl1") || !strings.Contains(stdout, addr) {
		t.Fatalf("keygen printed %q, address printed %q", stdout, addr)
	}

	code, hexOut, stderr := runCLI("address", "--key", path, "--hex")
	if code != 0 {
		t.Fatalf("address --hex failed: %s", stderr)
	}
	fromHex, err := crypto.DecodeAddress(strings.TrimSpace(hexOut))
	if err != nil || fromHex.String() != addr {
		t.Fatalf("hex form %q does not match %s: %v", hexOut, addr, err)
	}
}

func TestExportWritesArchivedEvents(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "archive.db")
	db, err := archive.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	a := archive.New(db, nil)
	for seq, typ := range []string{escrow.EventTypeEscrowCreated, escrow.EventTypeEscrowFunded} {
		env := events.Envelope{
			Sequence:  uint64(seq + 1),
			Timestamp: time.Unix(1_700_000_000, 0),
			Event:     &types.Event{Type: typ, Attributes: map[string]string{"id": "1", "amount": "10"}},
		}
		if err := a.Store(context.Background(), env); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	code, stdout, stderr := runCLI("export", "--db", dsn, "--format", "jsonl")
	if code != 0 {
		t.Fatalf("export failed: %s", stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], escrow.EventTypeEscrowFunded) {
		t.Fatalf("unexpected export %q", stdout)
	}
	if !strings.Contains(stderr, "exported 2 events") {
		t.Fatalf("unexpected summary %q", stderr)
	}

	out := filepath.Join(dir, "events.parquet")
	if code, _, stderr := runCLI("export", "--db", dsn, "--format", "parquet", "--out", out); code != 0 {
		t.Fatalf("parquet export failed: %s", stderr)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("parquet file missing: %v", err)
	}
	if code, _, stderr := runCLI("export", "--db", dsn, "--format", "xml"); code != 1 || !strings.Contains(stderr, "unsupported format") {
		t.Fatalf("expected format error, got %d %q", code, stderr)
	}
}
