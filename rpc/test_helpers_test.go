package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"trustlance/core"
	"trustlance/core/types"
	"trustlance/crypto"
	"trustlance/native/escrow"
	"trustlance/observability"
	"trustlance/storage"
)

const (
	testNetwork   = "rpc-testnet"
	testJWTSecret = "rpc-test-secret-rpc-test-secret-!"
	testIssuer    = "rpc-tests"
)

type testParty struct {
	key   *crypto.PrivateKey
	addr  crypto.Address
	nonce uint64
}

func newTestParty(t testing.TB) *testParty {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testParty{key: key, addr: key.PubKey().Address()}
}

type rpcFixture struct {
	node       *core.Node
	clock      *core.ManualClock
	server     *Server
	handler    http.Handler
	registry   *prometheus.Registry
	metrics    *observability.EscrowMetrics
	client     *testParty
	freelancer *testParty
}

func newRPCFixture(t testing.TB, cfg ServerConfig) *rpcFixture {
	t.Helper()
	f := &rpcFixture{
		clock:      core.NewManualClock(time.Unix(1_700_000_000, 0)),
		registry:   prometheus.NewRegistry(),
		metrics:    observability.NewEscrowMetrics(),
		client:     newTestParty(t),
		freelancer: newTestParty(t),
	}
	f.metrics.MustRegister(f.registry)
	node, err := core.NewNode(storage.NewMemDB(), core.Options{Network: testNetwork, Clock: f.clock, Metrics: f.metrics})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := node.Mint(f.client.addr, escrow.NativeAsset, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.node = node
	cfg.Metrics = f.metrics
	cfg.Gatherer = f.registry
	srv, err := NewServer(node, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.server = srv
	f.handler = srv.Handler()
	return f
}

type rpcReply struct {
	Status int
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (f *rpcFixture) post(t testing.TB, method string, param interface{}, headers ...string) rpcReply {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		body["params"] = []interface{}{param}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return f.postRaw(t, raw, headers...)
}

func (f *rpcFixture) postRaw(t testing.TB, raw []byte, headers ...string) rpcReply {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var reply rpcReply
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatalf("decode response (%d): %v", rec.Code, err)
	}
	reply.Status = rec.Code
	return reply
}

// call signs params for method as p and posts it. The local nonce advances
// when the node accepts the call.
func (f *rpcFixture) call(t testing.TB, p *testParty, method string, params interface{}) rpcReply {
	t.Helper()
	c, err := types.NewCall(testNetwork, method, p.nonce, params)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := c.Sign(p.key); err != nil {
		t.Fatalf("sign call: %v", err)
	}
	reply := f.post(t, method, map[string]interface{}{"call": c})
	if reply.Error == nil {
		p.nonce++
	}
	return reply
}

func (f *rpcFixture) createEscrow(t testing.TB, amount string) uint64 {
	t.Helper()
	reply := f.call(t, f.client, types.MethodCreate, types.CreateParams{
		Freelancer: f.freelancer.addr,
		Amount:     amount,
		Deadline:   uint64(f.clock.Now().Add(24 * time.Hour).Unix()),
		Metadata:   "logo design",
	})
	if reply.Error != nil {
		t.Fatalf("create escrow: %+v", reply.Error)
	}
	var res escrowCreateResult
	decodeResult(t, reply, &res)
	return res.ID
}

func decodeResult(t testing.TB, reply rpcReply, out interface{}) {
	t.Helper()
	if reply.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", reply.Error)
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func signAdminToken(t testing.TB, scope string, expires time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "operator",
		"scope": scope,
		"exp":   jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + strings.TrimSpace(token)}
}
