package core

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"trustlance/core/events"
	"trustlance/core/genesis"
	"trustlance/core/types"
	"trustlance/crypto"
	"trustlance/native/bank"
	"trustlance/native/common"
	"trustlance/native/escrow"
	"trustlance/storage"
)

const testNetwork = "testnet"

type party struct {
	key   *crypto.PrivateKey
	addr  crypto.Address
	nonce uint64
}

func newParty(t *testing.T) *party {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &party{key: key, addr: key.PubKey().Address()}
}

type fixture struct {
	node       *Node
	db         *storage.MemDB
	clock      *ManualClock
	client     *party
	freelancer *party
	sub        *events.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:         storage.NewMemDB(),
		clock:      NewManualClock(time.Unix(1_700_000_000, 0)),
		client:     newParty(t),
		freelancer: newParty(t),
	}
	node, err := NewNode(f.db, Options{Network: testNetwork, Clock: f.clock})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	f.node = node
	f.sub = node.Bus().Subscribe("test", 32)
	t.Cleanup(f.sub.Close)
	if err := node.Mint(f.client.addr, escrow.NativeAsset, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return f
}

func (f *fixture) signed(t *testing.T, p *party, method string, params interface{}) *types.Call {
	t.Helper()
	call, err := types.NewCall(testNetwork, method, p.nonce, params)
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if err := call.Sign(p.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return call
}

// exec signs and runs a call, bumping the party's local nonce on success.
func (f *fixture) exec(t *testing.T, p *party, method string, params interface{}) (*Result, error) {
	t.Helper()
	res, err := f.node.Execute(context.Background(), f.signed(t, p, method, params))
	if err == nil {
		p.nonce++
	}
	return res, err
}

func (f *fixture) create(t *testing.T) uint64 {
	t.Helper()
	res, err := f.exec(t, f.client, types.MethodCreate, types.CreateParams{
		Freelancer: f.freelancer.addr,
		Amount:     "100000000",
		Deadline:   uint64(f.clock.Now().Unix()) + 86400,
		Metadata:   "x",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.EscrowID
}

func (f *fixture) balance(t *testing.T, addr crypto.Address) int64 {
	t.Helper()
	bal, err := f.node.Balance(addr, escrow.NativeAsset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) drain() []string {
	var out []string
	for {
		select {
		case env := <-f.sub.C:
			out = append(out, env.Event.Type)
		default:
			return out
		}
	}
}

func TestCreateFundReleaseScenario(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	if _, err := f.exec(t, f.client, types.MethodFund, types.EscrowRef{ID: id}); err != nil {
		t.Fatalf("fund: %v", err)
	}
	status, _ := f.node.EscrowStatus(id)
	if status != escrow.StatusFunded {
		t.Fatalf("expected funded, got %s", status)
	}
	if got := f.balance(t, f.node.Custody()); got != 100_000_000 {
		t.Fatalf("custody = %d", got)
	}
	if _, err := f.exec(t, f.client, types.MethodRelease, types.EscrowRef{ID: id}); err != nil {
		t.Fatalf("release: %v", err)
	}
	status, _ = f.node.EscrowStatus(id)
	if status != escrow.StatusReleased {
		t.Fatalf("expected released, got %s", status)
	}
	if got := f.balance(t, f.freelancer.addr); got != 100_000_000 {
		t.Fatalf("freelancer balance = %d", got)
	}
	if got := f.balance(t, f.node.Custody()); got != 0 {
		t.Fatalf("custody not drained: %d", got)
	}
	want := []string{escrow.EventTypeEscrowCreated, escrow.EventTypeEscrowFunded, escrow.EventTypeEscrowReleased}
	got := f.drain()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestRefundAfterDeadlineScenario(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	if _, err := f.exec(t, f.client, types.MethodFund, types.EscrowRef{ID: id}); err != nil {
		t.Fatalf("fund: %v", err)
	}
	stranger := newParty(t)
	if _, err := f.exec(t, stranger, types.MethodRefund, types.EscrowRef{ID: id}); !errors.Is(err, escrow.ErrDeadlineNotPassed) {
		t.Fatalf("expected ErrDeadlineNotPassed, got %v", err)
	}
	f.clock.Advance(86401 * time.Second)
	if _, err := f.exec(t, stranger, types.MethodRefund, types.EscrowRef{ID: id}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := f.balance(t, f.client.addr); got != 500_000_000 {
		t.Fatalf("client balance = %d", got)
	}
	if _, err := f.exec(t, stranger, types.MethodRefund, types.EscrowRef{ID: id}); !errors.Is(err, escrow.ErrEscrowNotFunded) {
		t.Fatalf("second refund: expected ErrEscrowNotFunded, got %v", err)
	}
}

func TestSequentialCreatesYieldDenseIDs(t *testing.T) {
	f := newFixture(t)
	if first, second := f.create(t), f.create(t); first != 1 || second != 2 {
		t.Fatalf("ids = %d, %d", first, second)
	}
	count, err := f.node.EscrowCount()
	if err != nil || count != 2 {
		t.Fatalf("count = %d (%v)", count, err)
	}
	list, err := f.node.EscrowsByParty(f.freelancer.addr)
	if err != nil || len(list) != 2 {
		t.Fatalf("party list = %d (%v)", len(list), err)
	}
}

func TestFailedCallHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	f.drain()
	before := f.db.Len()

	// The freelancer may not fund: the authorization failure aborts the call.
	_, err := f.exec(t, f.freelancer, types.MethodFund, types.EscrowRef{ID: id})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if f.db.Len() != before {
		t.Fatalf("failed call wrote state")
	}
	if nonce, _ := f.node.Nonce(f.freelancer.addr); nonce != 0 {
		t.Fatalf("failed call bumped nonce to %d", nonce)
	}
	if evts := f.drain(); len(evts) != 0 {
		t.Fatalf("failed call published %v", evts)
	}
}

func TestFundWithoutBalanceRollsBack(t *testing.T) {
	f := newFixture(t)
	poor := newParty(t)
	res, err := f.exec(t, poor, types.MethodCreate, types.CreateParams{
		Freelancer: f.freelancer.addr,
		Amount:     "10",
		Deadline:   uint64(f.clock.Now().Unix()) + 60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.exec(t, poor, types.MethodFund, types.EscrowRef{ID: res.EscrowID})
	if !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	status, _ := f.node.EscrowStatus(res.EscrowID)
	if status != escrow.StatusCreated {
		t.Fatalf("status = %s", status)
	}
}

func TestNonceReplayRejected(t *testing.T) {
	f := newFixture(t)
	call := f.signed(t, f.client, types.MethodCreate, types.CreateParams{
		Freelancer: f.freelancer.addr,
		Amount:     "1",
		Deadline:   uint64(f.clock.Now().Unix()) + 60,
	})
	if _, err := f.node.Execute(context.Background(), call); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	if _, err := f.node.Execute(context.Background(), call); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("replay: expected ErrNonceMismatch, got %v", err)
	}
	count, _ := f.node.EscrowCount()
	if count != 1 {
		t.Fatalf("replay created an escrow, count = %d", count)
	}
}

func TestWrongNetworkAndUnsignedRejected(t *testing.T) {
	f := newFixture(t)
	call, _ := types.NewCall("mainnet", types.MethodFund, 0, types.EscrowRef{ID: 1})
	if err := call.Sign(f.client.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.node.Execute(context.Background(), call); !errors.Is(err, ErrWrongNetwork) {
		t.Fatalf("expected ErrWrongNetwork, got %v", err)
	}
	unsigned, _ := types.NewCall(testNetwork, types.MethodFund, 0, types.EscrowRef{ID: 1})
	if _, err := f.node.Execute(context.Background(), unsigned); !errors.Is(err, types.ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
	if _, err := f.node.Execute(context.Background(), nil); !errors.Is(err, ErrNilCall) {
		t.Fatalf("expected ErrNilCall, got %v", err)
	}
}

func TestCreateRejectsMalformedAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(t, f.client, types.MethodCreate, types.CreateParams{
		Freelancer: f.freelancer.addr,
		Amount:     "1e9",
		Deadline:   uint64(f.clock.Now().Unix()) + 60,
	})
	if !errors.Is(err, escrow.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	count, _ := f.node.EscrowCount()
	if count != 0 {
		t.Fatalf("count = %d", count)
	}
}

func TestDisputeAndRevisionLeaveStatus(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	if _, err := f.exec(t, f.client, types.MethodFund, types.EscrowRef{ID: id}); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := f.exec(t, f.client, types.MethodRequestRevision, types.NoteParams{ID: id, Note: "more contrast"}); err != nil {
		t.Fatalf("revision: %v", err)
	}
	if _, err := f.exec(t, f.freelancer, types.MethodRaiseDispute, types.NoteParams{ID: id, Note: "scope creep"}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	status, _ := f.node.EscrowStatus(id)
	if status != escrow.StatusFunded {
		t.Fatalf("status = %s", status)
	}
}

func TestPausedNodeRejectsCalls(t *testing.T) {
	db := storage.NewMemDB()
	node, err := NewNode(db, Options{Network: testNetwork, Pauses: common.StaticPauses{escrow.ModuleName: true}})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	p := newParty(t)
	call, _ := types.NewCall(testNetwork, types.MethodCreate, 0, types.CreateParams{Freelancer: crypto.Address{0x01}, Amount: "1", Deadline: uint64(time.Now().Unix()) + 60})
	_ = call.Sign(p.key)
	if _, err := node.Execute(context.Background(), call); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	db := storage.NewMemDB()
	node, _ := NewNode(db, Options{Network: testNetwork})
	addr := crypto.Address{0x42}
	allocs := []genesis.Allocation{{Address: addr, Amount: big.NewInt(1_000)}}
	applied, err := node.ApplyGenesis(allocs)
	if err != nil || !applied {
		t.Fatalf("first apply: %v %v", applied, err)
	}
	applied, err = node.ApplyGenesis(allocs)
	if err != nil || applied {
		t.Fatalf("second apply should be a no-op: %v %v", applied, err)
	}
	bal, _ := node.Balance(addr, escrow.NativeAsset)
	if bal.Int64() != 1_000 {
		t.Fatalf("balance = %s", bal)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	client := newParty(t)
	node, _ := NewNode(db, Options{Network: testNetwork})
	call, _ := types.NewCall(testNetwork, types.MethodCreate, 0, types.CreateParams{Freelancer: crypto.Address{0x01}, Amount: "5", Deadline: uint64(time.Now().Unix()) + 600})
	if err := call.Sign(client.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := node.Execute(context.Background(), call); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	node, _ = NewNode(reopened, Options{Network: testNetwork})
	esc, err := node.Escrow(1)
	if err != nil {
		t.Fatalf("escrow after restart: %v", err)
	}
	if esc.Client != client.addr || esc.Amount.Int64() != 5 {
		t.Fatalf("unexpected record %+v", esc)
	}
	if nonce, _ := node.Nonce(client.addr); nonce != 1 {
		t.Fatalf("nonce = %d", nonce)
	}
}

func TestOutcomeLabels(t *testing.T) {
	cases := map[string]error{
		"success":              nil,
		"not_authorized":       ErrNotAuthorized,
		"escrow_error_1":       escrow.ErrEscrowNotFound,
		"insufficient_balance": bank.ErrInsufficientBalance,
		"error":                errors.New("boom"),
	}
	for want, err := range cases {
		if got := outcomeLabel(err); got != want {
			t.Fatalf("outcomeLabel(%v) = %s, want %s", err, got, want)
		}
	}
}
