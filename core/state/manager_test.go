package state

import (
	"math/big"
	"testing"

	"trustlance/crypto"
	"trustlance/native/escrow"
	"trustlance/storage"
)

func testEscrow(id uint64) *escrow.Escrow {
	return &escrow.Escrow{
		ID:         id,
		Client:     crypto.Address{0x01},
		Freelancer: crypto.Address{0x02},
		Amount:     big.NewInt(100_000_000),
		Status:     escrow.StatusCreated,
		Deadline:   1_700_086_400,
		CreatedAt:  1_700_000_000,
		Metadata:   "landing page",
	}
}

func TestEscrowRecordPersistsAfterCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	mgr := NewManager(db)
	if err := mgr.EscrowPut(testEscrow(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.SetEscrowCount(1); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("writes reached the database before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fresh := NewManager(db)
	rec, ok, err := fresh.EscrowGet(1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.Amount.Cmp(big.NewInt(100_000_000)) != 0 || rec.Metadata != "landing page" {
		t.Fatalf("unexpected record %+v", rec)
	}
	count, err := fresh.EscrowCount()
	if err != nil || count != 1 {
		t.Fatalf("count: %d %v", count, err)
	}
}

func TestDiscardDropsPendingWrites(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.EscrowPut(testEscrow(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := mgr.EscrowGet(1); !ok {
		t.Fatalf("pending write not visible to its own manager")
	}
	mgr.Discard()
	if _, ok, _ := mgr.EscrowGet(1); ok {
		t.Fatalf("discarded record still visible")
	}
	if mgr.Pending() != 0 || db.Len() != 0 {
		t.Fatalf("discard left state behind")
	}
}

func TestEscrowCountDefaultsToZero(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	count, err := mgr.EscrowCount()
	if err != nil || count != 0 {
		t.Fatalf("expected zero count, got %d %v", count, err)
	}
	if _, ok, err := mgr.EscrowGet(1); ok || err != nil {
		t.Fatalf("missing record: ok=%v err=%v", ok, err)
	}
}

func TestEscrowPutRejectsInvalidRecord(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	bad := testEscrow(1)
	bad.Amount = big.NewInt(0)
	if err := mgr.EscrowPut(bad); err == nil {
		t.Fatalf("expected zero amount to be rejected")
	}
}

func TestPartyIndexDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	party := crypto.Address{0x05}
	ids, err := mgr.PartyEscrowIDs(party)
	if err != nil || len(ids) != 0 {
		t.Fatalf("empty index: %v %v", ids, err)
	}
	for _, id := range []uint64{1, 3, 3} {
		if err := mgr.AppendPartyEscrow(party, id); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ids, _ = mgr.PartyEscrowIDs(party)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("unexpected index %v", ids)
	}
}

func TestBalancesAndNonces(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	addr := crypto.Address{0x07}
	if err := mgr.SetBalance(addr, "", big.NewInt(42)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if err := mgr.SetBalance(addr, "", big.NewInt(-1)); err == nil {
		t.Fatalf("negative balance accepted")
	}
	if err := mgr.SetNonce(addr, 4); err != nil {
		t.Fatalf("set nonce: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	fresh := NewManager(db)
	bal, _ := fresh.Balance(addr, "")
	other, _ := fresh.Balance(addr, "USDC")
	nonce, _ := fresh.Nonce(addr)
	if bal.Int64() != 42 || other.Sign() != 0 || nonce != 4 {
		t.Fatalf("unexpected balance %s / %s nonce %d", bal, other, nonce)
	}
}

func TestKeyFormats(t *testing.T) {
	if string(EscrowCountKey()) != "escrow/count" {
		t.Fatalf("unexpected count key %q", EscrowCountKey())
	}
	key := EscrowRecordKey(1)
	want := append([]byte("escrow/record/"), 0, 0, 0, 0, 0, 0, 0, 1)
	if string(key) != string(want) {
		t.Fatalf("unexpected record key %x", key)
	}
	if string(BalanceKey(crypto.Address{}, "")) == string(BalanceKey(crypto.Address{}, "X")) {
		t.Fatalf("asset must be part of the balance key")
	}
}
