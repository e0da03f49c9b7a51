package types

import (
	"encoding/json"
	"errors"
	"testing"

	"trustlance/crypto"
)

func TestCallSignAndRecover(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	call, err := NewCall("devnet", MethodFund, 3, EscrowRef{ID: 7})
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	if _, err := call.From(); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected unsigned error, got %v", err)
	}
	if err := call.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Round-trip through JSON the way the RPC layer receives it.
	raw, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Call
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	from, err := decoded.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	if from != key.PubKey().Address() {
		t.Fatalf("recovered %s, want %s", from, key.PubKey().Address())
	}
	var ref EscrowRef
	if err := decoded.DecodeParams(&ref); err != nil || ref.ID != 7 {
		t.Fatalf("decode params: %+v %v", ref, err)
	}
}

func TestCallTamperChangesSigner(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	call, _ := NewCall("devnet", MethodRelease, 0, EscrowRef{ID: 1})
	if err := call.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := *call
	tampered.from = nil
	tampered.Nonce = 1
	from, err := tampered.From()
	if err == nil && from == key.PubKey().Address() {
		t.Fatalf("tampered call still recovers the original signer")
	}
}

func TestNewCallRejectsUnknownMethod(t *testing.T) {
	if _, err := NewCall("devnet", "escrow_steal", 0, EscrowRef{}); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected unknown method, got %v", err)
	}
}

func TestDecodeParamsRejectsUnknownFields(t *testing.T) {
	call := &Call{Method: MethodFund, Params: json.RawMessage(`{"id":1,"extra":true}`)}
	var ref EscrowRef
	if err := call.DecodeParams(&ref); err == nil {
		t.Fatalf("expected unknown field to fail")
	}
}
