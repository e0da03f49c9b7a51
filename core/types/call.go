package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustlance/crypto"
)

// Method names accepted in a signed call.
const (
	MethodCreate          = "escrow_create"
	MethodFund            = "escrow_fund"
	MethodRelease         = "escrow_release"
	MethodRefund          = "escrow_refund"
	MethodRequestRevision = "escrow_requestRevision"
	MethodRaiseDispute    = "escrow_raiseDispute"
)

var (
	ErrUnsigned      = errors.New("call: missing signature")
	ErrUnknownMethod = errors.New("call: unknown method")
	ErrInvalidParams = errors.New("call: invalid params")
	ErrBadSignature  = errors.New("call: bad signature")
)

// Call is a state-changing request signed by the invoking party. The signer
// recovered from Signature is the caller every authorization check runs
// against.
type Call struct {
	Network   string          `json:"network"`
	Method    string          `json:"method"`
	Nonce     uint64          `json:"nonce"`
	Params    json.RawMessage `json:"params,omitempty"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`

	from *crypto.Address
}

// CreateParams carries the arguments of escrow_create. Amount is a base-10
// integer string in the smallest unit of the native asset.
type CreateParams struct {
	Freelancer crypto.Address `json:"freelancer"`
	Amount     string         `json:"amount"`
	Deadline   uint64         `json:"deadline"`
	Metadata   string         `json:"metadata"`
}

// EscrowRef identifies the escrow targeted by fund, release and refund.
type EscrowRef struct {
	ID uint64 `json:"id"`
}

// NoteParams carries the escrow id and free text for revision and dispute calls.
type NoteParams struct {
	ID   uint64 `json:"id"`
	Note string `json:"note"`
}

// KnownMethod reports whether method names a state-changing escrow call.
func KnownMethod(method string) bool {
	switch method {
	case MethodCreate, MethodFund, MethodRelease, MethodRefund, MethodRequestRevision, MethodRaiseDispute:
		return true
	default:
		return false
	}
}

// NewCall encodes params and returns an unsigned call.
func NewCall(network, method string, nonce uint64, params interface{}) (*Call, error) {
	if !KnownMethod(method) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Call{Network: network, Method: method, Nonce: nonce, Params: raw}, nil
}

// Hash returns the Keccak-256 digest covered by the signature.
func (c *Call) Hash() ([]byte, error) {
	payload := struct {
		Network string          `json:"network"`
		Method  string          `json:"method"`
		Nonce   uint64          `json:"nonce"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{c.Network, c.Method, c.Nonce, c.Params}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(b), nil
}

func (c *Call) Sign(key *crypto.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash)
	if err != nil {
		return err
	}
	c.Signature = sig
	c.from = nil
	return nil
}

// From recovers and caches the signer address.
func (c *Call) From() (crypto.Address, error) {
	if c.from != nil {
		return *c.from, nil
	}
	if len(c.Signature) == 0 {
		return crypto.Address{}, ErrUnsigned
	}
	hash, err := c.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.RecoverAddress(hash, c.Signature)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	c.from = &addr
	return addr, nil
}

// DecodeParams unmarshals the call parameters into out, rejecting unknown fields.
func (c *Call) DecodeParams(out interface{}) error {
	if len(c.Params) == 0 {
		return fmt.Errorf("%w: missing params", ErrInvalidParams)
	}
	dec := json.NewDecoder(bytes.NewReader(c.Params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
