package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"trustlance/crypto"
	"trustlance/native/common"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrNegativeAmount      = errors.New("bank: negative amount")
	ErrOverflow            = common.ErrOverflow
)

// maxBalance caps every balance at the signed 128-bit maximum so any balance
// can be escrowed in full.
var maxBalance = uint256.MustFromBig(common.MaxAmount)

// BalanceStore persists per-asset account balances.
type BalanceStore interface {
	Balance(addr crypto.Address, asset string) (*big.Int, error)
	SetBalance(addr crypto.Address, asset string, amount *big.Int) error
}

// Ledger moves value between accounts with overflow-checked arithmetic.
type Ledger struct {
	state BalanceStore
}

func NewLedger(state BalanceStore) *Ledger {
	return &Ledger{state: state}
}

// Balance returns the balance of addr in asset.
func (l *Ledger) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	return l.state.Balance(addr, asset)
}

// Transfer debits from and credits to. Both legs are computed before either is
// written.
func (l *Ledger) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}
	fromBal, err := l.load(from, asset)
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, fromBal.Dec(), amt.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := l.load(to, asset)
	if err != nil {
		return err
	}
	credited, err := addChecked(toBal, amt)
	if err != nil {
		return err
	}
	debited := new(uint256.Int).Sub(fromBal, amt)
	if err := l.state.SetBalance(from, asset, debited.ToBig()); err != nil {
		return err
	}
	return l.state.SetBalance(to, asset, credited.ToBig())
}

// Mint credits amount to addr out of thin air. It backs the admin faucet and
// genesis allocations.
func (l *Ledger) Mint(to crypto.Address, asset string, amount *big.Int) error {
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	bal, err := l.load(to, asset)
	if err != nil {
		return err
	}
	credited, err := addChecked(bal, amt)
	if err != nil {
		return err
	}
	return l.state.SetBalance(to, asset, credited.ToBig())
}

func (l *Ledger) load(addr crypto.Address, asset string) (*uint256.Int, error) {
	bal, err := l.Balance(addr, asset)
	if err != nil {
		return nil, err
	}
	return toUint256(bal)
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow || out.Gt(maxBalance) {
		return nil, ErrOverflow
	}
	return out, nil
}

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || sum.Gt(maxBalance) {
		return nil, ErrOverflow
	}
	return sum, nil
}
