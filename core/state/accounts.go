package state

import (
	"fmt"
	"math/big"

	"trustlance/crypto"
)

// Balance returns the balance of addr in asset, zero when never set.
func (m *Manager) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.KVGet(BalanceKey(addr, asset), amount); err != nil {
		return nil, fmt.Errorf("state: load balance: %w", err)
	}
	return amount, nil
}

// SetBalance stores an account balance for the provided asset.
func (m *Manager) SetBalance(addr crypto.Address, asset string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.KVPut(BalanceKey(addr, asset), amount)
}

// Nonce returns the next call nonce expected from addr.
func (m *Manager) Nonce(addr crypto.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(NonceKey(addr), &nonce); err != nil {
		return 0, fmt.Errorf("state: load nonce: %w", err)
	}
	return nonce, nil
}

func (m *Manager) SetNonce(addr crypto.Address, nonce uint64) error {
	return m.KVPut(NonceKey(addr), nonce)
}

// GenesisApplied reports whether genesis allocations were already credited.
func (m *Manager) GenesisApplied() (bool, error) {
	var applied bool
	_, err := m.KVGet(genesisAppliedKeyByte, &applied)
	return applied, err
}

func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(genesisAppliedKeyByte, true)
}
