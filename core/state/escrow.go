package state

import (
	"fmt"

	"trustlance/crypto"
	"trustlance/native/escrow"
)

// EscrowCount returns the global counter, 0 when no escrow exists yet.
func (m *Manager) EscrowCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(escrowCountKeyBytes, &count); err != nil {
		return 0, fmt.Errorf("state: load escrow count: %w", err)
	}
	return count, nil
}

func (m *Manager) SetEscrowCount(count uint64) error {
	return m.KVPut(escrowCountKeyBytes, count)
}

// EscrowGet loads the record with the given id.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	rec := new(escrow.Escrow)
	ok, err := m.KVGet(EscrowRecordKey(id), rec)
	if err != nil {
		return nil, false, fmt.Errorf("state: load escrow %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return rec, true, nil
}

// EscrowPut validates and stores the record under its id.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return m.KVPut(EscrowRecordKey(sanitized.ID), sanitized)
}

// PartyEscrowIDs returns the ids of escrows naming addr, oldest first.
func (m *Manager) PartyEscrowIDs(addr crypto.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := m.KVGet(EscrowPartyKey(addr), &ids); err != nil {
		return nil, fmt.Errorf("state: load party index: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// AppendPartyEscrow adds id to the index of addr. Duplicates are ignored.
func (m *Manager) AppendPartyEscrow(addr crypto.Address, id uint64) error {
	ids, err := m.PartyEscrowIDs(addr)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return m.KVPut(EscrowPartyKey(addr), append(ids, id))
}
