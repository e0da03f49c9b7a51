package state

import (
	"encoding/binary"

	"trustlance/crypto"
)

var (
	escrowCountKeyBytes   = []byte("escrow/count")
	escrowRecordPrefix    = []byte("escrow/record/")
	escrowPartyPrefix     = []byte("escrow/party/")
	balancePrefix         = []byte("balance:")
	noncePrefix           = []byte("nonce/")
	genesisAppliedKeyByte = []byte("genesis/applied")
)

// EscrowCountKey returns the raw key of the global escrow counter.
func EscrowCountKey() []byte { return append([]byte(nil), escrowCountKeyBytes...) }

// EscrowRecordKey returns the raw key of the record with the given id.
func EscrowRecordKey(id uint64) []byte {
	buf := make([]byte, len(escrowRecordPrefix)+8)
	copy(buf, escrowRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowRecordPrefix):], id)
	return buf
}

// EscrowPartyKey returns the raw key of the per-party escrow index.
func EscrowPartyKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), escrowPartyPrefix...), addr[:]...)
}

// BalanceKey returns the raw key of an account balance in asset.
func BalanceKey(addr crypto.Address, asset string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(asset)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	return append(buf, addr[:]...)
}

// NonceKey returns the raw key of an account's call nonce.
func NonceKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), noncePrefix...), addr[:]...)
}
