package common

import (
	"errors"
	"math/big"
)

// ErrOverflow reports arithmetic that would leave the representable range.
var ErrOverflow = errors.New("arithmetic overflow")

var (
	// MaxAmount is the largest signed 128-bit value, 2^127-1.
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	// MinAmount is the smallest signed 128-bit value, -2^127.
	MinAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// FitsInt128 reports whether v is representable as a signed 128-bit integer.
func FitsInt128(v *big.Int) bool {
	if v == nil {
		return true
	}
	return v.Cmp(MaxAmount) <= 0 && v.Cmp(MinAmount) >= 0
}
