package core

import "errors"

var (
	// ErrNotAuthorized is the hard failure raised when the signer of a call is
	// not the party an operation requires.
	ErrNotAuthorized = errors.New("caller not authorized")
	ErrNonceMismatch = errors.New("nonce mismatch")
	ErrWrongNetwork  = errors.New("call signed for a different network")
	ErrNilCall       = errors.New("nil call")
)
