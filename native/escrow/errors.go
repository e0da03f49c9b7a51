package escrow

import (
	"errors"

	"trustlance/native/common"
)

// Failure outcomes of escrow operations. Each aborts the call with no write
// and no event.
var (
	ErrEscrowNotFound        = errors.New("escrow not found")
	ErrUnauthorized          = errors.New("caller is not a party to the escrow")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidDeadline       = errors.New("deadline must be after the current time")
	ErrEscrowAlreadyFunded   = errors.New("escrow already funded")
	ErrEscrowNotFunded       = errors.New("escrow not funded")
	ErrEscrowAlreadyReleased = errors.New("escrow already released")
	ErrDeadlineNotPassed     = errors.New("deadline has not passed")
	ErrInvalidStatus         = errors.New("invalid escrow status for operation")
	ErrOverflow              = common.ErrOverflow
	ErrInvalidMetadata       = errors.New("invalid metadata")
	ErrInvalidParty          = errors.New("invalid party address")
)

var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrEscrowNotFound, 1},
	{ErrUnauthorized, 2},
	{ErrInvalidAmount, 3},
	{ErrInvalidDeadline, 4},
	{ErrEscrowAlreadyFunded, 5},
	{ErrEscrowNotFunded, 6},
	{ErrEscrowAlreadyReleased, 7},
	{ErrDeadlineNotPassed, 8},
	{ErrInvalidStatus, 9},
	{ErrOverflow, 10},
	{ErrInvalidMetadata, 11},
	{ErrInvalidParty, 12},
}

// Code returns the stable numeric code for an escrow failure, or 0 when err
// is not one of them.
func Code(err error) uint32 {
	if err == nil {
		return 0
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return 0
}
