package core

import (
	"fmt"

	"trustlance/crypto"
)

// callerAuth authorizes against the address recovered from a call signature.
type callerAuth struct {
	caller crypto.Address
}

func (a callerAuth) Caller() crypto.Address { return a.caller }

func (a callerAuth) Require(party crypto.Address) error {
	if a.caller != party {
		return fmt.Errorf("%w: %s is not %s", ErrNotAuthorized, a.caller, party)
	}
	return nil
}
