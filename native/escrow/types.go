package escrow

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"trustlance/crypto"
	"trustlance/native/common"
)

const (
	// NativeAsset denotes the ledger's native asset.
	NativeAsset = ""

	MaxMetadataLength = 1024
	MaxNoteLength     = 512
)

// Status represents the lifecycle states of an escrow. Created is initial,
// Released and Refunded are terminal. Disputed is reserved: raising a dispute
// is recorded as an event and leaves the status untouched.
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusReleased
	StatusRefunded
	StatusDisputed
)

var statusNames = map[Status]string{
	StatusCreated:  "created",
	StatusFunded:   "funded",
	StatusReleased: "released",
	StatusRefunded: "refunded",
	StatusDisputed: "disputed",
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusFunded, StatusReleased, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus maps a lowercase status name back to its value.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for status, candidate := range statusNames {
		if candidate == trimmed {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown escrow status %q", name)
}

// Escrow is the durable record of one client/freelancer arrangement. Every
// field except Status is fixed at creation.
type Escrow struct {
	ID         uint64         `json:"id"`
	Client     crypto.Address `json:"client"`
	Freelancer crypto.Address `json:"freelancer"`
	Amount     *big.Int       `json:"amount"`
	Asset      string         `json:"asset,omitempty"`
	Status     Status         `json:"status"`
	Deadline   uint64         `json:"deadline"`
	CreatedAt  uint64         `json:"createdAt"`
	Metadata   string         `json:"metadata"`
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// IsParty reports whether addr is the client or the freelancer.
func (e *Escrow) IsParty(addr crypto.Address) bool {
	return e != nil && (e.Client == addr || e.Freelancer == addr)
}

// ValidateAmount enforces a strictly positive amount inside the signed
// 128-bit range.
func ValidateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !common.FitsInt128(amount) {
		return ErrOverflow
	}
	return nil
}

// NormalizeText returns s in Unicode NFC form after checking it is valid
// UTF-8 no longer than max bytes.
func NormalizeText(s string, max int) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid utf-8", ErrInvalidMetadata)
	}
	normalized := norm.NFC.String(s)
	if len(normalized) > max {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidMetadata, len(normalized), max)
	}
	return normalized, nil
}

// SanitizeEscrow validates a record before it is persisted and returns a
// clone with a non-nil amount. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("escrow id must be non-zero")
	}
	if err := ValidateAmount(clone.Amount); err != nil {
		return nil, err
	}
	if clone.Client.IsZero() || clone.Freelancer.IsZero() {
		return nil, fmt.Errorf("escrow parties must be set")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.Deadline <= clone.CreatedAt {
		return nil, ErrInvalidDeadline
	}
	if len(clone.Metadata) > MaxMetadataLength {
		return nil, ErrInvalidMetadata
	}
	return clone, nil
}
