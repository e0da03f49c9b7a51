package escrow

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"trustlance/core/events"
	"trustlance/core/types"
	"trustlance/crypto"
	"trustlance/native/common"
)

// ModuleName keys the escrow pause switch and derives the custody account.
const ModuleName = "escrow"

// CustodyAddress holds funded escrows between funding and settlement.
var CustodyAddress = crypto.ModuleAddress(ModuleName)

var (
	errNilState      = errors.New("escrow engine: state not configured")
	errNilBank       = errors.New("escrow engine: bank not configured")
	errNilAuthorizer = errors.New("escrow engine: authorizer not configured")
)

// Store persists escrow records, the global counter and the per-party index.
type Store interface {
	EscrowCount() (uint64, error)
	SetEscrowCount(count uint64) error
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowPut(*Escrow) error
	PartyEscrowIDs(party crypto.Address) ([]uint64, error)
	AppendPartyEscrow(party crypto.Address, id uint64) error
}

// Bank moves value between accounts. Implementations must fail with an error
// wrapping ErrOverflow rather than wrap around.
type Bank interface {
	Transfer(from, to crypto.Address, asset string, amount *big.Int) error
}

// Authorizer binds the engine to the party that signed the current call.
type Authorizer interface {
	Caller() crypto.Address
	// Require fails unless the current caller is party.
	Require(party crypto.Address) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine runs the escrow state machine against injected collaborators. The
// host is expected to build one engine per call, wire the caller's
// authorizer, and commit or discard the state it wrote.
type Engine struct {
	state   Store
	bank    Bank
	auth    Authorizer
	emitter events.Emitter
	pauses  common.PauseView
	custody crypto.Address
	nowFn   func() time.Time
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		custody: CustodyAddress,
		nowFn:   time.Now,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state Store) { e.state = state }

// SetBank configures the value transfer backend.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetAuthorizer binds the engine to the current caller.
func (e *Engine) SetAuthorizer(auth Authorizer) { e.auth = auth }

// SetPauses installs the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetCustody overrides the account holding funded escrows.
func (e *Engine) SetCustody(addr crypto.Address) { e.custody = addr }

// Custody returns the account holding funded escrows.
func (e *Engine) Custody() crypto.Address { return e.custody }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn().Unix())
}

// guard checks the collaborators a mutating operation needs.
func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	if e.auth == nil {
		return errNilAuthorizer
	}
	return common.Guard(e.pauses, ModuleName)
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrEscrowNotFound, id)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// Create records a new escrow with the caller as client and returns its id.
// Ids are dense and start at 1.
func (e *Engine) Create(freelancer crypto.Address, amount *big.Int, deadline uint64, metadata string) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}
	now := e.now()
	if deadline <= now {
		return 0, ErrInvalidDeadline
	}
	if freelancer.IsZero() {
		return 0, ErrInvalidParty
	}
	meta, err := NormalizeText(metadata, MaxMetadataLength)
	if err != nil {
		return 0, err
	}
	count, err := e.state.EscrowCount()
	if err != nil {
		return 0, err
	}
	if count == math.MaxUint64 {
		return 0, ErrOverflow
	}
	esc := &Escrow{
		ID:         count + 1,
		Client:     e.auth.Caller(),
		Freelancer: freelancer,
		Amount:     new(big.Int).Set(amount),
		Asset:      NativeAsset,
		Status:     StatusCreated,
		Deadline:   deadline,
		CreatedAt:  now,
		Metadata:   meta,
	}
	if esc.Client.IsZero() {
		return 0, ErrInvalidParty
	}
	if err := e.storeEscrow(esc); err != nil {
		return 0, err
	}
	if err := e.state.SetEscrowCount(esc.ID); err != nil {
		return 0, err
	}
	if err := e.state.AppendPartyEscrow(esc.Client, esc.ID); err != nil {
		return 0, err
	}
	if esc.Freelancer != esc.Client {
		if err := e.state.AppendPartyEscrow(esc.Freelancer, esc.ID); err != nil {
			return 0, err
		}
	}
	e.emit(NewCreatedEvent(esc))
	return esc.ID, nil
}

// Fund moves the escrow amount from the client into custody. Only the client
// may fund and only from Created.
func (e *Engine) Fund(id uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := e.auth.Require(esc.Client); err != nil {
		return err
	}
	if esc.Status != StatusCreated {
		return ErrEscrowAlreadyFunded
	}
	if err := e.bank.Transfer(esc.Client, e.custody, esc.Asset, esc.Amount); err != nil {
		return fmt.Errorf("escrow %d: fund transfer: %w", id, err)
	}
	esc.Status = StatusFunded
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewFundedEvent(esc))
	return nil
}

// ReleasePayment pays the freelancer out of custody on the client's word.
func (e *Engine) ReleasePayment(id uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := e.auth.Require(esc.Client); err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrEscrowNotFunded
	}
	esc.Status = StatusReleased
	if err := e.bank.Transfer(e.custody, esc.Freelancer, esc.Asset, esc.Amount); err != nil {
		return fmt.Errorf("escrow %d: release transfer: %w", id, err)
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc))
	return nil
}

// Refund returns custody to the client once the deadline has elapsed. Anyone
// may call it; the deadline is checked before the status.
func (e *Engine) Refund(id uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if e.now() < esc.Deadline {
		return ErrDeadlineNotPassed
	}
	if esc.Status != StatusFunded {
		return ErrEscrowNotFunded
	}
	esc.Status = StatusRefunded
	if err := e.bank.Transfer(e.custody, esc.Client, esc.Asset, esc.Amount); err != nil {
		return fmt.Errorf("escrow %d: refund transfer: %w", id, err)
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc))
	return nil
}

// RequestRevision lets the client flag a funded escrow for rework. Nothing is
// written; the note travels on the event only.
func (e *Engine) RequestRevision(id uint64, note string) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := e.auth.Require(esc.Client); err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrInvalidStatus
	}
	normalized, err := NormalizeText(note, MaxNoteLength)
	if err != nil {
		return err
	}
	e.emit(NewRevisionRequestedEvent(esc, normalized))
	return nil
}

// RaiseDispute records a dispute raised by either party. The status does not
// change and release or refund stay possible.
func (e *Engine) RaiseDispute(id uint64, reason string) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	caller := e.auth.Caller()
	if !esc.IsParty(caller) {
		return ErrUnauthorized
	}
	if esc.Status != StatusFunded {
		return ErrInvalidStatus
	}
	normalized, err := NormalizeText(reason, MaxNoteLength)
	if err != nil {
		return err
	}
	e.emit(NewDisputeRaisedEvent(esc, caller, normalized))
	return nil
}

// Escrow returns a copy of the stored record.
func (e *Engine) Escrow(id uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Status returns the current status of the escrow.
func (e *Engine) Status(id uint64) (Status, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return esc.Status, nil
}

// Count returns the number of escrows ever created, 0 before the first.
func (e *Engine) Count() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.EscrowCount()
}

// ListByParty returns copies of every escrow naming party as client or
// freelancer in creation order.
func (e *Engine) ListByParty(party crypto.Address) ([]*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.PartyEscrowIDs(party)
	if err != nil {
		return nil, err
	}
	out := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		esc, err := e.loadEscrow(id)
		if err != nil {
			return nil, err
		}
		out = append(out, esc.Clone())
	}
	return out, nil
}
