package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trustlance/core/events"
	"trustlance/core/genesis"
	"trustlance/core/state"
	"trustlance/core/types"
	"trustlance/crypto"
	"trustlance/native/bank"
	"trustlance/native/common"
	"trustlance/native/escrow"
	"trustlance/observability"
	"trustlance/observability/logging"
	telemetry "trustlance/observability/otel"
	"trustlance/storage"
)

// Result is returned by a committed call.
type Result struct {
	// EscrowID is the id minted by escrow_create, or the id the call targeted.
	EscrowID uint64 `json:"id"`
	// Events lists the committed events in emission order.
	Events []*types.Event `json:"events,omitempty"`
}

// Options configures a Node. Zero values fall back to sensible defaults.
type Options struct {
	Network string
	Clock   Clock
	Pauses  common.PauseView
	Bus     *events.Bus
	Logger  *slog.Logger
	Metrics *observability.EscrowMetrics
}

// Node hosts the escrow module. It serialises every call, supplies the clock
// and caller authorization, and commits state writes together with their
// events or not at all.
type Node struct {
	db      storage.Database
	network string
	clock   Clock
	pauses  common.PauseView
	bus     *events.Bus
	logger  *slog.Logger
	metrics *observability.EscrowMetrics

	stateMu sync.Mutex
}

// NewNode wires a node over db.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	n := &Node{
		db:      db,
		network: strings.TrimSpace(opts.Network),
		clock:   opts.Clock,
		pauses:  opts.Pauses,
		bus:     opts.Bus,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if n.clock == nil {
		n.clock = SystemClock{}
	}
	if n.bus == nil {
		n.bus = events.NewBus()
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.metrics != nil {
		n.bus.SetDropHook(n.metrics.RecordDrop)
	}
	return n, nil
}

// Network returns the network name calls must be signed for.
func (n *Node) Network() string { return n.network }

// Bus exposes the committed event stream.
func (n *Node) Bus() *events.Bus { return n.bus }

// Now returns the node clock reading.
func (n *Node) Now() time.Time { return n.clock.Now() }

func (n *Node) newEscrowEngine(manager *state.Manager, emitter events.Emitter, caller crypto.Address) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetBank(bank.NewLedger(manager))
	engine.SetAuthorizer(callerAuth{caller: caller})
	engine.SetEmitter(emitter)
	engine.SetPauses(n.pauses)
	engine.SetNowFunc(n.clock.Now)
	return engine
}

// Execute verifies and runs a signed call. On success its state writes, the
// caller's nonce bump and its events are committed together; on failure
// nothing is written or published.
func (n *Node) Execute(ctx context.Context, call *types.Call) (res *Result, err error) {
	if call == nil {
		return nil, ErrNilCall
	}
	start := time.Now()
	method := call.Method
	if !types.KnownMethod(method) {
		method = "unknown"
	}
	_, span := telemetry.Tracer().Start(ctx, "escrow."+method)
	defer func() {
		n.metrics.ObserveCall(method, outcomeLabel(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !types.KnownMethod(call.Method) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownMethod, call.Method)
	}
	if call.Network != n.network {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongNetwork, call.Network, n.network)
	}
	caller, err := call.From()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("escrow.caller", caller.String()))

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := state.NewManager(n.db)
	defer func() {
		if err != nil {
			manager.Discard()
		}
	}()

	nonce, err := manager.Nonce(caller)
	if err != nil {
		return nil, err
	}
	if call.Nonce != nonce {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, call.Nonce, nonce)
	}

	buffer := events.NewBuffer()
	engine := n.newEscrowEngine(manager, buffer, caller)
	id, err := dispatch(engine, call)
	if err != nil {
		n.logger.Info("escrow call rejected",
			slog.String("method", call.Method),
			slog.Uint64("escrow_id", id),
			logging.ShortAddress("caller", caller.String()),
			slog.String("error", err.Error()))
		return nil, err
	}
	if err := manager.SetNonce(caller, nonce+1); err != nil {
		return nil, err
	}
	if err := manager.Commit(); err != nil {
		return nil, err
	}

	committed := buffer.Drain()
	n.recordTransitions(committed)
	n.bus.Publish(committed...)
	span.SetAttributes(attribute.Int64("escrow.id", int64(id)))
	n.logger.Info("escrow call committed",
		slog.String("method", call.Method),
		slog.Uint64("escrow_id", id),
		logging.ShortAddress("caller", caller.String()),
		slog.Int("events", len(committed)))
	return &Result{EscrowID: id, Events: committed}, nil
}

func dispatch(engine *escrow.Engine, call *types.Call) (uint64, error) {
	switch call.Method {
	case types.MethodCreate:
		var params types.CreateParams
		if err := call.DecodeParams(&params); err != nil {
			return 0, err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(params.Amount), 10)
		if !ok {
			return 0, fmt.Errorf("%w: %q is not an integer", escrow.ErrInvalidAmount, params.Amount)
		}
		return engine.Create(params.Freelancer, amount, params.Deadline, params.Metadata)
	case types.MethodFund, types.MethodRelease, types.MethodRefund:
		var ref types.EscrowRef
		if err := call.DecodeParams(&ref); err != nil {
			return 0, err
		}
		switch call.Method {
		case types.MethodFund:
			return ref.ID, engine.Fund(ref.ID)
		case types.MethodRelease:
			return ref.ID, engine.ReleasePayment(ref.ID)
		default:
			return ref.ID, engine.Refund(ref.ID)
		}
	case types.MethodRequestRevision, types.MethodRaiseDispute:
		var params types.NoteParams
		if err := call.DecodeParams(&params); err != nil {
			return 0, err
		}
		if call.Method == types.MethodRequestRevision {
			return params.ID, engine.RequestRevision(params.ID, params.Note)
		}
		return params.ID, engine.RaiseDispute(params.ID, params.Note)
	default:
		return 0, fmt.Errorf("%w: %s", types.ErrUnknownMethod, call.Method)
	}
}

var transitionsByEvent = map[string][2]string{
	escrow.EventTypeEscrowCreated:  {"", escrow.StatusCreated.String()},
	escrow.EventTypeEscrowFunded:   {escrow.StatusCreated.String(), escrow.StatusFunded.String()},
	escrow.EventTypeEscrowReleased: {escrow.StatusFunded.String(), escrow.StatusReleased.String()},
	escrow.EventTypeEscrowRefunded: {escrow.StatusFunded.String(), escrow.StatusRefunded.String()},
}

func (n *Node) recordTransitions(committed []*types.Event) {
	for _, evt := range committed {
		if tr, ok := transitionsByEvent[evt.Type]; ok {
			n.metrics.RecordTransition(tr[0], tr[1])
		}
	}
}

// outcomeLabel turns an error into a low-cardinality metric label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNonceMismatch):
		return "nonce_mismatch"
	case errors.Is(err, bank.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	}
	if code := escrow.Code(err); code != 0 {
		return fmt.Sprintf("escrow_error_%d", code)
	}
	return "error"
}

// readView runs fn against a fresh, never-committed state view.
func (n *Node) readView(fn func(*escrow.Engine, *state.Manager) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	defer manager.Discard()
	engine := escrow.NewEngine()
	engine.SetState(manager)
	return fn(engine, manager)
}

// Escrow returns the record with the given id.
func (n *Node) Escrow(id uint64) (*escrow.Escrow, error) {
	var out *escrow.Escrow
	err := n.readView(func(engine *escrow.Engine, _ *state.Manager) error {
		esc, err := engine.Escrow(id)
		out = esc
		return err
	})
	return out, err
}

// EscrowStatus returns the status of the escrow with the given id.
func (n *Node) EscrowStatus(id uint64) (escrow.Status, error) {
	var out escrow.Status
	err := n.readView(func(engine *escrow.Engine, _ *state.Manager) error {
		status, err := engine.Status(id)
		out = status
		return err
	})
	return out, err
}

// EscrowCount returns how many escrows were ever created.
func (n *Node) EscrowCount() (uint64, error) {
	var out uint64
	err := n.readView(func(engine *escrow.Engine, _ *state.Manager) error {
		count, err := engine.Count()
		out = count
		return err
	})
	return out, err
}

// EscrowsByParty lists escrows naming party as client or freelancer.
func (n *Node) EscrowsByParty(party crypto.Address) ([]*escrow.Escrow, error) {
	var out []*escrow.Escrow
	err := n.readView(func(engine *escrow.Engine, _ *state.Manager) error {
		list, err := engine.ListByParty(party)
		out = list
		return err
	})
	return out, err
}

// Balance returns the balance of addr in asset ("" is native).
func (n *Node) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	var out *big.Int
	err := n.readView(func(_ *escrow.Engine, manager *state.Manager) error {
		bal, err := manager.Balance(addr, asset)
		out = bal
		return err
	})
	return out, err
}

// Nonce returns the nonce the next call from addr must carry.
func (n *Node) Nonce(addr crypto.Address) (uint64, error) {
	var out uint64
	err := n.readView(func(_ *escrow.Engine, manager *state.Manager) error {
		nonce, err := manager.Nonce(addr)
		out = nonce
		return err
	})
	return out, err
}

// Custody returns the account holding funded escrows.
func (n *Node) Custody() crypto.Address { return escrow.CustodyAddress }

// Mint credits amount to addr. It is an operator action outside the escrow
// state machine.
func (n *Node) Mint(to crypto.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return escrow.ErrInvalidAmount
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	if err := bank.NewLedger(manager).Mint(to, asset, amount); err != nil {
		manager.Discard()
		return err
	}
	if err := manager.Commit(); err != nil {
		return err
	}
	n.logger.Info("ledger mint", logging.ShortAddress("recipient", to.String()), slog.String("amount", amount.String()))
	return nil
}

// ApplyGenesis credits the allocations once. Later calls are no-ops.
func (n *Node) ApplyGenesis(allocs []genesis.Allocation) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	applied, err := manager.GenesisApplied()
	if err != nil || applied {
		return false, err
	}
	ledger := bank.NewLedger(manager)
	for _, alloc := range allocs {
		if err := ledger.Mint(alloc.Address, alloc.Asset, alloc.Amount); err != nil {
			manager.Discard()
			return false, fmt.Errorf("genesis alloc %s: %w", alloc.Address, err)
		}
	}
	if err := manager.MarkGenesisApplied(); err != nil {
		manager.Discard()
		return false, err
	}
	if err := manager.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
