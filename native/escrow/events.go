package escrow

import (
	"strconv"

	"trustlance/core/types"
	"trustlance/crypto"
)

const (
	EventTypeEscrowCreated           = "escrow.created"
	EventTypeEscrowFunded            = "escrow.funded"
	EventTypeEscrowReleased          = "escrow.released"
	EventTypeEscrowRefunded          = "escrow.refunded"
	EventTypeEscrowRevisionRequested = "escrow.revision_requested"
	EventTypeEscrowDisputed          = "escrow.disputed"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowCreated, e, "client", "freelancer", "amount", "asset", "deadline")
}

// NewFundedEvent returns the payload emitted when the client funds an escrow.
func NewFundedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowFunded, e, "amount", "asset")
}

// NewReleasedEvent returns the payload for a payout to the freelancer.
func NewReleasedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowReleased, e, "freelancer", "amount", "asset")
}

// NewRefundedEvent returns the payload for a refund to the client.
func NewRefundedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowRefunded, e, "client", "amount", "asset")
}

func NewRevisionRequestedEvent(e *Escrow, note string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowRevisionRequested, e)
	evt.Attributes["note"] = note
	return evt
}

func NewDisputeRaisedEvent(e *Escrow, raisedBy crypto.Address, reason string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDisputed, e)
	evt.Attributes["reason"] = reason
	evt.Attributes["raisedBy"] = raisedBy.String()
	return evt
}

func newEscrowEvent(eventType string, e *Escrow, fields ...string) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(e.ID, 10)
	for _, field := range fields {
		switch field {
		case "client":
			attrs["client"] = e.Client.String()
		case "freelancer":
			attrs["freelancer"] = e.Freelancer.String()
		case "amount":
			if e.Amount != nil {
				attrs["amount"] = e.Amount.String()
			}
		case "asset":
			attrs["asset"] = assetLabel(e.Asset)
		case "deadline":
			attrs["deadline"] = strconv.FormatUint(e.Deadline, 10)
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func assetLabel(asset string) string {
	if asset == NativeAsset {
		return "native"
	}
	return asset
}
