package events

import "trustlance/core/types"

// Event is an escrow state change named by its type string.
type Event interface {
	EventType() string
}

// Emitter receives events produced while a call executes.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Payload extracts the typed payload carried by evt. Events that do not carry
// one are reduced to their type with empty attributes.
func Payload(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := provider.Event(); payload != nil {
			return payload
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
