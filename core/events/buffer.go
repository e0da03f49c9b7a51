package events

import (
	"sync"

	"trustlance/core/types"
)

// Buffer collects events emitted while a call executes. The host drains it
// after the call commits and drops it when the call fails, so observers never
// see events of rolled-back calls.
type Buffer struct {
	mu     sync.Mutex
	events []*types.Event
}

func NewBuffer() *Buffer { return &Buffer{} }

// Emit implements Emitter.
func (b *Buffer) Emit(evt Event) {
	payload := Payload(evt)
	if payload == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, payload.Clone())
	b.mu.Unlock()
}

// Drain returns the collected events and resets the buffer.
func (b *Buffer) Drain() []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
