package events

import (
	"sync"
	"time"

	"trustlance/core/types"
)

const defaultSubscriberBuffer = 64

// Envelope is a committed event as delivered to subscribers.
type Envelope struct {
	Sequence  uint64       `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

// Bus fans committed events out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the event and the drop hook fires.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*Subscription
	now    func() time.Time
	onDrop func(subscriber string)
}

// Subscription receives envelopes on C until Close is called.
type Subscription struct {
	C <-chan Envelope

	name string
	id   uint64
	ch   chan Envelope
	bus  *Bus
	once sync.Once
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription), now: time.Now}
}

// SetDropHook installs a callback invoked with the subscriber name whenever an
// event is dropped for that subscriber.
func (b *Bus) SetDropHook(hook func(subscriber string)) {
	b.mu.Lock()
	b.onDrop = hook
	b.mu.Unlock()
}

// Subscribe registers a named subscriber with the given channel capacity.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Envelope, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{C: ch, name: name, id: b.nextID, ch: ch, bus: b}
	b.subs[sub.id] = sub
	return sub
}

// Publish stamps each event with the next sequence number and offers it to
// every subscriber without blocking.
func (b *Bus) Publish(evts ...*types.Event) {
	if len(evts) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		b.seq++
		env := Envelope{Sequence: b.seq, Timestamp: b.now().UTC(), Event: evt}
		for _, sub := range b.subs {
			select {
			case sub.ch <- env:
			default:
				if b.onDrop != nil {
					b.onDrop(sub.name)
				}
			}
		}
	}
}

// Sequence returns the sequence number of the last published event.
func (b *Bus) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Resume continues numbering after seq when seq is ahead of the bus, so a
// restarted node does not reuse sequence numbers already archived.
func (b *Bus) Resume(seq uint64) {
	b.mu.Lock()
	if seq > b.seq {
		b.seq = seq
	}
	b.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

func (s *Subscription) Name() string { return s.name }
