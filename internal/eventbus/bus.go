package eventbus

import (
	"sync"
	"sync/atomic"

	"memento/internal/logging"
)

// Filter narrows a subscription to events the caller cares about; nil means
// every event of the subscribed type matches.
type Filter func(Event) bool

type subscriber struct {
	id      uint64
	ch      chan Event
	types   map[EventType]bool // empty means all types
	filter  Filter
	dropped atomic.Uint64
}

// Bus is the Event Bus component (C10).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	sequence    atomic.Uint64

	lastMu   sync.RWMutex
	lastByType map[EventType]Event
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		lastByType:  make(map[EventType]Event),
	}
}

// Subscription is returned by Subscribe; read from C to receive events, call
// Close to unsubscribe and release the channel.
type Subscription struct {
	C    <-chan Event
	bus  *Bus
	id   uint64
}

// Close unsubscribes and closes the delivery channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	sub, ok := s.bus.subscribers[s.id]
	if !ok {
		return
	}
	delete(s.bus.subscribers, s.id)
	close(sub.ch)
}

// Dropped reports how many events were dropped for this subscriber because
// its channel was full (backpressure).
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

const subscriberBuffer = 64

// Subscribe registers for events of the given types (empty = all types),
// optionally narrowed by filter. Per-type recency replay: the bus's most
// recent event of each matching type (if any) is delivered immediately so a
// late subscriber doesn't start blind.
func (b *Bus) Subscribe(filter Filter, types ...EventType) *Subscription {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	typeSet := make(map[EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	sub := &subscriber{id: id, ch: make(chan Event, subscriberBuffer), types: typeSet, filter: filter}
	b.subscribers[id] = sub
	b.mu.Unlock()

	b.replayLastEvents(sub)

	return &Subscription{C: sub.ch, bus: b, id: id}
}

func (b *Bus) replayLastEvents(sub *subscriber) {
	b.lastMu.RLock()
	defer b.lastMu.RUnlock()
	for t, ev := range b.lastByType {
		if !subscriberWants(sub, t) {
			continue
		}
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

func subscriberWants(sub *subscriber, t EventType) bool {
	return len(sub.types) == 0 || sub.types[t]
}

// Publish dispatches event to every matching subscriber (in no defined
// order), best-effort: a subscriber whose channel is full gets the frame
// dropped (counted) rather than blocking the publisher. The event also
// becomes the new "last event" for its type, delivered to future subscribers
// on Subscribe.
func (b *Bus) Publish(event Event) {
	event.Sequence = b.sequence.Add(1)

	b.lastMu.Lock()
	b.lastByType[event.Type] = event
	b.lastMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !subscriberWants(sub, event.Type) {
			continue
		}
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			n := sub.dropped.Add(1)
			logging.BusDebug("dropped event type=%s for subscriber=%d (total dropped=%d)", event.Type, sub.id, n)
		}
	}
}

// Stats reports the bus's current fan-out state.
type Stats struct {
	SubscriberCount int
	TotalPublished  uint64
}

// Stats returns bus-wide counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{SubscriberCount: len(b.subscribers), TotalPublished: b.sequence.Load()}
}

// Close unsubscribes and closes every remaining subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
