package game

import (
	"log"
	"slices"
	"sync"
)

// Event is one outbound message. An empty Targets list means every player
// in the session.
type Event struct {
	SessionID string
	Type      string
	Targets   []string
	Payload   any
}

func (e Event) For(playerID string) bool {
	return len(e.Targets) == 0 || slices.Contains(e.Targets, playerID)
}

// Bus fans session events out to subscribers. Publish never blocks; a slow
// subscriber loses events rather than stalling the host.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

type Subscription struct {
	C <-chan Event

	ch   chan Event
	bus  *Bus
	id   int
	once sync.Once
}

func (b *Bus) Subscribe(buffer int) *Subscription {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: ch, ch: ch, bus: b, id: b.nextID}
	b.nextID++
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if _, ok := s.bus.subs[s.id]; ok {
			delete(s.bus.subs, s.id)
			close(s.ch)
		}
	})
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			log.Printf("[Bus.Publish] session=%s: subscriber %d full, dropping %s", e.SessionID, sub.id, e.Type)
		}
	}
}

// Close ends every subscription. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
