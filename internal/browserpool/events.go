package browserpool

import "sync"

// EventKind identifies a pool state transition.
type EventKind string

// Pool events, emitted synchronously in transition order.
const (
	EventInitialized EventKind = "initialized"
	EventCreated     EventKind = "resource-created"
	EventAcquired    EventKind = "resource-acquired"
	EventReleased    EventKind = "resource-released"
	EventClosed      EventKind = "closed"
)

// Event carries the payload of one transition. Only the fields relevant to
// Kind are set: TotalUsable for EventInitialized, Handle for EventCreated and
// Stats for EventAcquired / EventReleased.
type Event struct {
	Kind        EventKind
	TotalUsable int
	Handle      Handle
	Stats       Stats
}

// Subscriber observes pool events. It runs on the goroutine that caused the
// transition and must not call back into the Pool.
type Subscriber func(Event)

type subscribers struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
	order  []int
}

func (s *subscribers) add(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]Subscriber)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers) snapshot() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.subs[id])
	}
	return out
}
