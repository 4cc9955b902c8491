package endpoint

import "sync"

// EventKind enumerates endpoint notifications.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one notification. Fields are populated per kind:
// Title/Payload for EventMessage, Err for EventError, Code/Reason for EventClose.
type Event struct {
	Kind       EventKind
	EndpointID uint64
	Title      string
	Payload    []byte
	Err        error
	Code       int
	Reason     string
}

// Observer receives endpoint events. Calls are made from the adapter's
// delivery goroutine and must not block for long.
type Observer interface {
	HandleEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) HandleEvent(ev Event) { f(ev) }

// OnKind returns an observer that only forwards events of kind k.
func OnKind(k EventKind, fn func(Event)) Observer {
	return ObserverFunc(func(ev Event) {
		if ev.Kind == k {
			fn(ev)
		}
	})
}

type observerSet struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
	// insertion order, so observers fire in subscription order
	order []int
}

func (s *observerSet) add(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]Observer)
	}
	id := s.next
	s.next++
	s.subs[id] = o
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *observerSet) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *observerSet) emit(ev Event) {
	s.mu.RLock()
	snapshot := make([]Observer, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.subs[id])
	}
	s.mu.RUnlock()
	for _, o := range snapshot {
		o.HandleEvent(ev)
	}
}
