package registry

import (
	"sync"

	"github.com/danmuck/wsframe/internal/endpoint"
)

type ServerEventKind int

const (
	ServerEventListening ServerEventKind = iota + 1
	ServerEventConnection
	ServerEventError
	ServerEventClose
	ServerEventRejected
)

func (k ServerEventKind) String() string {
	switch k {
	case ServerEventListening:
		return "listening"
	case ServerEventConnection:
		return "connection"
	case ServerEventError:
		return "error"
	case ServerEventClose:
		return "close"
	case ServerEventRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ServerEvent is one registry notification. Endpoint is set for
// ServerEventConnection, Addr for ServerEventListening, Request for
// ServerEventRejected. Err carries the failure for ServerEventError and the
// listener close error, if any, for ServerEventClose.
type ServerEvent struct {
	Kind     ServerEventKind
	Endpoint *endpoint.Endpoint
	Addr     string
	Request  AdmissionRequest
	Err      error
}

type ServerObserver interface {
	HandleServerEvent(ServerEvent)
}

type ServerObserverFunc func(ServerEvent)

func (f ServerObserverFunc) HandleServerEvent(ev ServerEvent) { f(ev) }

// OnServerKind returns an observer that only forwards events of kind k.
func OnServerKind(k ServerEventKind, fn func(ServerEvent)) ServerObserver {
	return ServerObserverFunc(func(ev ServerEvent) {
		if ev.Kind == k {
			fn(ev)
		}
	})
}

type serverObservers struct {
	mu   sync.RWMutex
	next int
	subs []serverSub
}

type serverSub struct {
	id int
	o  ServerObserver
}

func (s *serverObservers) add(o ServerObserver) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs = append(s.subs, serverSub{id: id, o: o})
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *serverObservers) emit(ev ServerEvent) {
	s.mu.RLock()
	snapshot := make([]ServerObserver, len(s.subs))
	for i, sub := range s.subs {
		snapshot[i] = sub.o
	}
	s.mu.RUnlock()
	for _, o := range snapshot {
		o.HandleServerEvent(ev)
	}
}
