// Package lifecycle abstracts the host application's state transitions as an
// injectable event source.
package lifecycle

import (
	"sync"

	"github.com/pulsekit/presence/data/presence"
)

// Event is one host-application state transition.
type Event struct {
	State presence.Lifecycle
}

// Source emits lifecycle transitions to subscribers.
type Source interface {
	// Emit fans the transition out to every subscriber. Unknown states are
	// dropped.
	Emit(ev Event)
	// Subscribe returns a stream of transitions and a cancel function.
	Subscribe() (<-chan Event, func())
}

type source struct {
	mx      sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New() Source {
	return &source{
		subs: map[int]chan Event{},
	}
}

func (s *source) Emit(ev Event) {
	switch ev.State {
	case presence.LifecycleInactive, presence.LifecyclePaused, presence.LifecycleResumed, presence.LifecycleDetached:
	default:
		return
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *source) Subscribe() (<-chan Event, func()) {
	s.mx.Lock()
	defer s.mx.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan Event, 16)
	s.subs[id] = ch

	return ch, func() {
		s.mx.Lock()
		defer s.mx.Unlock()

		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}
