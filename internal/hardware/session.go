package hardware

import (
	"sync"
)

// subscribers is the per-session listener registry.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	byKind map[EventKind]map[int]Listener
}

func newSubscribers() *subscribers {
	return &subscribers{byKind: make(map[EventKind]map[int]Listener)}
}

func (s *subscribers) subscribe(kind EventKind, fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.byKind[kind] == nil {
		s.byKind[kind] = make(map[int]Listener)
	}
	s.byKind[kind][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.byKind[kind], id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) count(kind EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKind[kind])
}

// dispatch calls every current listener for ev.Kind. A listener removed
// while an earlier one runs is skipped.
func (s *subscribers) dispatch(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.byKind[ev.Kind]))
	for id := range s.byKind[ev.Kind] {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		fn, ok := s.byKind[ev.Kind][id]
		s.mu.Unlock()
		if ok {
			fn(ev)
		}
	}
}

// lifecycle tracks the end of a session.
type lifecycle struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

// finish records err and closes done. Only the first call has an effect.
func (l *lifecycle) finish(err error) bool {
	first := false
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		first = true
	})
	return first
}

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
