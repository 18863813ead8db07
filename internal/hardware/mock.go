package hardware

import (
	"context"
	"fmt"
	"sync"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Mock is a thread-safe in-memory driver for tests and development. Each
// Detect provisions a new MockSession unless detection is held or failing.
type Mock struct {
	mu           sync.Mutex
	sessions     []*MockSession
	detects      int
	detectErr    error
	configureErr error
	hold         chan struct{} // non-nil while Detect is held
}

// NewMock creates a mock driver that hands out a session on every Detect.
func NewMock() *Mock {
	return &Mock{}
}

// SetDetectError makes every Detect fail with err. nil restores success.
func (m *Mock) SetDetectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectErr = err
}

// SetConfigureError makes Configure on sessions created afterwards fail.
func (m *Mock) SetConfigureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErr = err
}

// HoldDetect makes Detect block, as if no reader were plugged in, until the
// returned release func is called or the Detect context ends.
func (m *Mock) HoldDetect() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.hold = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.hold == ch {
				m.hold = nil
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Mock) Detect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	m.detects++
	hold := m.hold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-hold:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detectErr != nil {
		return nil, m.detectErr
	}
	s := newMockSession(fmt.Sprintf("mock%d", len(m.sessions)), m.configureErr)
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *Mock) IsReal() bool {
	return false
}

// DetectCount returns how many times Detect has been called.
func (m *Mock) DetectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detects
}

// Sessions returns every session provisioned so far, oldest first.
func (m *Mock) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// Last returns the most recently provisioned session, or nil.
func (m *Mock) Last() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// MockSession is a simulated reader. Insert, Observe and Remove deliver
// events through the same single dispatch goroutine a real session uses and
// return once every listener has run.
type MockSession struct {
	*lifecycle
	device       string
	subs         *subscribers
	events       chan mockDelivery
	stopped      chan struct{}
	configureErr error

	mu         sync.Mutex
	settings   *Settings
	configured int
	confirms   []models.CardNumber
}

type mockDelivery struct {
	ev        Event
	delivered chan struct{}
}

func newMockSession(device string, configureErr error) *MockSession {
	s := &MockSession{
		lifecycle:    newLifecycle(),
		device:       device,
		subs:         newSubscribers(),
		events:       make(chan mockDelivery),
		stopped:      make(chan struct{}),
		configureErr: configureErr,
	}
	go s.run()
	return s
}

func (s *MockSession) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case d := <-s.events:
			s.subs.dispatch(d.ev)
			close(d.delivered)
		}
	}
}

func (s *MockSession) Device() string { return s.device }

func (s *MockSession) Configure(ctx context.Context, settings Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return s.Err()
	default:
	}
	if s.configureErr != nil {
		return s.configureErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := settings
	s.settings = &applied
	s.configured++
	return nil
}

func (s *MockSession) Subscribe(kind EventKind, fn Listener) func() {
	return s.subs.subscribe(kind, fn)
}

// Close ends the session and waits for the dispatch goroutine to exit.
func (s *MockSession) Close() error {
	s.finish(ErrClosed)
	<-s.stopped
	return nil
}

// Disconnect simulates the reader being unplugged.
func (s *MockSession) Disconnect() {
	s.finish(ErrDisconnected)
	<-s.stopped
}

// Insert simulates a card being put into the reader.
func (s *MockSession) Insert(n models.CardNumber) error {
	return s.Emit(CardInserted, n)
}

// Observe simulates the reader reporting a card it has already seen.
func (s *MockSession) Observe(n models.CardNumber) error {
	return s.Emit(CardObserved, n)
}

// Remove simulates the card being taken out.
func (s *MockSession) Remove(n models.CardNumber) error {
	return s.Emit(CardRemoved, n)
}

// Emit delivers one event of kind for card n and waits for its listeners.
func (s *MockSession) Emit(kind EventKind, n models.CardNumber) error {
	card := NewCard(n, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.confirms = append(s.confirms, n)
		return nil
	})
	d := mockDelivery{ev: Event{Kind: kind, Card: card}, delivered: make(chan struct{})}
	select {
	case s.events <- d:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-d.delivered:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

// Settings returns the last configuration applied, if any.
func (s *MockSession) Settings() (Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return Settings{}, false
	}
	return *s.settings, true
}

// ConfigureCount returns how many times Configure succeeded.
func (s *MockSession) ConfigureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// Confirms returns the card numbers confirmed so far, in order.
func (s *MockSession) Confirms() []models.CardNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CardNumber, len(s.confirms))
	copy(out, s.confirms)
	return out
}

// Subscribers returns the number of listeners registered for kind.
func (s *MockSession) Subscribers(kind EventKind) int {
	return s.subs.count(kind)
}

// Closed reports whether the session has ended.
func (s *MockSession) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

var (
	_ Driver  = (*Mock)(nil)
	_ Session = (*MockSession)(nil)
)
