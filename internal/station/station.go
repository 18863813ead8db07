// Package station runs one card-reader station: it owns at most one reader
// session, applies the station's mode to every card the reader reports and
// keeps the last result for display.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/models"
)

// ErrSuperseded is returned by a start that was overtaken by Stop or a newer
// start before its reader was ready, or whose context ended first.
var ErrSuperseded = errors.New("station: start superseded")

// Ledger is the occupancy set a station checks cards against.
type Ledger interface {
	CheckIn(n models.CardNumber) models.Result
	CheckOut(n models.CardNumber) models.Result
}

// Options configures a Station.
type Options struct {
	ID       int
	Name     string
	Driver   hardware.Driver
	Ledger   Ledger
	Settings hardware.Settings

	// OnChange runs after every visible state change, outside the station lock.
	OnChange func()
	// OnResult runs after each card handled.
	OnResult func(id int, r models.Result)
	// OnFailure runs when acquiring a reader fails or the reader is lost.
	OnFailure func(id int, err error)
}

// Station is the state machine of one reader station. All methods are safe
// for concurrent use. Lock order is station, then ledger.
type Station struct {
	opts Options

	mu      sync.Mutex
	phase   models.Phase
	mode    models.Mode
	result  models.Result
	session hardware.Session
	unsubs  []func()
	cancel  context.CancelFunc // pending start
	gen     uint64             // bumped on every teardown
	err     error
}

// New creates an unconfigured station.
func New(opts Options) *Station {
	return &Station{
		opts:  opts,
		phase: models.PhaseUnconfigured,
		mode:  models.ModeUnconfigured,
	}
}

// ID returns the station index.
func (s *Station) ID() int { return s.opts.ID }

// StartCheckIn acquires a reader and admits every card it reports.
func (s *Station) StartCheckIn(ctx context.Context) error {
	return s.start(ctx, models.ModeCheckIn)
}

// StartCheckOut acquires a reader and releases every card it reports.
func (s *Station) StartCheckOut(ctx context.Context) error {
	return s.start(ctx, models.ModeCheckOut)
}

func (s *Station) start(ctx context.Context, mode models.Mode) error {
	return <-s.Begin(ctx, mode)
}

// Begin puts the station into CONFIGURING for mode before it returns and
// acquires the reader in the background. The returned channel receives the
// outcome once: nil when active, ErrSuperseded when overtaken, or the
// acquisition error.
func (s *Station) Begin(ctx context.Context, mode models.Mode) <-chan error {
	done := make(chan error, 1)
	if mode != models.ModeCheckIn && mode != models.ModeCheckOut {
		done <- fmt.Errorf("station %d: cannot start in mode %s", s.opts.ID, mode)
		return done
	}
	startCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	old := s.detachLocked()
	gen := s.gen
	s.cancel = cancel
	s.phase = models.PhaseConfiguring
	s.mode = mode
	s.result = models.ResultNone
	s.err = nil
	s.mu.Unlock()

	closeSession(old)
	s.changed()
	slog.Debug("station: acquiring reader", "station", s.opts.ID, "mode", mode)

	go func() {
		defer cancel()
		done <- s.acquire(startCtx, gen, mode)
	}()
	return done
}

func (s *Station) acquire(ctx context.Context, gen uint64, mode models.Mode) error {
	sess, err := s.opts.Driver.Detect(ctx)
	if err != nil {
		err = fmt.Errorf("station %d: acquire reader: %w", s.opts.ID, err)
	} else if cerr := sess.Configure(ctx, s.opts.Settings); cerr != nil {
		err = fmt.Errorf("station %d: configure %s: %w", s.opts.ID, sess.Device(), cerr)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		closeSession(sess)
		return ErrSuperseded
	}
	s.cancel = nil
	if err != nil && ctx.Err() != nil {
		// the caller gave up, the reader did not fail
		s.phase = models.PhaseUnconfigured
		s.mode = models.ModeUnconfigured
		s.err = nil
		s.mu.Unlock()

		closeSession(sess)
		slog.Debug("station: start cancelled", "station", s.opts.ID, "err", err)
		s.changed()
		return ErrSuperseded
	}
	if err != nil {
		s.phase = models.PhaseUnconfigured
		s.mode = models.ModeUnconfigured
		s.err = err
		s.mu.Unlock()

		closeSession(sess)
		slog.Warn("station: reader unavailable", "station", s.opts.ID, "err", err)
		s.changed()
		s.failed(err)
		return err
	}

	s.session = sess
	s.phase = models.PhaseActive
	for _, kind := range []hardware.EventKind{hardware.CardInserted, hardware.CardObserved, hardware.CardRemoved} {
		s.unsubs = append(s.unsubs, sess.Subscribe(kind, func(ev hardware.Event) {
			s.handle(gen, ev)
		}))
	}
	s.mu.Unlock()

	go s.watch(sess, gen)
	slog.Info("station: active", "station", s.opts.ID, "mode", mode, "device", sess.Device())
	s.changed()
	return nil
}

// Stop tears down the session, or cancels a pending start, and returns the
// station to unconfigured.
func (s *Station) Stop() {
	s.mu.Lock()
	old := s.detachLocked()
	wasIdle := old == nil && s.phase == models.PhaseUnconfigured && s.err == nil
	s.phase = models.PhaseUnconfigured
	s.mode = models.ModeUnconfigured
	s.result = models.ResultNone
	s.err = nil
	s.mu.Unlock()

	closeSession(old)
	if !wasIdle {
		slog.Info("station: stopped", "station", s.opts.ID)
		s.changed()
	}
}

// detachLocked removes every subscription of the current session and
// invalidates events already in flight. The returned session must be closed
// after the lock is released.
func (s *Station) detachLocked() hardware.Session {
	s.gen++
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	old := s.session
	s.session = nil
	return old
}

func (s *Station) handle(gen uint64, ev hardware.Event) {
	s.mu.Lock()
	if s.gen != gen || s.phase != models.PhaseActive {
		s.mu.Unlock()
		return
	}

	var r models.Result
	switch ev.Kind {
	case hardware.CardInserted, hardware.CardObserved:
		switch s.mode {
		case models.ModeCheckIn:
			r = s.opts.Ledger.CheckIn(ev.Card.Number)
		case models.ModeCheckOut:
			r = s.opts.Ledger.CheckOut(ev.Card.Number)
		}
		s.result = r
	case hardware.CardRemoved:
		s.result = models.ResultNone
	}
	s.mu.Unlock()

	if ev.Kind != hardware.CardRemoved {
		if err := ev.Card.Confirm(); err != nil {
			slog.Warn("station: confirm failed", "station", s.opts.ID, "card", ev.Card.Number, "err", err)
		}
		slog.Debug("station: card handled", "station", s.opts.ID, "card", ev.Card.Number, "event", ev.Kind, "result", r)
	}
	s.changed()
	if r != models.ResultNone && s.opts.OnResult != nil {
		s.opts.OnResult(s.opts.ID, r)
	}
}

// watch returns the station to unconfigured if the reader goes away while
// its session is current.
func (s *Station) watch(sess hardware.Session, gen uint64) {
	<-sess.Done()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	err := sess.Err()
	if err == nil {
		err = hardware.ErrDisconnected
	}
	s.phase = models.PhaseUnconfigured
	s.mode = models.ModeUnconfigured
	s.result = models.ResultNone
	s.err = err
	s.mu.Unlock()

	closeSession(sess)
	slog.Warn("station: reader lost", "station", s.opts.ID, "device", sess.Device(), "err", err)
	s.changed()
	s.failed(err)
}

func closeSession(sess hardware.Session) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		slog.Debug("station: close session", "device", sess.Device(), "err", err)
	}
}

func (s *Station) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Station) failed(err error) {
	if s.opts.OnFailure != nil {
		s.opts.OnFailure(s.opts.ID, err)
	}
}

// Session returns the current reader session, or nil.
func (s *Station) Session() hardware.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Mode returns the station's current mode.
func (s *Station) Mode() models.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Phase returns the station's lifecycle phase.
func (s *Station) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns the display state of the station.
func (s *Station) Snapshot() models.Station {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.Station{
		ID:      s.opts.ID,
		Name:    s.opts.Name,
		Phase:   s.phase,
		Mode:    s.mode,
		Label:   s.mode.Label(),
		Result:  s.result,
		Icon:    s.result.Icon(),
		Message: s.result.Message(),
	}
	if s.session != nil {
		st.Device = s.session.Device()
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	if s.phase == models.PhaseUnconfigured {
		st.Actions = []string{models.ActionCheckIn, models.ActionCheckOut}
	}
	return st
}
