package station_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/micro-nova/checkin-go/internal/config"
	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/ledger"
	"github.com/micro-nova/checkin-go/internal/models"
	"github.com/micro-nova/checkin-go/internal/station"
)

type fixture struct {
	mock    *hardware.Mock
	ledger  *ledger.Ledger
	station *station.Station

	mu       sync.Mutex
	changes  int
	results  []models.Result
	failures []error
}

func newFixture(t *testing.T, driver hardware.Driver, mock *hardware.Mock) *fixture {
	t.Helper()
	l, err := ledger.Open(config.NewMemStore())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	f := &fixture{mock: mock, ledger: l}
	f.station = station.New(station.Options{
		ID:       0,
		Name:     "Eingang",
		Driver:   driver,
		Ledger:   l,
		Settings: hardware.ReadoutSettings(10),
		OnChange: func() {
			f.mu.Lock()
			f.changes++
			f.mu.Unlock()
		},
		OnResult: func(id int, r models.Result) {
			f.mu.Lock()
			f.results = append(f.results, r)
			f.mu.Unlock()
		},
		OnFailure: func(id int, err error) {
			f.mu.Lock()
			f.failures = append(f.failures, err)
			f.mu.Unlock()
		},
	})
	t.Cleanup(f.station.Stop)
	return f
}

func newMockFixture(t *testing.T) *fixture {
	m := hardware.NewMock()
	return newFixture(t, m, m)
}

func (f *fixture) failureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Unconfigured(t *testing.T) {
	f := newMockFixture(t)
	snap := f.station.Snapshot()
	want := models.UnconfiguredStation(0, "Eingang")
	if snap.Phase != want.Phase || snap.Mode != want.Mode || snap.Label != want.Label {
		t.Errorf("Snapshot = %+v", snap)
	}
	if len(snap.Actions) != 2 || snap.Actions[0] != models.ActionCheckIn || snap.Actions[1] != models.ActionCheckOut {
		t.Errorf("Actions = %v", snap.Actions)
	}
	if snap.Icon != "" || snap.Message != "" {
		t.Error("unconfigured station should show no result")
	}
}

func TestStartCheckIn_ConfiguresAndSubscribes(t *testing.T) {
	f := newMockFixture(t)
	if err := f.station.StartCheckIn(context.Background()); err != nil {
		t.Fatalf("StartCheckIn: %v", err)
	}
	sess := f.mock.Last()
	got, ok := sess.Settings()
	if !ok || got != hardware.ReadoutSettings(10) {
		t.Errorf("applied settings = %+v (%v)", got, ok)
	}
	for _, kind := range []hardware.EventKind{hardware.CardInserted, hardware.CardObserved, hardware.CardRemoved} {
		if n := sess.Subscribers(kind); n != 1 {
			t.Errorf("%s subscribers = %d, want 1", kind, n)
		}
	}
	snap := f.station.Snapshot()
	if snap.Phase != models.PhaseActive || snap.Mode != models.ModeCheckIn || snap.Label != "Check-in" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if snap.Device != "mock0" || len(snap.Actions) != 0 || snap.Result != models.ResultNone {
		t.Errorf("Snapshot = %+v", snap)
	}
}

func TestCheckIn_CardHandled(t *testing.T) {
	f := newMockFixture(t)
	f.station.StartCheckIn(context.Background())
	sess := f.mock.Last()

	sess.Insert(8123456)
	snap := f.station.Snapshot()
	if snap.Result != models.ResultCheckInSuccess || snap.Message != "Willkommen!" || snap.Icon == "" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if !f.ledger.Contains(8123456) {
		t.Error("card should be inside")
	}
	if c := sess.Confirms(); len(c) != 1 || c[0] != 8123456 {
		t.Errorf("Confirms = %v", c)
	}
	if len(f.results) != 1 || f.results[0] != models.ResultCheckInSuccess {
		t.Errorf("OnResult saw %v", f.results)
	}
}

func TestDuplicateInsertedObserved_NoDoubleAdmit(t *testing.T) {
	f := newMockFixture(t)
	f.station.StartCheckIn(context.Background())
	sess := f.mock.Last()

	sess.Insert(42)
	sess.Observe(42)
	if f.ledger.Count() != 1 {
		t.Errorf("Count = %d, want 1", f.ledger.Count())
	}
	if r := f.station.Snapshot().Result; r != models.ResultAlreadyCheckedIn {
		t.Errorf("Result = %s, want %s", r, models.ResultAlreadyCheckedIn)
	}
	if len(sess.Confirms()) != 2 {
		t.Errorf("both reads should be confirmed, got %v", sess.Confirms())
	}
}

func TestDuplicateInsertedObserved_NoDoubleRelease(t *testing.T) {
	f := newMockFixture(t)
	f.ledger.CheckIn(42)
	f.ledger.CheckIn(43)
	f.station.StartCheckOut(context.Background())
	sess := f.mock.Last()

	sess.Insert(42)
	if r := f.station.Snapshot().Result; r != models.ResultCheckOutSuccess {
		t.Errorf("Result = %s", r)
	}
	sess.Observe(42)
	if r := f.station.Snapshot().Result; r != models.ResultNotCheckedIn {
		t.Errorf("Result after duplicate = %s", r)
	}
	if f.ledger.Count() != 1 {
		t.Errorf("Count = %d, want 1", f.ledger.Count())
	}
}

func TestCheckIn_DeniedAtCapacity(t *testing.T) {
	f := newMockFixture(t)
	f.ledger.SetMaxOccupancy(1)
	f.station.StartCheckIn(context.Background())
	sess := f.mock.Last()

	sess.Insert(1)
	sess.Remove(1)
	sess.Insert(2)
	snap := f.station.Snapshot()
	if snap.Result != models.ResultCheckInDenied || snap.Message != "Bitte warten!" {
		t.Errorf("Snapshot = %+v", snap)
	}
}

func TestRemoval_ClearsResult(t *testing.T) {
	for _, mode := range []models.Mode{models.ModeCheckIn, models.ModeCheckOut} {
		t.Run(string(mode), func(t *testing.T) {
			f := newMockFixture(t)
			if mode == models.ModeCheckIn {
				f.station.StartCheckIn(context.Background())
			} else {
				f.station.StartCheckOut(context.Background())
			}
			sess := f.mock.Last()

			sess.Insert(7)
			if f.station.Snapshot().Result == models.ResultNone {
				t.Fatal("expected a result after insert")
			}
			sess.Remove(7)
			snap := f.station.Snapshot()
			if snap.Result != models.ResultNone || snap.Icon != "" || snap.Message != "" {
				t.Errorf("Snapshot after removal = %+v", snap)
			}
			if snap.Mode != mode || snap.Phase != models.PhaseActive {
				t.Errorf("removal changed mode/phase: %+v", snap)
			}
			if len(sess.Confirms()) != 1 {
				t.Errorf("removal should not confirm: %v", sess.Confirms())
			}
		})
	}
}

func TestRestart_TearsDownPreviousSession(t *testing.T) {
	f := newMockFixture(t)
	f.station.StartCheckIn(context.Background())
	first := f.mock.Last()
	first.Insert(1)

	if err := f.station.StartCheckOut(context.Background()); err != nil {
		t.Fatalf("StartCheckOut: %v", err)
	}
	if !first.Closed() {
		t.Error("superseded session should be closed")
	}
	for _, kind := range []hardware.EventKind{hardware.CardInserted, hardware.CardObserved, hardware.CardRemoved} {
		if n := first.Subscribers(kind); n != 0 {
			t.Errorf("superseded %s subscribers = %d", kind, n)
		}
	}
	snap := f.station.Snapshot()
	if snap.Mode != models.ModeCheckOut || snap.Result != models.ResultNone || snap.Device != "mock1" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if err := first.Insert(2); !errors.Is(err, hardware.ErrClosed) {
		t.Errorf("event on superseded session = %v", err)
	}
}

// leakySession ignores unsubscribe and Close, so a superseded session keeps
// delivering events to the station's old listeners.
type leakySession struct {
	*hardware.MockSession
}

func (l leakySession) Subscribe(kind hardware.EventKind, fn hardware.Listener) func() {
	l.MockSession.Subscribe(kind, fn)
	return func() {}
}

func (l leakySession) Close() error { return nil }

type leakyDriver struct {
	mock *hardware.Mock
}

func (d leakyDriver) Detect(ctx context.Context) (hardware.Session, error) {
	s, err := d.mock.Detect(ctx)
	if err != nil {
		return nil, err
	}
	return leakySession{s.(*hardware.MockSession)}, nil
}

func (d leakyDriver) IsReal() bool { return false }

func TestRestart_IgnoresEventsFromSupersededSession(t *testing.T) {
	m := hardware.NewMock()
	f := newFixture(t, leakyDriver{mock: m}, m)
	t.Cleanup(func() {
		for _, s := range m.Sessions() {
			s.Close()
		}
	})

	f.station.StartCheckIn(context.Background())
	first := m.Last()
	f.station.StartCheckIn(context.Background())

	if err := first.Insert(99); err != nil {
		t.Fatalf("leaky session should still deliver: %v", err)
	}
	if f.ledger.Contains(99) {
		t.Error("event from superseded session reached the ledger")
	}
	if r := f.station.Snapshot().Result; r != models.ResultNone {
		t.Errorf("Result = %s, want none", r)
	}
	if len(first.Confirms()) != 0 {
		t.Error("superseded read should not be confirmed")
	}

	m.Last().Insert(100)
	if r := f.station.Snapshot().Result; r != models.ResultCheckInSuccess {
		t.Errorf("current session Result = %s", r)
	}
}

func TestStart_AcquisitionFailure(t *testing.T) {
	f := newMockFixture(t)
	f.mock.SetDetectError(hardware.ErrNoDevice)

	err := f.station.StartCheckIn(context.Background())
	if !errors.Is(err, hardware.ErrNoDevice) {
		t.Fatalf("StartCheckIn = %v, want ErrNoDevice", err)
	}
	snap := f.station.Snapshot()
	if snap.Phase != models.PhaseUnconfigured || snap.Mode != models.ModeUnconfigured {
		t.Errorf("Snapshot = %+v", snap)
	}
	if snap.Error == "" || len(snap.Actions) != 2 {
		t.Errorf("failure should be surfaced with retry actions: %+v", snap)
	}
	if f.failureCount() != 1 {
		t.Errorf("OnFailure calls = %d", f.failureCount())
	}

	// Operator retry succeeds once a reader is present.
	f.mock.SetDetectError(nil)
	if err := f.station.StartCheckIn(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if snap := f.station.Snapshot(); snap.Error != "" || snap.Phase != models.PhaseActive {
		t.Errorf("Snapshot after retry = %+v", snap)
	}
}

func TestStart_ConfigureFailureClosesSession(t *testing.T) {
	f := newMockFixture(t)
	f.mock.SetConfigureError(hardware.ErrTimeout)

	if err := f.station.StartCheckOut(context.Background()); !errors.Is(err, hardware.ErrTimeout) {
		t.Fatalf("StartCheckOut = %v, want ErrTimeout", err)
	}
	if !f.mock.Last().Closed() {
		t.Error("session that failed to configure should be closed")
	}
	if f.station.Session() != nil {
		t.Error("station should not keep the session")
	}
}

func TestDisconnect_ReturnsToUnconfigured(t *testing.T) {
	f := newMockFixture(t)
	f.station.StartCheckIn(context.Background())
	sess := f.mock.Last()
	sess.Insert(3)

	sess.Disconnect()
	waitFor(t, "station to notice disconnect", func() bool {
		return f.station.Phase() == models.PhaseUnconfigured
	})
	snap := f.station.Snapshot()
	if snap.Mode != models.ModeUnconfigured || snap.Result != models.ResultNone || snap.Device != "" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if snap.Error != hardware.ErrDisconnected.Error() {
		t.Errorf("Error = %q", snap.Error)
	}
	waitFor(t, "failure callback", func() bool { return f.failureCount() == 1 })
	if !f.ledger.Contains(3) {
		t.Error("disconnect must not touch the ledger")
	}
}

func TestStop_CancelsPendingStart(t *testing.T) {
	f := newMockFixture(t)
	release := f.mock.HoldDetect()
	defer release()

	done := make(chan error, 1)
	go func() { done <- f.station.StartCheckIn(context.Background()) }()

	waitFor(t, "configuring phase", func() bool {
		return f.station.Phase() == models.PhaseConfiguring && f.mock.DetectCount() == 1
	})
	if snap := f.station.Snapshot(); snap.Label != "Check-in" || len(snap.Actions) != 0 {
		t.Errorf("configuring Snapshot = %+v", snap)
	}

	f.station.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, station.ErrSuperseded) {
			t.Errorf("StartCheckIn = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending start was not cancelled")
	}
	if snap := f.station.Snapshot(); snap.Phase != models.PhaseUnconfigured || snap.Error != "" {
		t.Errorf("Snapshot after Stop = %+v", snap)
	}
	if f.failureCount() != 0 {
		t.Error("cancelled start is not a device failure")
	}
}

func TestStart_SupersedesPendingStart(t *testing.T) {
	f := newMockFixture(t)
	release := f.mock.HoldDetect()

	first := make(chan error, 1)
	go func() { first <- f.station.StartCheckIn(context.Background()) }()
	waitFor(t, "first detect", func() bool { return f.mock.DetectCount() == 1 })

	second := make(chan error, 1)
	go func() { second <- f.station.StartCheckOut(context.Background()) }()

	select {
	case err := <-first:
		if !errors.Is(err, station.ErrSuperseded) {
			t.Errorf("first start = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first start not superseded")
	}
	release()
	if err := <-second; err != nil {
		t.Fatalf("second start: %v", err)
	}
	if f.station.Mode() != models.ModeCheckOut {
		t.Errorf("Mode = %s", f.station.Mode())
	}
	if n := len(f.mock.Sessions()); n != 1 {
		t.Errorf("sessions provisioned = %d, want 1", n)
	}
}

func TestStop_ClosesActiveSession(t *testing.T) {
	f := newMockFixture(t)
	f.station.StartCheckIn(context.Background())
	sess := f.mock.Last()

	f.station.Stop()
	if !sess.Closed() {
		t.Error("Stop should close the session")
	}
	snap := f.station.Snapshot()
	if snap.Phase != models.PhaseUnconfigured || len(snap.Actions) != 2 {
		t.Errorf("Snapshot = %+v", snap)
	}

	f.mu.Lock()
	before := f.changes
	f.mu.Unlock()
	f.station.Stop()
	f.mu.Lock()
	after := f.changes
	f.mu.Unlock()
	if after != before {
		t.Error("Stop on an idle station should not report a change")
	}
}

func TestTwoStations_ShareLedger(t *testing.T) {
	m := hardware.NewMock()
	l, _ := ledger.Open(config.NewMemStore())
	l.SetMaxOccupancy(1)

	in := station.New(station.Options{ID: 0, Driver: m, Ledger: l, Settings: hardware.ReadoutSettings(10)})
	out := station.New(station.Options{ID: 1, Driver: m, Ledger: l, Settings: hardware.ReadoutSettings(10)})
	t.Cleanup(in.Stop)
	t.Cleanup(out.Stop)
	in.StartCheckIn(context.Background())
	inSess := m.Last()
	out.StartCheckOut(context.Background())
	outSess := m.Last()

	inSess.Insert(1)
	inSess.Insert(2)
	if in.Snapshot().Result != models.ResultCheckInDenied {
		t.Errorf("second visitor should be denied, got %s", in.Snapshot().Result)
	}
	outSess.Insert(1)
	if out.Snapshot().Result != models.ResultCheckOutSuccess {
		t.Errorf("checkout = %s", out.Snapshot().Result)
	}
	inSess.Insert(2)
	if in.Snapshot().Result != models.ResultCheckInSuccess {
		t.Errorf("after checkout = %s", in.Snapshot().Result)
	}
	if l.Count() != 1 {
		t.Errorf("Count = %d", l.Count())
	}
}

func TestBegin_ConfiguringBeforeReturn(t *testing.T) {
	f := newMockFixture(t)
	release := f.mock.HoldDetect()

	done := f.station.Begin(context.Background(), models.ModeCheckOut)
	if snap := f.station.Snapshot(); snap.Phase != models.PhaseConfiguring || snap.Mode != models.ModeCheckOut {
		t.Errorf("Snapshot right after Begin = %+v", snap)
	}
	release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Begin outcome = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Begin never reported an outcome")
	}
	if f.station.Phase() != models.PhaseActive {
		t.Errorf("Phase = %s", f.station.Phase())
	}
}

func TestBegin_RejectsUnconfiguredMode(t *testing.T) {
	f := newMockFixture(t)
	if err := <-f.station.Begin(context.Background(), models.ModeUnconfigured); err == nil {
		t.Fatal("expected an error")
	}
	if f.mock.DetectCount() != 0 || f.station.Phase() != models.PhaseUnconfigured {
		t.Error("rejected mode should not touch the reader")
	}
}

func TestBegin_ParentCancelledIsNotAFailure(t *testing.T) {
	f := newMockFixture(t)
	release := f.mock.HoldDetect()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := f.station.Begin(ctx, models.ModeCheckIn)
	waitFor(t, "detect to start", func() bool { return f.mock.DetectCount() == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, station.ErrSuperseded) {
			t.Errorf("Begin outcome = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled start never reported")
	}
	snap := f.station.Snapshot()
	if snap.Phase != models.PhaseUnconfigured || snap.Error != "" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if f.failureCount() != 0 {
		t.Errorf("OnFailure calls = %d, want 0", f.failureCount())
	}
}
