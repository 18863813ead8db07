package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/time/rate"
)

// USB identifiers of the SportIdent BSM7/8 main station (CP210x bridge).
const (
	SportIdentVID = "10C4"
	SportIdentPID = "800A"
)

const (
	baudHigh = 38400
	baudLow  = 4800

	replyTimeout      = 2 * time.Second
	maxCommandsPerSec = 20
	eventBuffer       = 32
)

// Port is the byte stream to one reader. serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
}

// SerialOptions configures a SerialDriver.
type SerialOptions struct {
	// Device is a fixed port path. Empty selects the first free SportIdent
	// station found by USB enumeration.
	Device string
	// Baud forces a baud rate. Zero tries 38400, then 4800.
	Baud int
	// PollInterval is how often Detect looks again while no reader is
	// plugged in.
	PollInterval time.Duration
}

// SerialDriver finds SportIdent stations on USB serial ports. Ports handed
// out by Detect stay claimed until their session ends, so two stations never
// share a reader.
type SerialDriver struct {
	opts SerialOptions

	mu      sync.Mutex
	claimed map[string]bool
}

// NewSerial creates a SportIdent serial driver.
func NewSerial(opts SerialOptions) *SerialDriver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &SerialDriver{opts: opts, claimed: make(map[string]bool)}
}

func (d *SerialDriver) IsReal() bool { return true }

// Detect waits until a free station is plugged in, opens it and switches it
// to direct mode. Ports that do not answer are skipped; if every candidate
// fails the error wraps ErrNoDevice.
func (d *SerialDriver) Detect(ctx context.Context) (Session, error) {
	return d.detect(ctx, d.opts.Device)
}

// ForDevice returns a driver that only opens the station at path. It shares
// this driver's claims, so automatic detection never takes that port while
// the returned driver holds it.
func (d *SerialDriver) ForDevice(path string) Driver {
	return deviceDriver{d: d, path: path}
}

type deviceDriver struct {
	d    *SerialDriver
	path string
}

func (dd deviceDriver) Detect(ctx context.Context) (Session, error) { return dd.d.detect(ctx, dd.path) }

func (dd deviceDriver) IsReal() bool { return true }

func (d *SerialDriver) detect(ctx context.Context, device string) (Session, error) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		candidates, err := d.candidates(device)
		if err != nil {
			return nil, err
		}

		var lastErr error
		tried := 0
		for _, path := range candidates {
			if !d.claim(path) {
				continue
			}
			tried++
			s, err := d.open(ctx, path)
			if err == nil {
				slog.Info("hardware: reader connected", "device", path)
				return s, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("hardware: port did not answer as a SportIdent station", "device", path, "err", err)
			lastErr = err
		}
		if tried > 0 {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, lastErr)
		}

		slog.Debug("hardware: waiting for a free reader", "candidates", len(candidates))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// candidates lists port paths that may hold a station. A fixed device is
// resolved through symlinks so it claims the same name enumeration reports.
func (d *SerialDriver) candidates(device string) ([]string, error) {
	if device != "" {
		path, err := filepath.EvalSymlinks(device)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("hardware: resolve %s: %w", device, err)
		}
		return []string{path}, nil
	}
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("hardware: enumerate serial ports: %w", err)
	}
	var out []string
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, SportIdentVID) && strings.EqualFold(p.PID, SportIdentPID) {
			out = append(out, p.Name)
		}
	}
	return out, nil
}

func (d *SerialDriver) claim(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[path] {
		return false
	}
	d.claimed[path] = true
	return true
}

func (d *SerialDriver) release(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, path)
}

// Claimed reports whether path is owned by a live session.
func (d *SerialDriver) Claimed(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claimed[path]
}

func (d *SerialDriver) bauds() []int {
	if d.opts.Baud != 0 {
		return []int{d.opts.Baud}
	}
	return []int{baudHigh, baudLow}
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func (d *SerialDriver) open(ctx context.Context, path string) (*SerialSession, error) {
	bauds := d.bauds()
	port, err := serial.Open(path, serialMode(bauds[0]))
	if err != nil {
		d.release(path)
		return nil, fmt.Errorf("hardware: open %s: %w", path, err)
	}
	s := NewPortSession(port, path, func() { d.release(path) })

	for i, baud := range bauds {
		if i > 0 {
			if err = port.SetMode(serialMode(baud)); err != nil {
				break
			}
		}
		if err = s.setDirect(ctx); err == nil {
			slog.Debug("hardware: station answered", "device", path, "baud", baud)
			s.watchRemoval()
			return s, nil
		}
		// noise at the wrong baud rate can look like a NAK
		if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrRejected) {
			break
		}
	}
	s.Close() // releases the claim
	return nil, err
}

// SerialSession is a live connection to one SportIdent station. One
// goroutine reads frames from the port; card events are handed to a second
// goroutine that runs listeners in arrival order.
type SerialSession struct {
	*lifecycle
	device  string
	port    Port
	subs    *subscribers
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	cmdMu   sync.Mutex // one command/reply exchange at a time
	writeMu sync.Mutex
	replies chan Frame
	events  chan Event
	wg      sync.WaitGroup
}

// NewPortSession starts a session on an already-open port. release, if
// non-nil, runs once when the session ends.
func NewPortSession(port Port, device string, release func()) *SerialSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SerialSession{
		lifecycle: newLifecycle(),
		device:    device,
		port:      port,
		subs:      newSubscribers(),
		limiter:   rate.NewLimiter(rate.Limit(maxCommandsPerSec), 4),
		ctx:       ctx,
		cancel:    cancel,
		release:   release,
		replies:   make(chan Frame, 4),
		events:    make(chan Event, eventBuffer),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.dispatchLoop()
	return s
}

func (s *SerialSession) Device() string { return s.device }

func (s *SerialSession) Subscribe(kind EventKind, fn Listener) func() {
	return s.subs.subscribe(kind, fn)
}

// Close ends the session, closes the port and waits for both goroutines.
func (s *SerialSession) Close() error {
	s.teardown(ErrClosed)
	s.wg.Wait()
	return nil
}

func (s *SerialSession) teardown(reason error) {
	if !s.finish(reason) {
		return
	}
	s.cancel()
	if err := s.port.Close(); err != nil {
		slog.Debug("hardware: close port", "device", s.device, "err", err)
	}
	if s.release != nil {
		s.release()
	}
	if errors.Is(reason, ErrDisconnected) {
		slog.Warn("hardware: reader disconnected", "device", s.device)
	}
}

func (s *SerialSession) readLoop() {
	defer s.wg.Done()
	br := bufio.NewReader(s.port)
	for {
		f, err := ReadFrame(br)
		if err != nil {
			if errors.Is(err, ErrBadCRC) || errors.Is(err, ErrBadFrame) {
				slog.Debug("hardware: dropping frame", "device", s.device, "err", err)
				continue
			}
			s.teardown(ErrDisconnected)
			return
		}

		kind, n, isCard, err := cardEvent(f)
		if !isCard {
			select {
			case s.replies <- f:
			default:
				slog.Debug("hardware: dropping unsolicited reply", "device", s.device, "cmd", fmt.Sprintf("0x%02X", f.Cmd))
			}
			continue
		}
		if err != nil {
			slog.Debug("hardware: dropping card frame", "device", s.device, "err", err)
			continue
		}
		ev := Event{Kind: kind, Card: NewCard(n, s.confirm)}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *SerialSession) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.subs.dispatch(ev)
		}
	}
}

func (s *SerialSession) write(ctx context.Context, b []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write(b); err != nil {
		return fmt.Errorf("hardware: write %s: %w", s.device, err)
	}
	return nil
}

// confirm sends the ACK byte that makes the station beep and flash.
func (s *SerialSession) confirm() error {
	return s.write(s.ctx, []byte{ACK})
}

// command sends one frame and waits for the reply with the same command byte.
func (s *SerialSession) command(ctx context.Context, cmd byte, data []byte) (Frame, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	for drained := false; !drained; {
		select {
		case <-s.replies:
		default:
			drained = true
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	msg := append([]byte{Wakeup}, EncodeFrame(cmd, data)...)
	if err := s.write(ctx, msg); err != nil {
		return Frame{}, s.sessionErr(err)
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	for {
		select {
		case f := <-s.replies:
			if f.Cmd == cmd {
				return f, nil
			}
			if f.Cmd == NAK {
				return Frame{}, fmt.Errorf("%w: 0x%02X on %s", ErrRejected, cmd, s.device)
			}
		case <-timer.C:
			return Frame{}, fmt.Errorf("%w: command 0x%02X on %s", ErrTimeout, cmd, s.device)
		case <-ctx.Done():
			return Frame{}, s.sessionErr(ctx.Err())
		}
	}
}

// sessionErr prefers the session's end reason over a derived context error.
func (s *SerialSession) sessionErr(err error) error {
	select {
	case <-s.done:
		return s.Err()
	default:
		return err
	}
}

func (s *SerialSession) setDirect(ctx context.Context) error {
	_, err := s.command(ctx, CmdSetMasterSlave, []byte{masterDirect})
	return err
}

// Configure reads system bytes 0x71..0x74, applies settings to them and
// writes all four back with a single command.
func (s *SerialSession) Configure(ctx context.Context, settings Settings) error {
	if err := s.setDirect(ctx); err != nil {
		return err
	}
	reply, err := s.command(ctx, CmdGetSystemValue, []byte{sysAddrMode, sysByteCount})
	if err != nil {
		return err
	}
	// reply: station code (2), address, values
	if len(reply.Data) < 3+sysByteCount {
		return fmt.Errorf("%w: system value reply has %d bytes", ErrBadFrame, len(reply.Data))
	}
	var cur [sysByteCount]byte
	copy(cur[:], reply.Data[3:3+sysByteCount])

	next, err := ApplySettings(cur, settings)
	if err != nil {
		return err
	}
	if next == cur {
		slog.Debug("hardware: station already configured", "device", s.device)
		return nil
	}
	payload := append([]byte{sysAddrMode}, next[:]...)
	if _, err := s.command(ctx, CmdSetSystemValue, payload); err != nil {
		return err
	}
	slog.Info("hardware: station configured", "device", s.device,
		"mode", fmt.Sprintf("0x%02X", byte(settings.Mode)), "code", settings.Code)
	return nil
}

// watchRemoval ends the session with ErrDisconnected when the device node
// disappears. Read errors catch the same case where inotify is unavailable.
func (s *SerialSession) watchRemoval() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("hardware: no device watcher", "err", err)
		return
	}
	if err := w.Add(filepath.Dir(s.device)); err != nil {
		slog.Debug("hardware: watch device directory", "device", s.device, "err", err)
		w.Close()
		return
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name == s.device && ev.Has(fsnotify.Remove) {
					s.teardown(ErrDisconnected)
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("hardware: device watcher", "err", err)
			}
		}
	}()
}

var (
	_ Driver  = (*SerialDriver)(nil)
	_ Session = (*SerialSession)(nil)
)
