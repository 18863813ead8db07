package hardware_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/models"
)

// pipePort is the host end of an in-memory serial line.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)      { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error)     { return p.w.Write(b) }
func (p *pipePort) SetMode(mode *serial.Mode) error { return nil }
func (p *pipePort) Close() error {
	p.r.Close()
	p.w.Close()
	return nil
}

// fakeStation answers extended-protocol commands like a BSM station.
type fakeStation struct {
	r *bufio.Reader
	w *io.PipeWriter

	mu     sync.Mutex
	mute   bool
	reject bool
	mem    [4]byte
	cmds   []byte
	acks   int
	writes int // 0x82 commands seen
}

func newStationPair(t *testing.T) (*hardware.SerialSession, *fakeStation) {
	t.Helper()
	toStationR, toStationW := io.Pipe()
	toHostR, toHostW := io.Pipe()

	st := &fakeStation{r: bufio.NewReader(toStationR), w: toHostW, mem: [4]byte{0x02, 0x01, 0x00, 0x02}}
	go st.serve()

	s := hardware.NewPortSession(&pipePort{r: toHostR, w: toStationW}, "/dev/ttyFAKE0", nil)
	t.Cleanup(func() { s.Close() })
	return s, st
}

func (st *fakeStation) serve() {
	for {
		b, err := st.r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case hardware.ACK:
			st.mu.Lock()
			st.acks++
			st.mu.Unlock()
			continue
		case hardware.STX:
			st.r.UnreadByte()
		default:
			continue
		}
		f, err := hardware.ReadFrame(st.r)
		if err != nil {
			return
		}
		st.handle(f)
	}
}

func (st *fakeStation) handle(f hardware.Frame) {
	st.mu.Lock()
	st.cmds = append(st.cmds, f.Cmd)
	if st.mute {
		st.mu.Unlock()
		return
	}
	if st.reject {
		st.mu.Unlock()
		st.w.Write([]byte{hardware.NAK})
		return
	}
	var reply []byte
	switch f.Cmd {
	case hardware.CmdSetMasterSlave:
		reply = []byte{0x00, 0x0A, f.Data[0]}
	case hardware.CmdGetSystemValue:
		reply = append([]byte{0x00, 0x0A, f.Data[0]}, st.mem[:]...)
	case hardware.CmdSetSystemValue:
		copy(st.mem[:], f.Data[1:5])
		st.writes++
		reply = []byte{0x00, 0x0A, f.Data[0]}
	}
	st.mu.Unlock()
	st.send(f.Cmd, reply)
}

func (st *fakeStation) send(cmd byte, data []byte) {
	st.w.Write(hardware.EncodeFrame(cmd, data))
}

func (st *fakeStation) sendCard(cmd byte, n models.CardNumber) {
	st.send(cmd, []byte{0x00, 0x0A, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

func (st *fakeStation) snapshot() (mem [4]byte, writes, acks int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.mem, st.writes, st.acks
}

func TestSerialSession_ConfigureWritesOneBatch(t *testing.T) {
	s, st := newStationPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Configure(ctx, hardware.ReadoutSettings(10)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	mem, writes, _ := st.snapshot()
	if writes != 1 {
		t.Errorf("system value writes = %d, want 1", writes)
	}
	if got := hardware.ParseSettings(mem); got != hardware.ReadoutSettings(10) {
		t.Errorf("station settings = %+v", got)
	}

	// Already configured: no second write.
	if err := s.Configure(ctx, hardware.ReadoutSettings(10)); err != nil {
		t.Fatalf("second Configure: %v", err)
	}
	if _, writes, _ := st.snapshot(); writes != 1 {
		t.Errorf("system value writes = %d after no-op configure, want 1", writes)
	}
}

func TestSerialSession_ConfigureRejected(t *testing.T) {
	s, st := newStationPair(t)
	st.mu.Lock()
	st.reject = true
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	err := s.Configure(ctx, hardware.ReadoutSettings(10))
	if !errors.Is(err, hardware.ErrRejected) {
		t.Fatalf("Configure = %v, want ErrRejected", err)
	}
	if errors.Is(err, hardware.ErrTimeout) || time.Since(start) > time.Second {
		t.Errorf("rejection took %s, should not wait for the reply timeout", time.Since(start))
	}
	select {
	case <-s.Done():
		t.Error("a rejected command should not end the session")
	default:
	}
}

func TestSerialSession_ConfigureCancelled(t *testing.T) {
	s, st := newStationPair(t)
	st.mu.Lock()
	st.mute = true
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Configure(ctx, hardware.ReadoutSettings(10))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Configure on silent station = %v, want deadline exceeded", err)
	}
	if _, writes, _ := st.snapshot(); writes != 0 {
		t.Error("nothing should be written to a silent station")
	}
}

func TestSerialSession_CardEvents(t *testing.T) {
	s, st := newStationPair(t)

	events := make(chan hardware.Event, 4)
	for _, kind := range []hardware.EventKind{hardware.CardInserted, hardware.CardObserved, hardware.CardRemoved} {
		s.Subscribe(kind, func(ev hardware.Event) {
			if ev.Kind != hardware.CardRemoved {
				ev.Card.Confirm()
			}
			events <- ev
		})
	}

	st.sendCard(hardware.CmdSICard8, 8123456)
	st.sendCard(hardware.CmdTransmitRecord, 8123456)
	st.sendCard(hardware.CmdSICardRemoved, 8123456)

	want := []hardware.EventKind{hardware.CardInserted, hardware.CardObserved, hardware.CardRemoved}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind || ev.Card.Number != 8123456 {
				t.Errorf("event %d = %v %d, want %v 8123456", i, ev.Kind, ev.Card.Number, kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, acks := st.snapshot(); acks == 2 {
			break
		}
		if time.Now().After(deadline) {
			_, _, acks := st.snapshot()
			t.Fatalf("station saw %d ACKs, want 2", acks)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSerialSession_Disconnect(t *testing.T) {
	s, st := newStationPair(t)
	st.w.CloseWithError(io.ErrUnexpectedEOF)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end when the line dropped")
	}
	if !errors.Is(s.Err(), hardware.ErrDisconnected) {
		t.Errorf("Err = %v, want ErrDisconnected", s.Err())
	}
}

func TestSerialSession_CloseReleases(t *testing.T) {
	toStationR, toStationW := io.Pipe()
	toHostR, _ := io.Pipe()
	go io.Copy(io.Discard, toStationR)

	released := 0
	s := hardware.NewPortSession(&pipePort{r: toHostR, w: toStationW}, "/dev/ttyFAKE1", func() { released++ })
	s.Close()
	s.Close()
	if released != 1 {
		t.Errorf("release ran %d times, want 1", released)
	}
	if !errors.Is(s.Err(), hardware.ErrClosed) {
		t.Errorf("Err = %v, want ErrClosed", s.Err())
	}
}

func TestSerialDriver_MissingFixedDeviceWaits(t *testing.T) {
	d := hardware.NewSerial(hardware.SerialOptions{
		Device:       "/dev/does-not-exist-checkin",
		PollInterval: 10 * time.Millisecond,
	})
	if !d.IsReal() {
		t.Error("serial driver should report real hardware")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := d.Detect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Detect = %v, want deadline exceeded while waiting", err)
	}
	if d.Claimed("/dev/does-not-exist-checkin") {
		t.Error("missing device must not stay claimed")
	}
}

func TestSerialDriver_ForDeviceWaitsAndSharesClaims(t *testing.T) {
	d := hardware.NewSerial(hardware.SerialOptions{PollInterval: 10 * time.Millisecond})
	fixed := d.ForDevice("/dev/does-not-exist-checkin")
	if !fixed.IsReal() {
		t.Error("device driver should report real hardware")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := fixed.Detect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Detect = %v, want deadline exceeded while waiting", err)
	}
}
