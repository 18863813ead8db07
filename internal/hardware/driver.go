// Package hardware provides the card-reader abstraction for the check-in
// daemon. It defines the Driver and Session interfaces implemented by the
// SportIdent serial driver and the mock driver.
package hardware

import (
	"context"
	"errors"
	"fmt"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Errors reported by drivers and sessions.
var (
	ErrNoDevice     = errors.New("hardware: no card reader found")
	ErrDisconnected = errors.New("hardware: card reader disconnected")
	ErrClosed       = errors.New("hardware: session closed")
	ErrTimeout      = errors.New("hardware: card reader did not respond")
)

// EventKind is the kind of card-presence event a reader emits.
type EventKind int

const (
	CardInserted EventKind = iota
	CardObserved
	CardRemoved
)

func (k EventKind) String() string {
	switch k {
	case CardInserted:
		return "inserted"
	case CardObserved:
		return "observed"
	case CardRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ParseEventKind parses the names produced by EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "inserted":
		return CardInserted, nil
	case "observed":
		return CardObserved, nil
	case "removed":
		return CardRemoved, nil
	default:
		return 0, fmt.Errorf("hardware: unknown event kind %q", s)
	}
}

// Card is a card seen by a reader.
type Card struct {
	Number  models.CardNumber
	confirm func() error
}

// NewCard returns a card whose Confirm calls confirm.
func NewCard(n models.CardNumber, confirm func() error) Card {
	return Card{Number: n, confirm: confirm}
}

// Confirm acknowledges the read so the reader stops re-sending it.
// Confirming twice is harmless.
func (c Card) Confirm() error {
	if c.confirm == nil {
		return nil
	}
	return c.confirm()
}

// Event is one card-presence event.
type Event struct {
	Kind EventKind
	Card Card
}

// Listener handles events of one kind. Listeners of a session run one at a
// time, in arrival order, on the session's dispatch goroutine.
type Listener func(Event)

// OperatingMode is the SportIdent station mode written to system byte 0x71.
type OperatingMode byte

const (
	ModeControl   OperatingMode = 0x02
	ModeStart     OperatingMode = 0x03
	ModeFinish    OperatingMode = 0x04
	ModeReadout   OperatingMode = 0x05
	ModeClearCard OperatingMode = 0x07
	ModeCheck     OperatingMode = 0x0A
)

// Settings is the station configuration applied by Session.Configure as one
// batch.
type Settings struct {
	ExtendedProtocol bool
	AutoSend         bool
	Mode             OperatingMode
	Code             int
	Flashes          bool
	Beeps            bool
}

// DefaultStationCode is the station code written when none is configured.
const DefaultStationCode = 10

// ReadoutSettings returns the fixed configuration of a check-in station:
// extended protocol, no auto-send, readout mode, flashes and beeps.
func ReadoutSettings(code int) Settings {
	if code <= 0 {
		code = DefaultStationCode
	}
	return Settings{
		ExtendedProtocol: true,
		AutoSend:         false,
		Mode:             ModeReadout,
		Code:             code,
		Flashes:          true,
		Beeps:            true,
	}
}

// Driver finds card readers and opens sessions on them.
type Driver interface {
	// Detect blocks until a free reader is found and returns an open session
	// that the caller owns exclusively. It returns ErrNoDevice when no reader
	// can be found, or ctx.Err() when cancelled.
	Detect(ctx context.Context) (Session, error)

	// IsReal returns true for a real hardware driver, false for a mock.
	IsReal() bool
}

// Session is a live connection to one reader.
type Session interface {
	// Device names the reader (serial port path or mock name).
	Device() string

	// Configure writes s to the reader atomically. On error the reader is
	// left with its previous configuration.
	Configure(ctx context.Context, s Settings) error

	// Subscribe registers fn for events of kind. The returned func removes
	// it; fn is not called for any event dispatched after that.
	Subscribe(kind EventKind, fn Listener) (unsubscribe func())

	// Done is closed when the session ends, by Close or by losing the reader.
	Done() <-chan struct{}

	// Err reports why Done was closed: ErrClosed or ErrDisconnected.
	Err() error

	// Close ends the session and releases the reader. It waits for a running
	// listener to return and is safe to call more than once, but must not be
	// called from a listener.
	Close() error
}
