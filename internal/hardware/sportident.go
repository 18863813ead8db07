package hardware

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/micro-nova/checkin-go/internal/models"
)

// SportIdent extended-protocol control bytes.
const (
	STX    = 0x02
	ETX    = 0x03
	ACK    = 0x06
	NAK    = 0x15
	Wakeup = 0xFF
)

// SportIdent extended-protocol commands used by the driver.
const (
	CmdSetSystemValue = 0x82
	CmdGetSystemValue = 0x83
	CmdTransmitRecord = 0xD3
	CmdSICard5        = 0xE5
	CmdSICard6        = 0xE6
	CmdSICardRemoved  = 0xE7
	CmdSICard8        = 0xE8
	CmdSetMasterSlave = 0xF0
)

const (
	masterDirect = 0x4D

	// system memory: mode, code low byte, flags + code high bits, protocol
	sysAddrMode  = 0x71
	sysByteCount = 4

	flagFlashes = 1 << 0
	flagBeeps   = 1 << 2

	protoExtended = 1 << 0
	protoAutoSend = 1 << 1
)

// Frame decoding errors.
var (
	ErrBadCRC   = errors.New("hardware: frame crc mismatch")
	ErrBadFrame = errors.New("hardware: malformed frame")
	ErrRejected = errors.New("hardware: station rejected command")
)

// Frame is one extended-protocol message.
type Frame struct {
	Cmd  byte
	Data []byte
}

// CRC16 computes the SportIdent checksum (polynomial 0x8005) over b.
func CRC16(b []byte) uint16 {
	const poly = 0x8005
	if len(b) < 2 {
		return 0
	}
	crc := uint16(b[0])<<8 | uint16(b[1])
	if len(b) == 2 {
		return crc
	}
	p := b[2:]
	for words := len(b) / 2; words > 0; words-- {
		var val uint16
		switch {
		case words > 1:
			val = uint16(p[0])<<8 | uint16(p[1])
			p = p[2:]
		case len(b)%2 == 1:
			val = uint16(p[0]) << 8
		}
		for range 16 {
			carry := crc&0x8000 != 0
			crc <<= 1
			if val&0x8000 != 0 {
				crc++
			}
			if carry {
				crc ^= poly
			}
			val <<= 1
		}
	}
	return crc
}

// EncodeFrame builds STX cmd len data crc16 ETX.
func EncodeFrame(cmd byte, data []byte) []byte {
	out := make([]byte, 0, len(data)+6)
	out = append(out, STX, cmd, byte(len(data)))
	out = append(out, data...)
	crc := CRC16(out[1:])
	out = append(out, byte(crc>>8), byte(crc), ETX)
	return out
}

// ReadFrame reads the next frame from r, skipping wakeup and other bytes
// outside a frame. A bare NAK byte is returned as a Frame with Cmd NAK and
// no data.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == NAK {
			return Frame{Cmd: NAK}, nil
		}
		if b != STX {
			continue
		}
		cmd, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if cmd == STX { // doubled STX after a wakeup
			if cmd, err = r.ReadByte(); err != nil {
				return Frame{}, err
			}
		}
		n, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		body := make([]byte, int(n)+2) // data, crc hi, crc lo
		for i := range body {
			if body[i], err = r.ReadByte(); err != nil {
				return Frame{}, err
			}
		}
		etx, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if etx != ETX {
			return Frame{}, fmt.Errorf("%w: expected ETX, got 0x%02X", ErrBadFrame, etx)
		}
		data := body[:n]
		want := uint16(body[n])<<8 | uint16(body[n+1])
		check := append([]byte{cmd, n}, data...)
		if got := CRC16(check); got != want {
			return Frame{}, fmt.Errorf("%w: cmd 0x%02X got 0x%04X want 0x%04X", ErrBadCRC, cmd, got, want)
		}
		return Frame{Cmd: cmd, Data: data}, nil
	}
}

// DecodeCardNumber converts the four card-number bytes of a card event
// (SI3 SI2 SI1 SI0) into the number printed on the card.
func DecodeCardNumber(b []byte) (models.CardNumber, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: card number needs 4 bytes, got %d", ErrBadFrame, len(b))
	}
	nr := uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if nr < 500000 {
		series := uint32(b[1])
		low := uint32(b[2])<<8 | uint32(b[3])
		if series < 2 {
			return models.CardNumber(low), nil
		}
		return models.CardNumber(series*100000 + low), nil
	}
	return models.CardNumber(nr), nil
}

// cardEvent maps a card frame to an event kind. ok is false for frames that
// are not card events.
func cardEvent(f Frame) (kind EventKind, n models.CardNumber, ok bool, err error) {
	switch f.Cmd {
	case CmdSICard5, CmdSICard6, CmdSICard8:
		kind = CardInserted
	case CmdTransmitRecord:
		kind = CardObserved
	case CmdSICardRemoved:
		kind = CardRemoved
	default:
		return 0, 0, false, nil
	}
	// data: station code (2 bytes), then the card number
	if len(f.Data) < 6 {
		return kind, 0, true, fmt.Errorf("%w: card frame 0x%02X has %d data bytes", ErrBadFrame, f.Cmd, len(f.Data))
	}
	n, err = DecodeCardNumber(f.Data[2:6])
	return kind, n, true, err
}

// ApplySettings returns the system bytes 0x71..0x74 with s applied to cur.
// Bits not covered by Settings are preserved.
func ApplySettings(cur [sysByteCount]byte, s Settings) ([sysByteCount]byte, error) {
	if s.Code < 1 || s.Code > 1023 {
		return cur, fmt.Errorf("hardware: station code %d out of range [1, 1023]", s.Code)
	}
	next := cur
	next[0] = byte(s.Mode)
	next[1] = byte(s.Code & 0xFF)
	next[2] = next[2]&^0xC0 | byte((s.Code>>8)&0x03)<<6
	next[2] = setBit(next[2], flagFlashes, s.Flashes)
	next[2] = setBit(next[2], flagBeeps, s.Beeps)
	next[3] = setBit(next[3], protoExtended, s.ExtendedProtocol)
	next[3] = setBit(next[3], protoAutoSend, s.AutoSend)
	return next, nil
}

// ParseSettings is the inverse of ApplySettings.
func ParseSettings(b [sysByteCount]byte) Settings {
	return Settings{
		Mode:             OperatingMode(b[0]),
		Code:             int(b[1]) | int(b[2]>>6)<<8,
		Flashes:          b[2]&flagFlashes != 0,
		Beeps:            b[2]&flagBeeps != 0,
		ExtendedProtocol: b[3]&protoExtended != 0,
		AutoSend:         b[3]&protoAutoSend != 0,
	}
}

func setBit(b, mask byte, on bool) byte {
	if on {
		return b | mask
	}
	return b &^ mask
}
