// Package models defines the data structures shared by the check-in daemon,
// its HTTP API and its display clients.
package models

import (
	"fmt"
	"strconv"
)

// CardNumber is the number encoded on a SportIdent card.
// Its decimal string form is the persistence key.
type CardNumber uint32

func (n CardNumber) String() string { return strconv.FormatUint(uint64(n), 10) }

// ParseCardNumber parses the decimal form of a card number.
func ParseCardNumber(s string) (CardNumber, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid card number %q: %w", s, err)
	}
	return CardNumber(v), nil
}

// Mode is what a station does with the cards it reads.
type Mode string

const (
	ModeUnconfigured Mode = "NOT_CONFIGURED"
	ModeCheckIn      Mode = "CHECK_IN"
	ModeCheckOut     Mode = "CHECK_OUT"
)

// Label is the heading shown on a station panel.
func (m Mode) Label() string {
	switch m {
	case ModeCheckIn:
		return "Check-in"
	case ModeCheckOut:
		return "Check-out"
	default:
		return "Check-in oder check-out starten"
	}
}

// Phase is the lifecycle position of a station.
type Phase string

const (
	PhaseUnconfigured Phase = "UNCONFIGURED"
	PhaseConfiguring  Phase = "CONFIGURING"
	PhaseActive       Phase = "ACTIVE"
)

// Result is the outcome of the last card handled by a station.
// The zero value means no result is showing.
type Result string

const (
	ResultNone             Result = ""
	ResultCheckInSuccess   Result = "CHECK_IN_SUCCESS"
	ResultAlreadyCheckedIn Result = "ALREADY_CHECKED_IN"
	ResultCheckInDenied    Result = "CHECK_IN_DENIED"
	ResultCheckOutSuccess  Result = "CHECK_OUT_SUCCESS"
	ResultNotCheckedIn     Result = "NOT_CHECKED_IN"
)

// Icon returns the pictogram shown for the result.
func (r Result) Icon() string {
	switch r {
	case ResultCheckInSuccess:
		return "😊"
	case ResultAlreadyCheckedIn:
		return "🤷"
	case ResultCheckInDenied:
		return "✋"
	case ResultCheckOutSuccess:
		return "👋"
	case ResultNotCheckedIn:
		return "☝"
	default:
		return ""
	}
}

// Message returns the line shown to the visitor for the result.
func (r Result) Message() string {
	switch r {
	case ResultCheckInSuccess:
		return "Willkommen!"
	case ResultAlreadyCheckedIn:
		return "Bereits eingecheckt!"
	case ResultCheckInDenied:
		return "Bitte warten!"
	case ResultCheckOutSuccess:
		return "Auf Wiedersehen!"
	case ResultNotCheckedIn:
		return "Du warst gar nicht eingecheckt!!!"
	default:
		return ""
	}
}

// Station actions offered while a station is unconfigured.
const (
	ActionCheckIn  = "check-in"
	ActionCheckOut = "check-out"
)

// Station is the display state of one reader station.
type Station struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Phase   Phase    `json:"phase"`
	Mode    Mode     `json:"mode"`
	Label   string   `json:"label"`
	Result  Result   `json:"result"`
	Icon    string   `json:"icon"`
	Message string   `json:"message"`
	Device  string   `json:"device,omitempty"`
	Error   string   `json:"error,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// Occupancy is the aggregate ledger view.
type Occupancy struct {
	Inside       int `json:"inside"`
	MaxOccupancy int `json:"max_occupancy"`
	Digits       int `json:"digits"` // display width of MaxOccupancy
}

// NewOccupancy builds an Occupancy with its display width filled in.
func NewOccupancy(inside, max int) Occupancy {
	return Occupancy{
		Inside:       inside,
		MaxOccupancy: max,
		Digits:       len(strconv.Itoa(max)),
	}
}

// Full reports whether no further check-in would be admitted.
func (o Occupancy) Full() bool { return o.Inside >= o.MaxOccupancy }

// Info is the system information response.
type Info struct {
	Version  string `json:"version"`
	Hostname string `json:"hostname"`
	Stations int    `json:"stations"`
	Mock     bool   `json:"mock"`
	Storage  string `json:"storage"`
}

// State is the complete system state returned by GET /api and pushed to
// subscribers.
type State struct {
	Occupancy Occupancy `json:"occupancy"`
	Stations  []Station `json:"stations"`
	Info      Info      `json:"info"`
}

// DeepCopy returns a copy that shares no slices with s.
func (s State) DeepCopy() State {
	next := State{
		Occupancy: s.Occupancy,
		Info:      s.Info,
		Stations:  make([]Station, len(s.Stations)),
	}
	for i, st := range s.Stations {
		ns := st
		if st.Actions != nil {
			ns.Actions = append([]string(nil), st.Actions...)
		}
		next.Stations[i] = ns
	}
	return next
}
