package models

import "fmt"

// DefaultMaxOccupancy is the capacity used when none has been stored.
const DefaultMaxOccupancy = 100

// DefaultStationCount is the number of reader stations a fresh install runs.
const DefaultStationCount = 2

// DefaultStationName returns the display name for station index i.
func DefaultStationName(i int) string {
	return fmt.Sprintf("Station %d", i+1)
}

// UnconfiguredStation returns the display state of a station with no session.
func UnconfiguredStation(id int, name string) Station {
	return Station{
		ID:      id,
		Name:    name,
		Phase:   PhaseUnconfigured,
		Mode:    ModeUnconfigured,
		Label:   ModeUnconfigured.Label(),
		Actions: []string{ActionCheckIn, ActionCheckOut},
	}
}

// DefaultState returns the state of a fresh install before any card is read.
func DefaultState() State {
	stations := make([]Station, DefaultStationCount)
	for i := range stations {
		stations[i] = UnconfiguredStation(i, DefaultStationName(i))
	}
	return State{
		Occupancy: NewOccupancy(0, DefaultMaxOccupancy),
		Stations:  stations,
		Info:      Info{Version: "0.0.1", Stations: DefaultStationCount},
	}
}
