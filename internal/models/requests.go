package models

// OccupancyUpdate is the PATCH body for /api/occupancy.
type OccupancyUpdate struct {
	MaxOccupancy *int `json:"max_occupancy"`
}

// Simulated card events accepted by the mock reader endpoint.
const (
	SimInserted = "inserted"
	SimObserved = "observed"
	SimRemoved  = "removed"
)

// SimulateRequest is the body for POST /api/stations/{sid}/simulate.
type SimulateRequest struct {
	Event string     `json:"event"`
	Card  CardNumber `json:"card"`
}

// MembersResponse lists the cards currently checked in.
type MembersResponse struct {
	Cards []CardNumber `json:"cards"`
	Count int          `json:"count"`
}
