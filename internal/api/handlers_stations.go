package api

import (
	"net/http"

	"github.com/micro-nova/checkin-go/internal/models"
)

func (h *Handlers) getStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stations": h.ctrl.Stations()})
}

func (h *Handlers) getStation(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "sid")
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.ctrl.Station(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// stationAction runs fn for the station in the path and writes the
// resulting state with status.
func (h *Handlers) stationAction(status int, fn func(id int) (models.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := intParam(r, "sid")
		if err != nil {
			writeError(w, err)
			return
		}
		state, err := fn(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, status, state)
	}
}

func (h *Handlers) beginCheckIn(w http.ResponseWriter, r *http.Request) {
	h.stationAction(http.StatusAccepted, h.ctrl.BeginCheckIn)(w, r)
}

func (h *Handlers) beginCheckOut(w http.ResponseWriter, r *http.Request) {
	h.stationAction(http.StatusAccepted, h.ctrl.BeginCheckOut)(w, r)
}

func (h *Handlers) stopStation(w http.ResponseWriter, r *http.Request) {
	h.stationAction(http.StatusOK, h.ctrl.StopStation)(w, r)
}

func (h *Handlers) simulateCard(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "sid")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.SimulateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, err := h.ctrl.SimulateCard(id, req.Event, req.Card)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
