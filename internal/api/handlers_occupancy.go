package api

import (
	"net/http"

	"github.com/micro-nova/checkin-go/internal/models"
)

func (h *Handlers) getOccupancy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Occupancy())
}

func (h *Handlers) setOccupancy(w http.ResponseWriter, r *http.Request) {
	var upd models.OccupancyUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	if upd.MaxOccupancy == nil {
		writeError(w, models.ErrInvalidField("max_occupancy", "max_occupancy is required"))
		return
	}
	state, err := h.ctrl.SetMaxOccupancy(*upd.MaxOccupancy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.Occupancy)
}

func (h *Handlers) getMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Members())
}

func (h *Handlers) resetOccupancy(w http.ResponseWriter, r *http.Request) {
	state, err := h.ctrl.ResetOccupancy()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.Occupancy)
}
