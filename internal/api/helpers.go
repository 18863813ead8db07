// Package api implements the operator HTTP API of the check-in daemon.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl   Controller
	events EventBus
}

// Controller is the interface the handlers use to read and change the system.
type Controller interface {
	State() models.State
	Occupancy() models.Occupancy
	Stations() []models.Station
	Station(id int) (models.Station, error)
	BeginCheckIn(id int) (models.State, error)
	BeginCheckOut(id int) (models.State, error)
	StopStation(id int) (models.State, error)
	SetMaxOccupancy(n int) (models.State, error)
	ResetOccupancy() (models.State, error)
	Members() models.MembersResponse
	SimulateCard(id int, event string, n models.CardNumber) (models.State, error)
}

// EventBus is the interface for subscribing to state change events.
type EventBus interface {
	Subscribe(id string) <-chan models.State
	Unsubscribe(id string)
	Last() (models.State, bool)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as an AppError JSON body with its status.
func writeError(w http.ResponseWriter, err error) {
	appErr := models.AsAppError(err)
	writeJSON(w, appErr.Status, appErr)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// intParam reads an integer path parameter by name.
func intParam(r *http.Request, name string) (int, error) {
	s := chi.URLParam(r, name)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, models.ErrBadRequest("invalid " + name + " parameter")
	}
	return n, nil
}
