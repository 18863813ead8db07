package controller

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/models"
	"github.com/micro-nova/checkin-go/internal/station"
)

func (c *Controller) station(id int) (*station.Station, error) {
	if id < 0 || id >= len(c.stations) {
		return nil, models.ErrNotFound(fmt.Sprintf("station %d not found", id))
	}
	return c.stations[id], nil
}

// Stations returns the display state of every station.
func (c *Controller) Stations() []models.Station {
	return c.State().Stations
}

// Station returns the display state of one station.
func (c *Controller) Station(id int) (models.Station, error) {
	s, err := c.station(id)
	if err != nil {
		return models.Station{}, err
	}
	return s.Snapshot(), nil
}

// BeginCheckIn starts check-in on a station. The reader is acquired in the
// background; the returned state shows the station configuring.
func (c *Controller) BeginCheckIn(id int) (models.State, error) {
	return c.begin(id, models.ModeCheckIn)
}

// BeginCheckOut starts check-out on a station.
func (c *Controller) BeginCheckOut(id int) (models.State, error) {
	return c.begin(id, models.ModeCheckOut)
}

func (c *Controller) begin(id int, mode models.Mode) (models.State, error) {
	s, err := c.station(id)
	if err != nil {
		return models.State{}, err
	}
	if c.ctx.Err() != nil {
		return models.State{}, models.ErrConflict("shutting down")
	}
	done := s.Begin(c.ctx, mode)
	go func() {
		if err := <-done; err != nil && !errors.Is(err, station.ErrSuperseded) {
			slog.Debug("controller: start failed", "station", id, "mode", mode, "err", err)
		}
	}()
	return c.State(), nil
}

// StopStation tears a station's reader session down.
func (c *Controller) StopStation(id int) (models.State, error) {
	s, err := c.station(id)
	if err != nil {
		return models.State{}, err
	}
	s.Stop()
	return c.State(), nil
}

// SimulateCard feeds a card event into a station's mock reader. It is only
// available when the daemon runs with the mock driver.
func (c *Controller) SimulateCard(id int, event string, n models.CardNumber) (models.State, error) {
	if !c.mock {
		return models.State{}, models.ErrNotFound("card simulation requires the mock reader")
	}
	s, err := c.station(id)
	if err != nil {
		return models.State{}, err
	}
	kind, err := hardware.ParseEventKind(event)
	if err != nil {
		return models.State{}, models.ErrInvalidField("event", err.Error())
	}
	sess, ok := s.Session().(*hardware.MockSession)
	if !ok {
		return models.State{}, models.ErrConflict(fmt.Sprintf("station %d has no active reader", id))
	}
	if err := sess.Emit(kind, n); err != nil {
		if errors.Is(err, hardware.ErrClosed) {
			return models.State{}, models.ErrConflict(fmt.Sprintf("station %d has no active reader", id))
		}
		return models.State{}, models.ErrInternal(err.Error())
	}
	return c.State(), nil
}
