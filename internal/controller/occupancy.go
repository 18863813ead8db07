package controller

import (
	"log/slog"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Occupancy returns the ledger summary.
func (c *Controller) Occupancy() models.Occupancy {
	return c.ledger.Snapshot()
}

// SetMaxOccupancy changes the capacity.
func (c *Controller) SetMaxOccupancy(n int) (models.State, error) {
	if err := c.ledger.SetMaxOccupancy(n); err != nil {
		return models.State{}, err
	}
	slog.Info("controller: max occupancy changed", "max", n)
	c.publish()
	return c.State(), nil
}

// ResetOccupancy checks every card out.
func (c *Controller) ResetOccupancy() (models.State, error) {
	before := c.ledger.Count()
	err := c.ledger.Clear()
	c.publish()
	if err != nil {
		return models.State{}, models.ErrInternal(err.Error())
	}
	slog.Info("controller: occupancy reset", "released", before)
	return c.State(), nil
}

// Members lists the cards currently checked in.
func (c *Controller) Members() models.MembersResponse {
	cards := c.ledger.Members()
	if cards == nil {
		cards = []models.CardNumber{}
	}
	return models.MembersResponse{Cards: cards, Count: len(cards)}
}
