// Package controller coordinates the check-in daemon: it owns the stations
// and the occupancy ledger and publishes every change of either.
package controller

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/micro-nova/checkin-go/internal/config"
	"github.com/micro-nova/checkin-go/internal/events"
	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/ledger"
	"github.com/micro-nova/checkin-go/internal/metrics"
	"github.com/micro-nova/checkin-go/internal/models"
	"github.com/micro-nova/checkin-go/internal/station"
)

// Options configures a Controller.
type Options struct {
	Ledger *ledger.Ledger
	// Driver serves every station without a driver of its own.
	Driver hardware.Driver
	// DriverFor may return a dedicated driver for a station, or nil.
	DriverFor func(id int, sc config.StationConfig) hardware.Driver
	Stations  []config.StationConfig
	Reader    hardware.Settings

	Bus     *events.Bus
	Metrics *metrics.Metrics

	Version  string
	Hostname string
	Storage  string
}

// Controller is the single source of truth for occupancy and stations.
// Station and ledger changes are published on the bus as full states.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	ledger   *ledger.Ledger
	stations []*station.Station
	mock     bool
	info     models.Info

	bus     *events.Bus
	metrics *metrics.Metrics

	pubMu sync.Mutex
}

// New creates a controller with one unconfigured station per entry of
// opts.Stations. Station starts run on ctx; Shutdown cancels them.
func New(ctx context.Context, opts Options) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		ctx:     ctx,
		cancel:  cancel,
		ledger:  opts.Ledger,
		mock:    !opts.Driver.IsReal(),
		bus:     opts.Bus,
		metrics: opts.Metrics,
		info: models.Info{
			Version:  opts.Version,
			Hostname: opts.Hostname,
			Stations: len(opts.Stations),
			Mock:     !opts.Driver.IsReal(),
			Storage:  opts.Storage,
		},
	}
	if c.info.Version == "" {
		c.info.Version = models.DefaultState().Info.Version
	}

	for i, sc := range opts.Stations {
		drv := opts.Driver
		if opts.DriverFor != nil {
			if d := opts.DriverFor(i, sc); d != nil {
				drv = d
			}
		}
		name := sc.Name
		if name == "" {
			name = models.DefaultStationName(i)
		}
		c.stations = append(c.stations, station.New(station.Options{
			ID:        i,
			Name:      name,
			Driver:    drv,
			Ledger:    opts.Ledger,
			Settings:  opts.Reader,
			OnChange:  c.publish,
			OnResult:  c.countResult,
			OnFailure: c.countFailure,
		}))
	}
	c.publish()
	return c
}

// State returns a fresh copy of the full system state.
func (c *Controller) State() models.State {
	st := models.State{
		Occupancy: c.ledger.Snapshot(),
		Stations:  make([]models.Station, len(c.stations)),
		Info:      c.info,
	}
	for i, s := range c.stations {
		st.Stations[i] = s.Snapshot()
	}
	return st
}

// publish pushes the current state to subscribers and metrics. States are
// built and published under one lock so subscribers never see them out of
// order.
func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	st := c.State()
	if c.bus != nil {
		c.bus.Publish(st)
	}
	c.metrics.ObserveState(st)
}

func (c *Controller) countResult(id int, r models.Result) {
	c.metrics.CountResult(strconv.Itoa(id), r)
}

func (c *Controller) countFailure(id int, err error) {
	c.metrics.CountDeviceFailure(strconv.Itoa(id))
}

// Shutdown stops every station and cancels pending starts.
func (c *Controller) Shutdown() {
	c.cancel()
	for _, s := range c.stations {
		s.Stop()
	}
	slog.Info("controller: stations stopped", "stations", len(c.stations))
}
