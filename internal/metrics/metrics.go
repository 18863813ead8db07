// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-nova/checkin-go/internal/models"
)

const metricPrefix = "checkin_"

// Metrics bundles the check-in collectors and the registry they live in.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Occupancy      prometheus.Gauge
	MaxOccupancy   prometheus.Gauge
	StationsActive prometheus.Gauge
	ResultsTotal   *prometheus.CounterVec
	DeviceFailures *prometheus.CounterVec
}

// New constructs the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Occupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "occupancy",
			Help: "Cards currently checked in",
		}),
		MaxOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "max_occupancy",
			Help: "Configured maximum simultaneous occupancy",
		}),
		StationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "stations_active",
			Help: "Stations with a configured reader",
		}),
		ResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "results_total",
				Help: "Cards handled by station and result",
			},
			[]string{"station", "result"},
		),
		DeviceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_failures_total",
				Help: "Reader acquisition failures and disconnections by station",
			},
			[]string{"station"},
		),
	}
	m.registry.MustRegister(
		m.Occupancy,
		m.MaxOccupancy,
		m.StationsActive,
		m.ResultsTotal,
		m.DeviceFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveState updates the gauges from a published state.
func (m *Metrics) ObserveState(st models.State) {
	if m == nil {
		return
	}
	m.Occupancy.Set(float64(st.Occupancy.Inside))
	m.MaxOccupancy.Set(float64(st.Occupancy.MaxOccupancy))
	active := 0
	for _, s := range st.Stations {
		if s.Phase == models.PhaseActive {
			active++
		}
	}
	m.StationsActive.Set(float64(active))
}

// CountResult records one handled card.
func (m *Metrics) CountResult(station string, r models.Result) {
	if m == nil || r == models.ResultNone {
		return
	}
	m.ResultsTotal.WithLabelValues(station, string(r)).Inc()
}

// CountDeviceFailure records a failed acquisition or a lost reader.
func (m *Metrics) CountDeviceFailure(station string) {
	if m == nil {
		return
	}
	m.DeviceFailures.WithLabelValues(station).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
