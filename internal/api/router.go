package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// Options configures the router.
type Options struct {
	// RateLimit caps mutating requests per client IP and minute; 0 disables it.
	RateLimit int
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
}

// NewRouter creates and returns the main HTTP router.
func NewRouter(ctrl Controller, bus EventBus, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(opts.AllowedOrigins))
	r.Use(middleware.CleanPath)

	h := &Handlers{ctrl: ctrl, events: bus}

	r.Group(func(r chi.Router) {
		r.Get("/api", h.getState)
		r.Get("/api/", h.getState)
		r.Get("/api/info", h.getInfo)

		r.Get("/api/occupancy", h.getOccupancy)
		r.Get("/api/occupancy/cards", h.getMembers)

		r.Get("/api/stations", h.getStations)
		r.Get("/api/stations/{sid}", h.getStation)

		r.Get("/api/subscribe", h.sseEvents)
		r.Get("/api/ws", h.wsEvents)
	})

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
		}

		r.Patch("/api/occupancy", h.setOccupancy)
		r.Post("/api/occupancy/reset", h.resetOccupancy)

		r.Post("/api/stations/{sid}/check-in", h.beginCheckIn)
		r.Post("/api/stations/{sid}/check-out", h.beginCheckOut)
		r.Post("/api/stations/{sid}/stop", h.stopStation)
		r.Post("/api/stations/{sid}/simulate", h.simulateCard)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}

// corsMiddleware allows the display and console clients on the local network.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}
