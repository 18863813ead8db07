// Command checkin-display is the front-panel display driver of the check-in
// terminal. It polls the daemon's API and renders occupancy and station
// status on the ILI9341 TFT, or logs it when no panel is present.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Config holds the display driver configuration.
type Config struct {
	APIURL     string
	UpdateRate time.Duration
	Display    string // tft or log
	SPIDevice  string
	DCPin      string
	Backlight  string
}

// Status is what one frame shows.
type Status struct {
	State    models.State
	IP       string
	Online   bool
	Fetched  time.Time
	FetchErr string
}

func main() {
	fs := pflag.NewFlagSet("checkin-display", pflag.ContinueOnError)
	var (
		addr       = fs.String("addr", "localhost:8080", "check-in API address")
		updateRate = fs.Duration("update-rate", time.Second, "display update interval")
		logLevel   = fs.String("log-level", "info", "log level (debug, info, warn, error)")
		display    = fs.String("display", "tft", "output: tft or log")
		spiDev     = fs.String("spi", "/dev/spidev1.0", "SPI device of the TFT")
		dcPin      = fs.String("dc-pin", "GPIO39", "TFT data/command GPIO")
		backlight  = fs.String("backlight-pin", "GPIO12", "TFT backlight GPIO")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := Config{
		APIURL:     fmt.Sprintf("http://%s/api", *addr),
		UpdateRate: *updateRate,
		Display:    *display,
		SPIDevice:  *spiDev,
		DCPin:      *dcPin,
		Backlight:  *backlight,
	}
	slog.Info("checkin-display starting", "api", cfg.APIURL, "rate", cfg.UpdateRate, "display", cfg.Display)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, newRenderer(cfg)); err != nil {
		slog.Error("display driver failed", "err", err)
		os.Exit(1)
	}
	slog.Info("checkin-display stopped")
}

// renderer shows one status frame.
type renderer interface {
	Render(s Status) error
}

// newRenderer opens the TFT, falling back to log output when it cannot.
func newRenderer(cfg Config) renderer {
	if cfg.Display != "tft" {
		return logRenderer{}
	}
	tft, err := NewTFT(cfg.SPIDevice, cfg.DCPin, cfg.Backlight)
	if err != nil {
		slog.Warn("TFT init failed, falling back to log-only mode", "err", err)
		return logRenderer{}
	}
	return tft
}

// run executes the display update loop. API outages are shown on screen
// rather than ending the loop.
func run(ctx context.Context, cfg Config, r renderer) error {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(cfg.UpdateRate)
	defer ticker.Stop()

	consecutiveErrors := 0
	const maxConsecutiveErrors = 10

	var last Status
	for {
		status := poll(ctx, client, cfg.APIURL, last)
		last = status
		if err := r.Render(status); err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				return fmt.Errorf("too many consecutive render errors (%d): %w", consecutiveErrors, err)
			}
			slog.Warn("display update failed", "err", err, "consecutive_errors", consecutiveErrors)
		} else {
			consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll fetches the state. On failure the previous state is kept and marked
// offline.
func poll(ctx context.Context, client *http.Client, apiURL string, prev Status) Status {
	st, err := fetchState(ctx, client, apiURL)
	if err != nil {
		slog.Debug("display: fetch failed", "err", err)
		prev.Online = false
		prev.FetchErr = err.Error()
		return prev
	}
	return Status{State: st, IP: getLocalIP(), Online: true, Fetched: time.Now()}
}

// fetchState retrieves the system state from the check-in API.
func fetchState(ctx context.Context, client *http.Client, apiURL string) (models.State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return models.State{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.State{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.State{}, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	var st models.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return models.State{}, fmt.Errorf("decode response: %w", err)
	}
	return st, nil
}

// logRenderer logs the status (for when no hardware is present).
type logRenderer struct{}

func (logRenderer) Render(s Status) error {
	if !s.Online {
		slog.Warn("display status: API unreachable", "err", s.FetchErr)
		return nil
	}
	occ := s.State.Occupancy
	args := []any{
		"hostname", s.State.Info.Hostname,
		"ip", s.IP,
		"occupancy", fmt.Sprintf("%d/%d", occ.Inside, occ.MaxOccupancy),
	}
	for _, st := range s.State.Stations {
		args = append(args, st.Name, stationLine(st))
	}
	slog.Info("display status", args...)
	return nil
}

// getLocalIP returns the local IP address (best effort).
func getLocalIP() string {
	// Dialing UDP only resolves the route; nothing is sent.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
