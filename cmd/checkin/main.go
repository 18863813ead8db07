// Command checkin is the venue check-in daemon. It drives SportIdent card
// readers at the entrance and exit stations, keeps the occupancy ledger and
// serves the operator API.
// Run with --mock to simulate readers (no USB station required).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/micro-nova/checkin-go/internal/api"
	"github.com/micro-nova/checkin-go/internal/config"
	"github.com/micro-nova/checkin-go/internal/controller"
	"github.com/micro-nova/checkin-go/internal/events"
	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/identity"
	"github.com/micro-nova/checkin-go/internal/kiosk"
	"github.com/micro-nova/checkin-go/internal/ledger"
	"github.com/micro-nova/checkin-go/internal/maintenance"
	"github.com/micro-nova/checkin-go/internal/metrics"
	"github.com/micro-nova/checkin-go/internal/zeroconf"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("checkin: fatal", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadDaemon(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	unlock, err := config.LockDir(cfg.DataDir)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := config.OpenStore(cfg.Storage, cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close settings store", "err", err)
		}
	}()

	l, err := ledger.Open(store)
	if err != nil {
		return err
	}

	stations := cfg.ResolvedStations()
	driver, driverFor := newDrivers(cfg)

	bus := events.NewBus()
	m := metrics.New()
	hostname := identity.GetHostname()
	version := identity.GetVersionFromDir(cfg.DataDir)

	ctrl := controller.New(ctx, controller.Options{
		Ledger:    l,
		Driver:    driver,
		DriverFor: driverFor,
		Stations:  stations,
		Reader:    hardware.ReadoutSettings(cfg.StationCode),
		Bus:       bus,
		Metrics:   m,
		Version:   version,
		Hostname:  hostname,
		Storage:   cfg.Storage,
	})

	if cfg.Backup {
		maint := maintenance.New(cfg.DataDir, "", store.Flush)
		go maint.Start(ctx)
	}

	if cfg.Zeroconf {
		zc := zeroconf.New(hostname, listenPort(cfg.Addr), version, len(stations))
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	if cfg.InhibitSleep {
		if inh, err := kiosk.NewLogind(); err != nil {
			slog.Warn("sleep inhibitor unavailable", "err", err)
		} else {
			defer inh.Close()
			const subID = "kiosk"
			states := bus.Subscribe(subID)
			defer bus.Unsubscribe(subID)
			go kiosk.NewGuard(inh).Run(ctx, states)
		}
	}

	router := api.NewRouter(ctrl, bus, api.Options{
		RateLimit: cfg.RateLimit,
		Metrics:   m.Handler(),
	})
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("checkin listening",
			"addr", cfg.Addr,
			"mock", cfg.Mock,
			"data_dir", cfg.DataDir,
			"storage", cfg.Storage,
			"stations", len(stations),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		ctrl.Shutdown()
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	ctrl.Shutdown()

	if err := store.Flush(); err != nil {
		slog.Warn("failed to flush settings", "err", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newDrivers picks the reader driver shared by stations without a fixed
// device, and the per-station lookup for those with one.
func newDrivers(cfg config.Daemon) (hardware.Driver, func(int, config.StationConfig) hardware.Driver) {
	if cfg.Mock {
		slog.Info("using mock card readers")
		return hardware.NewMock(), nil
	}
	slog.Info("using SportIdent serial readers", "baud", cfg.Baud)
	serialDrv := hardware.NewSerial(hardware.SerialOptions{Baud: cfg.Baud})
	return serialDrv, func(id int, sc config.StationConfig) hardware.Driver {
		if sc.Device == "" {
			return nil
		}
		slog.Info("station bound to reader", "station", id, "device", sc.Device)
		return serialDrv.ForDevice(sc.Device)
	}
}

// listenPort extracts the TCP port from a listen address.
func listenPort(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 80
	}
	return p
}
