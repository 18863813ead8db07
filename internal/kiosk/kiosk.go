// Package kiosk keeps the check-in terminal awake while any station is
// serving visitors.
package kiosk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Inhibitor takes a sleep inhibitor lock. Calling release drops it.
type Inhibitor interface {
	Inhibit(why string) (release func() error, err error)
}

// Logind takes "sleep:idle" block locks from systemd-logind over the system bus.
type Logind struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewLogind connects to the system bus.
func NewLogind() (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("kiosk: connect system bus: %w", err)
	}
	return &Logind{conn: conn}, nil
}

// Inhibit implements Inhibitor. The lock lives as long as the returned file
// descriptor stays open.
func (l *Logind) Inhibit(why string) (func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	obj := l.conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	call := obj.Call("org.freedesktop.login1.Manager.Inhibit", 0, "sleep:idle", "checkin", why, "block")
	if call.Err != nil {
		return nil, fmt.Errorf("kiosk: inhibit: %w", call.Err)
	}
	var fd dbus.UnixFD
	if err := call.Store(&fd); err != nil {
		return nil, fmt.Errorf("kiosk: inhibit reply: %w", err)
	}
	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = unix.Close(int(fd)) })
		return err
	}, nil
}

// Close disconnects from the system bus.
func (l *Logind) Close() error { return l.conn.Close() }

// Guard holds an inhibitor lock exactly while at least one station is
// configuring or active.
type Guard struct {
	inhibitor Inhibitor
	release   func() error
}

// NewGuard creates a guard over inhibitor.
func NewGuard(inhibitor Inhibitor) *Guard {
	return &Guard{inhibitor: inhibitor}
}

// Held reports whether the guard currently holds a lock.
func (g *Guard) Held() bool { return g.release != nil }

// Observe updates the lock for a published state.
func (g *Guard) Observe(st models.State) {
	busy := 0
	for _, s := range st.Stations {
		if s.Phase != models.PhaseUnconfigured {
			busy++
		}
	}

	switch {
	case busy > 0 && g.release == nil:
		release, err := g.inhibitor.Inhibit(fmt.Sprintf("%d check-in station(s) running", busy))
		if err != nil {
			slog.Warn("kiosk: sleep inhibitor unavailable", "err", err)
			return
		}
		g.release = release
		slog.Info("kiosk: sleep inhibited", "stations", busy)
	case busy == 0 && g.release != nil:
		g.drop()
	}
}

func (g *Guard) drop() {
	if err := g.release(); err != nil {
		slog.Warn("kiosk: release inhibitor", "err", err)
	}
	g.release = nil
	slog.Info("kiosk: sleep allowed")
}

// Run observes states until ctx is cancelled or states is closed, then drops
// any lock it holds.
func (g *Guard) Run(ctx context.Context, states <-chan models.State) {
	defer func() {
		if g.release != nil {
			g.drop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			g.Observe(st)
		}
	}
}
