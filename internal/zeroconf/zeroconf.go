// Package zeroconf registers the check-in API as an mDNS/DNS-SD service so
// the display and console clients can find it on the LAN.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type advertised.
const ServiceType = "_http._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, usually the hostname
	port int
	txt  []string
}

// New creates a zeroconf Service that will advertise the API on port.
func New(name string, port int, version string, stations int) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  TXTRecords(version, stations),
	}
}

// TXTRecords returns the TXT records describing the daemon.
func TXTRecords(version string, stations int) []string {
	return []string{
		"path=/api",
		"version=" + version,
		"stations=" + strconv.Itoa(stations),
		"model=checkin",
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		s.name,
		ServiceType,
		"local.",
		s.port,
		s.txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf: register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "port", s.port, "txt", s.txt)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
