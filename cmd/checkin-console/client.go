package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/micro-nova/checkin-go/internal/models"
)

// Client talks to the check-in daemon's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the daemon at addr (host:port or URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 5 * time.Second}}
}

// State fetches the full system state.
func (c *Client) State(ctx context.Context) (models.State, error) {
	var st models.State
	err := c.do(ctx, http.MethodGet, "/api", nil, &st)
	return st, err
}

// Members lists the cards currently checked in.
func (c *Client) Members(ctx context.Context) (models.MembersResponse, error) {
	var m models.MembersResponse
	err := c.do(ctx, http.MethodGet, "/api/occupancy/cards", nil, &m)
	return m, err
}

// StationAction posts check-in, check-out or stop for one station.
func (c *Client) StationAction(ctx context.Context, id int, action string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/stations/%d/%s", id, action), nil, nil)
}

// SetMaxOccupancy changes the capacity.
func (c *Client) SetMaxOccupancy(ctx context.Context, n int) error {
	return c.do(ctx, http.MethodPatch, "/api/occupancy", models.OccupancyUpdate{MaxOccupancy: &n}, nil)
}

// ResetOccupancy checks everybody out.
func (c *Client) ResetOccupancy(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/occupancy/reset", nil, nil)
}

// Simulate injects a card event on a mock-mode station.
func (c *Client) Simulate(ctx context.Context, id int, event string, card models.CardNumber) error {
	req := models.SimulateRequest{Event: event, Card: card}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/stations/%d/simulate", id), req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("console: encode %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("console: %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("console: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var appErr models.AppError
		if json.NewDecoder(resp.Body).Decode(&appErr) == nil && appErr.Message != "" {
			appErr.Status = resp.StatusCode
			return &appErr
		}
		return fmt.Errorf("console: %s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("console: decode %s: %w", path, err)
	}
	return nil
}
