// Package ledger tracks which cards are inside the venue and enforces the
// maximum simultaneous occupancy.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/micro-nova/checkin-go/internal/config"
	"github.com/micro-nova/checkin-go/internal/models"
)

// Ledger is the shared occupancy set. All methods are safe for concurrent use;
// each check-and-mutate happens in one critical section.
type Ledger struct {
	mu      sync.Mutex
	store   config.Store
	members map[models.CardNumber]struct{}
	max     int
}

// Open loads the ledger from store. Missing keys yield an empty set and the
// default capacity.
func Open(store config.Store) (*Ledger, error) {
	l := &Ledger{
		store:   store,
		members: make(map[models.CardNumber]struct{}),
		max:     models.DefaultMaxOccupancy,
	}

	var dict map[string]bool
	if _, err := store.Get(config.KeyOccupancy, &dict); err != nil {
		return nil, fmt.Errorf("ledger: load occupancy: %w", err)
	}
	for key, inside := range dict {
		if !inside {
			continue
		}
		n, err := models.ParseCardNumber(key)
		if err != nil {
			slog.Warn("ledger: skipping unreadable card key", "key", key, "err", err)
			continue
		}
		l.members[n] = struct{}{}
	}

	var raw json.RawMessage
	found, err := store.Get(config.KeyMaxOccupancy, &raw)
	if err != nil {
		return nil, fmt.Errorf("ledger: load max occupancy: %w", err)
	}
	if found {
		max, err := decodeMax(raw)
		if err != nil {
			slog.Warn("ledger: ignoring stored max occupancy", "value", string(raw), "err", err)
		} else {
			l.max = max
		}
	}

	slog.Debug("ledger: loaded", "inside", len(l.members), "max", l.max, "store", store.Path())
	return l, nil
}

// decodeMax accepts a JSON number or a JSON string holding one.
func decodeMax(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var text string
		if json.Unmarshal(raw, &text) != nil {
			return 0, err
		}
		n, err = strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return 0, err
		}
	}
	if n < 0 {
		return 0, fmt.Errorf("negative capacity %d", n)
	}
	return n, nil
}

// CheckIn admits card n unless it is already inside or the venue is full.
func (l *Ledger) CheckIn(n models.CardNumber) models.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[n]; ok {
		return models.ResultAlreadyCheckedIn
	}
	if len(l.members) >= l.max {
		return models.ResultCheckInDenied
	}
	l.members[n] = struct{}{}
	l.persistMembersLocked()
	return models.ResultCheckInSuccess
}

// CheckOut releases card n if it is inside.
func (l *Ledger) CheckOut(n models.CardNumber) models.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[n]; !ok {
		return models.ResultNotCheckedIn
	}
	delete(l.members, n)
	l.persistMembersLocked()
	return models.ResultCheckOutSuccess
}

// SetMaxOccupancy changes the capacity. Lowering it below the current count
// evicts nobody; further check-ins are denied until enough cards leave.
func (l *Ledger) SetMaxOccupancy(n int) error {
	if n < 0 {
		return models.ErrInvalidField("max_occupancy", "max_occupancy must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.max = n
	if err := l.store.Set(config.KeyMaxOccupancy, n); err != nil {
		slog.Error("ledger: failed to persist max occupancy", "max", n, "err", err)
	}
	return nil
}

// Clear checks every card out at once.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.members = make(map[models.CardNumber]struct{})
	if err := l.store.Set(config.KeyOccupancy, map[string]bool{}); err != nil {
		return fmt.Errorf("ledger: persist cleared occupancy: %w", err)
	}
	return nil
}

// Count returns the number of cards inside.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.members)
}

// MaxOccupancy returns the current capacity.
func (l *Ledger) MaxOccupancy() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

// Contains reports whether card n is inside.
func (l *Ledger) Contains(n models.CardNumber) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.members[n]
	return ok
}

// Snapshot returns count and capacity read together.
func (l *Ledger) Snapshot() models.Occupancy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.NewOccupancy(len(l.members), l.max)
}

// Members returns the cards inside in ascending order.
func (l *Ledger) Members() []models.CardNumber {
	l.mu.Lock()
	out := make([]models.CardNumber, 0, len(l.members))
	for n := range l.members {
		out = append(out, n)
	}
	l.mu.Unlock()
	slices.Sort(out)
	return out
}

// persistMembersLocked writes the member set. The in-memory set stays
// authoritative when the write fails.
func (l *Ledger) persistMembersLocked() {
	dict := make(map[string]bool, len(l.members))
	for n := range l.members {
		dict[n.String()] = true
	}
	if err := l.store.Set(config.KeyOccupancy, dict); err != nil {
		slog.Error("ledger: failed to persist occupancy", "inside", len(dict), "err", err)
	}
}
