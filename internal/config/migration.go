package config

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// migrateSettings normalises values written by older installs.
//
// The browser-based tracker stored maxOccupancy as the raw text of its input
// field, so it may be a JSON string rather than a number.
func migrateSettings(values map[string]json.RawMessage) {
	raw, ok := values[KeyMaxOccupancy]
	if !ok {
		return
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return // already a number, or something else the ledger will reject
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 {
		slog.Warn("config: dropping unparseable maxOccupancy", "value", text)
		delete(values, KeyMaxOccupancy)
		return
	}
	values[KeyMaxOccupancy] = json.RawMessage(strconv.Itoa(n))
	slog.Info("config: migrated maxOccupancy from text", "value", n)
}
