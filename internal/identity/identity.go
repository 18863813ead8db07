// Package identity provides system identity information for the check-in daemon.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// DefaultVersion is the fallback version string when metadata.json is not found.
const DefaultVersion = "0.0.1"

// DefaultHostname is used when the system hostname cannot be read.
const DefaultHostname = "checkin"

// GetHostname returns the short system hostname.
func GetHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return DefaultHostname
	}
	if i := strings.IndexByte(h, '.'); i > 0 {
		h = h[:i]
	}
	return h
}

// GetVersion reads the version from ~/.config/checkin/metadata.json.
func GetVersion() string {
	return GetVersionFromDir("")
}

// GetVersionFromDir reads the version from metadata.json in dir, falling
// back to DefaultVersion. An empty dir means ~/.config/checkin.
func GetVersionFromDir(dir string) string {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultVersion
		}
		dir = filepath.Join(home, ".config", "checkin")
	}

	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return DefaultVersion
	}

	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Version == "" {
		return DefaultVersion
	}
	return meta.Version
}
