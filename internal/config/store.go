// Package config handles the persisted check-in settings and the daemon's
// own configuration.
package config

// Setting keys shared with earlier installs.
const (
	KeyOccupancy    = "occupancyDict"
	KeyMaxOccupancy = "maxOccupancy"
)

// Store is a durable key/value store for settings that survive restarts.
// Values are JSON-encoded.
type Store interface {
	// Get decodes the value stored under key into dst. It reports false,
	// leaving dst untouched, when nothing is stored under key.
	Get(key string, dst any) (bool, error)

	// Set stores value under key. Implementations may debounce the write.
	Set(key string, value any) error

	// Path returns the location used by this store.
	Path() string

	// Flush forces an immediate write of any pending values.
	Flush() error

	// Close flushes and releases the store.
	Close() error
}
