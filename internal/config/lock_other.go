//go:build !linux

package config

import "errors"

// ErrLocked is returned when another process already owns the data directory.
var ErrLocked = errors.New("config: data directory is in use by another process")

// LockDir is a no-op off Linux.
func LockDir(dataDir string) (func(), error) {
	return func() {}, nil
}
