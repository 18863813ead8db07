//go:build linux

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const lockFileName = ".lock"

// ErrLocked is returned when another process already owns the data directory.
var ErrLocked = errors.New("config: data directory is in use by another process")

// LockDir takes an exclusive, non-blocking flock on dataDir so that only one
// daemon mutates the settings stored there. The returned func releases it.
func LockDir(dataDir string) (func(), error) {
	path := filepath.Join(dataDir, lockFileName)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0644)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dataDir)
		}
		return nil, fmt.Errorf("config: flock %s: %w", path, err)
	}
	_, _ = unix.Write(fd, []byte(fmt.Sprintf("%d\n", os.Getpid())))
	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		unix.Close(fd)
	}, nil
}
