// Package maintenance runs the daemon's background housekeeping: a daily
// backup of the data directory with pruning of old archives.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	backupPrefix = "checkin-data-"
	backupSuffix = ".tar.gz"
	backupHour   = 2
)

// MaxBackupAge is how long daily archives are kept.
const MaxBackupAge = 90 * 24 * time.Hour

// Service manages background maintenance goroutines.
type Service struct {
	dataDir   string
	backupDir string
	flush     func() error // persists pending settings before archiving
}

// New creates a maintenance Service that archives dataDir into backupDir.
// An empty backupDir means a "checkin-backups" directory next to dataDir.
// flush may be nil.
func New(dataDir, backupDir string, flush func() error) *Service {
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(filepath.Clean(dataDir)), "checkin-backups")
	}
	return &Service{
		dataDir:   dataDir,
		backupDir: backupDir,
		flush:     flush,
	}
}

// BackupDir returns the directory archives are written to.
func (s *Service) BackupDir() string { return s.backupDir }

// Start runs the daily backup until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for {
		delay := time.Until(nextRun(time.Now(), backupHour))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			path, err := s.RunBackupNow()
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// nextRun returns the next time after now at hour:00 local time.
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunBackupNow writes today's archive of the data directory, prunes archives
// older than MaxBackupAge and returns the archive path.
func (s *Service) RunBackupNow() (string, error) {
	if s.flush != nil {
		if err := s.flush(); err != nil {
			slog.Warn("maintenance: flush before backup failed", "err", err)
		}
	}
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("maintenance: create backup dir: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	dest := filepath.Join(s.backupDir, backupPrefix+date+backupSuffix)

	src := filepath.Clean(s.dataDir)
	cmd := exec.Command("tar", "-czf", dest, "--exclude=.lock", "-C", filepath.Dir(src), filepath.Base(src))
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("maintenance: tar: %w: %s", err, out)
	}

	pruneOldBackups(s.backupDir, MaxBackupAge)
	return dest, nil
}

// ListBackups returns the archives in the backup directory, oldest first.
func (s *Service) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, e := range entries {
		if !e.IsDir() && isBackup(e.Name()) {
			files = append(files, filepath.Join(s.backupDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isBackup(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix)
}

// pruneOldBackups deletes archives older than maxAge from backupDir.
func pruneOldBackups(backupDir string, maxAge time.Duration) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !isBackup(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			} else {
				slog.Info("maintenance: pruned old backup", "file", path)
			}
		}
	}
}
