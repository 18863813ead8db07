package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	settingsFileName = "settings.json"

	// DefaultDebounce is how long JSONStore waits for further Set calls
	// before writing.
	DefaultDebounce = 200 * time.Millisecond
)

// JSONStore keeps all settings in one JSON object on disk. Writes are
// debounced and atomic (temp file + rename).
type JSONStore struct {
	writeMu  sync.Mutex // orders snapshot+write pairs
	mu       sync.Mutex
	path     string
	debounce time.Duration
	values   map[string]json.RawMessage
	timer    *time.Timer
	dirty    bool
}

// NewJSONStore opens the settings file in dataDir, creating an empty store
// if it does not exist yet. A corrupt file is logged and treated as empty.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	s := &JSONStore{
		path:     filepath.Join(dataDir, settingsFileName),
		debounce: DefaultDebounce,
		values:   make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetDebounce changes the write delay. Zero writes on every Set.
func (s *JSONStore) SetDebounce(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debounce = d
}

// Path returns the file path used by this store.
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}
	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		slog.Warn("config: corrupt settings file, starting empty", "path", s.path, "err", err)
		return nil
	}
	migrateSettings(values)
	s.values = values
	return nil
}

// Get decodes the value stored under key into dst.
func (s *JSONStore) Get(key string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("config: decode %q: %w", key, err)
	}
	return true, nil
}

// Set records value under key and schedules a write.
func (s *JSONStore) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("config: encode %q: %w", key, err)
	}

	s.mu.Lock()
	s.values[key] = data
	s.dirty = true
	if s.debounce <= 0 {
		s.mu.Unlock()
		return s.Flush()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			slog.Error("config: failed to write settings", "path", s.path, "err", err)
		}
	})
	s.mu.Unlock()
	return nil
}

// Flush forces an immediate write of any pending settings.
func (s *JSONStore) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	if err := s.writeAtomic(snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close flushes pending settings.
func (s *JSONStore) Close() error { return s.Flush() }

func (s *JSONStore) snapshotLocked() map[string]json.RawMessage {
	cp := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

func (s *JSONStore) writeAtomic(values map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	// Write to temp file, then rename (atomic on Linux)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

var _ Store = (*JSONStore)(nil)
