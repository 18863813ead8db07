package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "settings.db"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteStore keeps settings in a SQLite database. Every Set is written
// synchronously.
type SQLiteStore struct {
	mu   sync.Mutex
	path string
	db   *sql.DB
}

// NewSQLiteStore opens (or creates) the settings database in dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	path := filepath.Join(filepath.Clean(dataDir), sqliteFileName)
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("config: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("config: create settings table: %w", err)
	}
	s := &SQLiteStore{path: path, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, KeyMaxOccupancy).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %q: %w", KeyMaxOccupancy, err)
	}
	values := map[string]json.RawMessage{KeyMaxOccupancy: json.RawMessage(raw)}
	migrateSettings(values)
	next, ok := values[KeyMaxOccupancy]
	if !ok {
		_, err = s.db.Exec(`DELETE FROM settings WHERE key = ?`, KeyMaxOccupancy)
		return err
	}
	if string(next) != raw {
		_, err = s.db.Exec(`UPDATE settings SET value = ? WHERE key = ?`, string(next), KeyMaxOccupancy)
	}
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Get decodes the value stored under key into dst.
func (s *SQLiteStore) Get(key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("config: read %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("config: decode %q: %w", key, err)
	}
	return true, nil
}

// Set upserts the JSON encoding of value under key.
func (s *SQLiteStore) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("config: encode %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(data),
	)
	if err != nil {
		return fmt.Errorf("config: write %q: %w", key, err)
	}
	return nil
}

// Flush is a no-op; every Set is already durable.
func (s *SQLiteStore) Flush() error { return nil }

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
