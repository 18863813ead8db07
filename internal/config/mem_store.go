package config

import (
	"encoding/json"
	"errors"
	"sync"
)

var errMemFailure = errors.New("config: mem store: write failure configured")

// MemStore is an in-memory Store for tests that never writes to disk.
type MemStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	sets   int
	failOn string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]json.RawMessage)}
}

// Get decodes the stored value for key into dst.
func (m *MemStore) Get(key string, dst any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Set stores the JSON encoding of value under key.
func (m *MemStore) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == key {
		return errMemFailure
	}
	m.values[key] = data
	m.sets++
	return nil
}

// SetRaw stores pre-encoded JSON under key, bypassing encoding.
func (m *MemStore) SetRaw(key string, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = json.RawMessage(raw)
}

// Raw returns the stored JSON for key.
func (m *MemStore) Raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.values[key]
	return string(raw), ok
}

// SetCount returns how many successful Set calls the store has seen.
func (m *MemStore) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// FailSetsFor makes every Set for key fail. An empty key clears it.
func (m *MemStore) FailSetsFor(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = key
}

// Path returns ":memory:" to indicate this is an in-memory store.
func (m *MemStore) Path() string { return ":memory:" }

// Flush is a no-op for in-memory stores.
func (m *MemStore) Flush() error { return nil }

// Close is a no-op for in-memory stores.
func (m *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
