// Package localstore keeps small device-local records that must survive a
// process restart: the active monitoring session and the device's pairings.
package localstore

import (
	"maps"
	"sync"

	"github.com/tphakala/pairwatch/internal/errors"
)

// Store is a string key/value store local to this device.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// MemoryStore keeps records in process memory. It is used when no local
// path is configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]string
	failErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// FailWith makes every following call return err until it is called again
// with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return "", false, wrap("get", key, m.failErr)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return wrap("set", key, m.failErr)
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return wrap("delete", key, m.failErr)
	}
	delete(m.data, key)
	return nil
}

// Snapshot returns a copy of every record.
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}

func wrap(op, key string, err error) error {
	return errors.New(err).
		Component("localstore").
		Category(errors.CategoryLocalStore).
		Context("operation", op).
		Context("key", key).
		Build()
}
