// Package storage provides key/value persistence backends for client-local state
// such as the receipt log: in-memory, embedded badger, PostgreSQL and Redis.
package storage

import (
	"context"
	"errors"
	"sync"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a key is absent
)

// KV is the storage interface required by the academy service.
// Values are opaque bytes replaced wholesale on every Put.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)     // Read a value, ErrNotFound when absent
	Put(ctx context.Context, key string, value []byte) error // Replace a value
	Delete(ctx context.Context, key string) error            // Remove a key; absent keys are not an error
	Ping(ctx context.Context) error                          // Report backend reachability
	Close() error                                            // Release resources
}

// memory implements KV using an in-process map.
// It's intended for development and testing purposes.
type memory struct {
	mu   sync.RWMutex      // Protects concurrent access to the map
	data map[string][]byte // Map of key to value
}

// NewMemory creates a new in-memory store.
func NewMemory() KV {
	return &memory{data: make(map[string][]byte)}
}

func (m *memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memory) Ping(ctx context.Context) error { return nil }

func (m *memory) Close() error { return nil }
