package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Memory is an in-process content-addressed store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	uploads []string // Upload ids in call order, duplicates included
	fail    error    // When set, every Upload returns it
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Upload stores a copy of data under its content address.
func (m *Memory) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	id := ContentID(data)
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = append([]byte(nil), data...)
	}
	m.uploads = append(m.uploads, id)
	return id, nil
}

// Download returns the stored bytes.
func (m *Memory) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// URL returns a memory:// address.
func (m *Memory) URL(id string) string { return "memory://" + id }

// Uploads returns the ids of every successful upload in call order.
func (m *Memory) Uploads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.uploads...)
}

// FailUploads makes subsequent uploads return err. Pass nil to clear.
func (m *Memory) FailUploads(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}
