package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and
// development runs without external storage.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string

	// FailWrites forces Set to fail, for exercising storage-error paths in tests.
	FailWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return ErrStorage
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}
