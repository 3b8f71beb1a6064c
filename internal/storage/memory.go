// ABOUTME: In-memory Storage for tests and single-process development
// ABOUTME: Copies values on the way in and out so callers cannot alias stored bytes

package storage

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// MemoryStorage implements Storage with a mutex-guarded map.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Read(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = slices.Clone(v)
		}
	}
	return out, nil
}

func (m *MemoryStorage) Write(ctx context.Context, changes map[string]json.RawMessage) error {
	if err := validateChanges(changes); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range changes {
		m.data[k] = slices.Clone([]byte(v))
	}
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, keys []string) error {
	if err := validateKeys(keys); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStorage) Close() error { return nil }

// Ping always succeeds.
func (m *MemoryStorage) Ping(context.Context) error { return nil }
