// Package jobstore persists server-held sync job records as opaque JSON
// documents keyed by job id.
package jobstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("job not found")

// Store is a key/value store for job records.
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Memory keeps records in process memory.
type Memory struct {
	mu      sync.Mutex
	records map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{records: map[string][]byte{}}
}

func (m *Memory) Put(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }
