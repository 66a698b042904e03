package storage

import (
	"context"
	"sync"
)

type entry struct {
	meta []byte
	blob []byte
}

// Memory is the stub in-memory adapter: it satisfies the Storage contract
// without durability, grounded on the original source's size-tracked
// DashMap-backed MemoryStorage.
type Memory struct {
	mu        sync.RWMutex
	data      map[string]entry
	totalSize int64
}

// NewMemory constructs an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry)}
}

func (m *Memory) Store(_ context.Context, id string, meta, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[id]; ok {
		m.totalSize -= int64(len(old.meta) + len(old.blob))
	}
	m.data[id] = entry{meta: append([]byte(nil), meta...), blob: append([]byte(nil), blob...)}
	m.totalSize += int64(len(meta) + len(blob))
	return nil
}

func (m *Memory) Load(_ context.Context, id string) ([]byte, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[id]
	if !ok {
		return nil, nil, notFound(id)
	}
	return e.meta, e.blob, nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok {
		return false, nil
	}
	m.totalSize -= int64(len(e.meta) + len(e.blob))
	delete(m.data, id)
	return true, nil
}

func (m *Memory) List(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id := range m.data {
		if matchGlob(pattern, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[id]
	return ok, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{DocumentCount: len(m.data), TotalSizeBytes: m.totalSize}, nil
}

func (m *Memory) Close() error { return nil }
