package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/scanerrors"
)

// Memory keeps artifacts in process memory.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = slices.Clone(data)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, scanerrors.New(scanerrors.KindNotFound, "artifact %s not found", key)
	}
	return slices.Clone(data), nil
}

func (m *Memory) Check(context.Context) error { return nil }
