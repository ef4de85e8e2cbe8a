package cache

import (
	"context"
	"sync"
)

// MemoryBackend is an in-memory cache backend for testing.
type MemoryBackend struct {
	entries map[string][]byte
	writes  int
	mu      sync.RWMutex

	// WriteErr, when set, is returned by every Write.
	WriteErr error
}

// NewMemoryBackend creates a new in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string][]byte),
	}
}

// Location returns the joined key.
func (b *MemoryBackend) Location(key Key) string {
	return "memory:" + key.String()
}

// Read returns a copy of the stored bytes.
func (b *MemoryBackend) Read(_ context.Context, key Key) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.entries[key.String()]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Write stores a copy of data.
func (b *MemoryBackend) Write(_ context.Context, key Key, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.entries[key.String()] = append([]byte(nil), data...)
	b.writes++
	return nil
}

// Writes returns the number of successful writes (for testing).
func (b *MemoryBackend) Writes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes
}

// Seed stores raw bytes directly (for testing).
func (b *MemoryBackend) Seed(key Key, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key.String()] = append([]byte(nil), data...)
}
