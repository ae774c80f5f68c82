package state

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory. Used by tests and by
// one-shot CLI runs that should not touch disk.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte

	// FailLoad and FailSave inject errors for exercising degraded paths.
	FailLoad error
	FailSave error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailLoad != nil {
		return nil, b.FailLoad
	}
	data, ok := b.docs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSave != nil {
		return b.FailSave
	}
	b.docs[key] = append([]byte(nil), payload...)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
