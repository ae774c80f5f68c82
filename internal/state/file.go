package state

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend stores one JSON document per key under Dir.
type FileBackend struct {
	Dir string

	mu sync.Mutex
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: strings.TrimSpace(dir)}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.Dir, url.PathEscape(key)+".json")
}

func (b *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	if b == nil || b.Dir == "" || key == "" {
		return nil, ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Save(_ context.Context, key string, payload []byte) error {
	if b == nil || b.Dir == "" || key == "" {
		return ErrInvalidInput
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return err
	}
	target := b.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (b *FileBackend) Close() error { return nil }
