// Package state holds the durable stores behind the notify engine: the seen-set,
// the deploy-count index and the watch registry, on top of a pluggable backend.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrUnknownScope   = errors.New("unknown scope")
	// ErrCorruptState marks a stored document that was read but could not be decoded.
	ErrCorruptState   = errors.New("corrupt state document")
)

// Backend is a durable key/value document store. Load returns (nil, nil) when
// the key has never been saved.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Key-spaces. Every scope gets its own seen-set and deploy index document.
const (
	registryKey   = "registry"
	seenPrefix    = "seen/"
	deploysPrefix = "deploys/"
)

func seenKey(scope string) string    { return seenPrefix + scope }
func deploysKey(scope string) string { return deploysPrefix + scope }

type BackendFactory func(dsn string) (Backend, error)

var backendFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}{
	factories: map[string]BackendFactory{},
}

// RegisterBackendFactory lets callers plug additional schemes into BuildBackendFromDSN.
func RegisterBackendFactory(scheme string, factory BackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.factories[scheme] = factory
}

func lookupBackendFactory(scheme string) (BackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildBackendFromDSN selects a backend from a DSN:
//
//	file://./data/state        one JSON document per key in a directory
//	memory://                  process-local, lost on exit
//	sqlite://./data/state.db   single sqlite file
//	postgres://user@host/db    shared postgres table
//	redis://host:6379/0        redis string keys
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse state dsn: %w", err)
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileBackend(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryBackend(), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteBackend(path), nil
	case "postgres", "postgresql":
		backend, pgErr := NewPostgresBackend(dsn)
		if pgErr != nil {
			return nil, pgErr
		}
		return backend, nil
	case "redis", "rediss":
		backend, redisErr := NewRedisBackend(dsn)
		if redisErr != nil {
			return nil, redisErr
		}
		return backend, nil
	case "mysql":
		return nil, fmt.Errorf("%w: state backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	// file://./data/state parses "." as the host and "/data/state" as the path.
	path := strings.TrimSpace(parsed.Host + parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
