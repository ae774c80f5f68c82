package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores documents in a local sqlite file.
type SQLiteBackend struct {
	Path string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{Path: strings.TrimSpace(path)}
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	var payload string
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE state_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key string, payload []byte) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO state (state_key, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(state_key) DO UPDATE SET
		  payload = excluded.payload,
		  updated_at = excluded.updated_at
	`, key, string(payload))
	return err
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) ensureReady(ctx context.Context) error {
	if b == nil || b.Path == "" {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
			b.initErr = fmt.Errorf("ensure data dir: %w", err)
			return
		}
		db, err := sql.Open("sqlite3", b.Path)
		if err != nil {
			b.initErr = fmt.Errorf("open sqlite: %w", err)
			return
		}
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("pragma journal_mode: %w", err)
			return
		}
		if _, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS state (
				state_key TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("create state table: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}
