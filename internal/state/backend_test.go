package state

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBackendFromDSNMemory(t *testing.T) {
	backend, err := BuildBackendFromDSN("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)
}

func TestBuildBackendFromDSNFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	backend, err := BuildBackendFromDSN("file://" + dir)
	require.NoError(t, err)
	fb, ok := backend.(*FileBackend)
	require.True(t, ok, "expected *FileBackend, got %T", backend)
	assert.Equal(t, dir, fb.Dir)

	relative, err := BuildBackendFromDSN("file://./data/state")
	require.NoError(t, err)
	assert.Equal(t, "./data/state", relative.(*FileBackend).Dir)
}

func TestBuildBackendFromDSNOtherSchemes(t *testing.T) {
	sqlite, err := BuildBackendFromDSN("sqlite://./data/state.db")
	require.NoError(t, err)
	assert.Equal(t, "./data/state.db", sqlite.(*SQLiteBackend).Path)

	pg, err := BuildBackendFromDSN("postgres://localhost/launchwatch?sslmode=disable")
	require.NoError(t, err)
	assert.IsType(t, &PostgresBackend{}, pg)

	rd, err := BuildBackendFromDSN("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.IsType(t, &RedisBackend{}, rd)
	require.NoError(t, rd.Close())

	_, err = BuildBackendFromDSN("mysql://localhost/launchwatch")
	assert.True(t, errors.Is(err, ErrNotImplemented))

	_, err = BuildBackendFromDSN("ftp://example.com")
	assert.Error(t, err)

	_, err = BuildBackendFromDSN("  ")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestRegisterBackendFactoryOverridesScheme(t *testing.T) {
	custom := NewMemoryBackend()
	RegisterBackendFactory("custom", func(string) (Backend, error) { return custom, nil })

	backend, err := BuildBackendFromDSN("custom://anything")
	require.NoError(t, err)
	assert.Same(t, custom, backend)
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewFileBackend(filepath.Join(t.TempDir(), "nested", "state"))

	data, err := backend.Load(ctx, "seen/guild-1")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, backend.Save(ctx, "seen/guild-1", []byte(`{"keys":["a"]}`)))
	data, err = backend.Load(ctx, "seen/guild-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":["a"]}`, string(data))

	other, err := backend.Load(ctx, "seen/guild-2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewSQLiteBackend(filepath.Join(t.TempDir(), "state.db"))
	t.Cleanup(func() { _ = backend.Close() })

	data, err := backend.Load(ctx, "registry")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, backend.Save(ctx, "registry", []byte(`{"scopes":{}}`)))
	require.NoError(t, backend.Save(ctx, "registry", []byte(`{"scopes":{"g":{}}}`)))

	data, err = backend.Load(ctx, "registry")
	require.NoError(t, err)
	assert.Equal(t, `{"scopes":{"g":{}}}`, string(data))
}

func newMockPostgres(t *testing.T) (*PostgresBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	backend, err := NewPostgresBackend("postgres://localhost/launchwatch")
	require.NoError(t, err)
	backend.openDB = func(string, string) (*sql.DB, error) { return db, nil }
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "launchwatch_state"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	return backend, mock
}

func TestPostgresBackendLoadAndSave(t *testing.T) {
	ctx := context.Background()
	backend, mock := newMockPostgres(t)

	selectQuery := regexp.QuoteMeta(`SELECT payload FROM "launchwatch_state" WHERE state_key = $1`)
	mock.ExpectQuery(selectQuery).
		WithArgs("seen/global").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "launchwatch_state"`)).
		WithArgs("seen/global", `{"keys":["8453:0xa"]}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(selectQuery).
		WithArgs("seen/global").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`{"keys":["8453:0xa"]}`))

	data, err := backend.Load(ctx, "seen/global")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, backend.Save(ctx, "seen/global", []byte(`{"keys":["8453:0xa"]}`)))

	data, err = backend.Load(ctx, "seen/global")
	require.NoError(t, err)
	assert.Equal(t, `{"keys":["8453:0xa"]}`, string(data))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendInitFailureIsSticky(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	backend, err := NewPostgresBackend("postgres://localhost/launchwatch")
	require.NoError(t, err)
	backend.openDB = func(string, string) (*sql.DB, error) { return db, nil }

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS`)).WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err = backend.Load(context.Background(), "registry")
	require.Error(t, err)
	err = backend.Save(context.Background(), "registry", []byte("{}"))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBackendLoadAndSave(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	backend := NewRedisBackendFromClient(db)

	t.Run("missing key loads as nil", func(t *testing.T) {
		mock.ExpectGet("launchwatch:deploys/global").RedisNil()

		data, err := backend.Load(ctx, "deploys/global")
		require.NoError(t, err)
		assert.Nil(t, data)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("save then load", func(t *testing.T) {
		payload := []byte(`{"actors":{}}`)
		mock.ExpectSet("launchwatch:deploys/global", payload, 0).SetVal("OK")
		mock.ExpectGet("launchwatch:deploys/global").SetVal(string(payload))

		require.NoError(t, backend.Save(ctx, "deploys/global", payload))
		data, err := backend.Load(ctx, "deploys/global")
		require.NoError(t, err)
		assert.Equal(t, payload, data)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error surfaces", func(t *testing.T) {
		mock.ExpectGet("launchwatch:registry").SetErr(redis.TxFailedErr)

		_, err := backend.Load(ctx, "registry")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
