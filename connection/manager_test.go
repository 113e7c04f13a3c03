package connection

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	const serverKey = "source"
	m := &Manager{pools: make(map[string]*pool)}
	m.pools[serverKey] = &pool{
		serverKey:   serverKey,
		db:          db,
		cfg:         PoolConfig{AcquireTimeout: 2 * time.Second, HealthInterval: 0},
		healthy:     true,
		columnCache: make(map[string]map[string]ColumnType),
		stopHealth:  make(chan struct{}),
	}
	return m, mock, serverKey
}

func TestAcquireAndRelease(t *testing.T) {
	m, _, serverKey := newMockManager(t)

	h, err := m.Acquire(context.Background(), serverKey)
	require.NoError(t, err)
	assert.Equal(t, serverKey, h.ServerKey)

	require.NoError(t, m.Release(h))
}

func TestAcquireUnknownServerFails(t *testing.T) {
	m := NewManager()
	_, err := m.Acquire(context.Background(), "ghost")
	require.Error(t, err)
}

func TestBeginCommitTransaction(t *testing.T) {
	m, mock, serverKey := newMockManager(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	h, err := m.Acquire(context.Background(), serverKey)
	require.NoError(t, err)

	tx, err := m.BeginTransaction(context.Background(), h)
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback(t *testing.T) {
	m, mock, serverKey := newMockManager(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	h, err := m.Acquire(context.Background(), serverKey)
	require.NoError(t, err)

	tx, err := m.BeginTransaction(context.Background(), h)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(tx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetColumnTypesCachesResult(t *testing.T) {
	m, mock, serverKey := newMockManager(t)

	rows := sqlmock.NewRows([]string{"column_name", "data_type", "max_len", "precision", "scale", "nullable"}).
		AddRow("id", "integer", 0, 32, 0, false).
		AddRow("name", "character varying", 255, 0, 0, true)
	mock.ExpectQuery("SELECT column_name").WillReturnRows(rows)

	h, err := m.Acquire(context.Background(), serverKey)
	require.NoError(t, err)

	cols, err := m.GetColumnTypes(context.Background(), h, "customers")
	require.NoError(t, err)
	assert.Equal(t, 255, cols["name"].MaxLength)
	assert.True(t, cols["name"].Nullable)

	// Second call must hit the cache, not issue another query.
	cols2, err := m.GetColumnTypes(context.Background(), h, "customers")
	require.NoError(t, err)
	assert.Equal(t, cols, cols2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableExists(t *testing.T) {
	m, mock, serverKey := newMockManager(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(
		sqlmock.NewRows([]string{"exists"}).AddRow(true),
	)

	h, err := m.Acquire(context.Background(), serverKey)
	require.NoError(t, err)

	exists, err := m.TableExists(context.Background(), h, "orders")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, 1, cfg.MinConns)
	assert.Equal(t, 10, cfg.MaxConns)
}
