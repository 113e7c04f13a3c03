// Package connection implements the Connection Manager (C1): pooled,
// health-checked database connections for the Source and Target servers
// a task transfers between, with transaction handles and cached schema
// introspection (spec §4.1). This is distinct from package store, which
// persists task definitions and history.
package connection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/pkg/errors"

	_ "github.com/lib/pq"

	"github.com/heriberto777/transferengine/internal/apperrors"
)

// PoolConfig bounds one server's connection pool.
type PoolConfig struct {
	MinConns       int
	MaxConns       int
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
	HealthInterval time.Duration
}

// DefaultPoolConfig mirrors the engine's default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConns:       1,
		MaxConns:       10,
		IdleTimeout:    5 * time.Minute,
		AcquireTimeout: 10 * time.Second,
		HealthInterval: 30 * time.Second,
	}
}

type pool struct {
	serverKey string
	db        *sql.DB
	cfg       PoolConfig

	mu      sync.RWMutex
	healthy bool

	columnCacheMu sync.RWMutex
	columnCache   map[string]map[string]ColumnType

	stopHealth chan struct{}
}

// Manager owns one pool per configured server (source, target, ...).
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*pool
}

func NewManager() *Manager {
	return &Manager{pools: make(map[string]*pool)}
}

// AddPool opens a pool for serverKey against dsn (postgres dialect only —
// the engine introspects column metadata via information_schema, which
// is not portable across dialects; see spec.md §1 Non-goals).
func (m *Manager) AddPool(serverKey, dsn string, cfg PoolConfig) error {
	if dsn == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "dsn required for server "+serverKey)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionUnavailable, err, "open pool for "+serverKey)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return apperrors.Wrap(apperrors.CodeConnectionUnavailable, err, "ping pool for "+serverKey)
	}

	p := &pool{
		serverKey:   serverKey,
		db:          db,
		cfg:         cfg,
		healthy:     true,
		columnCache: make(map[string]map[string]ColumnType),
		stopHealth:  make(chan struct{}),
	}

	m.mu.Lock()
	m.pools[serverKey] = p
	m.mu.Unlock()

	go p.runHealthChecks()

	return nil
}

func (m *Manager) poolFor(serverKey string) (*pool, error) {
	m.mu.RLock()
	p, ok := m.pools[serverKey]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.CodeConnectionUnavailable, "no pool configured for server "+serverKey)
	}
	return p, nil
}

// IsHealthy reports the last health-check result for serverKey.
func (m *Manager) IsHealthy(serverKey string) bool {
	p, err := m.poolFor(serverKey)
	if err != nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

// CloseAll stops health checks and closes every pool.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, p := range m.pools {
		close(p.stopHealth)
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.pools = make(map[string]*pool)
	return firstErr
}

// Handle is a live connection borrowed from a pool, tagged with its
// serverKey. Not safe for concurrent use (spec §4.1 concurrency contract):
// the caller must serialize operations against a single Handle.
type Handle struct {
	ServerKey string
	conn      *sql.Conn
	pool      *pool
	ops       int
	discard   bool
}

// Acquire borrows a connection for serverKey, bounded by the pool's
// AcquireTimeout. Fails with ConnectionUnavailable if the pool is
// exhausted and the timeout elapses.
func (m *Manager) Acquire(ctx context.Context, serverKey string) (*Handle, error) {
	p, err := m.poolFor(serverKey)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConnectionUnavailable, err, "acquire connection for "+serverKey)
	}

	return &Handle{ServerKey: serverKey, conn: conn, pool: p}, nil
}

// Release returns h to its pool. database/sql itself detects a
// driver.ErrBadConn on the next use and evicts it rather than recycling;
// Discard exists so callers that already know a connection is bad (a
// forced cancel mid-query) can short-circuit straight to eviction.
func (m *Manager) Release(h *Handle) error {
	if h == nil || h.conn == nil {
		return nil
	}
	if h.discard {
		// Returning driver.ErrBadConn from Raw makes database/sql close
		// the physical connection instead of putting it back in the pool.
		_ = h.conn.Raw(func(any) error { return driver.ErrBadConn })
		h.conn = nil
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	if err != nil {
		return errors.Wrap(err, "release connection")
	}
	return nil
}

// Discard marks h as bad; a later Release closes its physical connection
// instead of returning it to the pool.
func (h *Handle) Discard() {
	h.discard = true
}

// Discarded reports whether this handle was marked bad.
func (h *Handle) Discarded() bool {
	return h.discard
}

// Conn exposes the underlying *sql.Conn for query execution by callers
// (executor, mapping, validation) that need direct database/sql access.
func (h *Handle) Conn() *sql.Conn {
	h.ops++
	return h.conn
}

// TxHandle binds a transaction to the physical connection it was opened
// on; subsequent queries issued through it reuse that same connection.
type TxHandle struct {
	Handle *Handle
	tx     *sql.Tx
}

func (m *Manager) BeginTransaction(ctx context.Context, h *Handle) (*TxHandle, error) {
	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "begin transaction")
	}
	return &TxHandle{Handle: h, tx: tx}, nil
}

func (tx *TxHandle) Tx() *sql.Tx {
	return tx.tx
}

func (m *Manager) Commit(tx *TxHandle) error {
	if err := tx.tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "commit transaction")
	}
	return nil
}

func (m *Manager) Rollback(tx *TxHandle) error {
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "rollback transaction")
	}
	return nil
}
