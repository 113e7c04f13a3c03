// Package sqlite backs store.Driver with a pure-Go sqlite database,
// intended for development and standalone deployment of the transfer
// engine (the document-store substrate only — not the Source/Target
// databases a task transfers between, which are pooled separately by
// package connection).
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/heriberto777/transferengine/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens a sqlite database at dsn, configured for a single writer
// under WAL — the same policy the teacher documents for its own
// embedded-store mode: no shared cache, WAL journal, foreign keys on.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			_ = sqlDB.Close()
			return nil, errors.Wrapf(err, "failed to set pragma: %s", p)
		}
	}

	// Single-writer sqlite: one connection is optimal under WAL, same as
	// the teacher's embedded-store configuration.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(0)

	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			mode TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			query TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '[]',
			clear_before_insert INTEGER NOT NULL DEFAULT 0,
			field_mapping TEXT,
			target_table TEXT NOT NULL DEFAULT '',
			validation_rules TEXT,
			post_update_query TEXT NOT NULL DEFAULT '',
			post_update_mapping TEXT,
			linked_group TEXT NOT NULL DEFAULT '',
			linked_execution_order INTEGER NOT NULL DEFAULT 0,
			linked_tasks TEXT NOT NULL DEFAULT '[]',
			is_coordinator INTEGER NOT NULL DEFAULT 0,
			next_tasks TEXT NOT NULL DEFAULT '[]',
			bonification_config TEXT,
			batch_size INTEGER NOT NULL DEFAULT 0,
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_executions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			outcome TEXT NOT NULL,
			rows_read INTEGER NOT NULL DEFAULT 0,
			rows_written INTEGER NOT NULL DEFAULT 0,
			rows_skipped INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			total_products INTEGER NOT NULL DEFAULT 0,
			total_quantity REAL NOT NULL DEFAULT 0,
			orphan_bonifications INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_executions_task_id ON task_executions(task_id)`,
		`CREATE TABLE IF NOT EXISTS task_status (
			task_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			last_execution_date DATETIME,
			last_execution_success INTEGER NOT NULL DEFAULT 0,
			last_execution_message TEXT NOT NULL DEFAULT '',
			last_execution_error TEXT NOT NULL DEFAULT '',
			last_execution_rows_affected INTEGER NOT NULL DEFAULT 0,
			last_execution_record_count INTEGER NOT NULL DEFAULT 0,
			execution_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			hour TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "migrate sqlite store")
		}
	}
	return nil
}

func sqliteNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
