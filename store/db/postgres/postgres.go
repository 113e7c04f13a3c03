// Package postgres backs store.Driver with PostgreSQL, the production
// document-store substrate for the transfer engine (not the Source/Target
// databases a task transfers between — those are pooled separately by
// package connection).
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	_ "github.com/lib/pq"

	"github.com/heriberto777/transferengine/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens a postgres connection pool at dsn and configures it for a
// long-lived document-store workload: bounded pool size, recycled
// connections so a failed-over or load-balanced postgres doesn't pin
// the engine to a dead backend.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

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
			active BOOLEAN NOT NULL DEFAULT TRUE,
			query TEXT NOT NULL,
			parameters JSONB NOT NULL DEFAULT '[]',
			clear_before_insert BOOLEAN NOT NULL DEFAULT FALSE,
			field_mapping JSONB,
			target_table TEXT NOT NULL DEFAULT '',
			validation_rules JSONB,
			post_update_query TEXT NOT NULL DEFAULT '',
			post_update_mapping JSONB,
			linked_group TEXT NOT NULL DEFAULT '',
			linked_execution_order INTEGER NOT NULL DEFAULT 0,
			linked_tasks JSONB NOT NULL DEFAULT '[]',
			is_coordinator BOOLEAN NOT NULL DEFAULT FALSE,
			next_tasks JSONB NOT NULL DEFAULT '[]',
			bonification_config JSONB,
			batch_size INTEGER NOT NULL DEFAULT 0,
			timeout_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_linked_group ON tasks(linked_group) WHERE linked_group <> ''`,
		`CREATE TABLE IF NOT EXISTS task_executions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			outcome TEXT NOT NULL,
			rows_read BIGINT NOT NULL DEFAULT 0,
			rows_written BIGINT NOT NULL DEFAULT 0,
			rows_skipped BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			total_products BIGINT NOT NULL DEFAULT 0,
			total_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
			orphan_bonifications BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_executions_task_id ON task_executions(task_id)`,
		`CREATE TABLE IF NOT EXISTS task_status (
			task_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			last_execution_date TIMESTAMPTZ,
			last_execution_success BOOLEAN NOT NULL DEFAULT FALSE,
			last_execution_message TEXT NOT NULL DEFAULT '',
			last_execution_error TEXT NOT NULL DEFAULT '',
			last_execution_rows_affected BIGINT NOT NULL DEFAULT 0,
			last_execution_record_count BIGINT NOT NULL DEFAULT 0,
			execution_count BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_status_status ON task_status(status)`,
		`CREATE TABLE IF NOT EXISTS schedule_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			hour TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "migrate postgres store")
		}
	}
	return nil
}
