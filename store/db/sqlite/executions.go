package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/heriberto777/transferengine/store"
)

func (d *DB) RecordExecution(ctx context.Context, e *store.TaskExecution) error {
	if e.ID == "" {
		e.ID = newID()
	}

	var finishedAt sql.NullString
	if !e.FinishedAt.IsZero() {
		finishedAt = sql.NullString{String: e.FinishedAt.Format(time.RFC3339Nano), Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO task_executions (
			id, task_id, started_at, finished_at, outcome, rows_read, rows_written,
			rows_skipped, error, document_id, total_products, total_quantity, orphan_bonifications
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.StartedAt.Format(time.RFC3339Nano), finishedAt, string(e.Outcome),
		e.RowsRead, e.RowsWritten, e.RowsSkipped, e.Error, e.DocumentID,
		e.TotalProducts, e.TotalQuantity, e.OrphanBonifications,
	)
	if err != nil {
		return errors.Wrap(err, "record execution")
	}
	return nil
}

func (d *DB) ListHistory(ctx context.Context, taskID string) ([]*store.TaskExecution, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, task_id, started_at, finished_at, outcome, rows_read, rows_written,
			rows_skipped, error, document_id, total_products, total_quantity, orphan_bonifications
		FROM task_executions WHERE task_id = ? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}
	defer rows.Close()

	var out []*store.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (*store.TaskExecution, error) {
	var (
		e                    store.TaskExecution
		startedAt            string
		finishedAt           sql.NullString
		outcome              string
	)
	err := row.Scan(
		&e.ID, &e.TaskID, &startedAt, &finishedAt, &outcome, &e.RowsRead, &e.RowsWritten,
		&e.RowsSkipped, &e.Error, &e.DocumentID, &e.TotalProducts, &e.TotalQuantity, &e.OrphanBonifications,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scan execution")
	}
	e.Outcome = store.Outcome(outcome)
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, errors.Wrap(err, "parse started_at")
	}
	if finishedAt.Valid {
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String); err != nil {
			return nil, errors.Wrap(err, "parse finished_at")
		}
	}
	return &e, nil
}

func (d *DB) GetTaskStatus(ctx context.Context, taskID string) (*store.TaskStatus, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT task_id, status, progress, last_execution_date, last_execution_success,
			last_execution_message, last_execution_error, last_execution_rows_affected,
			last_execution_record_count, execution_count
		FROM task_status WHERE task_id = ?`, taskID)
	return scanTaskStatus(row)
}

func (d *DB) ListRunningStatuses(ctx context.Context) ([]*store.TaskStatus, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT task_id, status, progress, last_execution_date, last_execution_success,
			last_execution_message, last_execution_error, last_execution_rows_affected,
			last_execution_record_count, execution_count
		FROM task_status WHERE status = ?`, string(store.StatusRunning))
	if err != nil {
		return nil, errors.Wrap(err, "list running statuses")
	}
	defer rows.Close()

	var out []*store.TaskStatus
	for rows.Next() {
		st, err := scanTaskStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanTaskStatus(row rowScanner) (*store.TaskStatus, error) {
	var (
		st                store.TaskStatus
		status            string
		progress          int
		lastExecDate      sql.NullString
		lastSuccess       int
		lastMessage       string
		lastError         string
		lastRowsAffected  int64
		lastRecordCount   int64
	)
	err := row.Scan(
		&st.TaskID, &status, &progress, &lastExecDate, &lastSuccess,
		&lastMessage, &lastError, &lastRowsAffected, &lastRecordCount, &st.ExecutionCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("task status not found")
		}
		return nil, errors.Wrap(err, "scan task status")
	}
	st.Status = store.Status(status)
	st.Progress = progress
	if lastExecDate.Valid {
		ts, err := time.Parse(time.RFC3339Nano, lastExecDate.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse last_execution_date")
		}
		st.LastExecutionDate = ts
	}
	if lastMessage != "" || lastError != "" || lastRowsAffected != 0 || lastRecordCount != 0 {
		st.LastExecutionResult = &store.LastExecutionResult{
			Success:      lastSuccess != 0,
			Message:      lastMessage,
			Error:        lastError,
			RowsAffected: lastRowsAffected,
			RecordCount:  lastRecordCount,
		}
	}
	return &st, nil
}

func (d *DB) SetTaskStatus(ctx context.Context, st *store.TaskStatus) error {
	var lastExecDate sql.NullString
	if !st.LastExecutionDate.IsZero() {
		lastExecDate = sql.NullString{String: st.LastExecutionDate.Format(time.RFC3339Nano), Valid: true}
	}

	var success int
	var message, errStr string
	var rowsAffected, recordCount int64
	if st.LastExecutionResult != nil {
		success = boolToInt(st.LastExecutionResult.Success)
		message = st.LastExecutionResult.Message
		errStr = st.LastExecutionResult.Error
		rowsAffected = st.LastExecutionResult.RowsAffected
		recordCount = st.LastExecutionResult.RecordCount
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO task_status (
			task_id, status, progress, last_execution_date, last_execution_success,
			last_execution_message, last_execution_error, last_execution_rows_affected,
			last_execution_record_count, execution_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			last_execution_date = excluded.last_execution_date,
			last_execution_success = excluded.last_execution_success,
			last_execution_message = excluded.last_execution_message,
			last_execution_error = excluded.last_execution_error,
			last_execution_rows_affected = excluded.last_execution_rows_affected,
			last_execution_record_count = excluded.last_execution_record_count,
			execution_count = excluded.execution_count`,
		st.TaskID, string(st.Status), st.Progress, lastExecDate, success,
		message, errStr, rowsAffected, recordCount, st.ExecutionCount,
	)
	if err != nil {
		return errors.Wrap(err, "set task status")
	}
	return nil
}
