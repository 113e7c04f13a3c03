package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/heriberto777/transferengine/store"
)

func (d *DB) RecordExecution(ctx context.Context, e *store.TaskExecution) error {
	if e.ID == "" {
		e.ID = newID()
	}

	var finishedAt sql.NullTime
	if !e.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: e.FinishedAt, Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO task_executions (
			id, task_id, started_at, finished_at, outcome, rows_read, rows_written,
			rows_skipped, error, document_id, total_products, total_quantity, orphan_bonifications
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TaskID, e.StartedAt, finishedAt, string(e.Outcome), e.RowsRead, e.RowsWritten,
		e.RowsSkipped, e.Error, e.DocumentID, e.TotalProducts, e.TotalQuantity, e.OrphanBonifications,
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
		FROM task_executions WHERE task_id = $1 ORDER BY started_at DESC`, taskID)
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
		e          store.TaskExecution
		finishedAt sql.NullTime
		outcome    string
	)
	err := row.Scan(
		&e.ID, &e.TaskID, &e.StartedAt, &finishedAt, &outcome, &e.RowsRead, &e.RowsWritten,
		&e.RowsSkipped, &e.Error, &e.DocumentID, &e.TotalProducts, &e.TotalQuantity, &e.OrphanBonifications,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scan execution")
	}
	e.Outcome = store.Outcome(outcome)
	if finishedAt.Valid {
		e.FinishedAt = finishedAt.Time
	}
	return &e, nil
}

func (d *DB) GetTaskStatus(ctx context.Context, taskID string) (*store.TaskStatus, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT task_id, status, progress, last_execution_date, last_execution_success,
			last_execution_message, last_execution_error, last_execution_rows_affected,
			last_execution_record_count, execution_count
		FROM task_status WHERE task_id = $1`, taskID)
	return scanTaskStatus(row)
}

func (d *DB) ListRunningStatuses(ctx context.Context) ([]*store.TaskStatus, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT task_id, status, progress, last_execution_date, last_execution_success,
			last_execution_message, last_execution_error, last_execution_rows_affected,
			last_execution_record_count, execution_count
		FROM task_status WHERE status = $1`, string(store.StatusRunning))
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
		st               store.TaskStatus
		status           string
		lastExecDate     sql.NullTime
		lastSuccess      bool
		lastMessage      string
		lastError        string
		lastRowsAffected int64
		lastRecordCount  int64
	)
	err := row.Scan(
		&st.TaskID, &status, &st.Progress, &lastExecDate, &lastSuccess,
		&lastMessage, &lastError, &lastRowsAffected, &lastRecordCount, &st.ExecutionCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("task status not found")
		}
		return nil, errors.Wrap(err, "scan task status")
	}
	st.Status = store.Status(status)
	if lastExecDate.Valid {
		st.LastExecutionDate = lastExecDate.Time
	}
	if lastMessage != "" || lastError != "" || lastRowsAffected != 0 || lastRecordCount != 0 {
		st.LastExecutionResult = &store.LastExecutionResult{
			Success:      lastSuccess,
			Message:      lastMessage,
			Error:        lastError,
			RowsAffected: lastRowsAffected,
			RecordCount:  lastRecordCount,
		}
	}
	return &st, nil
}

func (d *DB) SetTaskStatus(ctx context.Context, st *store.TaskStatus) error {
	var lastExecDate sql.NullTime
	if !st.LastExecutionDate.IsZero() {
		lastExecDate = sql.NullTime{Time: st.LastExecutionDate, Valid: true}
	}

	var success bool
	var message, errStr string
	var rowsAffected, recordCount int64
	if st.LastExecutionResult != nil {
		success = st.LastExecutionResult.Success
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			last_execution_date = EXCLUDED.last_execution_date,
			last_execution_success = EXCLUDED.last_execution_success,
			last_execution_message = EXCLUDED.last_execution_message,
			last_execution_error = EXCLUDED.last_execution_error,
			last_execution_rows_affected = EXCLUDED.last_execution_rows_affected,
			last_execution_record_count = EXCLUDED.last_execution_record_count,
			execution_count = EXCLUDED.execution_count`,
		st.TaskID, string(st.Status), st.Progress, lastExecDate, success,
		message, errStr, rowsAffected, recordCount, st.ExecutionCount,
	)
	if err != nil {
		return errors.Wrap(err, "set task status")
	}
	return nil
}
