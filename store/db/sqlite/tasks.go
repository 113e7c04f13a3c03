package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/heriberto777/transferengine/store"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalTask(t *store.Task) (params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks, bonification []byte, err error) {
	if params, err = marshalAny(t.Parameters); err != nil {
		return
	}
	if fieldMapping, err = marshalAny(t.FieldMapping); err != nil {
		return
	}
	if validation, err = marshalAny(t.ValidationRules); err != nil {
		return
	}
	if postUpdateMapping, err = marshalAny(t.PostUpdateMapping); err != nil {
		return
	}
	if linkedTasks, err = marshalAny(t.LinkedTasks); err != nil {
		return
	}
	if nextTasks, err = marshalAny(t.NextTasks); err != nil {
		return
	}
	if bonification, err = marshalAny(t.BonificationConfig); err != nil {
		return
	}
	return
}

// marshalAny wraps json.Marshal so a nil slice still serializes as "[]"
// rather than "null", keeping the column NOT NULL-friendly.
func marshalAny(v any) ([]byte, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return []byte("[]"), nil
		}
	case []store.Parameter:
		if val == nil {
			return []byte("[]"), nil
		}
	}
	return jsonMarshal(v)
}

func (d *DB) CreateTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks, bonification, err := marshalTask(t)
	if err != nil {
		return nil, errors.Wrap(err, "marshal task")
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, name, kind, direction, mode, active, query, parameters,
			clear_before_insert, field_mapping, target_table, validation_rules,
			post_update_query, post_update_mapping, linked_group, linked_execution_order,
			linked_tasks, is_coordinator, next_tasks, bonification_config,
			batch_size, timeout_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, string(t.Kind), string(t.Direction), string(t.Mode), boolToInt(t.Active), t.Query, string(params),
		boolToInt(t.ClearBeforeInsert), string(fieldMapping), t.TargetTable, string(validation),
		t.PostUpdateQuery, string(postUpdateMapping), t.LinkedGroup, t.LinkedExecutionOrder,
		string(linkedTasks), boolToInt(t.LinkingMetadata.IsCoordinator), string(nextTasks), string(bonification),
		t.BatchSize, t.Timeout.Milliseconds(), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert task")
	}
	return t, nil
}

func (d *DB) UpdateTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	t.UpdatedAt = time.Now().UTC()

	params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks, bonification, err := marshalTask(t)
	if err != nil {
		return nil, errors.Wrap(err, "marshal task")
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE tasks SET
			name = ?, kind = ?, direction = ?, mode = ?, active = ?, query = ?, parameters = ?,
			clear_before_insert = ?, field_mapping = ?, target_table = ?, validation_rules = ?,
			post_update_query = ?, post_update_mapping = ?, linked_group = ?, linked_execution_order = ?,
			linked_tasks = ?, is_coordinator = ?, next_tasks = ?, bonification_config = ?,
			batch_size = ?, timeout_ms = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, string(t.Kind), string(t.Direction), string(t.Mode), boolToInt(t.Active), t.Query, string(params),
		boolToInt(t.ClearBeforeInsert), string(fieldMapping), t.TargetTable, string(validation),
		t.PostUpdateQuery, string(postUpdateMapping), t.LinkedGroup, t.LinkedExecutionOrder,
		string(linkedTasks), boolToInt(t.LinkingMetadata.IsCoordinator), string(nextTasks), string(bonification),
		t.BatchSize, t.Timeout.Milliseconds(), t.UpdatedAt.Format(time.RFC3339Nano), t.ID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "update task")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, errors.Errorf("task %s not found", t.ID)
	}
	return t, nil
}

func (d *DB) DeleteTask(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete task")
	}
	return nil
}

const taskColumns = `
	id, name, kind, direction, mode, active, query, parameters,
	clear_before_insert, field_mapping, target_table, validation_rules,
	post_update_query, post_update_mapping, linked_group, linked_execution_order,
	linked_tasks, is_coordinator, next_tasks, bonification_config,
	batch_size, timeout_ms, created_at, updated_at
`

func (d *DB) GetTask(ctx context.Context, id string) (*store.Task, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (d *DB) ListTasks(ctx context.Context, find store.TaskFinder) ([]*store.Task, error) {
	var where []string
	var args []any
	if find.ID != "" {
		where = append(where, "id = ?")
		args = append(args, find.ID)
	}
	if find.Name != "" {
		where = append(where, "name = ?")
		args = append(args, find.Name)
	}
	if find.LinkedGroup != "" {
		where = append(where, "linked_group = ?")
		args = append(args, find.LinkedGroup)
	}
	if find.ActiveOnly {
		where = append(where, "active = 1")
	}
	if len(find.Kinds) > 0 {
		placeholders := make([]string, len(find.Kinds))
		for i, k := range find.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(placeholders, ",")+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY linked_execution_order ASC, name ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	var tasks []*store.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*store.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row rowScanner) (*store.Task, error) {
	var (
		t                                                                            store.Task
		kind, direction, mode                                                        string
		active, clearBeforeInsert, isCoordinator                                     int
		params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks  string
		bonification                                                                 sql.NullString
		createdAt, updatedAt                                                         string
		timeoutMs                                                                    int64
	)

	err := row.Scan(
		&t.ID, &t.Name, &kind, &direction, &mode, &active, &t.Query, &params,
		&clearBeforeInsert, &fieldMapping, &t.TargetTable, &validation,
		&t.PostUpdateQuery, &postUpdateMapping, &t.LinkedGroup, &t.LinkedExecutionOrder,
		&linkedTasks, &isCoordinator, &nextTasks, &bonification,
		&t.BatchSize, &timeoutMs, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("task not found")
		}
		return nil, errors.Wrap(err, "scan task")
	}

	t.Kind = store.Kind(kind)
	t.Direction = store.Direction(direction)
	t.Mode = store.Mode(mode)
	t.Active = active != 0
	t.ClearBeforeInsert = clearBeforeInsert != 0
	t.LinkingMetadata.IsCoordinator = isCoordinator != 0
	t.Timeout = time.Duration(timeoutMs) * time.Millisecond

	if err := jsonUnmarshal([]byte(params), &t.Parameters); err != nil {
		return nil, errors.Wrap(err, "unmarshal parameters")
	}
	if fieldMapping != "" && fieldMapping != "null" {
		t.FieldMapping = &store.FieldMapping{}
		if err := jsonUnmarshal([]byte(fieldMapping), t.FieldMapping); err != nil {
			return nil, errors.Wrap(err, "unmarshal field mapping")
		}
	}
	if validation != "" && validation != "null" {
		t.ValidationRules = &store.ValidationRules{}
		if err := jsonUnmarshal([]byte(validation), t.ValidationRules); err != nil {
			return nil, errors.Wrap(err, "unmarshal validation rules")
		}
	}
	if postUpdateMapping != "" && postUpdateMapping != "null" {
		t.PostUpdateMapping = &store.PostUpdateMapping{}
		if err := jsonUnmarshal([]byte(postUpdateMapping), t.PostUpdateMapping); err != nil {
			return nil, errors.Wrap(err, "unmarshal post update mapping")
		}
	}
	if err := jsonUnmarshal([]byte(linkedTasks), &t.LinkedTasks); err != nil {
		return nil, errors.Wrap(err, "unmarshal linked tasks")
	}
	if err := jsonUnmarshal([]byte(nextTasks), &t.NextTasks); err != nil {
		return nil, errors.Wrap(err, "unmarshal next tasks")
	}
	if bonification.Valid && bonification.String != "" && bonification.String != "null" {
		t.BonificationConfig = &store.BonificationConfig{}
		if err := jsonUnmarshal([]byte(bonification.String), t.BonificationConfig); err != nil {
			return nil, errors.Wrap(err, "unmarshal bonification config")
		}
	}

	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}

	return &t, nil
}

func newID() string {
	return "tsk_" + uuid.NewString()
}
