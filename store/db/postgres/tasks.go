package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/heriberto777/transferengine/store"
)

func marshalTask(t *store.Task) (params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks, bonification []byte, err error) {
	if params, err = jsonMarshal(t.Parameters); err != nil {
		return
	}
	if t.Parameters == nil {
		params = []byte("[]")
	}
	if fieldMapping, err = jsonMarshal(t.FieldMapping); err != nil {
		return
	}
	if validation, err = jsonMarshal(t.ValidationRules); err != nil {
		return
	}
	if postUpdateMapping, err = jsonMarshal(t.PostUpdateMapping); err != nil {
		return
	}
	if linkedTasks, err = jsonMarshal(t.LinkedTasks); err != nil {
		return
	}
	if t.LinkedTasks == nil {
		linkedTasks = []byte("[]")
	}
	if nextTasks, err = jsonMarshal(t.NextTasks); err != nil {
		return
	}
	if t.NextTasks == nil {
		nextTasks = []byte("[]")
	}
	if bonification, err = jsonMarshal(t.BonificationConfig); err != nil {
		return
	}
	return
}

func (d *DB) CreateTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}

	params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks, bonification, err := marshalTask(t)
	if err != nil {
		return nil, errors.Wrap(err, "marshal task")
	}

	row := d.db.QueryRowContext(ctx, `
		INSERT INTO tasks (
			id, name, kind, direction, mode, active, query, parameters,
			clear_before_insert, field_mapping, target_table, validation_rules,
			post_update_query, post_update_mapping, linked_group, linked_execution_order,
			linked_tasks, is_coordinator, next_tasks, bonification_config,
			batch_size, timeout_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, string(t.Kind), string(t.Direction), string(t.Mode), t.Active, t.Query, params,
		t.ClearBeforeInsert, fieldMapping, t.TargetTable, validation,
		t.PostUpdateQuery, postUpdateMapping, t.LinkedGroup, t.LinkedExecutionOrder,
		linkedTasks, t.LinkingMetadata.IsCoordinator, nextTasks, bonification,
		t.BatchSize, t.Timeout.Milliseconds(),
	)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "insert task")
	}
	return t, nil
}

func (d *DB) UpdateTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks, bonification, err := marshalTask(t)
	if err != nil {
		return nil, errors.Wrap(err, "marshal task")
	}

	row := d.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			name = $1, kind = $2, direction = $3, mode = $4, active = $5, query = $6, parameters = $7,
			clear_before_insert = $8, field_mapping = $9, target_table = $10, validation_rules = $11,
			post_update_query = $12, post_update_mapping = $13, linked_group = $14, linked_execution_order = $15,
			linked_tasks = $16, is_coordinator = $17, next_tasks = $18, bonification_config = $19,
			batch_size = $20, timeout_ms = $21, updated_at = NOW()
		WHERE id = $22
		RETURNING updated_at`,
		t.Name, string(t.Kind), string(t.Direction), string(t.Mode), t.Active, t.Query, params,
		t.ClearBeforeInsert, fieldMapping, t.TargetTable, validation,
		t.PostUpdateQuery, postUpdateMapping, t.LinkedGroup, t.LinkedExecutionOrder,
		linkedTasks, t.LinkingMetadata.IsCoordinator, nextTasks, bonification,
		t.BatchSize, t.Timeout.Milliseconds(), t.ID,
	)
	if err := row.Scan(&t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("task %s not found", t.ID)
		}
		return nil, errors.Wrap(err, "update task")
	}
	return t, nil
}

func (d *DB) DeleteTask(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
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
	row := d.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (d *DB) ListTasks(ctx context.Context, find store.TaskFinder) ([]*store.Task, error) {
	var where []string
	var args []any
	n := 0
	next := func() int { n++; return n }

	if find.ID != "" {
		where = append(where, sqlParam("id", next()))
		args = append(args, find.ID)
	}
	if find.Name != "" {
		where = append(where, sqlParam("name", next()))
		args = append(args, find.Name)
	}
	if find.LinkedGroup != "" {
		where = append(where, sqlParam("linked_group", next()))
		args = append(args, find.LinkedGroup)
	}
	if find.ActiveOnly {
		where = append(where, "active = TRUE")
	}
	if len(find.Kinds) > 0 {
		placeholders := make([]string, len(find.Kinds))
		for i, k := range find.Kinds {
			placeholders[i] = sqlPlaceholder(next())
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

func sqlParam(col string, n int) string {
	return col + " = " + sqlPlaceholder(n)
}

func sqlPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*store.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row rowScanner) (*store.Task, error) {
	var (
		t                                                                           store.Task
		kind, direction, mode                                                       string
		params, fieldMapping, validation, postUpdateMapping, linkedTasks, nextTasks []byte
		bonification                                                                []byte
		timeoutMs                                                                   int64
	)

	err := row.Scan(
		&t.ID, &t.Name, &kind, &direction, &mode, &t.Active, &t.Query, &params,
		&t.ClearBeforeInsert, &fieldMapping, &t.TargetTable, &validation,
		&t.PostUpdateQuery, &postUpdateMapping, &t.LinkedGroup, &t.LinkedExecutionOrder,
		&linkedTasks, &t.LinkingMetadata.IsCoordinator, &nextTasks, &bonification,
		&t.BatchSize, &timeoutMs, &t.CreatedAt, &t.UpdatedAt,
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
	t.Timeout = time.Duration(timeoutMs) * time.Millisecond

	if err := jsonUnmarshal(params, &t.Parameters); err != nil {
		return nil, errors.Wrap(err, "unmarshal parameters")
	}
	if len(fieldMapping) > 0 && string(fieldMapping) != "null" {
		t.FieldMapping = &store.FieldMapping{}
		if err := jsonUnmarshal(fieldMapping, t.FieldMapping); err != nil {
			return nil, errors.Wrap(err, "unmarshal field mapping")
		}
	}
	if len(validation) > 0 && string(validation) != "null" {
		t.ValidationRules = &store.ValidationRules{}
		if err := jsonUnmarshal(validation, t.ValidationRules); err != nil {
			return nil, errors.Wrap(err, "unmarshal validation rules")
		}
	}
	if len(postUpdateMapping) > 0 && string(postUpdateMapping) != "null" {
		t.PostUpdateMapping = &store.PostUpdateMapping{}
		if err := jsonUnmarshal(postUpdateMapping, t.PostUpdateMapping); err != nil {
			return nil, errors.Wrap(err, "unmarshal post update mapping")
		}
	}
	if err := jsonUnmarshal(linkedTasks, &t.LinkedTasks); err != nil {
		return nil, errors.Wrap(err, "unmarshal linked tasks")
	}
	if err := jsonUnmarshal(nextTasks, &t.NextTasks); err != nil {
		return nil, errors.Wrap(err, "unmarshal next tasks")
	}
	if len(bonification) > 0 && string(bonification) != "null" {
		t.BonificationConfig = &store.BonificationConfig{}
		if err := jsonUnmarshal(bonification, t.BonificationConfig); err != nil {
			return nil, errors.Wrap(err, "unmarshal bonification config")
		}
	}

	return &t, nil
}
