package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/heriberto777/transferengine/bonification"
	"github.com/heriberto777/transferengine/connection"
	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/mapping"
	"github.com/heriberto777/transferengine/record"
	"github.com/heriberto777/transferengine/sqlbuild"
	"github.com/heriberto777/transferengine/store"
	"github.com/heriberto777/transferengine/validation"
)

// runThroughWrite runs connect-source through write, the portion every group
// member also executes. The caller is responsible for post-update,
// chaining, and finish() bookkeeping.
func (e *Executor) runThroughWrite(ctx context.Context, task *store.Task, overrideParams []store.Parameter, shared *SharedState) (*Outcome, error) {
	readKey, writeKey := poolsFor(task.Direction)

	srcHandle, err := e.deps.Conns.Acquire(ctx, readKey)
	if err != nil {
		return nil, err
	}
	defer e.deps.Conns.Release(srcHandle)

	dstHandle := srcHandle
	if writeKey != readKey {
		h, err := e.deps.Conns.Acquire(ctx, writeKey)
		if err != nil {
			return nil, err
		}
		defer e.deps.Conns.Release(h)
		dstHandle = h
	}
	e.publish(task.ID, pctConnectSource, "connect-source", 0)

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled after connect")
	}

	if err := sqlbuild.ValidateSelect(task.Query); err != nil {
		return nil, err
	}
	compiled := sqlbuild.Compile(task.Query, mergeParams(task.Parameters, overrideParams))
	e.publish(task.ID, pctCompileQuery, "compile-query", 0)

	tx, err := e.deps.Conns.BeginTransaction(ctx, dstHandle)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = e.deps.Conns.Rollback(tx)
		}
	}()

	outcome := &Outcome{}
	columnTypes, _ := e.deps.Conns.GetColumnTypes(ctx, dstHandle, targetTableOf(task))

	if task.Mode == store.ModeStreaming {
		if err := e.runStreaming(ctx, task, srcHandle, tx, compiled, columnTypes, outcome, shared); err != nil {
			return outcome, err
		}
	} else {
		rows, err := readAll(ctx, srcHandle.Conn(), compiled)
		if err != nil {
			return outcome, err
		}
		outcome.RowsRead = int64(len(rows))
		e.publish(task.ID, pctRead, "read", outcome.RowsRead)

		if err := e.processBatch(ctx, task, rows, tx, columnTypes, outcome, shared); err != nil {
			return outcome, err
		}
		e.publish(task.ID, pctWrite, "write", outcome.RowsWritten)
	}

	if err := ctx.Err(); err != nil {
		return outcome, apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled before commit")
	}

	if err := e.deps.Conns.Commit(tx); err != nil {
		return outcome, err
	}
	committed = true

	return outcome, nil
}

func targetTableOf(task *store.Task) string {
	if task.FieldMapping != nil && task.FieldMapping.TargetTable != "" {
		return task.FieldMapping.TargetTable
	}
	return task.TargetTable
}

// runStreaming reads and writes in batches of task.BatchSize (or the
// engine default), publishing progress between pctRead and pctWrite as
// each batch completes (spec §4.8 "streaming mode").
func (e *Executor) runStreaming(ctx context.Context, task *store.Task, src *connection.Handle, tx *connection.TxHandle, compiled sqlbuild.Compiled, columnTypes map[string]connection.ColumnType, outcome *Outcome, shared *SharedState) error {
	batchSize := task.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	rowsRes, err := src.Conn().QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "streaming read")
	}
	defer rowsRes.Close()

	cols, err := rowsRes.Columns()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "read columns")
	}

	var batch []record.Row
	progressSpan := pctWrite - pctRead

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		outcome.RowsRead += int64(len(batch))
		if err := e.processBatch(ctx, task, batch, tx, columnTypes, outcome, shared); err != nil {
			return err
		}
		pct := pctRead
		if outcome.RowsRead > 0 {
			pct = pctRead + int(int64(progressSpan)*outcome.RowsWritten/outcome.RowsRead)
		}
		e.publish(task.ID, pct, "write", outcome.RowsWritten)
		batch = nil
		return nil
	}

	for rowsRes.Next() {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled during streaming read")
		}
		row, err := scanRow(rowsRes, cols)
		if err != nil {
			return err
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rowsRes.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "iterate streaming rows")
	}
	return flush()
}

// processBatch runs one batch of rows through transform -> validate ->
// clear (run for each batch until the first row of the execution has
// been written, then skipped) -> write.
func (e *Executor) processBatch(ctx context.Context, task *store.Task, rows []record.Row, tx *connection.TxHandle, columnTypes map[string]connection.ColumnType, outcome *Outcome, shared *SharedState) error {
	transformed, _, orphan := e.transform(task, rows)
	outcome.OrphanBonifications += int64(orphan)
	e.publish(task.ID, pctTransform, "transform", outcome.RowsRead)

	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled before validate")
	}

	mapped := e.mapRows(ctx, task, transformed, columnTypes)

	rules := validation.Rules{}
	if task.ValidationRules != nil {
		rules.RequiredFields = task.ValidationRules.RequiredFields
		rules.ExistenceTable = task.ValidationRules.ExistenceCheck.Table
		rules.ExistenceKey = task.ValidationRules.ExistenceCheck.Key
	}
	if rules.ExistenceTable == "" && task.ExistenceKey() != "" {
		rules.ExistenceTable = targetTableOf(task)
		rules.ExistenceKey = task.ExistenceKey()
	}

	result, err := validation.Run(ctx, tx.Tx(), rules, mapped)
	if err != nil {
		return err
	}
	outcome.RowsSkipped += int64(result.Counters.DroppedMissing + result.Counters.AlreadyPresent)
	e.publish(task.ID, pctValidate, "validate", outcome.RowsRead)

	if task.ClearBeforeInsert && outcome.RowsWritten == 0 {
		if err := clearTable(ctx, tx.Tx(), targetTableOf(task)); err != nil {
			return err
		}
	}
	e.publish(task.ID, pctClear, "clear", outcome.RowsRead)

	written, keys, err := e.write(ctx, targetTableOf(task), task.ExistenceKey(), result.ToInsert, tx)
	if err != nil {
		return err
	}
	outcome.RowsWritten += written
	for _, k := range keys {
		shared.add(k)
	}
	return nil
}

func (e *Executor) transform(task *store.Task, rows []record.Row) ([]record.Row, []record.Diagnostic, int) {
	if task.BonificationConfig == nil {
		return rows, nil, 0
	}

	grouped := make(map[string][]record.Row)
	var order []string
	for _, r := range rows {
		orderID := fmt.Sprintf("%v", r[task.BonificationConfig.OrderField])
		if _, ok := grouped[orderID]; !ok {
			order = append(order, orderID)
		}
		grouped[orderID] = append(grouped[orderID], r)
	}

	proc := bonification.New(*task.BonificationConfig)
	var out []record.Row
	var diags []record.Diagnostic
	orphans := 0
	for _, orderID := range order {
		res := proc.ProcessOrder(orderID, grouped[orderID])
		out = append(out, res.Rows...)
		diags = append(diags, res.Diagnostics...)
		orphans += res.OrphanBonifications
	}
	return out, diags, orphans
}

// maxMappingWorkers bounds how many rows of one batch are mapped
// concurrently: field mapping is pure CPU work with no cross-row
// dependency, so it parallelizes safely, but an unbounded fan-out would
// let one huge batch spawn thousands of goroutines.
const maxMappingWorkers = 8

// mapRows applies the task's field mapping (or a pass-through copy) to
// every row in a batch, bounding concurrency with a weighted semaphore
// rather than one goroutine per row.
func (e *Executor) mapRows(ctx context.Context, task *store.Task, rows []record.Row, columnTypes map[string]connection.ColumnType) []record.Row {
	mapped := make([]record.Row, len(rows))
	sem := semaphore.NewWeighted(maxMappingWorkers)
	var wg sync.WaitGroup

	for i, r := range rows {
		i, r := i, r
		if err := sem.Acquire(ctx, 1); err != nil {
			// ctx already cancelled; map the remaining rows inline so the
			// caller's own ctx.Err() check downstream reports cancellation.
			if task.Direction == store.DirectionDown && task.FieldMapping != nil {
				out, _ := mapping.Apply(r, task.FieldMapping, columnTypes)
				mapped[i] = out
			} else {
				mapped[i] = mapping.PassThrough(r)
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if task.Direction == store.DirectionDown && task.FieldMapping != nil {
				out, _ := mapping.Apply(r, task.FieldMapping, columnTypes)
				mapped[i] = out
			} else {
				mapped[i] = mapping.PassThrough(r)
			}
		}()
	}
	wg.Wait()
	return mapped
}

// write inserts rows into table one at a time inside tx, returning the
// count written and the existence-key value of each row written (used
// to build the post-update's WHERE clause and a linked group's shared
// processed-identifier set).
func (e *Executor) write(ctx context.Context, table, keyField string, rows []record.Row, tx *connection.TxHandle) (int64, []string, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}

	var written int64
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return written, keys, apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled during write")
		}

		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		placeholders := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = row[c]
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(placeholders, ","))
		if _, err := tx.Tx().ExecContext(ctx, query, args...); err != nil {
			return written, keys, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "insert into "+table)
		}
		written++
		if v, ok := row[keyField]; ok && v != nil && fmt.Sprintf("%v", v) != "" {
			keys = append(keys, fmt.Sprintf("%v", v))
		}
	}
	return written, keys, nil
}

// postUpdate executes task's post-update statement, scoped to the
// identifiers actually written this run via postUpdateMapping.tableKey
// (spec §4.8 "post-update"). A task without a post-update query, or a
// run that wrote nothing, is a no-op.
func (e *Executor) postUpdate(ctx context.Context, task *store.Task, processedKeys []string) error {
	if task.PostUpdateQuery == "" {
		return nil
	}
	if err := sqlbuild.ValidateNonDestructive(task.PostUpdateQuery); err != nil {
		return err
	}
	if len(processedKeys) == 0 {
		return nil
	}

	_, writeKey := poolsFor(task.Direction)
	h, err := e.deps.Conns.Acquire(ctx, writeKey)
	if err != nil {
		return err
	}
	defer e.deps.Conns.Release(h)

	query := task.PostUpdateQuery
	args := make([]any, len(processedKeys))
	placeholders := make([]string, len(processedKeys))
	for i, k := range processedKeys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = k
	}

	column := "id"
	if task.PostUpdateMapping != nil && task.PostUpdateMapping.TableKey != "" {
		column = task.PostUpdateMapping.TableKey
	}

	joiner := " WHERE "
	if strings.Contains(strings.ToUpper(query), "WHERE") {
		joiner = " AND "
	}
	query = fmt.Sprintf("%s%s%s IN (%s)", query, joiner, column, strings.Join(placeholders, ","))

	if _, err := h.Conn().ExecContext(ctx, query, args...); err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "post-update")
	}
	return nil
}

func clearTable(ctx context.Context, tx *sql.Tx, table string) error {
	if table == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "clear "+table)
	}
	return nil
}

func readAll(ctx context.Context, conn queryExecer, compiled sqlbuild.Compiled) ([]record.Row, error) {
	rowsRes, err := conn.QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "read")
	}
	defer rowsRes.Close()

	cols, err := rowsRes.Columns()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "read columns")
	}

	var out []record.Row
	for rowsRes.Next() {
		row, err := scanRow(rowsRes, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rowsRes.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "iterate rows")
	}
	return out, nil
}

func scanRow(rowsRes *sql.Rows, cols []string) (record.Row, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rowsRes.Scan(ptrs...); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "scan row")
	}
	row := make(record.Row, len(cols))
	for i, c := range cols {
		if b, ok := values[i].([]byte); ok {
			row[c] = string(b)
		} else {
			row[c] = values[i]
		}
	}
	return row, nil
}

type queryExecer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
