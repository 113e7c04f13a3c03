// Package validation implements the Validation Engine (C5): required-field
// filtering and batched existence-key checks, with row-level diagnostics
// (spec §4.5).
package validation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/record"
)

// maxBatchParams bounds how many bind parameters one existence query
// uses, staying under typical dialect limits (spec §4.5: "Batch size is
// bounded to keep parameter counts under the dialect limit").
const maxBatchParams = 500

// Rules configures one task's validation pass.
type Rules struct {
	RequiredFields []string
	ExistenceTable string
	ExistenceKey   string
}

// Counters summarizes one Run call (spec §4.5 "kept, droppedMissing,
// alreadyPresent").
type Counters struct {
	Kept           int
	DroppedMissing int
	AlreadyPresent int
}

// Result is the filtered output of one validation pass.
type Result struct {
	ToInsert    []record.Row
	Diagnostics []record.Diagnostic
	Counters    Counters
}

// QueryExecer is the minimal surface Run needs for the existence probe;
// satisfied by *sql.Conn, *sql.Tx, *sql.DB.
type QueryExecer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Run drops rows missing a required field, then (if an existence table
// is configured) batches the remainder through an existence probe and
// splits them into to-insert vs. already-present.
func Run(ctx context.Context, exec QueryExecer, rules Rules, rows []record.Row) (Result, error) {
	res := Result{}

	var candidates []record.Row
	for _, row := range rows {
		if missing, field := firstMissingField(row, rules.RequiredFields); missing {
			res.Diagnostics = append(res.Diagnostics, record.Diagnostic{
				Reason: record.ReasonMissingField,
				Field:  field,
			})
			res.Counters.DroppedMissing++
			continue
		}
		candidates = append(candidates, row)
	}

	if rules.ExistenceTable == "" {
		res.ToInsert = candidates
		res.Counters.Kept = len(candidates)
		return res, nil
	}

	if rules.ExistenceKey == "" {
		return Result{}, apperrors.New(apperrors.CodeInvalidConfig, "existence check requires a key column")
	}

	present, err := existingKeys(ctx, exec, rules.ExistenceTable, rules.ExistenceKey, candidates)
	if err != nil {
		return Result{}, err
	}

	for _, row := range candidates {
		key := fmt.Sprintf("%v", row[rules.ExistenceKey])
		if present[key] {
			res.Counters.AlreadyPresent++
			continue
		}
		res.ToInsert = append(res.ToInsert, row)
		res.Counters.Kept++
	}

	return res, nil
}

func firstMissingField(row record.Row, required []string) (bool, string) {
	for _, field := range required {
		v, ok := row[field]
		if !ok || v == nil {
			return true, field
		}
		if s, isStr := v.(string); isStr && s == "" {
			return true, field
		}
	}
	return false, ""
}

// existingKeys batches candidates' keys through existenceTable in
// groups of at most maxBatchParams, returning the set already present.
func existingKeys(ctx context.Context, exec QueryExecer, table, key string, rows []record.Row) (map[string]bool, error) {
	present := make(map[string]bool)
	if len(rows) == 0 {
		return present, nil
	}

	for start := 0; start < len(rows); start += maxBatchParams {
		end := start + maxBatchParams
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, row := range batch {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = row[key]
		}

		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", key, table, key, strings.Join(placeholders, ","))
		rowsRes, err := exec.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "existence check against "+table)
		}

		for rowsRes.Next() {
			var v any
			if err := rowsRes.Scan(&v); err != nil {
				rowsRes.Close()
				return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "scan existence row")
			}
			present[fmt.Sprintf("%v", v)] = true
		}
		closeErr := rowsRes.Close()
		if err := rowsRes.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "iterate existence rows")
		}
		if closeErr != nil {
			return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, closeErr, "close existence rows")
		}
	}

	return present, nil
}
