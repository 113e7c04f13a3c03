package connection

import (
	"context"

	"github.com/heriberto777/transferengine/internal/apperrors"
)

// ColumnType is the subset of column metadata the Mapping Engine (C7)
// needs to coerce values before insert.
type ColumnType struct {
	SQLType   string
	MaxLength int // 0 if not length-bounded
	Precision int
	Scale     int
	Nullable  bool
}

// GetColumnTypes introspects tableName's columns via information_schema,
// cached per (serverKey, table) on the pool the handle was acquired from.
func (m *Manager) GetColumnTypes(ctx context.Context, h *Handle, tableName string) (map[string]ColumnType, error) {
	p := h.pool

	p.columnCacheMu.RLock()
	cached, ok := p.columnCache[tableName]
	p.columnCacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	rows, err := h.Conn().QueryContext(ctx, `
		SELECT column_name, data_type,
			COALESCE(character_maximum_length, 0),
			COALESCE(numeric_precision, 0),
			COALESCE(numeric_scale, 0),
			(is_nullable = 'YES')
		FROM information_schema.columns
		WHERE table_name = $1`, tableName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "introspect columns for "+tableName)
	}
	defer rows.Close()

	cols := make(map[string]ColumnType)
	for rows.Next() {
		var name, sqlType string
		var maxLen, precision, scale int
		var nullable bool
		if err := rows.Scan(&name, &sqlType, &maxLen, &precision, &scale, &nullable); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "scan column metadata")
		}
		cols[name] = ColumnType{SQLType: sqlType, MaxLength: maxLen, Precision: precision, Scale: scale, Nullable: nullable}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "iterate column metadata")
	}

	p.columnCacheMu.Lock()
	p.columnCache[tableName] = cols
	p.columnCacheMu.Unlock()

	return cols, nil
}

// TableExists reports whether tableName is present in the connected
// database's schema.
func (m *Manager) TableExists(ctx context.Context, h *Handle, tableName string) (bool, error) {
	var exists bool
	err := h.Conn().QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables WHERE table_name = $1
		)`, tableName).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "check table existence for "+tableName)
	}
	return exists, nil
}
