// Package mapping implements the Mapping Engine (C7): translates rows by
// field mapping for direction=down tasks, coercing values against target
// column metadata (spec §4.7).
package mapping

import (
	"strconv"
	"strings"
	"time"

	"github.com/heriberto777/transferengine/connection"
	"github.com/heriberto777/transferengine/record"
	"github.com/heriberto777/transferengine/store"
)

// trueStrings/falseStrings implement the bit-column coercion table in
// spec §4.7 verbatim.
var trueStrings = map[string]bool{"true": true, "1": true, "yes": true, "s": true, "y": true}
var falseStrings = map[string]bool{"false": true, "0": true, "no": true, "n": true}

// Apply maps one source row to a target row per fieldMapping: positional
// sourceFields[i] -> targetFields[i], then defaults for any target
// column fieldMapping doesn't cover. columnTypes, if non-nil, drives
// string truncation, bit coercion, and date rejection.
func Apply(src record.Row, fm *store.FieldMapping, columnTypes map[string]connection.ColumnType) (record.Row, []record.Diagnostic) {
	out := make(record.Row, len(fm.TargetFields)+len(fm.Defaults))
	var diagnostics []record.Diagnostic

	mapped := make(map[string]bool, len(fm.TargetFields))
	for i, targetField := range fm.TargetFields {
		var sourceValue any
		if i < len(fm.SourceFields) {
			sourceValue = src[fm.SourceFields[i]]
		}
		coerced, diag := coerce(targetField, sourceValue, columnTypes)
		out[targetField] = coerced
		if diag != nil {
			diagnostics = append(diagnostics, *diag)
		}
		mapped[targetField] = true
	}

	for _, def := range fm.Defaults {
		if mapped[def.Field] {
			continue
		}
		out[def.Field] = def.Value
	}

	return out, diagnostics
}

// PassThrough is used for direction=up and direction=internal: rows flow
// unchanged except for the validation pass C5 applies separately.
func PassThrough(src record.Row) record.Row {
	return src.Clone()
}

func coerce(targetField string, v any, columnTypes map[string]connection.ColumnType) (any, *record.Diagnostic) {
	if v == nil || columnTypes == nil {
		return v, nil
	}

	col, ok := columnTypes[targetField]
	if !ok {
		return v, nil
	}

	if isBitType(col.SQLType) {
		return coerceBit(v), nil
	}

	if s, isStr := v.(string); isStr {
		if col.MaxLength > 0 && len(s) > col.MaxLength {
			truncated := s[:col.MaxLength]
			return truncated, &record.Diagnostic{
				Reason: record.ReasonTruncated,
				Field:  targetField,
				Detail: "truncated to " + strconv.Itoa(col.MaxLength) + " characters",
			}
		}
	}

	if isDateType(col.SQLType) {
		if _, diag := validateDate(targetField, v); diag != nil {
			return nil, diag
		}
	}

	return v, nil
}

func isBitType(sqlType string) bool {
	t := strings.ToLower(sqlType)
	return t == "bit" || t == "boolean" || t == "bool"
}

func isDateType(sqlType string) bool {
	t := strings.ToLower(sqlType)
	return strings.Contains(t, "date") || strings.Contains(t, "timestamp")
}

// coerceBit implements spec §4.7's string -> bit coercion table; any
// value not in either set becomes null, matching "otherwise null".
func coerceBit(v any) any {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(val)
		if trueStrings[lower] {
			return true
		}
		if falseStrings[lower] {
			return false
		}
		return nil
	default:
		return nil
	}
}

func validateDate(field string, v any) (any, *record.Diagnostic) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, nil
			}
		}
		return nil, &record.Diagnostic{Reason: record.ReasonInvalidDate, Field: field, Detail: val}
	default:
		return v, nil
	}
}
