package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heriberto777/transferengine/connection"
	"github.com/heriberto777/transferengine/record"
	"github.com/heriberto777/transferengine/store"
)

// S2: Down-transfer with field mapping.
func TestApplyMapsFieldsAndDefaults(t *testing.T) {
	fm := &store.FieldMapping{
		SourceTable:  "src",
		TargetTable:  "customers",
		SourceFields: []string{"ID", "NOMBRE_COMPLETO"},
		TargetFields: []string{"ClienteID", "Nombre"},
		Defaults:     []store.FieldDefault{{Field: "Origen", Value: "EXT"}},
	}
	src := record.Row{"ID": "X1", "NOMBRE_COMPLETO": "Ana"}

	out, diags := Apply(src, fm, nil)
	assert.Empty(t, diags)
	assert.Equal(t, "X1", out["ClienteID"])
	assert.Equal(t, "Ana", out["Nombre"])
	assert.Equal(t, "EXT", out["Origen"])
}

func TestApplyTruncatesOverlongString(t *testing.T) {
	fm := &store.FieldMapping{
		SourceFields: []string{"name"},
		TargetFields: []string{"name"},
	}
	cols := map[string]connection.ColumnType{"name": {SQLType: "character varying", MaxLength: 3}}

	out, diags := Apply(record.Row{"name": "abcdef"}, fm, cols)
	assert.Equal(t, "abc", out["name"])
	assert.Len(t, diags, 1)
	assert.Equal(t, record.ReasonTruncated, diags[0].Reason)
}

func TestCoerceBitColumn(t *testing.T) {
	assert.Equal(t, true, coerceBit("s"))
	assert.Equal(t, true, coerceBit("Y"))
	assert.Equal(t, false, coerceBit("0"))
	assert.Nil(t, coerceBit("maybe"))
}

func TestPassThroughClonesRow(t *testing.T) {
	src := record.Row{"a": 1}
	out := PassThrough(src)
	out["a"] = 2
	assert.Equal(t, 1, src["a"])
}
