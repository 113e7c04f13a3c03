package bonification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/record"
)

func testConfig() Config {
	return Config{
		SourceTable:                    "order_lines",
		OrderField:                     "order_id",
		LineOrderField:                 "line",
		BonificationIndicatorField:     "kind",
		BonificationIndicatorValue:     "B",
		RegularArticleField:            "code",
		BonificationReferenceField:     "ref",
		LineNumberField:                "lineNumber",
		BonificationLineReferenceField: "lineRef",
		QuantityField:                  "qty",
	}
}

// S3: Bonification re-link.
func TestProcessOrderRelinksBonusLines(t *testing.T) {
	p := New(testConfig())
	rows := []record.Row{
		{"line": 10, "code": "A", "kind": "R", "qty": 5},
		{"line": 20, "code": "B", "kind": "R", "qty": 3},
		{"line": 30, "code": "X", "kind": "B", "ref": "A", "qty": 1},
		{"line": 40, "code": "Y", "kind": "B", "ref": "B", "qty": 2},
	}

	res := p.ProcessOrder("1001", rows)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, 0, res.OrphanBonifications)

	byCode := map[string]record.Row{}
	for _, r := range res.Rows {
		byCode[r["code"].(string)] = r
	}

	assert.Equal(t, 1, byCode["A"]["lineNumber"])
	assert.Nil(t, byCode["A"]["lineRef"])
	assert.Equal(t, 2, byCode["B"]["lineNumber"])
	assert.Nil(t, byCode["B"]["lineRef"])
	assert.Equal(t, 3, byCode["X"]["lineNumber"])
	assert.Equal(t, 1, byCode["X"]["lineRef"])
	_, hasRef := byCode["X"]["ref"]
	assert.False(t, hasRef)
	assert.Equal(t, 4, byCode["Y"]["lineNumber"])
	assert.Equal(t, 2, byCode["Y"]["lineRef"])
}

// S4: Bonification orphan.
func TestProcessOrderFlagsOrphanReference(t *testing.T) {
	p := New(testConfig())
	rows := []record.Row{
		{"line": 10, "code": "A", "kind": "R", "qty": 5},
		{"line": 20, "code": "B", "kind": "R", "qty": 3},
		{"line": 30, "code": "X", "kind": "B", "ref": "Z", "qty": 1},
		{"line": 40, "code": "Y", "kind": "B", "ref": "B", "qty": 2},
	}

	res := p.ProcessOrder("1001", rows)
	assert.Equal(t, 1, res.OrphanBonifications)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0].Detail, "REFERENCIA_NO_ENCONTRADA(Z)")

	for _, r := range res.Rows {
		if r["code"] == "X" {
			assert.Nil(t, r["lineRef"])
		}
	}
}

// Regression: a bonus row sorting between two regular rows must not shift
// the regular rows' recorded line numbers away from their true final line.
func TestProcessOrderRelinksBonusLinesInterleavedWithRegulars(t *testing.T) {
	p := New(testConfig())
	rows := []record.Row{
		{"line": 10, "code": "A", "kind": "R", "qty": 5},
		{"line": 15, "code": "X", "kind": "B", "ref": "A", "qty": 1},
		{"line": 20, "code": "B", "kind": "R", "qty": 3},
		{"line": 25, "code": "Y", "kind": "B", "ref": "B", "qty": 2},
	}

	res := p.ProcessOrder("1001", rows)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, 0, res.OrphanBonifications)

	byCode := map[string]record.Row{}
	for _, r := range res.Rows {
		byCode[r["code"].(string)] = r
	}

	assert.Equal(t, 1, byCode["A"]["lineNumber"])
	assert.Equal(t, 2, byCode["X"]["lineNumber"])
	assert.Equal(t, 1, byCode["X"]["lineRef"])
	assert.Equal(t, 3, byCode["B"]["lineNumber"])
	assert.Equal(t, 4, byCode["Y"]["lineNumber"])
	assert.Equal(t, 3, byCode["Y"]["lineRef"])
}

func TestProcessOrderIdempotencyGuard(t *testing.T) {
	p := New(testConfig())
	rows := []record.Row{{"line": 10, "code": "A", "kind": "R", "qty": 1}}

	first := p.ProcessOrder("1001", rows)
	second := p.ProcessOrder("1001", rows)

	require.Len(t, first.Rows, 1)
	assert.Empty(t, second.Rows)
}

func TestSanitizeQuantity(t *testing.T) {
	assert.Equal(t, float64(0), sanitizeQuantity(nil))
	assert.Equal(t, float64(0), sanitizeQuantity("not-a-number"))
	assert.Equal(t, float64(-3), sanitizeQuantity("-3"))
	assert.Equal(t, float64(7), sanitizeQuantity(7))
}
