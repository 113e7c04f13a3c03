package sqlbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/store"
)

func TestValidateSelectAcceptsPlainSelect(t *testing.T) {
	require.NoError(t, ValidateSelect("SELECT id, name FROM src WHERE active = 1"))
}

func TestValidateSelectRejectsNonSelect(t *testing.T) {
	require.Error(t, ValidateSelect("UPDATE src SET active = 0"))
}

func TestValidateSelectRejectsDestructiveKeyword(t *testing.T) {
	require.Error(t, ValidateSelect("SELECT * FROM src; DROP TABLE src"))
}

func TestValidateSelectIgnoresLeadingComment(t *testing.T) {
	require.NoError(t, ValidateSelect("-- note\nSELECT 1"))
}

func TestValidateSelectRejectsStoredProcedurePrefix(t *testing.T) {
	require.Error(t, ValidateSelect("SELECT * FROM src WHERE 1=xp_cmdshell('dir')"))
	require.Error(t, ValidateSelect("SELECT * FROM src WHERE 1=sp_executesql(@q)"))
}

func TestValidateNonDestructiveAllowsQualifiedUpdate(t *testing.T) {
	require.NoError(t, ValidateNonDestructive("UPDATE target SET flag = 1 WHERE id IN (1,2)"))
}

func TestValidateNonDestructiveRejectsUnqualifiedDelete(t *testing.T) {
	require.Error(t, ValidateNonDestructive("DELETE FROM target"))
}

func TestValidateNonDestructiveRejectsDestructiveKeyword(t *testing.T) {
	require.Error(t, ValidateNonDestructive("TRUNCATE target"))
}

func TestValidateNonDestructiveRejectsStoredProcedurePrefix(t *testing.T) {
	require.Error(t, ValidateNonDestructive("UPDATE target SET flag = xp_cmdshell('dir') WHERE id = 1"))
}

func TestCompileNoParams(t *testing.T) {
	c := Compile("SELECT * FROM src", nil)
	assert.Equal(t, "SELECT * FROM src", c.SQL)
	assert.Empty(t, c.Args)
}

func TestCompileAppendsWhere(t *testing.T) {
	c := Compile("SELECT * FROM src", []store.Parameter{
		{Field: "id", Operator: store.OpEq, Value: store.Scalar(5)},
	})
	assert.Equal(t, "SELECT * FROM src WHERE id = $1", c.SQL)
	assert.Equal(t, []any{5}, c.Args)
}

func TestCompileAndsOntoExistingWhere(t *testing.T) {
	c := Compile("SELECT * FROM src WHERE active = 1", []store.Parameter{
		{Field: "id", Operator: store.OpEq, Value: store.Scalar(5)},
	})
	assert.Equal(t, "SELECT * FROM src WHERE active = 1 AND id = $1", c.SQL)
}

// §8 boundary: IN with empty array compiles to the always-false predicate.
func TestCompileInEmptyArray(t *testing.T) {
	c := Compile("SELECT * FROM src", []store.Parameter{
		{Field: "id", Operator: store.OpIn, Value: store.List(nil)},
	})
	assert.Equal(t, "SELECT * FROM src WHERE 1=0", c.SQL)
	assert.Empty(t, c.Args)
}

func TestCompileInNonEmptyArray(t *testing.T) {
	c := Compile("SELECT * FROM src", []store.Parameter{
		{Field: "id", Operator: store.OpIn, Value: store.List([]any{1, 2, 3})},
	})
	assert.Equal(t, "SELECT * FROM src WHERE id IN ($1,$2,$3)", c.SQL)
	assert.Equal(t, []any{1, 2, 3}, c.Args)
}

// §8 boundary: BETWEEN missing a bound is skipped, not bound as null.
func TestCompileBetweenMissingBoundIsSkipped(t *testing.T) {
	c := Compile("SELECT * FROM src", []store.Parameter{
		{Field: "id", Operator: store.OpEq, Value: store.Scalar(1)},
		{Field: "created", Operator: store.OpBetween, Value: store.Range(nil, nil)},
	})
	assert.Equal(t, "SELECT * FROM src WHERE id = $1", c.SQL)
	assert.Equal(t, []any{1}, c.Args)
}

func TestCompileBetweenBothBounds(t *testing.T) {
	c := Compile("SELECT * FROM src", []store.Parameter{
		{Field: "created", Operator: store.OpBetween, Value: store.Range("2024-01-01", "2024-12-31")},
	})
	assert.Equal(t, "SELECT * FROM src WHERE created BETWEEN $1 AND $2", c.SQL)
	assert.Equal(t, []any{"2024-01-01", "2024-12-31"}, c.Args)
}
