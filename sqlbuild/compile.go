package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/heriberto777/transferengine/store"
)

// operatorSQL maps store.Operator verbatim to its SQL token; IN and
// BETWEEN are handled specially in Compile since they bind more than one
// placeholder (or none, for an empty IN list).
var operatorSQL = map[store.Operator]string{
	store.OpEq:   "=",
	store.OpNeq:  "!=",
	store.OpLt:   "<",
	store.OpLte:  "<=",
	store.OpGt:   ">",
	store.OpGte:  ">=",
	store.OpLike: "LIKE",
}

// Compiled is a final, bindable query: SQL text plus the positional
// arguments for $1, $2, ... placeholders.
type Compiled struct {
	SQL  string
	Args []any
}

// Compile appends a WHERE suffix built from params to baseQuery, using
// AND to join onto an existing WHERE if the base query has one (spec
// §4.8 "Query Building"). All values are parameter-bound, never
// string-interpolated.
func Compile(baseQuery string, params []store.Parameter) Compiled {
	if len(params) == 0 {
		return Compiled{SQL: baseQuery}
	}

	hasWhere := strings.Contains(strings.ToUpper(baseQuery), "WHERE")
	var clauses []string
	var args []any
	next := 1

	for _, p := range params {
		clause, clauseArgs, skip := compileOne(p, &next)
		if skip {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	if len(clauses) == 0 {
		return Compiled{SQL: baseQuery}
	}

	joiner := " WHERE "
	if hasWhere {
		joiner = " AND "
	}

	return Compiled{
		SQL:  baseQuery + joiner + strings.Join(clauses, " AND "),
		Args: args,
	}
}

// compileOne returns the SQL fragment for one parameter, the arguments
// it binds, and whether the parameter should be skipped entirely (a
// BETWEEN missing one bound — spec §8 "parameter is skipped, not bound
// as null").
func compileOne(p store.Parameter, next *int) (string, []any, bool) {
	switch p.Operator {
	case store.OpIn:
		if len(p.Value.List) == 0 {
			// spec §4.8/§8: IN with an empty array becomes the
			// always-false predicate, not an empty IN(...) (which most
			// dialects reject as invalid syntax).
			return "1=0", nil, false
		}
		placeholders := make([]string, len(p.Value.List))
		for i, v := range p.Value.List {
			placeholders[i] = fmt.Sprintf("$%d", *next)
			*next++
			_ = v
		}
		clause := fmt.Sprintf("%s IN (%s)", p.Field, strings.Join(placeholders, ","))
		return clause, p.Value.List, false

	case store.OpBetween:
		if p.Value.From == nil || p.Value.To == nil {
			return "", nil, true
		}
		clause := fmt.Sprintf("%s BETWEEN $%d AND $%d", p.Field, *next, *next+1)
		*next += 2
		return clause, []any{p.Value.From, p.Value.To}, false

	default:
		sqlOp, ok := operatorSQL[p.Operator]
		if !ok {
			sqlOp = "="
		}
		clause := fmt.Sprintf("%s %s $%d", p.Field, sqlOp, *next)
		*next++
		return clause, []any{p.Value.Scalar}, false
	}
}
