// Package sqlbuild validates stored task queries and compiles the final
// SQL issued to the Source/Target database, including the parameter
// WHERE-clause suffix (spec §4.8 "Query Building", §6 "Query validation").
package sqlbuild

import (
	"regexp"
	"strings"

	"github.com/heriberto777/transferengine/internal/apperrors"
)

var destructiveKeywords = []string{
	"DROP", "TRUNCATE", "ALTER", "CREATE", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "XP_", "SP_",
}

// containsKeyword matches keyword as a whole token. Keywords ending in
// "_" (XP_, SP_) are prefixes of a stored-procedure name, not standalone
// tokens — "_" is a \w character in RE2, so a trailing \b would require
// a word boundary right after the underscore, which never exists once
// more identifier characters follow (xp_cmdshell, sp_executesql). Only
// require the boundary before the keyword in that case.
func containsKeyword(upper, keyword string) bool {
	pattern := `\b` + regexp.QuoteMeta(keyword)
	if !strings.HasSuffix(keyword, "_") {
		pattern += `\b`
	}
	re := regexp.MustCompile(pattern)
	return re.MatchString(upper)
}

// stripLeadingNoise removes whitespace and SQL comments from the front
// of a query so the SELECT check isn't fooled by a leading comment.
func stripLeadingNoise(q string) string {
	s := strings.TrimSpace(q)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			if idx := strings.IndexByte(s, '\n'); idx >= 0 {
				s = strings.TrimSpace(s[idx+1:])
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if idx := strings.Index(s, "*/"); idx >= 0 {
				s = strings.TrimSpace(s[idx+2:])
				continue
			}
			return ""
		default:
			return s
		}
	}
}

// ValidateSelect enforces executeDynamicSelect (spec §6): the query must
// begin with SELECT and must not contain any destructive keyword as a
// whole token, case-insensitive.
func ValidateSelect(query string) error {
	body := stripLeadingNoise(query)
	upper := strings.ToUpper(body)

	if !strings.HasPrefix(upper, "SELECT") {
		return apperrors.New(apperrors.CodeInvalidConfig, "query must begin with SELECT")
	}

	for _, kw := range destructiveKeywords {
		if containsKeyword(upper, kw) {
			return apperrors.New(apperrors.CodeInvalidConfig, "query contains forbidden keyword "+kw)
		}
	}

	return nil
}

// allowedNonDestructiveVerbs are permitted in a post-update statement as
// long as UPDATE/DELETE carry a WHERE clause.
var allowedNonDestructiveVerbs = []string{"INSERT", "UPDATE", "MERGE", "DELETE"}

// ValidateNonDestructive enforces executeNonDestructive (spec §6): no
// destructive keyword, and any UPDATE/DELETE must be WHERE-qualified.
func ValidateNonDestructive(query string) error {
	body := stripLeadingNoise(query)
	upper := strings.ToUpper(body)

	for _, kw := range destructiveKeywords {
		if containsKeyword(upper, kw) {
			return apperrors.New(apperrors.CodeInvalidConfig, "post-update query contains forbidden keyword "+kw)
		}
	}

	hasRecognizedVerb := false
	for _, verb := range allowedNonDestructiveVerbs {
		if containsKeyword(upper, verb) {
			hasRecognizedVerb = true
		}
	}
	if !hasRecognizedVerb {
		return apperrors.New(apperrors.CodeInvalidConfig, "post-update query must contain one of INSERT/UPDATE/MERGE/DELETE")
	}

	for _, verb := range []string{"UPDATE", "DELETE"} {
		if containsKeyword(upper, verb) && !containsKeyword(upper, "WHERE") {
			return apperrors.New(apperrors.CodeInvalidConfig, "unqualified "+verb+" is not allowed in a post-update query")
		}
	}

	return nil
}
