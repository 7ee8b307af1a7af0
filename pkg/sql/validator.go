// Package sql validates generated SQL and screens user input for statement
// injection before anything reaches a database.
package sql

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates there is nothing to validate.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// DenylistedTokens are keywords that never appear in an executable query.
var DenylistedTokens = []string{
	"ALTER", "CREATE", "DELETE", "DROP", "EXEC", "EXECUTE", "GRANT",
	"INSERT", "MERGE", "REVOKE", "TRUNCATE", "UPDATE",
}

var (
	denylist     = toSet(DenylistedTokens)
	tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToUpper(w)] = true
	}
	return m
}

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize strips a trailing semicolon and rejects stacked statements.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if hasOutsideStrings(normalized, ";") {
		return ValidationResult{Error: ErrMultipleStatements}
	}
	return ValidationResult{NormalizedSQL: normalized}
}

// FindDenylistedTokens returns the distinct denylisted keywords present as
// whole tokens anywhere in text, upper-cased and sorted. Matching is
// case-insensitive and ignores substrings (updated_at is not UPDATE).
func FindDenylistedTokens(text string) []string {
	seen := map[string]bool{}
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		upper := strings.ToUpper(tok)
		if denylist[upper] {
			seen[upper] = true
		}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// HasComment reports whether the SQL contains a line or block comment outside string literals.
func HasComment(sqlQuery string) bool {
	return hasOutsideStrings(sqlQuery, "--") || hasOutsideStrings(sqlQuery, "/*")
}

// ValidateGenerated checks a generated statement and its bound parameters.
// The query's Text is replaced by its normalized form and every problem is
// recorded as a risk flag. Validated is true only when no flag was raised.
func ValidateGenerated(q *models.GeneratedQuery) {
	q.Validated = true

	result := ValidateAndNormalize(q.Text)
	switch {
	case errors.Is(result.Error, ErrMultipleStatements):
		q.AddRiskFlag(models.RiskMultipleStatements)
	case result.Error != nil:
		q.Validated = false
	default:
		q.Text = result.NormalizedSQL
	}

	if len(FindDenylistedTokens(q.Text)) > 0 {
		q.AddRiskFlag(models.RiskDenylistedToken)
	}
	if HasComment(q.Text) {
		q.AddRiskFlag(models.RiskSQLComment)
	}
	for _, p := range q.Parameters {
		if CheckParameterForInjection(p.Column, p.Value) != nil {
			q.AddRiskFlag(models.RiskInjection)
			break
		}
	}
}

// hasOutsideStrings reports whether needle occurs outside single-quoted
// literals and double-quoted identifiers.
func hasOutsideStrings(sqlQuery, needle string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prev := byte(0)
	for i := 0; i < len(sqlQuery); i++ {
		ch := sqlQuery[i]
		switch state {
		case stateNormal:
			if strings.HasPrefix(sqlQuery[i:], needle) {
				return true
			}
			switch ch {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// '' re-enters on the next quote, which keeps us in the literal
			if ch == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if ch == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = ch
	}
	return false
}

func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimRight(strings.TrimSuffix(sqlQuery, ";"), " \t\n\r")
	}
	return sqlQuery
}
