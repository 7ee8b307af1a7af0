package models

import "sort"

// Risk flags raised during query validation.
const (
	RiskDenylistedToken    = "denylisted_token"
	RiskMultipleStatements = "multiple_statements"
	RiskSQLComment         = "sql_comment"
	RiskInjection          = "sql_injection"
)

// QueryParameter is one bound literal. Position is 1-based.
type QueryParameter struct {
	Position int    `json:"position"`
	Column   string `json:"column,omitempty"`
	Type     string `json:"type"` // number, string, date
	Value    any    `json:"value"`
}

// GeneratedQuery is a parameterized read-only query. It is executable only
// when Validated is true and RiskFlags is empty.
type GeneratedQuery struct {
	Text       string           `json:"text"`
	Parameters []QueryParameter `json:"parameters"`
	Validated  bool             `json:"validated"`
	RiskFlags  []string         `json:"risk_flags,omitempty"`
	Tables     []string         `json:"tables,omitempty"`
}

// Executable reports whether the query may be sent to the database.
func (q *GeneratedQuery) Executable() bool {
	return q != nil && q.Validated && len(q.RiskFlags) == 0
}

// Args returns parameter values in placeholder order.
func (q *GeneratedQuery) Args() []any {
	args := make([]any, len(q.Parameters))
	for i, p := range q.Parameters {
		args[i] = p.Value
	}
	return args
}

// AddRiskFlag records flag once and marks the query invalid.
func (q *GeneratedQuery) AddRiskFlag(flag string) {
	q.Validated = false
	for _, f := range q.RiskFlags {
		if f == flag {
			return
		}
	}
	q.RiskFlags = append(q.RiskFlags, flag)
	sort.Strings(q.RiskFlags)
}
