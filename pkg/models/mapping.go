package models

import "strings"

// Match kinds, strongest first.
const (
	MatchExact    = "exact"
	MatchSemantic = "semantic"
	MatchFuzzy    = "fuzzy"
)

// MatchKindRank orders match kinds for tie-breaking: exact > semantic > fuzzy.
func MatchKindRank(kind string) int {
	switch kind {
	case MatchExact:
		return 3
	case MatchSemantic:
		return 2
	case MatchFuzzy:
		return 1
	default:
		return 0
	}
}

// MappingCandidate is one possible schema element for a query term.
// ColumnName is empty when the term maps to the table itself. Value is set
// when the term matched a sampled column value rather than a name.
type MappingCandidate struct {
	Term       string  `json:"term"`
	TableName  string  `json:"table_name"`
	ColumnName string  `json:"column_name,omitempty"`
	Score      float64 `json:"score"`
	MatchKind  string  `json:"match_kind"`
	Value      any     `json:"value,omitempty"`
}

// IsTable reports whether the candidate targets a table rather than a column.
func (c MappingCandidate) IsTable() bool {
	return c.ColumnName == ""
}

// IsValueMatch reports whether the term matched a sampled value.
func (c MappingCandidate) IsValueMatch() bool {
	return c.Value != nil
}

// Ref renders table or table.column.
func (c MappingCandidate) Ref() string {
	if c.IsTable() {
		return c.TableName
	}
	return c.TableName + "." + c.ColumnName
}

// TermMapping holds the ranked candidates for one phrase of the query.
type TermMapping struct {
	Term       string             `json:"term"`
	Position   int                `json:"position"` // token index of the phrase's first word
	Candidates []MappingCandidate `json:"candidates"`
}

// Best returns the top candidate.
func (m TermMapping) Best() (MappingCandidate, bool) {
	if len(m.Candidates) == 0 {
		return MappingCandidate{}, false
	}
	return m.Candidates[0], true
}

// MappingResult is the entity mapper's view of a whole query.
type MappingResult struct {
	Terms      []TermMapping `json:"terms"`
	Unmapped   []string      `json:"unmapped,omitempty"` // content words with no candidate
	Confidence float64       `json:"confidence"`
}

// Mapped returns the term mappings that have at least one candidate.
func (r *MappingResult) Mapped() []TermMapping {
	var out []TermMapping
	for _, t := range r.Terms {
		if len(t.Candidates) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Tables lists distinct tables referenced by best candidates, in first-seen order.
func (r *MappingResult) Tables() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range r.Mapped() {
		best, _ := t.Best()
		key := strings.ToLower(best.TableName)
		if !seen[key] {
			seen[key] = true
			out = append(out, best.TableName)
		}
	}
	return out
}
