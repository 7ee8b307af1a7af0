package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeInput(t *testing.T) {
	got := SanitizeInput("<b>How</b>  many\x00 employees &amp; teams<script>alert(1)</script>\n")
	assert.Equal(t, "How many employees & teams", got)
	assert.Empty(t, SanitizeInput("  <p> </p> "))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "how many employees", NormalizeQuery("  How   MANY employees?? "))
	assert.Equal(t, NormalizeQuery("How many employees?"), NormalizeQuery("how many employees"))
}

func TestParseQuery_CountQuestion(t *testing.T) {
	q := parse("How many employees do we have?")

	assert.Equal(t, "COUNT", q.Aggregate)
	assert.Equal(t, []string{"employees"}, termWords(q))
	assert.Empty(t, q.Comparisons)
	assert.Empty(t, q.DocumentCues)
}

func TestParseQuery_ComparisonWithSuffix(t *testing.T) {
	q := parse("Python developers earning over 100k")

	assert.Equal(t, []string{"python", "developers", "earning"}, termWords(q))
	require.Len(t, q.Comparisons, 1)
	c := q.Comparisons[0]
	assert.Equal(t, ">", c.Op)
	assert.Equal(t, []any{int64(100000)}, c.Values)
	assert.Equal(t, LiteralNumber, c.Kind)
	assert.Equal(t, 3, c.Pos)
}

func TestParseQuery_Between(t *testing.T) {
	q := parse("employees with salary between 50k and 80,000")

	require.Len(t, q.Comparisons, 1)
	assert.Equal(t, "BETWEEN", q.Comparisons[0].Op)
	assert.Equal(t, []any{int64(50000), int64(80000)}, q.Comparisons[0].Values)
	assert.Equal(t, []string{"employees", "salary"}, termWords(q))
}

func TestParseQuery_Literals(t *testing.T) {
	tests := []struct {
		name string
		text string
		op   string
		val  any
		kind string
	}{
		{"year", "employees hired in 2021", "year", int64(2021), LiteralYear},
		{"iso date", "orders after 2024-01-15", ">", "2024-01-15", LiteralDate},
		{"currency", "invoices above $1,500.50", ">", 1500.5, LiteralNumber},
		{"at least", "projects with at least 5 members", ">=", int64(5), LiteralNumber},
		{"less than", "products costing less than 20", "<", int64(20), LiteralNumber},
		{"millions", "customers with revenue over 1.5m", ">", int64(1500000), LiteralNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := parse(tt.text)
			require.Len(t, q.Comparisons, 1)
			assert.Equal(t, tt.op, q.Comparisons[0].Op)
			assert.Equal(t, tt.val, q.Comparisons[0].Values[0])
			assert.Equal(t, tt.kind, q.Comparisons[0].Kind)
		})
	}
}

func TestParseQuery_AggregateAndGroup(t *testing.T) {
	q := parse("average salary by department")

	assert.Equal(t, "AVG", q.Aggregate)
	require.NotNil(t, q.GroupBy)
	assert.Equal(t, "department", q.GroupBy.Word)
	assert.Equal(t, []string{"salary", "department"}, termWords(q))
}

func TestParseQuery_DocumentCues(t *testing.T) {
	q := parse("Find resumes with Python skills")

	assert.Equal(t, []string{"resumes"}, q.DocumentCues)
	assert.Equal(t, []string{"resume"}, q.DocTypes)
	assert.Equal(t, []string{"python", "skills"}, termWords(q))
}

func TestParseQuery_NarrativeCueHasNoType(t *testing.T) {
	q := parse("who mentions kubernetes experience")

	assert.Contains(t, q.DocumentCues, "experience")
	assert.Empty(t, q.DocTypes)
}

func TestDefaultVocabulary(t *testing.T) {
	v := DefaultVocabulary()

	assert.True(t, v.IsStopword("the"))
	assert.False(t, v.IsStopword("employees"))

	docType, ok := v.DocumentType("CVs")
	assert.True(t, ok)
	assert.Equal(t, "resume", docType)

	assert.Contains(t, v.TermLabels("salaries"), "compensation")
	assert.Contains(t, v.TermLabels("developers"), "person")

	facet, ok := v.Topic("Python")
	assert.True(t, ok)
	assert.Equal(t, "skills", facet)

	assert.Equal(t, 1.0, v.Priority("resume"))
	assert.Equal(t, 0.6, v.Priority("memo"))
}

func TestLoadVocabulary_MergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
table_purposes:
  person: [associate]
document_priorities:
  policy: 0.95
`), 0o600))

	v, err := LoadVocabulary(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"person"}, v.TermLabels("associates"))
	assert.Empty(t, v.TermLabels("worker"), "override replaces the person keyword list")
	assert.Equal(t, 0.95, v.Priority("policy"))
	assert.Contains(t, v.TermLabels("department"), "organization", "untouched labels keep defaults")
}

func TestLoadVocabulary_Errors(t *testing.T) {
	_, err := LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("table_purposes: [unclosed"), 0o600))
	_, err = LoadVocabulary(path)
	assert.Error(t, err)
}
