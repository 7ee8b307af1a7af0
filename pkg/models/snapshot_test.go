package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hrSnapshot() *SchemaSnapshot {
	tables := []*TableDescriptor{
		{Name: "employees", Purpose: Purpose{Label: "person", Confidence: 0.9}, Columns: []ColumnDescriptor{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "department_id", DataType: "integer", IsForeignKey: true},
			{Name: "salary", DataType: "numeric(12,2)"},
		}},
		{Name: "departments", Purpose: Purpose{Label: "organization", Confidence: 0.8}, Columns: []ColumnDescriptor{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "name", DataType: "text"},
		}},
		{Name: "audit_blob", Purpose: UnknownPurpose("permission denied")},
	}
	edges := []RelationshipEdge{
		{FromTable: "employees", FromColumn: "department_id", ToTable: "departments", ToColumn: "id", Kind: RelationshipExplicitFK, Confidence: 1},
	}
	return NewSchemaSnapshot("default", SourceFingerprint("postgres", "db", "hr"), DatabaseInfo{Dialect: "postgres"}, tables, edges, time.Unix(0, 0))
}

func TestSchemaSnapshot_Lookups(t *testing.T) {
	s := hrSnapshot()

	tbl, ok := s.Table("EMPLOYEES")
	require.True(t, ok)
	assert.Equal(t, "employees", tbl.Name)
	assert.Equal(t, "id", tbl.PrimaryKey())

	col, ok := tbl.Column("Salary")
	require.True(t, ok)
	assert.True(t, col.IsNumeric())
	assert.False(t, col.IsText())

	assert.Len(t, s.EdgesFrom("employees"), 1)
	assert.Len(t, s.EdgesTo("departments"), 1)
	assert.Empty(t, s.EdgesTo("employees"))
	assert.Equal(t, 1, s.FanIn("departments"))
	assert.Equal(t, []string{"audit_blob", "departments", "employees"}, s.TableNames())
}

func TestSchemaSnapshot_Summary(t *testing.T) {
	sum := hrSnapshot().Summary()

	assert.Equal(t, 3, sum.TableCount)
	assert.Equal(t, 5, sum.ColumnCount)
	assert.Equal(t, 1, sum.RelationshipCount)
	assert.Equal(t, []string{"departments", "employees"}, sum.KeyEntities)
	assert.Equal(t, []string{"audit_blob"}, sum.UnknownTables)
}

func TestSchemaSnapshot_Expired(t *testing.T) {
	s := hrSnapshot()
	assert.False(t, s.Expired(0, time.Now()))
	assert.True(t, s.Expired(time.Hour, time.Unix(0, 0).Add(2*time.Hour)))
	assert.False(t, s.Expired(time.Hour, time.Unix(0, 0).Add(30*time.Minute)))
}

func TestSourceFingerprint_Stable(t *testing.T) {
	a := SourceFingerprint("postgres", "db", "hr")
	assert.Equal(t, a, SourceFingerprint("postgres", "db", "hr"))
	assert.NotEqual(t, a, SourceFingerprint("postgres", "dbh", "r"))
	assert.Len(t, a, 64)
}

func TestGeneratedQuery_RiskFlags(t *testing.T) {
	q := &GeneratedQuery{Text: "SELECT 1", Validated: true}
	assert.True(t, q.Executable())

	q.AddRiskFlag(RiskSQLComment)
	q.AddRiskFlag(RiskDenylistedToken)
	q.AddRiskFlag(RiskSQLComment)

	assert.False(t, q.Executable())
	assert.Equal(t, []string{RiskDenylistedToken, RiskSQLComment}, q.RiskFlags)
}

func TestMatchKindRank(t *testing.T) {
	assert.Greater(t, MatchKindRank(MatchExact), MatchKindRank(MatchSemantic))
	assert.Greater(t, MatchKindRank(MatchSemantic), MatchKindRank(MatchFuzzy))
}
