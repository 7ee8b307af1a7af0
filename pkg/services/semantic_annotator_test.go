package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/oracle"
)

var annotatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// withProjects adds projects(id, name, employee_id) with no declared FK.
func withProjects(a *fakeAdapter) *fakeAdapter {
	a.tables = append(a.tables, fakeTable{
		meta: datasource.TableMetadata{SchemaName: "public", TableName: "projects"},
		columns: []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "name", DataType: "text", OrdinalPosition: 2},
			{ColumnName: "employee_id", DataType: "integer", OrdinalPosition: 3},
		},
	})
	return a
}

func introspect(t *testing.T, a *fakeAdapter) *RawSchema {
	t.Helper()
	raw, err := NewSchemaIntrospector(IntrospectionOptions{Retry: noRetry()}, nil).Introspect(context.Background(), a)
	require.NoError(t, err)
	return raw
}

func edge(snap *models.SchemaSnapshot, from, to string) (models.RelationshipEdge, bool) {
	for _, e := range snap.EdgesFrom(from) {
		if e.ToTable == to {
			return e, true
		}
	}
	return models.RelationshipEdge{}, false
}

func TestSemanticAnnotator_ExplicitForeignKey(t *testing.T) {
	snap := hrSnapshot(t, hrAdapter())

	require.Len(t, snap.Relationships, 1)
	e := snap.Relationships[0]
	assert.Equal(t, models.RelationshipExplicitFK, e.Kind)
	assert.Equal(t, 1.0, e.Confidence)
	assert.Equal(t, "employees", e.FromTable)
	assert.Equal(t, "department_id", e.FromColumn)
	assert.Equal(t, "departments", e.ToTable)
	assert.Equal(t, "id", e.ToColumn)
}

func TestSemanticAnnotator_OracleUnavailableCapsConfidence(t *testing.T) {
	raw := introspect(t, withProjects(hrAdapter()))
	snap := NewSemanticAnnotator(AnnotatorOptions{HeuristicCeiling: 0.6}, nil, oracle.Disabled{}, nil).
		Annotate(context.Background(), "hr", "fp", raw, annotatedAt)

	for _, name := range snap.TableNames() {
		table := snap.Tables[name]
		assert.Less(t, table.Purpose.Confidence, 0.6, name)
		assert.Contains(t, table.Purpose.Evidence, "oracle unavailable: oracle disabled")
		for _, c := range table.Columns {
			assert.Less(t, c.Purpose.Confidence, 0.6, name+"."+c.Name)
		}
	}

	employees, _ := snap.Table("employees")
	assert.Equal(t, "person", employees.Purpose.Label)
	salary, _ := employees.Column("salary")
	assert.Equal(t, "compensation", salary.Purpose.Label)

	inferred, ok := edge(snap, "projects", "employees")
	require.True(t, ok)
	assert.Equal(t, models.RelationshipInferred, inferred.Kind)
	assert.Less(t, inferred.Confidence, 0.6)

	explicit, ok := edge(snap, "employees", "departments")
	require.True(t, ok)
	assert.Equal(t, 1.0, explicit.Confidence, "declared constraints are not capped")
}

func TestSemanticAnnotator_OracleBlend(t *testing.T) {
	orc := &scriptedOracle{answers: map[string]oracle.Result{
		"employees":                          {Status: oracle.StatusOK, Label: "person", Confidence: 0.5},
		"projects.employee_id->employees.id": {Status: oracle.StatusOK, Label: "inferred", Confidence: 1.0},
		"employees.salary":                   oracle.Unavailable("timeout"),
	}}
	raw := introspect(t, withProjects(hrAdapter()))
	snap := NewSemanticAnnotator(AnnotatorOptions{OracleWeight: 0.7, HeuristicWeight: 0.3, Concurrency: 2}, nil, orc, nil).
		Annotate(context.Background(), "hr", "fp", raw, annotatedAt)

	employees, _ := snap.Table("employees")
	assert.Equal(t, "person", employees.Purpose.Label)
	// heuristic: keyword 0.9, primary key +0.05, referenced +0.05
	assert.InDelta(t, 0.7*0.5+0.3*1.0, employees.Purpose.Confidence, 1e-9)

	salary, _ := employees.Column("salary")
	assert.Less(t, salary.Purpose.Confidence, 0.6, "unavailable answers stay below the ceiling")

	name, _ := employees.Column("name")
	assert.Contains(t, name.Purpose.Evidence[len(name.Purpose.Evidence)-1], "oracle malformed")

	inferred, ok := edge(snap, "projects", "employees")
	require.True(t, ok)
	assert.Equal(t, models.MaxInferredConfidence, inferred.Confidence, "inferred edges never exceed 0.9")

	assert.Positive(t, orc.calls.Load())
}

func TestSemanticAnnotator_Deterministic(t *testing.T) {
	annotate := func() *models.SchemaSnapshot {
		return NewSemanticAnnotator(AnnotatorOptions{}, nil, nil, nil).
			Annotate(context.Background(), "hr", "fp", introspect(t, withProjects(hrAdapter())), annotatedAt)
	}
	first, second := annotate(), annotate()

	assert.Equal(t, first.Relationships, second.Relationships)
	for _, name := range first.TableNames() {
		assert.Equal(t, first.Tables[name], second.Tables[name], name)
	}
}

func TestSemanticAnnotator_UnreadableTable(t *testing.T) {
	a := hrAdapter()
	a.table("departments").columnsErr = apperrors.NewPermissionError("departments", errors.New("denied"))

	snap := NewSemanticAnnotator(AnnotatorOptions{}, nil, nil, nil).
		Annotate(context.Background(), "hr", "fp", introspect(t, a), annotatedAt)

	departments, ok := snap.Table("departments")
	require.True(t, ok)
	assert.Equal(t, models.PurposeUnknown, departments.Purpose.Label)
	assert.Zero(t, departments.Purpose.Confidence)
	assert.Contains(t, snap.Summary().UnknownTables, "departments")
}
