//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

func setupAdapter(t *testing.T) *Adapter {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	cfg, err := FromMap(testDB.AdapterConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter, err := NewAdapter(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	require.NoError(t, adapter.TestConnection(ctx))
	return adapter
}

func TestAdapter_DiscoverForeignKeys_EmployeesDepartments(t *testing.T) {
	adapter := setupAdapter(t)
	ctx := context.Background()

	fks, err := adapter.DiscoverForeignKeys(ctx)
	require.NoError(t, err)
	require.Len(t, fks, 1)

	assert.Equal(t, "employees", fks[0].SourceTable)
	assert.Equal(t, "department_id", fks[0].SourceColumn)
	assert.Equal(t, "departments", fks[0].TargetTable)
	assert.Equal(t, "id", fks[0].TargetColumn)
}

func TestAdapter_DiscoverColumns(t *testing.T) {
	adapter := setupAdapter(t)

	columns, err := adapter.DiscoverColumns(context.Background(), "public", "employees")
	require.NoError(t, err)
	require.Len(t, columns, 4)

	assert.Equal(t, "id", columns[0].ColumnName)
	assert.True(t, columns[0].IsPrimaryKey)
	assert.Equal(t, "salary", columns[3].ColumnName)
	assert.Equal(t, "numeric", columns[3].DataType)
}

func TestAdapter_SampleRowsAndParams(t *testing.T) {
	adapter := setupAdapter(t)
	ctx := context.Background()

	rows, err := adapter.SampleRows(ctx, "public", "employees", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	result, err := adapter.ExecuteQueryWithParams(ctx,
		`SELECT "employees"."id", "employees"."salary" FROM "public"."employees" WHERE "employees"."salary" > $1`,
		[]any{100000}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
}
