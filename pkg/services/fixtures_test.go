package services

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/adapters/vectorstore"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/oracle"
)

// fakeTable is one table served by fakeAdapter.
type fakeTable struct {
	meta    datasource.TableMetadata
	columns []datasource.ColumnMetadata
	rows    []map[string]any
	// columnsErr is returned by DiscoverColumns for this table.
	columnsErr error
}

// fakeAdapter is an in-memory datasource.Adapter.
type fakeAdapter struct {
	mu          sync.Mutex
	dialect     datasource.Dialect
	tables      []fakeTable
	foreignKeys []datasource.ForeignKeyMetadata

	tablesErr error
	queryErr  error
	// discoverDelay slows DiscoverTables so concurrent refreshes overlap.
	discoverDelay time.Duration
	queryDelay    time.Duration
	queryRows     []map[string]any

	discoverCalls atomic.Int32
	queryCalls    atomic.Int32
	closed        atomic.Bool
	queries       []string
	params        [][]any
}

var _ datasource.Adapter = (*fakeAdapter)(nil)

// hrAdapter serves employees(id, name, department_id, salary, hired_at) and
// departments(id, name) with a declared FK between them.
func hrAdapter() *fakeAdapter {
	return &fakeAdapter{
		dialect: datasource.PostgresDialect,
		tables: []fakeTable{
			{
				meta: datasource.TableMetadata{SchemaName: "public", TableName: "departments", RowCount: 2},
				columns: []datasource.ColumnMetadata{
					{ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
					{ColumnName: "name", DataType: "text", IsUnique: true, OrdinalPosition: 2},
				},
				rows: []map[string]any{{"id": int64(1), "name": "Engineering"}, {"id": int64(2), "name": "Sales"}},
			},
			{
				meta: datasource.TableMetadata{SchemaName: "public", TableName: "employees", RowCount: 3},
				columns: []datasource.ColumnMetadata{
					{ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
					{ColumnName: "name", DataType: "text", OrdinalPosition: 2},
					{ColumnName: "department_id", DataType: "integer", IsNullable: true, OrdinalPosition: 3},
					{ColumnName: "salary", DataType: "numeric", IsNullable: true, OrdinalPosition: 4},
					{ColumnName: "hired_at", DataType: "date", IsNullable: true, OrdinalPosition: 5},
				},
				rows: []map[string]any{
					{"id": int64(1), "name": "Ada", "department_id": int64(1), "salary": 150000.0},
					{"id": int64(2), "name": "Grace", "department_id": int64(1), "salary": 95000.0},
				},
			},
		},
		foreignKeys: []datasource.ForeignKeyMetadata{{
			ConstraintName: "employees_department_id_fkey",
			SourceSchema:   "public", SourceTable: "employees", SourceColumn: "department_id",
			TargetSchema: "public", TargetTable: "departments", TargetColumn: "id",
		}},
	}
}

func (f *fakeAdapter) table(name string) *fakeTable {
	for i := range f.tables {
		if f.tables[i].meta.TableName == name {
			return &f.tables[i]
		}
	}
	return nil
}

func (f *fakeAdapter) TestConnection(context.Context) error { return f.tablesErr }

func (f *fakeAdapter) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeAdapter) DatabaseInfo(context.Context) (*datasource.DatabaseInfo, error) {
	if f.tablesErr != nil {
		return nil, f.tablesErr
	}
	return &datasource.DatabaseInfo{Dialect: f.dialect.Name, Version: "16", DatabaseName: "hr"}, nil
}

func (f *fakeAdapter) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	f.discoverCalls.Add(1)
	if f.discoverDelay > 0 {
		select {
		case <-time.After(f.discoverDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.tablesErr != nil {
		return nil, f.tablesErr
	}
	out := make([]datasource.TableMetadata, len(f.tables))
	for i, t := range f.tables {
		out[i] = t.meta
	}
	return out, nil
}

func (f *fakeAdapter) DiscoverColumns(_ context.Context, _, tableName string) ([]datasource.ColumnMetadata, error) {
	t := f.table(tableName)
	if t == nil {
		return nil, nil
	}
	if t.columnsErr != nil {
		return nil, t.columnsErr
	}
	return t.columns, nil
}

func (f *fakeAdapter) DiscoverForeignKeys(context.Context) ([]datasource.ForeignKeyMetadata, error) {
	return f.foreignKeys, nil
}

func (f *fakeAdapter) SampleRows(_ context.Context, _, tableName string, limit int) ([]map[string]any, error) {
	t := f.table(tableName)
	if t == nil {
		return nil, nil
	}
	rows := t.rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeAdapter) GetDistinctValues(_ context.Context, _, tableName, columnName string, limit int) ([]string, error) {
	t := f.table(tableName)
	if t == nil {
		return nil, nil
	}
	var out []string
	seen := map[string]bool{}
	for _, r := range t.rows {
		s, ok := r[columnName].(string)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAdapter) ExecuteQueryWithParams(ctx context.Context, sqlQuery string, params []any, _ int) (*datasource.QueryExecutionResult, error) {
	f.queryCalls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, sqlQuery)
	f.params = append(f.params, params)
	f.mu.Unlock()

	if f.queryDelay > 0 {
		select {
		case <-time.After(f.queryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var cols []datasource.ColumnInfo
	if len(f.queryRows) > 0 {
		for k := range f.queryRows[0] {
			cols = append(cols, datasource.ColumnInfo{Name: k})
		}
	}
	return &datasource.QueryExecutionResult{Columns: cols, Rows: f.queryRows, RowCount: len(f.queryRows)}, nil
}

func (f *fakeAdapter) Dialect() datasource.Dialect { return f.dialect }

func (f *fakeAdapter) lastQuery() (string, []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return "", nil
	}
	return f.queries[len(f.queries)-1], f.params[len(f.params)-1]
}

// fakeIndex is an in-memory vectorstore.Index.
type fakeIndex struct {
	mu    sync.Mutex
	hits  []models.DocumentHit
	err   error
	calls atomic.Int32
	last  vectorstore.SearchRequest
}

var _ vectorstore.Index = (*fakeIndex)(nil)

func (f *fakeIndex) Search(_ context.Context, req vectorstore.SearchRequest) ([]models.DocumentHit, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.DocumentHit
	for _, h := range f.hits {
		if len(req.DocTypes) > 0 && !containsString(req.DocTypes, h.DocType) {
			continue
		}
		if h.Similarity < req.MinSimilarity {
			continue
		}
		out = append(out, h)
	}
	if req.TopK > 0 && len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return out, nil
}

func (f *fakeIndex) Ping(context.Context) error { return f.err }

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) lastRequest() vectorstore.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// scriptedOracle answers by subject and counts calls.
type scriptedOracle struct {
	answers map[string]oracle.Result
	calls   atomic.Int32
}

func (o *scriptedOracle) Classify(_ context.Context, req oracle.Request) oracle.Result {
	o.calls.Add(1)
	if r, ok := o.answers[req.Subject]; ok {
		return r
	}
	return oracle.Malformed("no scripted answer for " + req.Subject)
}

func (o *scriptedOracle) Available() bool { return true }

// hrSnapshot introspects and annotates adapter with heuristics only.
func hrSnapshot(t *testing.T, adapter *fakeAdapter) *models.SchemaSnapshot {
	t.Helper()
	raw, err := NewSchemaIntrospector(IntrospectionOptions{}, nil).Introspect(context.Background(), adapter)
	require.NoError(t, err)
	return NewSemanticAnnotator(AnnotatorOptions{}, nil, nil, nil).
		Annotate(context.Background(), "hr", "fp-hr", raw, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

// parse runs the default vocabulary over text.
func parse(text string) *ParsedQuery {
	return ParseQuery(SanitizeInput(text), DefaultVocabulary())
}

func termWords(q *ParsedQuery) []string {
	out := make([]string, len(q.Terms))
	for i, t := range q.Terms {
		out[i] = t.Word
	}
	return out
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
