package datasource

import "context"

// MaxQueryLimit caps the number of rows any structured query may return.
const MaxQueryLimit = 1000

// ConnectionTester verifies that a datasource is reachable.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with the configured credentials.
	TestConnection(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}

// SchemaDiscoverer extracts raw structural facts from a live database.
// Implementations return *apperrors.ConnectionError when the database cannot be
// reached and *apperrors.PermissionError when a specific object cannot be read.
type SchemaDiscoverer interface {
	// DatabaseInfo returns dialect, server version and database name.
	DatabaseInfo(ctx context.Context) (*DatabaseInfo, error)

	// DiscoverTables returns all user tables in the configured schema.
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)

	// DiscoverColumns returns columns for a specific table in ordinal order.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)

	// DiscoverForeignKeys returns all declared foreign keys in the configured schema.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMetadata, error)

	// SampleRows returns at most limit rows from the table. Never reads the full table.
	SampleRows(ctx context.Context, schemaName, tableName string, limit int) ([]map[string]any, error)

	// GetDistinctValues returns up to limit distinct non-null values of a column, as text.
	GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error)

	Close() error
}

// QueryExecutor runs validated, parameterized read queries.
type QueryExecutor interface {
	// ExecuteQueryWithParams runs sqlQuery with positional params in the dialect's
	// placeholder style. A positive limit wraps the query with the dialect's row limit.
	ExecuteQueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)

	// Dialect returns quoting and placeholder rules for generated SQL.
	Dialect() Dialect

	Close() error
}

// Adapter is the full database handle consumed by the engine.
type Adapter interface {
	ConnectionTester
	SchemaDiscoverer
	QueryExecutor
}
