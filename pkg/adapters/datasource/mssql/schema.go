package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// DatabaseInfo returns the server version and current database.
func (a *Adapter) DatabaseInfo(ctx context.Context) (*datasource.DatabaseInfo, error) {
	info := &datasource.DatabaseInfo{Dialect: "mssql"}
	err := a.db.QueryRowContext(ctx,
		"SELECT DB_NAME(), CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128))").
		Scan(&info.DatabaseName, &info.Version)
	if err != nil {
		return nil, classifyError("query database info", a.config.Database, err)
	}
	return info, nil
}

// DiscoverTables returns user tables in the configured schema.
func (a *Adapter) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    SUM(p.rows) AS row_count
	FROM sys.tables t
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE p.index_id IN (0, 1)
	  AND t.is_ms_shipped = 0
	  AND SCHEMA_NAME(t.schema_id) = @schema
	GROUP BY t.schema_id, t.name
	ORDER BY table_name
	`

	rows, err := a.db.QueryContext(ctx, query, sql.Named("schema", a.config.Schema))
	if err != nil {
		return nil, classifyError("query tables", a.config.Schema, err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate tables", a.config.Schema, err)
	}

	a.logger.Debug("Discovered tables", zap.String("schema", a.config.Schema), zap.Int("count", len(tables)))
	return tables, nil
}

// DiscoverColumns returns columns for a table. Only single-column primary
// keys and unique indexes are flagged.
func (a *Adapter) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    CASE WHEN uq.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_unique,
	    c.column_id AS ordinal_position
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, MIN(ic.column_id) AS column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	    GROUP BY ic.object_id, ic.index_id
	    HAVING COUNT(*) = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	LEFT JOIN (
	    SELECT ic.object_id, MIN(ic.column_id) AS column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_unique = 1 AND i.is_primary_key = 0
	    GROUP BY ic.object_id, ic.index_id
	    HAVING COUNT(*) = 1
	) uq ON c.object_id = uq.object_id AND c.column_id = uq.column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
	`

	rows, err := a.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, classifyError("query columns", schemaName+"."+tableName, err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var col datasource.ColumnMetadata
		var isNullable, isPrimary, isUnique int
		if err := rows.Scan(&col.ColumnName, &col.DataType, &isNullable, &isPrimary, &isUnique, &col.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		col.IsNullable = isNullable == 1
		col.IsPrimaryKey = isPrimary == 1
		col.IsUnique = isUnique == 1
		col.DataType = mapSQLServerType(col.DataType)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate columns", schemaName+"."+tableName, err)
	}

	return columns, nil
}

// DiscoverForeignKeys returns declared foreign keys whose source is in the configured schema.
func (a *Adapter) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    fk.name AS constraint_name,
	    SCHEMA_NAME(fk.schema_id) AS source_schema,
	    OBJECT_NAME(fk.parent_object_id) AS source_table,
	    COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS source_column,
	    SCHEMA_NAME(rt.schema_id) AS target_schema,
	    OBJECT_NAME(fk.referenced_object_id) AS target_table,
	    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS target_column
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	WHERE fk.is_ms_shipped = 0
	  AND SCHEMA_NAME(fk.schema_id) = @schema
	ORDER BY source_table, fk.name, fkc.constraint_column_id
	`

	rows, err := a.db.QueryContext(ctx, query, sql.Named("schema", a.config.Schema))
	if err != nil {
		return nil, classifyError("query foreign keys", a.config.Schema, err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate foreign keys", a.config.Schema, err)
	}

	return fks, nil
}

// SampleRows returns at most limit rows from a table.
func (a *Adapter) SampleRows(ctx context.Context, schemaName, tableName string, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT TOP (@p1) * FROM %s WITH (NOLOCK)",
		datasource.SQLServerDialect.QualifiedTable(schemaName, tableName))

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, classifyError("sample rows", schemaName+"."+tableName, err)
	}
	defer rows.Close()

	_, result, err := datasource.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDistinctValues returns up to limit distinct non-null values from a column.
func (a *Adapter) GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error) {
	col := datasource.SQLServerDialect.QuoteIdentifier(columnName)
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT DISTINCT TOP (%d) CAST(%s AS NVARCHAR(MAX)) AS val
	FROM %s WITH (NOLOCK)
	WHERE %s IS NOT NULL
	ORDER BY 1
	`, limit, col, datasource.SQLServerDialect.QualifiedTable(schemaName, tableName), col)

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyError("distinct values", schemaName+"."+tableName+"."+columnName, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var val string
		if err := rows.Scan(&val); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, val)
	}
	return values, rows.Err()
}
