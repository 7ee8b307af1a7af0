package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// DatabaseInfo returns the server version and current database.
func (a *Adapter) DatabaseInfo(ctx context.Context) (*datasource.DatabaseInfo, error) {
	info := &datasource.DatabaseInfo{Dialect: "mysql"}
	if err := a.db.QueryRowContext(ctx, "SELECT DATABASE(), VERSION()").Scan(&info.DatabaseName, &info.Version); err != nil {
		return nil, classifyError("query database info", a.config.Database, err)
	}
	return info, nil
}

// DiscoverTables returns base tables in the configured database.
func (a *Adapter) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT TABLE_SCHEMA, TABLE_NAME, COALESCE(TABLE_ROWS, 0)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	rows, err := a.db.QueryContext(ctx, query, a.config.Database)
	if err != nil {
		return nil, classifyError("query tables", a.config.Database, err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate tables", a.config.Database, err)
	}

	a.logger.Debug("Discovered tables", zap.String("database", a.config.Database), zap.Int("count", len(tables)))
	return tables, nil
}

// DiscoverColumns returns columns for a table. COLUMN_KEY reports PRI for
// primary key members and UNI for single-column unique indexes.
func (a *Adapter) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE = 'YES',
			COLUMN_KEY,
			ORDINAL_POSITION,
			COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := a.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, classifyError("query columns", schemaName+"."+tableName, err)
	}
	defer rows.Close()

	var (
		columns []datasource.ColumnMetadata
		pkCount int
	)
	for rows.Next() {
		var (
			c   datasource.ColumnMetadata
			key string
			def sql.NullString
		)
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &key, &c.OrdinalPosition, &def); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.DataType = strings.ToUpper(c.DataType)
		c.IsPrimaryKey = key == "PRI"
		c.IsUnique = key == "UNI"
		if def.Valid {
			c.DefaultValue = &def.String
		}
		if c.IsPrimaryKey {
			pkCount++
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate columns", schemaName+"."+tableName, err)
	}

	// Composite keys are not single-column identifiers.
	if pkCount > 1 {
		for i := range columns {
			columns[i].IsPrimaryKey = false
		}
	}
	return columns, nil
}

// DiscoverForeignKeys returns declared foreign keys in the configured database.
func (a *Adapter) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
		SELECT
			CONSTRAINT_NAME,
			TABLE_SCHEMA, TABLE_NAME, COLUMN_NAME,
			REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
	`
	rows, err := a.db.QueryContext(ctx, query, a.config.Database)
	if err != nil {
		return nil, classifyError("query foreign keys", a.config.Database, err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate foreign keys", a.config.Database, err)
	}
	return fks, nil
}

// SampleRows returns at most limit rows from a table.
func (a *Adapter) SampleRows(ctx context.Context, schemaName, tableName string, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT ?", datasource.MySQLDialect.QualifiedTable(schemaName, tableName))
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, classifyError("sample rows", schemaName+"."+tableName, err)
	}
	defer rows.Close()

	_, result, err := datasource.ScanRows(rows)
	return result, err
}

// GetDistinctValues returns up to limit distinct non-null values from a column.
func (a *Adapter) GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error) {
	col := datasource.MySQLDialect.QuoteIdentifier(columnName)
	query := fmt.Sprintf("SELECT DISTINCT CAST(%s AS CHAR) FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT ?",
		col, datasource.MySQLDialect.QualifiedTable(schemaName, tableName), col)

	rows, err := a.db.QueryContext(ctx, query, limit)
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
