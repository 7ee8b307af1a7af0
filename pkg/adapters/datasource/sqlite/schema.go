package sqlite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// DiscoverTables returns user tables with exact row counts.
func (a *Adapter) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	tables := make([]datasource.TableMetadata, 0, len(names))
	for _, name := range names {
		t := datasource.TableMetadata{SchemaName: schemaName, TableName: name}
		countQuery := "SELECT COUNT(*) FROM " + datasource.SQLiteDialect.QuoteIdentifier(name)
		if err := a.db.QueryRowContext(ctx, countQuery).Scan(&t.RowCount); err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", name, err)
		}
		tables = append(tables, t)
	}

	a.logger.Debug("Discovered tables", zap.Int("count", len(tables)))
	return tables, nil
}

// DiscoverColumns returns columns for a table from PRAGMA table_info.
func (a *Adapter) DiscoverColumns(ctx context.Context, _, tableName string) ([]datasource.ColumnMetadata, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var (
		columns []datasource.ColumnMetadata
		pkCount int
	)
	for rows.Next() {
		var (
			cid, notNull, pk int
			c                datasource.ColumnMetadata
			def              *string
		)
		if err := rows.Scan(&cid, &c.ColumnName, &c.DataType, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.OrdinalPosition = cid + 1
		c.DataType = strings.ToUpper(c.DataType)
		c.IsNullable = notNull == 0 && pk == 0
		c.IsPrimaryKey = pk > 0
		c.DefaultValue = def
		if pk > 0 {
			pkCount++
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if pkCount > 1 {
		for i := range columns {
			columns[i].IsPrimaryKey = false
		}
	}

	unique, err := a.uniqueColumns(ctx, tableName)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		columns[i].IsUnique = unique[columns[i].ColumnName]
	}
	return columns, nil
}

// uniqueColumns returns the columns covered by a single-column unique index.
func (a *Adapter) uniqueColumns(ctx context.Context, tableName string) (map[string]bool, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT ii.name
		FROM pragma_index_list(?) il
		JOIN pragma_index_info(il.name) ii
		WHERE il."unique" = 1
		  AND il.origin <> 'pk'
		  AND (SELECT COUNT(*) FROM pragma_index_info(il.name)) = 1
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("query unique indexes: %w", err)
	}
	defer rows.Close()

	unique := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan unique index: %w", err)
		}
		unique[col] = true
	}
	return unique, rows.Err()
}

// DiscoverForeignKeys returns declared foreign keys for every table. A
// reference without an explicit target column points at the target's key.
func (a *Adapter) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	tables, err := a.DiscoverTables(ctx)
	if err != nil {
		return nil, err
	}

	var fks []datasource.ForeignKeyMetadata
	for _, t := range tables {
		rows, err := a.db.QueryContext(ctx,
			`SELECT id, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("query foreign keys for %s: %w", t.TableName, err)
		}
		for rows.Next() {
			var (
				id     int
				target string
				from   string
				to     *string
			)
			if err := rows.Scan(&id, &target, &from, &to); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan foreign key: %w", err)
			}
			fk := datasource.ForeignKeyMetadata{
				ConstraintName: fmt.Sprintf("fk_%s_%d", t.TableName, id),
				SourceSchema:   schemaName,
				SourceTable:    t.TableName,
				SourceColumn:   from,
				TargetSchema:   schemaName,
				TargetTable:    target,
			}
			if to != nil {
				fk.TargetColumn = *to
			}
			fks = append(fks, fk)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate foreign keys: %w", err)
		}
	}

	for i := range fks {
		if fks[i].TargetColumn != "" {
			continue
		}
		pk, err := a.primaryKeyColumn(ctx, fks[i].TargetTable)
		if err != nil {
			return nil, err
		}
		fks[i].TargetColumn = pk
	}
	return fks, nil
}

func (a *Adapter) primaryKeyColumn(ctx context.Context, tableName string) (string, error) {
	var name string
	err := a.db.QueryRowContext(ctx,
		`SELECT name FROM pragma_table_info(?) WHERE pk = 1`, tableName).Scan(&name)
	if isMissing(err) {
		return "rowid", nil
	}
	if err != nil {
		return "", fmt.Errorf("query primary key of %s: %w", tableName, err)
	}
	return name, nil
}

// SampleRows returns at most limit rows from a table.
func (a *Adapter) SampleRows(ctx context.Context, schema, tableName string, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT ?", datasource.SQLiteDialect.QualifiedTable(schema, tableName))
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sample rows: %w", err)
	}
	defer rows.Close()

	_, result, err := datasource.ScanRows(rows)
	return result, err
}

// GetDistinctValues returns up to limit distinct non-null values from a column.
func (a *Adapter) GetDistinctValues(ctx context.Context, schema, tableName, columnName string, limit int) ([]string, error) {
	col := datasource.SQLiteDialect.QuoteIdentifier(columnName)
	query := fmt.Sprintf("SELECT DISTINCT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT ?",
		col, datasource.SQLiteDialect.QualifiedTable(schema, tableName), col)

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("distinct values: %w", err)
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
