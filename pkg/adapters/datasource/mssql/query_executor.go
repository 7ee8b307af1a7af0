package mssql

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
)

// ExecuteQueryWithParams runs a parameterized query using @p1, @p2 placeholders.
// go-mssqldb binds positional args to @pN natively.
func (a *Adapter) ExecuteQueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	start := time.Now()

	rows, err := a.db.QueryContext(ctx, datasource.SQLServerDialect.WrapLimit(sqlQuery, limit), params...)
	if err != nil {
		a.logger.Warn("Query failed",
			zap.String("query", logging.SanitizeQuery(sqlQuery)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, classifyError("execute query", a.config.Database, err)
	}
	defer rows.Close()

	columns, resultRows, err := datasource.ScanRows(rows)
	if err != nil {
		return nil, classifyError("execute query", a.config.Database, err)
	}

	a.logger.Debug("Query completed",
		zap.Int("rows", len(resultRows)),
		zap.Duration("elapsed", time.Since(start)))

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
