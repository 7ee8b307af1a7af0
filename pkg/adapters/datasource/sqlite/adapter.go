// Package sqlite is the datasource adapter for local SQLite files, backed by
// the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
)

// schemaName is the name SQLite gives the primary attached database.
const schemaName = "main"

// Adapter provides SQLite schema discovery and query execution.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter opens the database file. A missing file is a connection error;
// the driver would otherwise create an empty database.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, apperrors.NewConnectionError("sqlite", err)
	}

	db, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewConnectionError("sqlite", err)
	}

	return &Adapter{config: cfg, db: db, logger: logger.Named("sqlite")}, nil
}

func buildDSN(cfg *Config) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	if cfg.ReadOnly {
		q.Set("mode", "ro")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// TestConnection verifies the file is a readable SQLite database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&n); err != nil {
		return apperrors.NewConnectionError("sqlite", err)
	}
	return nil
}

// Dialect implements datasource.QueryExecutor.
func (a *Adapter) Dialect() datasource.Dialect {
	return datasource.SQLiteDialect
}

// Close releases the database handle.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// DatabaseInfo returns the library version and file name.
func (a *Adapter) DatabaseInfo(ctx context.Context) (*datasource.DatabaseInfo, error) {
	info := &datasource.DatabaseInfo{
		Dialect:      "sqlite",
		DatabaseName: filepath.Base(a.config.Path),
	}
	if err := a.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&info.Version); err != nil {
		return nil, fmt.Errorf("query database info: %w", err)
	}
	return info, nil
}

// ExecuteQueryWithParams runs a parameterized query using ? placeholders.
func (a *Adapter) ExecuteQueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	start := time.Now()

	rows, err := a.db.QueryContext(ctx, datasource.SQLiteDialect.WrapLimit(sqlQuery, limit), params...)
	if err != nil {
		a.logger.Warn("Query failed",
			zap.String("query", logging.SanitizeQuery(sqlQuery)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, resultRows, err := datasource.ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	a.logger.Debug("Query completed",
		zap.Int("rows", len(resultRows)),
		zap.Duration("elapsed", time.Since(start)))
	return &datasource.QueryExecutionResult{Columns: columns, Rows: resultRows, RowCount: len(resultRows)}, nil
}

// isMissing reports a sql.ErrNoRows wrapped anywhere in err.
func isMissing(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Ensure Adapter implements datasource.Adapter at compile time.
var _ datasource.Adapter = (*Adapter)(nil)
