package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
)

// MySQL server error numbers the adapter distinguishes.
const (
	errAccessDenied      = 1045 // ER_ACCESS_DENIED_ERROR
	errDBAccessDenied    = 1044 // ER_DBACCESS_DENIED_ERROR
	errTableAccessDenied = 1142 // ER_TABLEACCESS_DENIED_ERROR
	errColAccessDenied   = 1143 // ER_COLUMNACCESS_DENIED_ERROR
)

// Adapter provides MySQL schema discovery and query execution.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter opens and pings a MySQL connection pool.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyError("ping", cfg.Database, err)
	}
	return newAdapterWithDB(cfg, db, logger), nil
}

func newAdapterWithDB(cfg *Config, db *sql.DB, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{config: cfg, db: db, logger: logger.Named("mysql")}
}

// buildDSN uses the driver's own Config so credentials are escaped correctly.
func buildDSN(cfg *Config) string {
	dc := driver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(cfg.Port))
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Timeout = 10 * time.Second
	dc.TLSConfig = cfg.TLS
	return dc.FormatDSN()
}

// TestConnection verifies the database is reachable and is the configured database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return classifyError("ping", a.config.Database, err)
	}
	var currentDB sql.NullString
	if err := a.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return classifyError("current database", a.config.Database, err)
	}
	if currentDB.String != a.config.Database {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB.String)
	}
	return nil
}

// Dialect implements datasource.QueryExecutor.
func (a *Adapter) Dialect() datasource.Dialect {
	return datasource.MySQLDialect
}

// Close releases the pool.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// ExecuteQueryWithParams runs a parameterized query using ? placeholders.
func (a *Adapter) ExecuteQueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*datasource.QueryExecutionResult, error) {
	start := time.Now()

	rows, err := a.db.QueryContext(ctx, datasource.MySQLDialect.WrapLimit(sqlQuery, limit), params...)
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
	return &datasource.QueryExecutionResult{Columns: columns, Rows: resultRows, RowCount: len(resultRows)}, nil
}

func classifyError(op, object string, err error) error {
	if err == nil {
		return nil
	}

	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errTableAccessDenied, errColAccessDenied:
			return apperrors.NewPermissionError(object, err)
		case errAccessDenied, errDBAccessDenied:
			return apperrors.NewConnectionError("mysql", fmt.Errorf("%s: %w", op, err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrInvalidConn) {
		return apperrors.NewConnectionError("mysql", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ensure Adapter implements datasource.Adapter at compile time.
var _ datasource.Adapter = (*Adapter)(nil)
