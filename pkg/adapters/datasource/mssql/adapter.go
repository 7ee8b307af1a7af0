package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // registers the azuresql driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
)

// SQL Server error numbers the adapter distinguishes.
const (
	errPermissionDenied = 229   // The %ls permission was denied on the object
	errLoginFailed      = 18456 // Login failed for user
	errCannotOpenDB     = 4060  // Cannot open database requested by the login
)

// Adapter provides SQL Server schema discovery and query execution over one *sql.DB.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter opens and pings a SQL Server connection.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	driver, connStr := connectionString(cfg)
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
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
	return &Adapter{config: cfg, db: db, logger: logger.Named("mssql")}
}

// connectionString returns the driver name and DSN for the configured auth method.
// Service principal logins go through the azuresql driver.
func connectionString(cfg *Config) (string, string) {
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", strconv.FormatBool(cfg.Encrypt))
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}

	host := net.JoinHostPort(config.ResolveHostForDocker(cfg.Host), strconv.Itoa(cfg.Port))
	u := &url.URL{Scheme: "sqlserver", Host: host}

	driver := "sqlserver"
	switch cfg.AuthMethod {
	case AuthServicePrincipal:
		driver = "azuresql"
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID+"@"+cfg.TenantID)
		query.Add("password", cfg.ClientSecret)
	default:
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	u.RawQuery = query.Encode()
	return driver, u.String()
}

// TestConnection verifies the database is reachable and is the configured database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return classifyError("ping", a.config.Database, err)
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return classifyError("current database", a.config.Database, err)
	}
	if currentDB != a.config.Database {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}
	return nil
}

// Dialect implements datasource.QueryExecutor.
func (a *Adapter) Dialect() datasource.Dialect {
	return datasource.SQLServerDialect
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// classifyError maps driver failures onto the engine's error taxonomy.
func classifyError(op, object string, err error) error {
	if err == nil {
		return nil
	}

	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case errPermissionDenied:
			return apperrors.NewPermissionError(object, err)
		case errLoginFailed, errCannotOpenDB:
			return apperrors.NewConnectionError("mssql", fmt.Errorf("%s: %w", op, err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewConnectionError("mssql", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ensure Adapter implements datasource.Adapter at compile time.
var _ datasource.Adapter = (*Adapter)(nil)
