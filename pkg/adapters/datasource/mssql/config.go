package mssql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// Auth methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Schema   string // introspected schema, default "dbo"

	// AuthMethod is "sql" or "service_principal".
	AuthMethod string

	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map and auto-detects the auth method.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:                   datasource.IntOption(config, "port", DefaultPort()),
		Schema:                 "dbo",
		Encrypt:                datasource.BoolOption(config, "encrypt", true),
		TrustServerCertificate: datasource.BoolOption(config, "trust_server_certificate", false),
		ConnectionTimeout:      datasource.IntOption(config, "connection_timeout", DefaultConnectionTimeout()),
	}

	var ok bool
	if cfg.Host, ok = datasource.StringOption(config, "host"); !ok {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Database, ok = datasource.StringOption(config, "database"); !ok {
		return nil, fmt.Errorf("database is required")
	}
	if schema, ok := datasource.StringOption(config, "schema"); ok {
		cfg.Schema = schema
	}

	if method, ok := datasource.StringOption(config, "auth_method"); ok {
		cfg.AuthMethod = method
	} else if _, ok := datasource.StringOption(config, "client_id"); ok {
		cfg.AuthMethod = AuthServicePrincipal
	} else if _, ok := datasource.StringOption(config, "user"); ok {
		cfg.AuthMethod = AuthSQL
	} else {
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	cfg.Username, _ = datasource.StringOption(config, "user")
	cfg.Password, _ = datasource.StringOption(config, "password")
	cfg.TenantID, _ = datasource.StringOption(config, "tenant_id")
	cfg.ClientID, _ = datasource.StringOption(config, "client_id")
	cfg.ClientSecret, _ = datasource.StringOption(config, "client_secret")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the fields needed by the selected auth method are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("user is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("tenant_id, client_id and client_secret are required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", c.AuthMethod)
	}
	return nil
}
