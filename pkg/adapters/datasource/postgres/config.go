package postgres

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Schema   string // introspected schema, default "public"
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	MaxConns int32
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:     datasource.IntOption(config, "port", DefaultPort()),
		Schema:   "public",
		SSLMode:  "require",
		MaxConns: int32(datasource.IntOption(config, "max_conns", 10)),
	}

	var ok bool
	if cfg.Host, ok = datasource.StringOption(config, "host"); !ok {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.User, ok = datasource.StringOption(config, "user"); !ok {
		return nil, fmt.Errorf("user is required")
	}
	if cfg.Database, ok = datasource.StringOption(config, "database"); !ok {
		return nil, fmt.Errorf("database is required")
	}
	cfg.Password, _ = datasource.StringOption(config, "password")
	if schema, ok := datasource.StringOption(config, "schema"); ok {
		cfg.Schema = schema
	}
	if sslMode, ok := datasource.StringOption(config, "ssl_mode"); ok {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}
