package mysql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string // also the introspected schema
	TLS      string // go-sql-driver tls parameter: "false", "true", "skip-verify", "preferred"
	MaxConns int
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:     datasource.IntOption(config, "port", DefaultPort()),
		TLS:      "preferred",
		MaxConns: datasource.IntOption(config, "max_conns", 10),
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
	if tls, ok := datasource.StringOption(config, "ssl_mode"); ok {
		cfg.TLS = tls
	}
	return cfg, nil
}
