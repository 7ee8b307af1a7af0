package sqlite

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
)

// Config contains SQLite connection options.
type Config struct {
	Path     string
	ReadOnly bool
}

// FromMap creates a Config from a generic config map. Connections open
// read-only unless read_only is explicitly false.
func FromMap(config map[string]any) (*Config, error) {
	path, ok := datasource.StringOption(config, "path")
	if !ok {
		path, ok = datasource.StringOption(config, "database")
	}
	if !ok {
		return nil, fmt.Errorf("path is required")
	}
	return &Config{
		Path:     path,
		ReadOnly: datasource.BoolOption(config, "read_only", true),
	}, nil
}
