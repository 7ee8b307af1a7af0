package datasource

import (
	"fmt"
	"strings"
)

// PlaceholderStyle is how a driver expects positional parameters.
type PlaceholderStyle int

const (
	PlaceholderDollar   PlaceholderStyle = iota // $1, $2
	PlaceholderAtP                              // @p1, @p2
	PlaceholderQuestion                         // ?, ?
)

// Dialect captures the SQL syntax differences the query generator cares about.
type Dialect struct {
	Name         string
	quoteOpen    string
	quoteClose   string
	Placeholders PlaceholderStyle
	topLimit     bool
}

var (
	PostgresDialect  = Dialect{Name: "postgres", quoteOpen: `"`, quoteClose: `"`, Placeholders: PlaceholderDollar}
	SQLServerDialect = Dialect{Name: "mssql", quoteOpen: "[", quoteClose: "]", Placeholders: PlaceholderAtP, topLimit: true}
	MySQLDialect     = Dialect{Name: "mysql", quoteOpen: "`", quoteClose: "`", Placeholders: PlaceholderQuestion}
	SQLiteDialect    = Dialect{Name: "sqlite", quoteOpen: `"`, quoteClose: `"`, Placeholders: PlaceholderQuestion}
)

// QuoteIdentifier quotes a single identifier, doubling any embedded close quote.
func (d Dialect) QuoteIdentifier(name string) string {
	return d.quoteOpen + strings.ReplaceAll(name, d.quoteClose, d.quoteClose+d.quoteClose) + d.quoteClose
}

// QualifiedTable returns schema.table, or just table when schemaName is empty.
func (d Dialect) QualifiedTable(schemaName, tableName string) string {
	if schemaName == "" {
		return d.QuoteIdentifier(tableName)
	}
	return d.QuoteIdentifier(schemaName) + "." + d.QuoteIdentifier(tableName)
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	switch d.Placeholders {
	case PlaceholderAtP:
		return fmt.Sprintf("@p%d", n)
	case PlaceholderQuestion:
		return "?"
	default:
		return fmt.Sprintf("$%d", n)
	}
}

// WrapLimit bounds the rows returned by query.
func (d Dialect) WrapLimit(query string, limit int) string {
	if limit <= 0 {
		return query
	}
	if d.topLimit {
		return fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", limit, query)
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", query, limit)
}
