package datasource

import (
	"database/sql"
	"fmt"
)

// ScanRows drains a database/sql result set into column descriptors and row maps.
// Driver []byte values are converted to strings so rows marshal as readable JSON.
func ScanRows(rows *sql.Rows) ([]ColumnInfo, []map[string]any, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("read column types: %w", err)
	}

	columns := make([]ColumnInfo, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = ColumnInfo{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col.Name] = string(b)
			} else {
				row[col.Name] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}

	return columns, result, nil
}

// StringOption reads a string value from an adapter config map.
func StringOption(config map[string]any, key string) (string, bool) {
	v, ok := config[key].(string)
	return v, ok && v != ""
}

// IntOption reads an integer value that may have been decoded as int or float64.
func IntOption(config map[string]any, key string, def int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// BoolOption reads a boolean value from an adapter config map.
func BoolOption(config map[string]any, key string, def bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return def
}
