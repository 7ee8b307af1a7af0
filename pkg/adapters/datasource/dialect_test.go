package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestDialect_QuoteIdentifier(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{PostgresDialect, "employees", `"employees"`},
		{PostgresDialect, `weird"name`, `"weird""name"`},
		{SQLServerDialect, "employees", "[employees]"},
		{SQLServerDialect, "odd]name", "[odd]]name]"},
		{MySQLDialect, "employees", "`employees`"},
		{SQLiteDialect, "employees", `"employees"`},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dialect.QuoteIdentifier(tt.input))
		})
	}
}

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "$2", PostgresDialect.Placeholder(2))
	assert.Equal(t, "@p2", SQLServerDialect.Placeholder(2))
	assert.Equal(t, "?", MySQLDialect.Placeholder(2))
	assert.Equal(t, "?", SQLiteDialect.Placeholder(1))
}

func TestDialect_WrapLimit(t *testing.T) {
	q := "SELECT 1"
	assert.Equal(t, "SELECT * FROM (SELECT 1) AS _limited LIMIT 10", PostgresDialect.WrapLimit(q, 10))
	assert.Equal(t, "SELECT TOP (10) * FROM (SELECT 1) AS _limited", SQLServerDialect.WrapLimit(q, 10))
	assert.Equal(t, q, SQLiteDialect.WrapLimit(q, 0))
}

func TestDialect_QualifiedTable(t *testing.T) {
	assert.Equal(t, `"public"."employees"`, PostgresDialect.QualifiedTable("public", "employees"))
	assert.Equal(t, `"employees"`, SQLiteDialect.QualifiedTable("", "employees"))
}

type stubAdapter struct {
	Adapter
	config map[string]any
}

func TestRegistryFactory_NewAdapter(t *testing.T) {
	Register(DatasourceAdapterRegistration{
		Info: DatasourceAdapterInfo{Type: "stub", DisplayName: "Stub"},
		Factory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (Adapter, error) {
			return &stubAdapter{config: config}, nil
		},
	})

	factory := NewDatasourceAdapterFactory(zaptest.NewLogger(t))

	adapter, err := factory.NewAdapter(context.Background(), "stub", map[string]any{"host": "db"})
	require.NoError(t, err)
	assert.Equal(t, "db", adapter.(*stubAdapter).config["host"])
	assert.True(t, IsRegistered("stub"))

	_, err = factory.NewAdapter(context.Background(), "oracle-db", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported datasource type")
	assert.Contains(t, err.Error(), "stub")
}

func TestConfigOptions(t *testing.T) {
	cfg := map[string]any{"host": "db", "port": float64(5433), "tls": true, "empty": ""}

	host, ok := StringOption(cfg, "host")
	assert.True(t, ok)
	assert.Equal(t, "db", host)

	_, ok = StringOption(cfg, "empty")
	assert.False(t, ok)

	assert.Equal(t, 5433, IntOption(cfg, "port", 5432))
	assert.Equal(t, 5432, IntOption(cfg, "missing", 5432))
	assert.True(t, BoolOption(cfg, "tls", false))
}
