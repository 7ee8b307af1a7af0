package postgres

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

func TestFromMap_ValidConfig(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "db.internal",
		"port":     float64(5433),
		"user":     "reader",
		"password": "secret",
		"database": "hr",
		"schema":   "staff",
		"ssl_mode": "disable",
	})
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "reader", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "hr", cfg.Database)
	assert.Equal(t, "staff", cfg.Schema)
	assert.Equal(t, "disable", cfg.SSLMode)
}

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]any{"host": "db", "user": "u", "database": "d"})
	require.NoError(t, err)

	assert.Equal(t, DefaultPort(), cfg.Port)
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "require", cfg.SSLMode)
}

func TestFromMap_MissingRequired(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		errMsg string
	}{
		{"missing host", map[string]any{"user": "u", "database": "d"}, "host is required"},
		{"missing user", map[string]any{"host": "h", "database": "d"}, "user is required"},
		{"missing database", map[string]any{"host": "h", "user": "u"}, "database is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBuildConnectionString_EscapesCredentials(t *testing.T) {
	connStr := buildConnectionString(&Config{
		Host:     "db.example.com",
		Port:     5432,
		User:     "reader",
		Password: "p@ss/w#rd?",
		Database: "hr",
		SSLMode:  "disable",
	})

	assert.Contains(t, connStr, "%40", "@ should be escaped")
	assert.Contains(t, connStr, "%2F", "/ should be escaped")
	assert.Contains(t, connStr, "%23", "# should be escaped")
	assert.Contains(t, connStr, "%3F", "? should be escaped")
	assert.Contains(t, connStr, "@db.example.com:5432/hr?sslmode=disable")
}

func TestBuildConnectionString_DefaultSSLMode(t *testing.T) {
	connStr := buildConnectionString(&Config{Host: "db", Port: 5432, User: "u", Database: "d"})
	assert.Contains(t, connStr, "sslmode=require")
}

func TestClassifyError(t *testing.T) {
	t.Run("insufficient privilege becomes permission error", func(t *testing.T) {
		err := classifyError("query columns", "public.payroll", &pgconn.PgError{Code: "42501", Message: "permission denied"})
		assert.True(t, errors.Is(err, apperrors.ErrPermission))
	})

	t.Run("other server errors are wrapped", func(t *testing.T) {
		err := classifyError("execute query", "hr", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
		assert.False(t, errors.Is(err, apperrors.ErrPermission))
		assert.False(t, errors.Is(err, apperrors.ErrConnection))
		assert.Contains(t, err.Error(), "execute query")
	})

	t.Run("plain errors are wrapped", func(t *testing.T) {
		err := classifyError("ping", "hr", fmt.Errorf("boom"))
		assert.EqualError(t, err, "ping: boom")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classifyError("ping", "hr", nil))
	})
}

func TestNormalizeValue(t *testing.T) {
	id := uuid.MustParse("8a3c1b3e-58a4-4f0f-9a35-0c2b6b1f2e11")
	assert.Equal(t, id.String(), normalizeValue([16]byte(id)))
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))
	assert.Equal(t, int64(7), normalizeValue(int64(7)))

	num := pgtype.Numeric{Int: big.NewInt(1000005), Exp: -1, Valid: true}
	assert.InDelta(t, 100000.5, normalizeValue(num), 0.0001)
	assert.Nil(t, normalizeValue(pgtype.Numeric{}))
}
