package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:5432: connection refused")
	err := fmt.Errorf("discover tables: %w", NewConnectionError("postgres", cause))

	assert.True(t, errors.Is(err, ErrConnection))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrPermission))

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "postgres", connErr.Target)
	assert.True(t, connErr.IsRetryable())
}

func TestPermissionError_NotRetryable(t *testing.T) {
	err := NewPermissionError("public.payroll", errors.New("permission denied for table payroll"))
	assert.True(t, errors.Is(err, ErrPermission))
	assert.False(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "public.payroll")
}

func TestNewSecurityViolation_DedupesAndSortsFlags(t *testing.T) {
	err := NewSecurityViolation("denylisted keyword", "denylist:drop", "multiple_statements", "denylist:drop", "")

	assert.Equal(t, []string{"denylist:drop", "multiple_statements"}, err.Flags)
	assert.True(t, errors.Is(err, ErrSecurityViolation))
	assert.Contains(t, err.Error(), "denylist:drop, multiple_statements")
}

func TestUnmappableQueryError(t *testing.T) {
	var err error = &UnmappableQueryError{Rationale: "no term mapped to a table"}
	assert.True(t, errors.Is(err, ErrUnmappableQuery))
	assert.Contains(t, err.Error(), "no term mapped to a table")
}

func TestSearchAndOracleErrors(t *testing.T) {
	cause := errors.New("index offline")

	searchErr := &SearchUnavailableError{Err: cause}
	assert.True(t, errors.Is(searchErr, ErrSearchUnavailable))
	assert.True(t, errors.Is(searchErr, cause))

	oracleErr := &OracleUnavailableError{}
	assert.True(t, errors.Is(oracleErr, ErrOracleUnavailable))
	assert.Equal(t, ErrOracleUnavailable.Error(), oracleErr.Error())
}
