package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConnection        = errors.New("connection error")
	ErrPermission        = errors.New("permission denied")
	ErrOracleUnavailable = errors.New("semantic oracle unavailable")
	ErrUnmappableQuery   = errors.New("query cannot be mapped to the schema")
	ErrSecurityViolation = errors.New("security violation")
	ErrSearchUnavailable = errors.New("document search unavailable")
	ErrSchemaUnavailable = errors.New("schema snapshot unavailable")
)

// ConnectionError reports that a database or vector store could not be reached.
// It is the only error class retried at the adapter boundary.
type ConnectionError struct {
	Target string
	Err    error
}

// NewConnectionError wraps err as a ConnectionError for target.
func NewConnectionError(target string, err error) *ConnectionError {
	return &ConnectionError{Target: target, Err: err}
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection to %s failed", e.Target)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// IsRetryable implements retry.RetryableError.
func (e *ConnectionError) IsRetryable() bool { return true }

// PermissionError reports that metadata or rows for Object could not be read.
type PermissionError struct {
	Object string
	Err    error
}

func NewPermissionError(object string, err error) *PermissionError {
	return &PermissionError{Object: object, Err: err}
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permission denied on %s", e.Object)
	}
	return fmt.Sprintf("permission denied on %s: %v", e.Object, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

func (e *PermissionError) IsRetryable() bool { return false }

// UnmappableQueryError is returned by the query generator when no projection or
// predicate could be built from the entity mapping.
type UnmappableQueryError struct {
	Rationale string
}

func (e *UnmappableQueryError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnmappableQuery.Error(), e.Rationale)
}

func (e *UnmappableQueryError) Is(target error) bool { return target == ErrUnmappableQuery }

// SecurityViolation is returned when a query or its generated SQL matches a
// denylisted pattern. Requests failing with it are never executed.
type SecurityViolation struct {
	Flags  []string
	Reason string
}

// NewSecurityViolation builds a violation with a sorted, de-duplicated flag set.
func NewSecurityViolation(reason string, flags ...string) *SecurityViolation {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return &SecurityViolation{Flags: out, Reason: reason}
}

func (e *SecurityViolation) Error() string {
	if len(e.Flags) == 0 {
		return fmt.Sprintf("%s: %s", ErrSecurityViolation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s [%s]", ErrSecurityViolation.Error(), e.Reason, strings.Join(e.Flags, ", "))
}

func (e *SecurityViolation) Is(target error) bool { return target == ErrSecurityViolation }

// SearchUnavailableError reports that the vector index could not serve a search.
type SearchUnavailableError struct {
	Err error
}

func (e *SearchUnavailableError) Error() string {
	if e.Err == nil {
		return ErrSearchUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSearchUnavailable.Error(), e.Err)
}

func (e *SearchUnavailableError) Unwrap() error { return e.Err }

func (e *SearchUnavailableError) Is(target error) bool { return target == ErrSearchUnavailable }

// OracleUnavailableError reports an oracle call that failed, timed out, or was
// short-circuited by the circuit breaker.
type OracleUnavailableError struct {
	Err error
}

func (e *OracleUnavailableError) Error() string {
	if e.Err == nil {
		return ErrOracleUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrOracleUnavailable.Error(), e.Err)
}

func (e *OracleUnavailableError) Unwrap() error { return e.Err }

func (e *OracleUnavailableError) Is(target error) bool { return target == ErrOracleUnavailable }
