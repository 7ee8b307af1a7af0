package tools

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Returned as a successful tool result so the calling agent sees the
// details instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad question, unknown
// connection, rejected input). System failures still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// ResultForError maps pipeline errors the caller can act on to structured
// results. It returns nil for anything else, which the handler should
// return as a Go error.
func ResultForError(err error) *mcp.CallToolResult {
	var violation *apperrors.SecurityViolation
	var unmappable *apperrors.UnmappableQueryError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &violation):
		return NewErrorResultWithDetails("security_violation", violation.Reason,
			map[string]any{"flags": violation.Flags})
	case errors.As(err, &unmappable):
		return NewErrorResultWithDetails("unmappable_query", "the question could not be mapped to the schema",
			map[string]any{"rationale": unmappable.Rationale})
	case errors.Is(err, apperrors.ErrInvalidInput):
		return NewErrorResult("invalid_input", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	case errors.Is(err, apperrors.ErrSchemaUnavailable):
		return NewErrorResult("schema_unavailable", err.Error())
	case errors.Is(err, apperrors.ErrSearchUnavailable):
		return NewErrorResult("search_unavailable", err.Error())
	case errors.Is(err, apperrors.ErrPermission):
		return NewErrorResult("permission_denied", err.Error())
	case IsSQLUserError(err):
		return NewErrorResult(SQLUserErrorCode(err), ExtractSQLErrorMessage(err))
	}
	return nil
}

// sqlStateRegex matches PostgreSQL SQLSTATE codes in error messages like "(SQLSTATE 42601)"
var sqlStateRegex = regexp.MustCompile(`\(SQLSTATE ([0-9A-Z]{5})\)`)

// IsSQLUserError returns true if the error is a SQL user error (bad SQL,
// missing table, bad literal) rather than a server error.
//
// PostgreSQL SQLSTATE class codes that indicate user errors:
//   - 22xxx: Data Exception (invalid input, division by zero)
//   - 42xxx: Syntax Error or Access Rule Violation
func IsSQLUserError(err error) bool {
	code, ok := sqlState(err)
	return ok && isSQLStateUserError(code)
}

func sqlState(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	if matches := sqlStateRegex.FindStringSubmatch(err.Error()); len(matches) >= 2 {
		return matches[1], true
	}
	return "", false
}

func isSQLStateUserError(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "22", "42":
		return true
	}
	return false
}

// SQLUserErrorCode returns an error code for a SQL user error, or "" if err is not one.
func SQLUserErrorCode(err error) string {
	code, ok := sqlState(err)
	if !ok || !isSQLStateUserError(code) {
		return ""
	}
	switch code {
	case "42601":
		return "syntax_error"
	case "42703":
		return "undefined_column"
	case "42P01":
		return "undefined_table"
	case "42501":
		return "insufficient_privilege"
	case "22003":
		return "numeric_out_of_range"
	case "22007", "22008":
		return "invalid_datetime"
	case "22012":
		return "division_by_zero"
	case "22P02":
		return "invalid_input"
	}
	if code[:2] == "22" {
		return "data_exception"
	}
	return "sql_error"
}

// ExtractSQLErrorMessage extracts a clean error message from a SQL error.
func ExtractSQLErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}

	msg := err.Error()
	if idx := strings.Index(msg, " (SQLSTATE"); idx != -1 {
		msg = msg[:idx]
	}
	for _, prefix := range []string{"structured branch: ", "query execution failed: ", "ERROR: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
