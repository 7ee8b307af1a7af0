// Package audit logs security-relevant resolution events in structured JSON
// for SIEM consumption.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSecurityViolation is logged when a query is rejected before execution.
	EventSecurityViolation SecurityEventType = "security_violation"
	// EventSQLInjectionAttempt is logged when libinjection flags a bound parameter.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryExecution is logged for each executed structured query.
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp    time.Time         `json:"timestamp"`
	EventType    SecurityEventType `json:"event_type"`
	RequestID    uuid.UUID         `json:"request_id"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Details      any               `json:"details"`
	Severity     string            `json:"severity"` // info, warning, critical
}

// ViolationDetails describes a rejected query.
type ViolationDetails struct {
	Stage string   `json:"stage"` // input, generated
	Flags []string `json:"flags"`
	Query string   `json:"query"` // truncated and sanitized
}

// SQLInjectionDetails describes a flagged parameter. The raw value is not recorded.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor writes security events under the "security_audit" logger name.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates an auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit"), now: time.Now}
}

func (a *SecurityAuditor) event(eventType SecurityEventType, requestID uuid.UUID, connectionID, severity string, details any) string {
	event := SecurityEvent{
		Timestamp:    a.now().UTC(),
		EventType:    eventType,
		RequestID:    requestID,
		ConnectionID: connectionID,
		Details:      details,
		Severity:     severity,
	}
	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)
	return string(eventJSON)
}

// LogSecurityViolation records a rejected query at ERROR level with critical severity.
func (a *SecurityAuditor) LogSecurityViolation(requestID uuid.UUID, connectionID, stage, query string, flags []string) {
	details := ViolationDetails{Stage: stage, Flags: flags, Query: logging.SanitizeQuery(query)}
	a.logger.Error("Security violation rejected",
		zap.String("event_json", a.event(EventSecurityViolation, requestID, connectionID, "critical", details)),
		zap.String("request_id", requestID.String()),
		zap.String("connection_id", connectionID),
		zap.String("stage", stage),
		zap.Strings("flags", flags),
		zap.String("severity", "critical"),
	)
}

// LogInjectionAttempt records a libinjection hit on a bound parameter.
func (a *SecurityAuditor) LogInjectionAttempt(requestID uuid.UUID, connectionID string, details SQLInjectionDetails) {
	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", a.event(EventSQLInjectionAttempt, requestID, connectionID, "critical", details)),
		zap.String("request_id", requestID.String()),
		zap.String("connection_id", connectionID),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogQueryExecution records an executed structured query at INFO level.
func (a *SecurityAuditor) LogQueryExecution(requestID uuid.UUID, connectionID, query string, params []any, rowCount int) {
	details := map[string]any{
		"query":     logging.SanitizeQuery(query),
		"params":    logging.SanitizeParams(params),
		"row_count": rowCount,
	}
	a.logger.Info("Query executed",
		zap.String("event_json", a.event(EventQueryExecution, requestID, connectionID, "info", details)),
		zap.String("request_id", requestID.String()),
		zap.String("connection_id", connectionID),
		zap.Int("row_count", rowCount),
		zap.String("severity", "info"),
	)
}
