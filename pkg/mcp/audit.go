package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
)

// Tool call outcomes.
const (
	callOK       = "ok"
	callRejected = "rejected" // structured error result returned to the caller
	callError    = "error"
)

// sqlStringLiteralPattern matches single-quoted literals with doubled-quote escapes.
var sqlStringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)

// CallLogger logs every tool call with its outcome and latency.
type CallLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewCallLogger creates a CallLogger.
func NewCallLogger(logger *zap.Logger) *CallLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallLogger{logger: logger.Named("mcp-calls")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *CallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *CallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *CallLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	elapsed := a.elapsed(id)
	status := callOK
	fields := a.fields(req, elapsed)
	if result != nil && result.IsError {
		status = callRejected
		fields = append(fields, zap.String("code", errorCode(result)))
	}
	metrics.ObserveToolCall(req.Params.Name, status, elapsed)
	a.logger.Info("Tool call", append(fields, zap.String("status", status))...)
}

func (a *CallLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	elapsed := a.elapsed(id)
	metrics.ObserveToolCall(req.Params.Name, callError, elapsed)
	a.logger.Warn("Tool call failed", append(a.fields(req, elapsed),
		zap.String("status", callError),
		zap.String("error", logging.SanitizeError(err)),
	)...)
}

func (a *CallLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

func (a *CallLogger) fields(req *mcplib.CallToolRequest, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Duration("duration", elapsed),
	}
	if params := sanitizeParams(req.Params.Arguments); len(params) > 0 {
		fields = append(fields, zap.Any("params", params))
	}
	return fields
}

// sanitizeParams prepares request parameters for the log: questions are
// truncated with quoted literals redacted, and carry a hash for correlation.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		str, ok := v.(string)
		if !ok {
			sanitized[k] = v
			continue
		}
		if k == "question" {
			sanitized[k+"_hash"] = hashValue(str)
			str = sqlStringLiteralPattern.ReplaceAllString(str, "'***'")
		}
		sanitized[k] = logging.SanitizeQuery(str)
	}
	return sanitized
}

// hashValue returns a SHA-256 prefix so repeated questions can be matched
// across log lines.
func hashValue(value any) string {
	hash := sha256.Sum256([]byte(fmt.Sprint(value)))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

func errorCode(result *mcplib.CallToolResult) string {
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var partial struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal([]byte(tc.Text), &partial); err == nil {
			return partial.Code
		}
	}
	return ""
}
