package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedCallLogger() (*CallLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewCallLogger(zap.New(core)), logs
}

func toolRequest(name string, args map[string]any) *mcplib.CallToolRequest {
	req := &mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestCallLogger_SuccessfulCall(t *testing.T) {
	calls, logs := observedCallLogger()
	req := toolRequest("resolve", map[string]any{"question": "how many employees"})

	calls.beforeCallTool(context.Background(), 1, req)
	calls.afterCallTool(context.Background(), 1, req, mcplib.NewToolResultText(`{"request_id":"x"}`))

	entries := logs.FilterMessage("Tool call").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "resolve", fields["tool"])
	assert.Equal(t, callOK, fields["status"])
	_, tracked := calls.startTimes.Load(1)
	assert.False(t, tracked, "start time must be released")
}

func TestCallLogger_RejectedCallRecordsCode(t *testing.T) {
	calls, logs := observedCallLogger()
	req := toolRequest("resolve", map[string]any{"question": "drop table employees"})
	result := &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Text: `{"error":true,"code":"security_violation","message":"statement in question"}`},
		},
	}

	calls.beforeCallTool(context.Background(), "a", req)
	calls.afterCallTool(context.Background(), "a", req, result)

	fields := logs.FilterMessage("Tool call").All()[0].ContextMap()
	assert.Equal(t, callRejected, fields["status"])
	assert.Equal(t, "security_violation", fields["code"])
}

func TestCallLogger_OnErrorIgnoresOtherMethods(t *testing.T) {
	calls, logs := observedCallLogger()

	calls.onError(context.Background(), 1, mcplib.MethodToolsList, nil, errors.New("boom"))
	assert.Zero(t, logs.Len())

	req := toolRequest("refresh_schema", nil)
	calls.onError(context.Background(), 2, mcplib.MethodToolsCall, req,
		errors.New("dial postgres://admin:hunter2@db:5432/hr failed"))

	entries := logs.FilterMessage("Tool call failed").All()
	require.Len(t, entries, 1)
	msg := entries[0].ContextMap()["error"].(string)
	assert.NotContains(t, msg, "hunter2")
}

func TestSanitizeParams_Question(t *testing.T) {
	question := "employees named 'O''Brien' hired after 2020 " + strings.Repeat("x", 200)
	params := sanitizeParams(map[string]any{"question": question, "connection_id": "hr", "limit": 5})

	got := params["question"].(string)
	assert.NotContains(t, got, "Brien")
	assert.Contains(t, got, "'***'")
	assert.LessOrEqual(t, len(got), 103)
	assert.Equal(t, hashValue(question), params["question_hash"])
	assert.Equal(t, "hr", params["connection_id"])
	assert.Equal(t, 5, params["limit"])
}

func TestSanitizeParams_NilInput(t *testing.T) {
	assert.Nil(t, sanitizeParams(nil))
	assert.Nil(t, sanitizeParams(map[string]any{}))
}

func TestHashValue_Format(t *testing.T) {
	h := hashValue("how many employees")
	assert.True(t, strings.HasPrefix(h, "sha256:"))
	assert.Len(t, h, len("sha256:")+16)
	assert.Equal(t, h, hashValue("how many employees"))
}

func TestErrorCode_NonJSON(t *testing.T) {
	assert.Empty(t, errorCode(mcplib.NewToolResultText("plain failure")))
}
