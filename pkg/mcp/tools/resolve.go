// Package tools provides the MCP tools that expose query resolution.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

// QueryResolver is the part of *services.Resolver the tools call.
type QueryResolver interface {
	ResolveOn(ctx context.Context, connectionID, text string) (*models.Resolution, error)
	RefreshSchema(ctx context.Context, connectionID string) (*models.SchemaSummary, error)
	Health(ctx context.Context) services.HealthReport
}

var _ QueryResolver = (*services.Resolver)(nil)

// ToolDeps contains dependencies shared by every tool.
type ToolDeps struct {
	Resolver QueryResolver
	Version  string
	Logger   *zap.Logger
}

func (d *ToolDeps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// RegisterAll adds resolve, refresh_schema and health to s.
func RegisterAll(s *server.MCPServer, deps *ToolDeps) {
	RegisterResolveTool(s, deps)
	RegisterRefreshSchemaTool(s, deps)
	RegisterHealthTool(s, deps)
}

// RegisterResolveTool adds the resolve tool, which answers a free-text
// question from the database, the document index, or both.
func RegisterResolveTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"resolve",
		mcp.WithDescription(
			"Answers a natural-language question using the connected database and the document index. "+
				"The question is mapped onto the live schema, classified as structured, document or hybrid, "+
				"and answered with a single read-only query and/or a similarity search. "+
				"Example: resolve(question='how many employees are in Engineering').",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question in plain language"),
		),
		mcp.WithString(
			"connection_id",
			mcp.Description("Configured connection to query (defaults to the primary datasource)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		question = strings.TrimSpace(question)
		if question == "" {
			return NewErrorResult("invalid_parameters", "question parameter cannot be empty"), nil
		}
		connectionID := strings.TrimSpace(req.GetString("connection_id", ""))

		resolution, err := deps.Resolver.ResolveOn(ctx, connectionID, question)
		if err != nil {
			return failed(deps, "resolve", err)
		}
		return jsonResult(resolution)
	})
}

// RegisterRefreshSchemaTool adds the refresh_schema tool, which rediscovers a
// connection's schema and drops cached answers built on the old one.
func RegisterRefreshSchemaTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"refresh_schema",
		mcp.WithDescription(
			"Re-reads tables, columns and relationships from the database and replaces the cached schema. "+
				"Returns a summary: table, column and relationship counts and the most referenced entities.",
		),
		mcp.WithString(
			"connection_id",
			mcp.Description("Configured connection to refresh (defaults to the primary datasource)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connectionID := strings.TrimSpace(req.GetString("connection_id", ""))
		summary, err := deps.Resolver.RefreshSchema(ctx, connectionID)
		if err != nil {
			return failed(deps, "refresh_schema", err)
		}
		return jsonResult(summary)
	})
}

func failed(deps *ToolDeps, tool string, err error) (*mcp.CallToolResult, error) {
	if result := ResultForError(err); result != nil {
		deps.logger().Debug("Tool input rejected", zap.String("tool", tool), zap.Error(err))
		return result, nil
	}
	deps.logger().Error("Tool failed", zap.String("tool", tool), zap.Error(err))
	return nil, fmt.Errorf("%s failed: %w", tool, err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}
