package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

type healthResult struct {
	services.HealthReport
	Version string `json:"version"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool reports the server version and the reachability of every
// connection and of the document index.
func RegisterHealthTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health, version, and the status of each datasource and the document index"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(healthResult{HealthReport: deps.Resolver.Health(ctx), Version: deps.Version})
	})
}
