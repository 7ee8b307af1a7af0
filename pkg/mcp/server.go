// Package mcp exposes query resolution as an MCP server.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/mcp/tools"
)

// Server wraps the MCP server and its registered tools.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server with tool capabilities and call logging.
func NewServer(name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	calls := NewCallLogger(logger)
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(calls.Hooks()),
		server.WithInstructions("Ask questions in plain language with the resolve tool. "+
			"Call refresh_schema after the database schema changes."),
	)
	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// NewResolverServer creates a server exposing resolve, refresh_schema and health.
func NewResolverServer(name, version string, resolver tools.QueryResolver, logger *zap.Logger) *Server {
	s := NewServer(name, version, logger)
	tools.RegisterAll(s.mcp, &tools.ToolDeps{
		Resolver: resolver,
		Version:  version,
		Logger:   s.logger.Named("tools"),
	})
	return s
}

// MCP returns the underlying MCP server for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP handler for the MCP server.
// Stateless: each request is self-contained and needs no session.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

// RegisterTool adds a tool with its handler to the server.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
	s.logger.Debug("Registered MCP tool", zap.String("name", tool.Name))
}
