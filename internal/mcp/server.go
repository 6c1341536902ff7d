// Package mcp exposes identity administration as Model Context Protocol
// tools so operators can manage accounts from an MCP client.
package mcp

import (
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikoai/niko/internal/ratelimit"
	"github.com/nikoai/niko/internal/service"
)

// MCPServer wraps the mcp-go server with the niko admin tools and
// resources.
type MCPServer struct {
	auth     *service.AuthService
	policies ratelimit.Policies
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource
// registered. A nil logger discards output.
func NewMCPServer(auth *service.AuthService, policies ratelimit.Policies, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &MCPServer{
		auth:     auth,
		policies: policies.WithDefaults(),
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"Niko Admin",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves over stdin/stdout for clients that launch niko as a
// subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves Streamable HTTP on addr, e.g. "127.0.0.1:3001".
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
