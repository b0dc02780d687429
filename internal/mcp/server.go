package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/service"
)

// MCPServer wraps the mcp-go server with Keygate-specific tool and resource
// registrations. It exposes credential management as MCP tools so AI agents
// can inspect, mint, extend, and revoke API keys and manage project grants.
//
// The server operates on behalf of one operator account, resolved at launch.
type MCPServer struct {
	store      *config.Store
	keySvc     *service.KeyService
	projectSvc *service.ProjectService
	userID     int64
	logger     *slog.Logger
	server     *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Keygate tools and
// resources. userID is the operator account the tools act as. The returned
// server is ready to serve over stdio or HTTP.
func NewMCPServer(store *config.Store, keySvc *service.KeyService, projectSvc *service.ProjectService, userID int64, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:      store,
		keySvc:     keySvc,
		projectSvc: projectSvc,
		userID:     userID,
		logger:     logger,
	}

	mcpServer := server.NewMCPServer(
		"Keygate Credential API",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
