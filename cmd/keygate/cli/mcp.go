package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/keygate/keygate/internal/mcp"
	"github.com/keygate/keygate/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		email     string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes API key and project
management as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with Claude Desktop or other MCP clients.

Tools act on behalf of the account given with --email: keys the tools list,
mint, or revoke belong to that account.`,
		Example: `  keygate mcp --email alice@example.com                  # stdio mode
  keygate mcp --email alice@example.com --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, email)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&email, "email", "", "Operator account email (required)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runMCP(transport string, port int, email string) error {
	// Log to stderr: stdout carries the JSON-RPC stream in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	user, err := resolveUser(context.Background(), store, email)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return fmt.Errorf("account %q is deactivated", email)
	}

	keySvc := newKeyService(store)
	projectSvc := service.NewProjectService(store)

	mcpSrv := kmcp.NewMCPServer(store, keySvc, projectSvc, user.ID, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", port)
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
