package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keygate://keys/stats — fleet-wide key counts by lifecycle state
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"keygate://keys/stats",
			"API Key Statistics",
			mcp.WithResourceDescription(
				"Counts of API keys by lifecycle state (active, expired, "+
					"revoked) across all accounts.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeyStatsResource,
	)

	// -------------------------------------------------------------------
	// keygate://projects — list of all projects
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"keygate://projects",
			"Projects",
			mcp.WithResourceDescription(
				"List of all projects, including their active status.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleProjectsResource,
	)
}

// handleKeyStatsResource returns fleet-wide key counts by state.
func (s *MCPServer) handleKeyStatsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	stats, err := s.store.APIKeyStats(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to collect key stats: %w", err)
	}

	b, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key stats: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "keygate://keys/stats",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleProjectsResource returns a JSON list of all projects.
func (s *MCPServer) handleProjectsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	projects, _, err := s.projectSvc.ListProjects(ctx, 0, 200, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	type projectInfo struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		IsActive    bool   `json:"is_active"`
	}

	items := make([]projectInfo, len(projects))
	for i, p := range projects {
		items[i] = projectInfo{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			IsActive:    p.IsActive,
		}
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal projects: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "keygate://projects",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
