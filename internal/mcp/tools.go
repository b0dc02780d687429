package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/model"
)

// registerTools registers all Keygate MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Key tools -----

	srv.AddTool(
		mcp.NewTool("keygate_list_keys",
			mcp.WithDescription(
				"List the operator's API keys with their name, display prefix, "+
					"lifecycle state (active, expired, revoked), expiry, and last use. "+
					"Secrets are never included; only the prefix identifies a key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of keys to return (default 50, max 200)"),
			),
			mcp.WithNumber("skip",
				mcp.Description("Number of keys to skip for pagination"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keygate_create_key",
			mcp.WithDescription(
				"Mint a new API key. The plaintext secret appears in the result "+
					"exactly once and cannot be recovered afterwards; only its hash is "+
					"stored. The name must be unique among the operator's non-revoked keys.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Human-readable key name (max 100 characters)"),
			),
			mcp.WithNumber("expires_in_days",
				mcp.Description("Key lifetime in days, between 1 and 27000. Omit for the configured default."),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_update_key_expiry",
			mcp.WithDescription(
				"Replace a key's expiry with now + expires_in_days. Works on active "+
					"and already-expired keys; revoked keys cannot be reactivated.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key to update"),
			),
			mcp.WithNumber("expires_in_days",
				mcp.Required(),
				mcp.Description("New lifetime in days from now, between 1 and 27000"),
			),
		),
		s.handleUpdateKeyExpiry,
	)

	srv.AddTool(
		mcp.NewTool("keygate_revoke_key",
			mcp.WithDescription(
				"Permanently revoke an API key. Revocation takes effect immediately, "+
					"is one-way, and is idempotent: revoking a revoked key succeeds.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key to revoke"),
			),
		),
		s.handleRevokeKey,
	)

	// ----- Project tools -----

	srv.AddTool(
		mcp.NewTool("keygate_list_projects",
			mcp.WithDescription(
				"List projects with their name, description, and active status.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of projects to return (default 50, max 200)"),
			),
			mcp.WithNumber("skip",
				mcp.Description("Number of projects to skip for pagination"),
			),
		),
		s.handleListProjects,
	)

	srv.AddTool(
		mcp.NewTool("keygate_grant_key_project",
			mcp.WithDescription(
				"Grant one of the operator's API keys access to a project. The key "+
					"must not be revoked. Granting twice reports a conflict.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
			mcp.WithNumber("project_id",
				mcp.Required(),
				mcp.Description("ID of the project"),
			),
		),
		s.handleGrantKeyProject,
	)

	srv.AddTool(
		mcp.NewTool("keygate_revoke_key_project",
			mcp.WithDescription(
				"Remove an API key's access grant to a project. Grants on revoked "+
					"keys can still be removed.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
			mcp.WithNumber("project_id",
				mcp.Required(),
				mcp.Description("ID of the project"),
			),
		),
		s.handleRevokeKeyProject,
	)

	srv.AddTool(
		mcp.NewTool("keygate_key_projects",
			mcp.WithDescription(
				"List the project grants held by one of the operator's keys. Grants "+
					"survive revocation, so a revoked key's grants remain visible even "+
					"though they no longer confer access.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
		),
		s.handleKeyProjects,
	)
}

// ----- Tool handlers -----

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skip := optionalInt(request, "skip", 0)
	limit := clamp(optionalInt(request, "limit", 50), 1, 200)

	keys, total, err := s.keySvc.ListKeys(ctx, s.userID, skip, limit)
	if err != nil {
		return toolError("failed to list keys: %v", err)
	}

	now := time.Now().UTC()
	items := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		items = append(items, keySummary(&keys[i], now))
	}

	return successJSON(map[string]interface{}{
		"keys":  items,
		"total": total,
	})
}

func (s *MCPServer) handleCreateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	// An omitted lifetime selects the configured default; a supplied value
	// is passed through untouched so 0 fails range validation.
	days := s.keySvc.DefaultExpiryDays()
	if _, present := request.GetArguments()["expires_in_days"]; present {
		days = optionalInt(request, "expires_in_days", days)
	}

	key, secret, err := s.keySvc.CreateKey(ctx, s.userID, name, days)
	if err != nil {
		return toolError("failed to create key: %v", err)
	}

	return successJSON(map[string]interface{}{
		"id":         key.ID,
		"api_key":    secret, // shown once, never stored in plaintext
		"key_prefix": key.KeyPrefix,
		"name":       key.Name,
		"expires_at": key.ExpiresAt,
	})
}

func (s *MCPServer) handleUpdateKeyExpiry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireInt(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	days, err := requireInt(request, "expires_in_days")
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keySvc.UpdateKeyExpiry(ctx, s.userID, int64(keyID), days)
	if err != nil {
		return toolError("failed to update key: %v", err)
	}

	return successJSON(keySummary(key, time.Now().UTC()))
}

func (s *MCPServer) handleRevokeKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireInt(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}

	if err := s.keySvc.RevokeKey(ctx, s.userID, int64(keyID)); err != nil {
		return toolError("failed to revoke key: %v", err)
	}

	return successJSON(map[string]interface{}{
		"success": true,
		"key_id":  keyID,
	})
}

func (s *MCPServer) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	skip := optionalInt(request, "skip", 0)
	limit := clamp(optionalInt(request, "limit", 50), 1, 200)

	projects, total, err := s.projectSvc.ListProjects(ctx, skip, limit, nil)
	if err != nil {
		return toolError("failed to list projects: %v", err)
	}

	items := make([]map[string]interface{}, 0, len(projects))
	for i := range projects {
		items = append(items, map[string]interface{}{
			"id":          projects[i].ID,
			"name":        projects[i].Name,
			"description": projects[i].Description,
			"is_active":   projects[i].IsActive,
		})
	}

	return successJSON(map[string]interface{}{
		"projects": items,
		"total":    total,
	})
}

func (s *MCPServer) handleGrantKeyProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireInt(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	projectID, err := requireInt(request, "project_id")
	if err != nil {
		return toolError("%v", err)
	}

	grant, err := s.projectSvc.AssignKey(ctx, s.userID, int64(keyID), int64(projectID))
	if err != nil {
		return toolError("failed to grant project access: %v", err)
	}

	return successJSON(map[string]interface{}{
		"id":         grant.ID,
		"api_key_id": grant.APIKeyID,
		"project_id": grant.ProjectID,
	})
}

func (s *MCPServer) handleRevokeKeyProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireInt(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	projectID, err := requireInt(request, "project_id")
	if err != nil {
		return toolError("%v", err)
	}

	if err := s.projectSvc.RemoveKey(ctx, s.userID, int64(keyID), int64(projectID)); err != nil {
		return toolError("failed to remove grant: %v", err)
	}

	return successJSON(map[string]interface{}{
		"success":    true,
		"key_id":     keyID,
		"project_id": projectID,
	})
}

func (s *MCPServer) handleKeyProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := requireInt(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}

	grants, err := s.projectSvc.ListKeyProjects(ctx, s.userID, int64(keyID))
	if err != nil {
		return toolError("failed to list grants: %v", err)
	}

	items := make([]map[string]interface{}, 0, len(grants))
	for i := range grants {
		items = append(items, map[string]interface{}{
			"id":         grants[i].ID,
			"project_id": grants[i].ProjectID,
			"created_at": grants[i].CreatedAt,
		})
	}

	return successJSON(map[string]interface{}{
		"key_id": keyID,
		"grants": items,
	})
}

func keySummary(key *model.APIKey, now time.Time) map[string]interface{} {
	m := map[string]interface{}{
		"id":         key.ID,
		"name":       key.Name,
		"key_prefix": key.KeyPrefix,
		"state":      string(key.State(now)),
		"expires_at": key.ExpiresAt,
		"created_at": key.CreatedAt,
	}
	if key.LastUsedAt != nil {
		m["last_used_at"] = key.LastUsedAt
	}
	return m
}
