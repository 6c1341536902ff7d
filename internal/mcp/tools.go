package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/service"
)

// registerTools registers the identity administration tools.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read tools -----

	srv.AddTool(
		mcp.NewTool("niko_list_users",
			mcp.WithDescription(
				"List identities with their privilege flag, profile fields and "+
					"deletion state. Identities pending deletion are hidden unless "+
					"include_deleted is true.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("sort_by",
				mcp.Description("Sort column"),
				mcp.Enum("name", "created_at", "updated_at", "last_login_at"),
			),
			mcp.WithString("sort_order",
				mcp.Description("asc (default) or desc"),
				mcp.Enum("asc", "desc"),
			),
			mcp.WithBoolean("filter_admin",
				mcp.Description("Only privileged (true) or only unprivileged (false) identities"),
			),
			mcp.WithBoolean("include_deleted",
				mcp.Description("Include identities pending deletion"),
			),
		),
		s.handleListUsers,
	)

	srv.AddTool(
		mcp.NewTool("niko_get_user",
			mcp.WithDescription("Get one identity by name, including one pending deletion."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Username"),
			),
		),
		s.handleGetUser,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("niko_create_user",
			mcp.WithDescription(
				"Create an identity. The username and password must satisfy the "+
					"same rules as self-registration.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("username", mcp.Required(), mcp.Description("Username")),
			mcp.WithString("password", mcp.Required(), mcp.Description("Initial password")),
			mcp.WithString("email", mcp.Description("Email address")),
			mcp.WithString("full_name", mcp.Description("Display name")),
			mcp.WithBoolean("is_privileged", mcp.Description("Grant administrator rights")),
		),
		s.handleCreateUser,
	)

	srv.AddTool(
		mcp.NewTool("niko_update_user",
			mcp.WithDescription(
				"Change profile fields, the privilege flag or the password of an "+
					"identity. Omitted fields are left unchanged.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name", mcp.Required(), mcp.Description("Username")),
			mcp.WithString("email", mcp.Description("New email address")),
			mcp.WithString("full_name", mcp.Description("New display name")),
			mcp.WithBoolean("is_privileged", mcp.Description("New privilege flag")),
			mcp.WithString("password", mcp.Description("New password")),
		),
		s.handleUpdateUser,
	)

	srv.AddTool(
		mcp.NewTool("niko_delete_user",
			mcp.WithDescription(
				"Schedule an identity for deletion. It can still be restored, or "+
					"restore itself by logging in, until the retention period ends.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name", mcp.Required(), mcp.Description("Username")),
		),
		s.handleDeleteUser,
	)

	srv.AddTool(
		mcp.NewTool("niko_restore_user",
			mcp.WithDescription("Cancel a pending deletion."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name", mcp.Required(), mcp.Description("Username")),
		),
		s.handleRestoreUser,
	)

	srv.AddTool(
		mcp.NewTool("niko_purge_expired",
			mcp.WithDescription(
				"Permanently remove every identity whose deletion is older than "+
					"the retention period. Purged usernames become available again.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
		),
		s.handlePurgeExpired,
	)
}

// identityView adds the purge deadline to an identity.
type identityView struct {
	model.Identity
	PurgeAfter *time.Time `json:"purge_after,omitempty"`
}

func (s *MCPServer) view(id model.Identity) identityView {
	v := identityView{Identity: id}
	if id.PendingDeletion() {
		t := id.PurgeAfter(s.auth.Retention())
		v.PurgeAfter = &t
	}
	return v
}

func (s *MCPServer) handleListUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.auth.ListIdentities(ctx, config.ListFilter{
		IncludeDeleted: request.GetBool("include_deleted", false),
		Privileged:     optionalBoolPtr(request, "filter_admin"),
		SortBy:         optionalString(request, "sort_by"),
		Desc:           strings.EqualFold(optionalString(request, "sort_order"), "desc"),
	})
	if err != nil {
		return toolError("Failed to list users: %v", err)
	}

	items := make([]identityView, len(ids))
	for i, id := range ids {
		items[i] = s.view(id)
	}
	return successJSON(map[string]interface{}{
		"users": items,
		"count": len(items),
	})
}

func (s *MCPServer) handleGetUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	id, err := s.auth.GetIdentity(ctx, name)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(s.view(*id))
}

func (s *MCPServer) handleCreateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	password, err := requireString(request, "password")
	if err != nil {
		return toolError("%v", err)
	}

	id, err := s.auth.CreateIdentity(ctx, service.CreateInput{
		RegisterInput: service.RegisterInput{
			Name:     username,
			Secret:   password,
			Email:    optionalString(request, "email"),
			FullName: optionalString(request, "full_name"),
		},
		IsPrivileged: request.GetBool("is_privileged", false),
	})
	if err != nil {
		return serviceError(err)
	}
	s.logger.Info("identity created over MCP", "name", id.Name, "privileged", id.IsPrivileged)
	return successJSON(s.view(*id))
}

func (s *MCPServer) handleUpdateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	u := service.AdminUpdate{
		Email:        optionalStringPtr(request, "email"),
		FullName:     optionalStringPtr(request, "full_name"),
		IsPrivileged: optionalBoolPtr(request, "is_privileged"),
		NewSecret:    optionalStringPtr(request, "password"),
	}
	id, err := s.auth.UpdateIdentity(ctx, name, u)
	if err != nil {
		return serviceError(err)
	}
	s.logger.Info("identity updated over MCP", "name", name, "password_reset", u.NewSecret != nil)
	return successJSON(s.view(*id))
}

func (s *MCPServer) handleDeleteUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	id, err := s.auth.RequestDeletion(ctx, name)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(map[string]interface{}{
		"message":     "User scheduled for deletion",
		"deleted_at":  id.DeletedAt,
		"purge_after": id.PurgeAfter(s.auth.Retention()),
	})
}

func (s *MCPServer) handleRestoreUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}
	id, err := s.auth.RestoreIdentity(ctx, name)
	if err != nil {
		return serviceError(err)
	}
	return successJSON(s.view(*id))
}

func (s *MCPServer) handlePurgeExpired(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.auth.PurgeExpired(ctx)
	if err != nil {
		return toolError("Purge failed: %v", err)
	}
	if names == nil {
		names = []string{}
	}
	return successJSON(map[string]interface{}{
		"purged": names,
		"count":  len(names),
	})
}
