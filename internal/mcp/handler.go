package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nikoai/niko/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalStringPtr returns nil when key is absent so callers can tell "not
// given" from "set to empty".
func optionalStringPtr(request mcp.CallToolRequest, key string) *string {
	raw, ok := request.GetArguments()[key]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	return &s
}

func optionalBoolPtr(request mcp.CallToolRequest, key string) *bool {
	raw, ok := request.GetArguments()[key]
	if !ok {
		return nil
	}
	b, ok := raw.(bool)
	if !ok {
		return nil
	}
	return &b
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error. It is shown to the client and does
// not end the session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError maps a service failure to a tool error with the same wording
// the HTTP API uses.
func serviceError(err error) (*mcp.CallToolResult, error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return toolError("%s", ve.Message)
	case errors.Is(err, service.ErrIdentityExists):
		return toolError("Username already taken")
	case errors.Is(err, service.ErrIdentityNotFound):
		return toolError("User not found")
	case errors.Is(err, service.ErrDeletionFinal):
		return toolError("Account deletion is final")
	default:
		return toolError("Internal error: %v", err)
	}
}
