package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nikoai/niko/internal/ratelimit"
)

const (
	policiesURI   = "niko://ratelimit/policies"
	userURIPrefix = "niko://users/"
)

// registerResources adds the read-only resources.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			policiesURI,
			"Rate Limit Policies",
			mcp.WithResourceDescription(
				"Configured request quota per class: maximum requests and window length.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePoliciesResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			userURIPrefix+"{name}",
			"Identity",
			mcp.WithTemplateDescription("One identity, including its deletion state."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleUserResource,
	)
}

type policyView struct {
	Class         string `json:"class"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int64  `json:"window_seconds"`
}

func (s *MCPServer) handlePoliciesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	items := make([]policyView, 0, len(ratelimit.Classes))
	for _, c := range ratelimit.Classes {
		p := s.policies.For(c)
		items = append(items, policyView{
			Class:         c.String(),
			MaxRequests:   p.MaxRequests,
			WindowSeconds: int64(p.Window / time.Second),
		})
	}
	return jsonContents(policiesURI, items)
}

func (s *MCPServer) handleUserResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	name := strings.TrimPrefix(uri, userURIPrefix)
	if name == "" || name == uri {
		return nil, fmt.Errorf("invalid user URI %q: expected %s{name}", uri, userURIPrefix)
	}

	id, err := s.auth.GetIdentity(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", name, err)
	}
	return jsonContents(uri, s.view(*id))
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
