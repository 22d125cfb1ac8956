package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	keysURI        = "keygate://keys"
	keyURIPrefix   = "keygate://keys/"
	keyURITemplate = "keygate://keys/{id}"
)

// registerResources adds read-only key views that clients can load into
// their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			keysURI,
			"Managed API Keys",
			mcp.WithResourceDescription(
				"All managed API keys with masked secrets, limits, expiry and total usage.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keyURITemplate,
			"Managed API Key",
			mcp.WithTemplateDescription(
				"One managed key's limits, expiry and current usage counters.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyResource,
	)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	items, err := s.listKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return jsonContents(keysURI, items)
}

func (s *MCPServer) handleKeyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, keyURIPrefix)
	if id == "" || id == uri {
		return nil, fmt.Errorf("invalid key URI %q: expected %s", uri, keyURITemplate)
	}
	detail, err := s.keyDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", id, err)
	}
	return jsonContents(uri, detail)
}
