package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// Audit page sizing for the audit tool.
const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 200
)

// registerTools adds every keygate tool to the server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("keygate_list_keys",
			mcp.WithDescription(
				"List managed API keys with masked secrets, limits, expiry and "+
					"total usage. Secrets are never returned by this tool.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keygate_create_key",
			mcp.WithDescription(
				"Create a managed API key. The response contains the full secret; "+
					"it is the caller's only chance to record it.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key name: letters, numbers, dot, underscore or hyphen"),
			),
			mcp.WithNumber("total_limit",
				mcp.Description("Lifetime request limit. Omit for unlimited."),
			),
			mcp.WithNumber("daily_limit",
				mcp.Description("Requests allowed per local calendar day. Omit for unlimited."),
			),
			mcp.WithString("expires_at",
				mcp.Description("Expiry instant, e.g. 2026-12-31T23:59:59Z. Omit for no expiry."),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_get_key",
			mcp.WithDescription("Show one managed key's limits, expiry and current usage counters."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key name"),
			),
		),
		s.handleGetKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_update_key_limits",
			mcp.WithDescription(
				"Replace a key's limits and expiry. Any field left out is cleared, "+
					"so pass every limit that should remain in force.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key name"),
			),
			mcp.WithNumber("total_limit",
				mcp.Description("Lifetime request limit. Omit for unlimited."),
			),
			mcp.WithNumber("daily_limit",
				mcp.Description("Requests allowed per local calendar day. Omit for unlimited."),
			),
			mcp.WithString("expires_at",
				mcp.Description("Expiry instant. Omit for no expiry."),
			),
		),
		s.handleUpdateKeyLimits,
	)

	srv.AddTool(
		mcp.NewTool("keygate_delete_key",
			mcp.WithDescription(
				"Delete a managed key. Requests using its secret are rejected immediately. "+
					"Recorded usage and audit history are kept.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key name"),
			),
		),
		s.handleDeleteKey,
	)

	srv.AddTool(
		mcp.NewTool("keygate_key_usage",
			mcp.WithDescription("List usage records for a key between two instants, inclusive."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key name"),
			),
			mcp.WithString("from",
				mcp.Required(),
				mcp.Description("Range start, e.g. 2026-01-01 or 2026-01-01T00:00:00Z"),
			),
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("Range end"),
			),
		),
		s.handleKeyUsage,
	)

	srv.AddTool(
		mcp.NewTool("keygate_key_audit",
			mcp.WithDescription(
				"Page through captured requests for a key, newest first. "+
					"query matches case-insensitively against method, path, status and payloads.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Key name"),
			),
			mcp.WithString("from", mcp.Description("Earliest event time")),
			mcp.WithString("to", mcp.Description("Latest event time")),
			mcp.WithString("query", mcp.Description("Free-text filter")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Events per page (1-200, default 20)")),
		),
		s.handleKeyAudit,
	)
}

// keyListEntry is a masked key plus its lifetime usage.
type keyListEntry struct {
	model.ManagedAPIKeyListItem
	TotalUsage int `json:"totalUsage"`
}

func (s *MCPServer) listKeys(ctx context.Context) ([]keyListEntry, error) {
	items, err := s.keys.List(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.usage.Totals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]keyListEntry, 0, len(items))
	for _, item := range items {
		out = append(out, keyListEntry{ManagedAPIKeyListItem: item, TotalUsage: totals[item.ID]})
	}
	return out, nil
}

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	items, err := s.listKeys(ctx)
	if err != nil {
		s.logger.Error("mcp list keys", "error", err)
		return toolError("Failed to list API keys")
	}
	return successJSON(map[string]interface{}{
		"items": items,
	})
}

func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	settings, err := keySettings(request)
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keys.Create(ctx, id, settings)
	if err != nil {
		s.logger.Error("mcp create key", "key_id", id, "error", err)
		return serviceError(err, "Failed to create API key")
	}
	s.logger.Info("api key created via mcp", "key_id", key.ID)
	return successJSON(key)
}

// keyDetail is a key's policy with live counters and no secret.
type keyDetail struct {
	ID         string           `json:"id"`
	Prefix     string           `json:"prefix"`
	CreatedAt  model.Timestamp  `json:"createdAt"`
	TotalLimit *int             `json:"totalLimit"`
	DailyLimit *int             `json:"dailyLimit"`
	ExpiresAt  *model.Timestamp `json:"expiresAt"`
	Expired    bool             `json:"expired"`
	TotalUsage int              `json:"totalUsage"`
	DailyUsage int              `json:"dailyUsage"`
}

func (s *MCPServer) keyDetail(ctx context.Context, id string) (*keyDetail, error) {
	key, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sum, err := s.usage.Summary(ctx, key.ID, now)
	if err != nil {
		return nil, err
	}
	return &keyDetail{
		ID:         key.ID,
		Prefix:     service.MaskSecret(key.Key),
		CreatedAt:  key.CreatedAt,
		TotalLimit: key.TotalLimit,
		DailyLimit: key.DailyLimit,
		ExpiresAt:  key.ExpiresAt,
		Expired:    key.Expired(model.NewTimestamp(now)),
		TotalUsage: sum.Total,
		DailyUsage: sum.Daily,
	}, nil
}

func (s *MCPServer) handleGetKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	detail, err := s.keyDetail(ctx, id)
	if err != nil {
		return serviceError(err, "Failed to read API key")
	}
	return successJSON(detail)
}

func (s *MCPServer) handleUpdateKeyLimits(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	settings, err := keySettings(request)
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.keys.UpdateSettings(ctx, id, settings)
	if err != nil {
		s.logger.Error("mcp update key", "key_id", id, "error", err)
		return serviceError(err, "Failed to update API key")
	}
	return successJSON(map[string]interface{}{
		"id":         key.ID,
		"totalLimit": key.TotalLimit,
		"dailyLimit": key.DailyLimit,
		"expiresAt":  key.ExpiresAt,
	})
}

func (s *MCPServer) handleDeleteKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	removed, err := s.keys.Delete(ctx, id)
	if err != nil {
		s.logger.Error("mcp delete key", "key_id", id, "error", err)
		return toolError("Failed to delete API key")
	}
	if !removed {
		return toolError("%v", service.ErrKeyNotFound)
	}
	s.logger.Info("api key deleted via mcp", "key_id", id)
	return successJSON(map[string]interface{}{
		"deleted": id,
	})
}

func (s *MCPServer) handleKeyUsage(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	key, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return serviceError(err, "Failed to read usage")
	}

	fromRaw, toRaw := optionalString(request, "from"), optionalString(request, "to")
	if fromRaw == "" || toRaw == "" {
		return toolError("from and to are required")
	}
	from, errFrom := model.ParseTimestamp(fromRaw)
	to, errTo := model.ParseTimestamp(toRaw)
	if errFrom != nil || errTo != nil || from.After(to.Time) {
		return toolError("invalid time range")
	}

	records, err := s.usage.ByRange(ctx, key.ID, from.Time, to.Time)
	if err != nil {
		s.logger.Error("mcp usage range", "key_id", key.ID, "error", err)
		return toolError("Failed to read usage")
	}
	return successJSON(map[string]interface{}{
		"keyId":   key.ID,
		"from":    from,
		"to":      to,
		"count":   len(records),
		"records": records,
	})
}

func (s *MCPServer) handleKeyAudit(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	key, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return serviceError(err, "Failed to read audit log")
	}

	q := service.AuditQuery{
		Query:    optionalString(request, "query"),
		Page:     max(1, optionalInt(request, "page", 1)),
		PageSize: clamp(optionalInt(request, "page_size", defaultAuditPageSize), 1, maxAuditPageSize),
	}
	from, err := optionalTime(request, "from")
	if err != nil {
		return toolError("%v", err)
	}
	if from != nil {
		q.From = &from.Time
	}
	to, err := optionalTime(request, "to")
	if err != nil {
		return toolError("%v", err)
	}
	if to != nil {
		q.To = &to.Time
	}

	page, err := s.audit.Page(ctx, key.ID, q)
	if err != nil {
		s.logger.Error("mcp audit page", "key_id", key.ID, "error", err)
		return toolError("Failed to read audit log")
	}
	return successJSON(page)
}
