package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// optionalLimit reads a quota limit. Absent and null mean unlimited.
func optionalLimit(request mcp.CallToolRequest, key string) (*int, error) {
	v, ok := request.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, service.ErrInvalidLimit
	}
	n, err := service.ParseLimit(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// optionalTime parses an optional timestamp argument.
func optionalTime(request mcp.CallToolRequest, key string) (*model.Timestamp, error) {
	raw := optionalString(request, key)
	if raw == "" {
		return nil, nil
	}
	ts, err := model.ParseTimestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &ts, nil
}

// keySettings collects the policy arguments shared by create and update.
func keySettings(request mcp.CallToolRequest) (service.KeySettings, error) {
	total, err := optionalLimit(request, "total_limit")
	if err != nil {
		return service.KeySettings{}, err
	}
	daily, err := optionalLimit(request, "daily_limit")
	if err != nil {
		return service.KeySettings{}, err
	}
	return service.KeySettings{
		TotalLimit: total,
		DailyLimit: daily,
		ExpiresAt:  optionalString(request, "expires_at"),
	}, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a registry or store failure into a tool error. Store
// failures are logged by the caller and reported without detail.
func serviceError(err error, fallback string) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrDuplicateID),
		errors.Is(err, service.ErrKeyNotFound):
		return toolError("%v", err)
	default:
		return toolError("%s", fallback)
	}
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
