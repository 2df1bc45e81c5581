package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleSessions lists sessions by scope.
func (s *RemedyServer) handleSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := req.RequireString("scope")
	if err != nil {
		return mcp.NewToolResultError("scope is required"), nil
	}

	switch scope {
	case "active":
		return marshalResult(map[string]any{"sessions": s.sessions.Active()})
	case "project":
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError("project_id is required when scope is project"), nil
		}
		return marshalResult(map[string]any{"sessions": s.sessions.ByProject(projectID)})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown scope %q", scope)), nil
	}
}

// handleSession returns one session's full record.
func (s *RemedyServer) handleSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	sess := s.sessions.Get(sessionID)
	if sess == nil {
		return mcp.NewToolResultError(fmt.Sprintf("session %q not found", sessionID)), nil
	}
	return marshalResult(sess)
}

// handleStats reports session counts and pool activity.
func (s *RemedyServer) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := map[string]any{
		"sessions_total":     s.sessions.Len(),
		"sessions_by_status": s.sessions.CountByStatus(),
	}
	if s.driver != nil {
		out["pool"] = s.driver.Stats()
	}
	return marshalResult(out)
}

// handleCleanup runs one retention sweep.
func (s *RemedyServer) handleCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawAge, err := req.RequireString("max_age")
	if err != nil {
		return mcp.NewToolResultError("max_age is required"), nil
	}
	maxAge, err := time.ParseDuration(rawAge)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid max_age %q: %v", rawAge, err)), nil
	}
	if maxAge < 0 {
		return mcp.NewToolResultError("max_age must not be negative"), nil
	}

	swept := s.sessions.Cleanup(ctx, maxAge)
	s.logger.Info("manual retention sweep", "max_age", maxAge, "swept", swept)
	return marshalResult(map[string]any{"swept": swept, "max_age": maxAge.String()})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
