package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castofly/remedy/internal/session"
	"github.com/castofly/remedy/pkg/schema"
)

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func newTestServer(t *testing.T) (*RemedyServer, *session.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewStore(time.Minute, nil, logger)
	s := NewRemedyServer(RemedyServerDeps{Sessions: sessions, Logger: logger})
	return s, sessions
}

func seedSession(sessions *session.Store, itemID, projectID string, terminal schema.SessionStatus) *session.Session {
	ctx := context.Background()
	var overrides *schema.SessionContext
	if projectID != "" {
		overrides = &schema.SessionContext{Project: &schema.ProjectConfig{ID: projectID}}
	}
	sess := sessions.Create(ctx, &schema.WorkItem{ID: itemID, Status: schema.ItemStatusNotStarted}, overrides)
	if terminal != "" {
		sessions.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
		sessions.UpdateStatus(ctx, sess.ID, terminal, nil)
	}
	return sess
}

func TestSessionsTool_Active(t *testing.T) {
	s, sessions := newTestServer(t)
	seedSession(sessions, "a", "", "")
	seedSession(sessions, "b", "", schema.SessionStatusCompleted)

	result, err := s.handleSessions(context.Background(), buildRequest("remedy.sessions", map[string]any{
		"scope": "active",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
}

func TestSessionsTool_ProjectRequiresID(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleSessions(context.Background(), buildRequest("remedy.sessions", map[string]any{
		"scope": "project",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSessionsTool_UnknownScope(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleSessions(context.Background(), buildRequest("remedy.sessions", map[string]any{
		"scope": "everything",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSessionTool(t *testing.T) {
	s, sessions := newTestServer(t)
	sess := seedSession(sessions, "a", "p1", "")

	result, err := s.handleSession(context.Background(), buildRequest("remedy.session", map[string]any{
		"session_id": sess.ID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	missing, err := s.handleSession(context.Background(), buildRequest("remedy.session", map[string]any{
		"session_id": "rs-nope",
	}))
	require.NoError(t, err)
	assert.True(t, missing.IsError)
}

func TestStatsTool(t *testing.T) {
	s, sessions := newTestServer(t)
	seedSession(sessions, "a", "", "")
	seedSession(sessions, "b", "", schema.SessionStatusFailed)

	result, err := s.handleStats(context.Background(), buildRequest("remedy.stats", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestCleanupTool(t *testing.T) {
	s, sessions := newTestServer(t)
	seedSession(sessions, "a", "", schema.SessionStatusCompleted)
	seedSession(sessions, "b", "", "")

	result, err := s.handleCleanup(context.Background(), buildRequest("remedy.cleanup", map[string]any{
		"max_age": "0s",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 1, sessions.Len(), "terminal session swept, live one kept")
}

func TestCleanupTool_BadDuration(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleCleanup(context.Background(), buildRequest("remedy.cleanup", map[string]any{
		"max_age": "yesterday",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestServerRegistersTools(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s.MCPServer())
	assert.Len(t, s.tools(), 4)
}
