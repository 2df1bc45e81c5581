package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/castofly/remedy/internal/engine"
	"github.com/castofly/remedy/internal/session"
)

// RemedyServerDeps holds the dependencies for creating a RemedyServer.
type RemedyServerDeps struct {
	Sessions *session.Store
	Driver   *engine.Driver
	Logger   *slog.Logger
}

// RemedyServer exposes operator tools over MCP: inspect sessions, read
// engine stats, and trigger retention sweeps.
type RemedyServer struct {
	sessions  *session.Store
	driver    *engine.Driver
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewRemedyServer creates a RemedyServer with all tools registered.
func NewRemedyServer(deps RemedyServerDeps) *RemedyServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &RemedyServer{
		sessions: deps.Sessions,
		driver:   deps.Driver,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"remedy",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Remedy is an automated remediation engine. Use remedy.sessions to list sessions, remedy.session to inspect one, remedy.stats for engine counters, and remedy.cleanup to sweep old terminal sessions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *RemedyServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *RemedyServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *RemedyServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: sessionsTool(), Handler: s.handleSessions},
		{Tool: sessionTool(), Handler: s.handleSession},
		{Tool: statsTool(), Handler: s.handleStats},
		{Tool: cleanupTool(), Handler: s.handleCleanup},
	}
}

// --- Tool definitions ---

func sessionsTool() mcp.Tool {
	return mcp.NewTool("remedy.sessions",
		mcp.WithDescription("List remediation sessions"),
		mcp.WithString("scope", mcp.Required(),
			mcp.Enum("active", "project"),
			mcp.Description("active: sessions still in flight; project: all sessions for a project id"),
		),
		mcp.WithString("project_id", mcp.Description("Project id (required when scope is project)")),
	)
}

func sessionTool() mcp.Tool {
	return mcp.NewTool("remedy.session",
		mcp.WithDescription("Inspect one remediation session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to inspect")),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool("remedy.stats",
		mcp.WithDescription("Engine counters: session counts by status and pipeline pool activity"),
	)
}

func cleanupTool() mcp.Tool {
	return mcp.NewTool("remedy.cleanup",
		mcp.WithDescription("Sweep terminal sessions older than max_age (Go duration, e.g. 24h)"),
		mcp.WithString("max_age", mcp.Required(), mcp.Description("Minimum age of sessions to sweep")),
	)
}
