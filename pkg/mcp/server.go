package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
	"github.com/rendis/cascade/pkg/schema"
)

// Controller is the engine façade the tools drive. Satisfied by *engine.Engine.
type Controller interface {
	StartWorkflow(ctx context.Context, stageID string) error
	RetryBehavior(ctx context.Context) error
	Cancel(ctx context.Context) error
	Reset(ctx context.Context) error
	ConfirmUpdate(ctx context.Context) error
	RejectUpdate(ctx context.Context) error
	Snapshot() engine.Snapshot
	History() []schema.HistoryEntry
}

// HistoryReader serves history of past runs. Satisfied by *store.HistoryLog.
type HistoryReader interface {
	ListHistory(ctx context.Context, runID string, since int64) ([]*store.HistoryRecord, error)
	Runs(ctx context.Context, limit int) ([]string, error)
}

// TemplateSource yields the template currently executing. Satisfied by
// *pipeline.Store.
type TemplateSource interface {
	Template() *schema.WorkflowTemplate
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Engine   Controller
	Pipeline TemplateSource
	History  HistoryReader
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// Server wraps an MCP server with cascade tool handlers.
type Server struct {
	engine    Controller
	pipeline  TemplateSource
	history   HistoryReader
	hub       streaming.EventHub
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:   deps.Engine,
		pipeline: deps.Pipeline,
		history:  deps.History,
		hub:      deps.Hub,
		sessions: NewSessionRegistry(),
		logger:   logger.With(slog.String("component", "mcp")),
	}

	mcpSrv := server.NewMCPServer(
		"cascade",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cascade drives a staged analysis workflow against a remote planner. "+
			"Use cascade.start to begin a run, cascade.status to inspect it, cascade.decide to confirm or reject "+
			"a proposed workflow update, cascade.retry after an error, cascade.cancel and cascade.reset to stop, "+
			"cascade.history to read transitions, and cascade.diagram to see where the run is."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Pending-update prompts are relayed while it runs.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		notifier := NewNotifier(s.mcpServer, s.sessions, s.logger)
		go func() {
			if err := notifier.Relay(ctx, s.hub); err != nil && ctx.Err() == nil {
				s.logger.Warn("update relay stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the registry of sessions that receive update prompts.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: resetTool(), Handler: s.handleReset},
		{Tool: retryTool(), Handler: s.handleRetry},
		{Tool: decideTool(), Handler: s.handleDecide},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("cascade.start",
		mcp.WithDescription("Start a workflow run"),
		mcp.WithString("stage_id", mcp.Description("Stage to start at (default: first stage)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("cascade.status",
		mcp.WithDescription("Get the current run state, position and pending update"),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("cascade.cancel",
		mcp.WithDescription("Cancel the current run"),
	)
}

func resetTool() mcp.Tool {
	return mcp.NewTool("cascade.reset",
		mcp.WithDescription("Reset the engine to idle, clearing the run"),
	)
}

func retryTool() mcp.Tool {
	return mcp.NewTool("cascade.retry",
		mcp.WithDescription("Retry the current behavior after an error"),
	)
}

func decideTool() mcp.Tool {
	return mcp.NewTool("cascade.decide",
		mcp.WithDescription("Confirm or reject the pending workflow update"),
		mcp.WithString("decision", mcp.Required(),
			mcp.Enum("confirm", "reject"),
			mcp.Description("Whether to apply the proposed template"),
		),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("cascade.history",
		mcp.WithDescription("List state transitions of the current or a past run"),
		mcp.WithString("run_id", mcp.Description("Run to read (default: current run)")),
		mcp.WithNumber("since", mcp.Description("Only transitions with a higher sequence")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("cascade.diagram",
		mcp.WithDescription("Render the current template with the run position marked"),
		mcp.WithString("format",
			mcp.Description("Output format (default: mermaid)"),
			mcp.Enum("mermaid", "ascii"),
		),
	)
}
