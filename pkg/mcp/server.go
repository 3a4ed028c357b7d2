// Package mcp exposes nodeflow to MCP clients over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/executors"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Runner starts runs. Satisfied by *engine.LocalRunner.
type Runner interface {
	Enqueue(ctx context.Context, ev durable.Event) (string, error)
	Invoke(ctx context.Context, runID string, ev durable.Event) error
}

// Store is the read side the tools need.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error)
	ListRunEvents(ctx context.Context, runID string, since int64) ([]*store.RunEvent, error)
	ReplayRun(ctx context.Context, runID string) (*store.RunSummary, error)
}

// Catalog lists the node types that can run. Satisfied by
// *executors.Registry.
type Catalog interface {
	Describe() []executors.Info
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runs    Runner
	Store   Store
	Catalog Catalog
	Logger  *slog.Logger
	Version string
}

// Server wraps an MCP server with the nodeflow tool handlers.
type Server struct {
	runs      Runner
	store     Store
	catalog   Catalog
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		runs:    deps.Runs,
		store:   deps.Store,
		catalog: deps.Catalog,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("nodeflow runs node-based automation workflows. Use nodeflow.list_workflows to find a workflow, nodeflow.describe_workflow to see its nodes in execution order, nodeflow.execute to start a run, and nodeflow.get_run to follow it."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: listWorkflowsTool(), Handler: s.handleListWorkflows},
		{Tool: describeWorkflowTool(), Handler: s.handleDescribeWorkflow},
		{Tool: getRunTool(), Handler: s.handleGetRun},
		{Tool: nodeTypesTool(), Handler: s.handleNodeTypes},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("nodeflow.execute",
		mcp.WithDescription("Start a run of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("initial_data", mcp.Description("Initial run context, keyed by variable name")),
		mcp.WithBoolean("wait", mcp.Description("Run synchronously and return the final status (default: false)")),
	)
}

func listWorkflowsTool() mcp.Tool {
	return mcp.NewTool("nodeflow.list_workflows",
		mcp.WithDescription("List stored workflows"),
		mcp.WithString("user_id", mcp.Description("Only workflows owned by this user")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of workflows (default: 50)")),
	)
}

func describeWorkflowTool() mcp.Tool {
	return mcp.NewTool("nodeflow.describe_workflow",
		mcp.WithDescription("Describe a workflow's nodes in execution order"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("format",
			mcp.Enum("json", "mermaid", "ascii"),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}

func getRunTool() mcp.Tool {
	return mcp.NewTool("nodeflow.get_run",
		mcp.WithDescription("Get the status of a run from its event log"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithBoolean("include_events", mcp.Description("Include the lifecycle events (default: false)")),
		mcp.WithString("diagram",
			mcp.Enum("none", "mermaid", "ascii"),
			mcp.Description("Attach a diagram of the workflow with node outcomes (default: none)"),
		),
	)
}

func nodeTypesTool() mcp.Tool {
	return mcp.NewTool("nodeflow.node_types",
		mcp.WithDescription("List the node types this engine can run"),
	)
}
