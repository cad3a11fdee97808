package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/internal/session"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/internal/validation"
)

// defaultClient keys the flow session of transports without client sessions.
const defaultClient = "default"

// PublicCatalog browses and copies published workflows.
// Satisfied by *backend.Client.
type PublicCatalog interface {
	GetPublic(ctx context.Context, wid string) (*backend.PublicWorkflow, error)
	UsePublicWorkflow(ctx context.Context, wid string) error
}

// KeySaver stores the provider keys workflows run with.
// Satisfied by *backend.Client.
type KeySaver interface {
	SaveAPIKeys(ctx context.Context, keys backend.APIKeys) error
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
// Backend may also implement PublicCatalog and KeySaver; the matching tools
// report an error when it does not.
type FlowServerDeps struct {
	Backend   session.Backend
	Store     session.Store // optional
	Hub       streaming.EventHub
	Validator *validation.WorkflowValidator
	Layout    graph.Options
	Logger    *slog.Logger
}

// FlowServer wraps an MCP server whose tools drive one flow session per
// connected client.
type FlowServer struct {
	deps      FlowServerDeps
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewFlowServer creates a new FlowServer with all tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		deps:     deps,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		if fs, ok := s.sessions.Remove(cs.SessionID()); ok {
			fs.Close(ctx)
		}
	})

	mcpSrv := server.NewMCPServer(
		"flowcraft",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Flowcraft turns a plain-language request into an automation workflow. Call flow.refine with the request, answer each clarifying question with flow.answer, then flow.generate. Fill missing settings with flow.configure, adjust with flow.edit, inspect with flow.graph or flow.view, and finish with flow.save or flow.run. Share a saved workflow with flow.publish. When a call fails with CONFIG_REQUIRED, store provider keys with flow.api_keys and retry."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Session events are pushed to the client while serving.
func (s *FlowServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.deps.Hub != nil {
		go func() {
			if err := Forward(ctx, s.deps.Hub, s.notifier); err != nil {
				s.logger.Warn("event forwarding stopped", "error", err)
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// session returns the flow session of the calling client.
func (s *FlowServer) session(ctx context.Context) *session.Session {
	clientID := defaultClient
	if cs := server.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		clientID = cs.SessionID()
	}
	return s.sessions.GetOrCreate(clientID, func() *session.Session {
		s.logger.Info("flow session opened", slog.String("client", clientID))
		return session.New(s.deps.Backend, s.deps.Store, session.Config{
			Hub:       s.deps.Hub,
			Validator: s.deps.Validator,
			Layout:    s.deps.Layout,
			Logger:    s.logger,
		})
	})
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: refineTool(), Handler: s.handleRefine},
		{Tool: answerTool(), Handler: s.handleAnswer},
		{Tool: generateTool(), Handler: s.handleGenerate},
		{Tool: configureTool(), Handler: s.handleConfigure},
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: graphTool(), Handler: s.handleGraph},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: viewTool(), Handler: s.handleView},
		{Tool: publishTool(), Handler: s.handlePublish},
		{Tool: publicTool(), Handler: s.handlePublic},
		{Tool: apiKeysTool(), Handler: s.handleAPIKeys},
	}
}

// --- Tool definitions ---

func refineTool() mcp.Tool {
	return mcp.NewTool("flow.refine",
		mcp.WithDescription("Start refining an automation request, or amend a refined one"),
		mcp.WithString("query", mcp.Required(), mcp.Description("The request in plain language, or the amendment text")),
		mcp.WithBoolean("amend", mcp.Description("Amend the current refined request instead of starting over")),
	)
}

func answerTool() mcp.Tool {
	return mcp.NewTool("flow.answer",
		mcp.WithDescription("Answer the current clarifying question"),
		mcp.WithString("answer", mcp.Required(), mcp.Description("Reply to the question shown in the session view")),
	)
}

func generateTool() mcp.Tool {
	return mcp.NewTool("flow.generate",
		mcp.WithDescription("Generate the workflow from the refined request"),
		mcp.WithBoolean("update", mcp.Description("Regenerate the loaded workflow in place")),
	)
}

func configureTool() mcp.Tool {
	return mcp.NewTool("flow.configure",
		mcp.WithDescription("Fill settings of the workflow step by step"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("set", "next", "retry"),
			mcp.Description("set a value, advance to the next step, or retry a failed save"),
		),
		mcp.WithString("key", mcp.Description("Config key (action=set)")),
		mcp.WithString("value", mcp.Description("Config value (action=set)")),
	)
}

func editTool() mcp.Tool {
	return mcp.NewTool("flow.edit",
		mcp.WithDescription("Apply edits to the workflow. All edits apply or none do"),
		mcp.WithArray("edits", mcp.Required(),
			mcp.Description("Edits as {kind, args}. Kinds: set_trigger_config, set_node_field, set_node_config, replace_node_config, set_workflow_name"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

func graphTool() mcp.Tool {
	return mcp.NewTool("flow.graph",
		mcp.WithDescription("Render the workflow graph with execution status. Returns ASCII art, Mermaid flowchart syntax, a PNG image, or the diagram model"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image", "json"),
			mcp.Description("Output format"),
		),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("flow.save",
		mcp.WithDescription("Save the workflow to the server"),
		mcp.WithBoolean("force", mcp.Description("Save even when there are no unsaved changes")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Run the workflow now, or activate it when it has a non-manual trigger"),
	)
}

func viewTool() mcp.Tool {
	return mcp.NewTool("flow.view",
		mcp.WithDescription("Show the session state: refinement phase, current question, workflow, and configuration step"),
	)
}

func publishTool() mcp.Tool {
	return mcp.NewTool("flow.publish",
		mcp.WithDescription("Publish the saved workflow so others can use it"),
		mcp.WithBoolean("blank", mcp.Description("Clear every config value in the published copy")),
		mcp.WithString("prompt", mcp.Description("Description shown with the workflow; defaults to the refined request")),
		mcp.WithArray("edits",
			mcp.Description("Edits as {kind, args} applied to the published copy only"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

func publicTool() mcp.Tool {
	return mcp.NewTool("flow.public",
		mcp.WithDescription("Show a published workflow or copy it into your workflows"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("show", "use"),
			mcp.Description("show the published workflow, or use it as your own"),
		),
		mcp.WithString("wid", mcp.Required(), mcp.Description("Published workflow id")),
	)
}

func apiKeysTool() mcp.Tool {
	return mcp.NewTool("flow.api_keys",
		mcp.WithDescription("Store the provider API keys workflows run with"),
		mcp.WithString("openai", mcp.Description("OpenAI API key")),
		mcp.WithString("gemini", mcp.Description("Gemini API key")),
		mcp.WithString("composio", mcp.Description("Composio API key")),
	)
}
