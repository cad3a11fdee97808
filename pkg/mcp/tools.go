package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/diagram"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/session"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// handleRefine submits or amends the request.
func (s *FlowServer) handleRefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}
	fs := s.session(ctx)
	if req.GetBool("amend", false) {
		_, err = fs.Amend(ctx, query)
	} else {
		_, err = fs.Submit(ctx, query)
	}
	if err != nil {
		return flowError("refine", err), nil
	}
	return marshalResult(fs.View())
}

// handleAnswer replies to the current clarifying question.
func (s *FlowServer) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	answer, err := req.RequireString("answer")
	if err != nil {
		return mcp.NewToolResultError("answer is required"), nil
	}
	fs := s.session(ctx)
	if _, err := fs.Reply(ctx, answer); err != nil {
		return flowError("answer", err), nil
	}
	return marshalResult(fs.View())
}

// handleGenerate builds the workflow from the refined request.
func (s *FlowServer) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fs := s.session(ctx)
	if _, err := fs.Generate(ctx, req.GetBool("update", false)); err != nil {
		return flowError("generate", err), nil
	}
	return marshalResult(fs.View())
}

// handleConfigure drives the configuration wizard.
func (s *FlowServer) handleConfigure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	fs := s.session(ctx)

	switch action {
	case "set":
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError("key is required for action=set"), nil
		}
		_, err = fs.ConfigureSet(ctx, key, req.GetString("value", ""))
		if err != nil {
			return flowError("configure", err), nil
		}
	case "next":
		if _, err := fs.ConfigureNext(ctx); err != nil {
			return flowError("configure", err), nil
		}
	case "retry":
		if _, err := fs.ConfigureRetry(ctx); err != nil {
			return flowError("configure", err), nil
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
	return marshalResult(fs.View())
}

// edit is one entry of the flow.edit edits array.
type edit struct {
	Kind string          `json:"kind"`
	Args json.RawMessage `json:"args"`
}

// handleEdit applies a batch of mutations.
func (s *FlowServer) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms, err := decodeEdits(req.GetArguments()["edits"])
	if err != nil {
		return flowError("edit", err), nil
	}
	fs := s.session(ctx)
	if _, err := fs.Mutate(ctx, ms...); err != nil {
		return flowError("edit", err), nil
	}
	return marshalResult(fs.View())
}

func decodeEdits(raw any) ([]document.Mutation, error) {
	if raw == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "edits is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid edits: %v", err)
	}
	var edits []edit
	if err := json.Unmarshal(data, &edits); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "edits must be a list of {kind, args}: %v", err)
	}
	if len(edits) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "edits is empty")
	}

	ms := make([]document.Mutation, 0, len(edits))
	for _, e := range edits {
		m, err := document.Decode(e.Kind, e.Args)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// handleGraph renders the workflow in the requested format.
func (s *FlowServer) handleGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	model, err := s.session(ctx).Graph(ctx)
	if err != nil {
		return flowError("graph", err), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	case "json":
		return marshalResult(model)
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, image, or json"), nil
	}
}

// handleSave persists the workflow on the server.
func (s *FlowServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fs := s.session(ctx)
	if _, err := fs.Save(ctx, req.GetBool("force", false)); err != nil {
		return flowError("save", err), nil
	}
	return marshalResult(fs.View())
}

// handleRun executes or activates the workflow.
func (s *FlowServer) handleRun(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fs := s.session(ctx)
	if _, err := fs.Run(ctx); err != nil {
		return flowError("run", err), nil
	}
	return marshalResult(fs.View())
}

func (s *FlowServer) handleView(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.session(ctx).View())
}

// handlePublish shares the saved workflow publicly.
func (s *FlowServer) handlePublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := session.PublishOptions{
		Blank:  req.GetBool("blank", false),
		Prompt: req.GetString("prompt", ""),
	}
	if raw, ok := req.GetArguments()["edits"]; ok && raw != nil {
		ms, err := decodeEdits(raw)
		if err != nil {
			return flowError("publish", err), nil
		}
		opts.Edits = ms
	}
	wf, err := s.session(ctx).Publish(ctx, opts)
	if err != nil {
		return flowError("publish", err), nil
	}
	return marshalResult(wf)
}

// handlePublic shows or copies a published workflow.
func (s *FlowServer) handlePublic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	wid, err := req.RequireString("wid")
	if err != nil {
		return mcp.NewToolResultError("wid is required"), nil
	}
	catalog, ok := s.deps.Backend.(PublicCatalog)
	if !ok {
		return mcp.NewToolResultError("published workflows are not available"), nil
	}

	switch action {
	case "show":
		pub, err := catalog.GetPublic(ctx, wid)
		if err != nil {
			return flowError("public", err), nil
		}
		return marshalResult(pub)
	case "use":
		if err := catalog.UsePublicWorkflow(ctx, wid); err != nil {
			return flowError("public", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Workflow %s was added to your workflows.", wid)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// handleAPIKeys stores provider keys.
func (s *FlowServer) handleAPIKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	saver, ok := s.deps.Backend.(KeySaver)
	if !ok {
		return mcp.NewToolResultError("api keys cannot be stored with this backend"), nil
	}
	keys := backend.APIKeys{}
	var names []string
	for _, name := range backend.ProviderKeys {
		if v := req.GetString(name, ""); v != "" {
			keys[name] = v
			names = append(names, name)
		}
	}
	if len(keys) == 0 {
		return mcp.NewToolResultError("at least one api key is required"), nil
	}
	if err := saver.SaveAPIKeys(ctx, keys); err != nil {
		return flowError("api_keys", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stored api keys: %v", names)), nil
}

// --- Internal helpers ---

// flowError converts err into a tool error. FlowError text carries its code.
func flowError(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
