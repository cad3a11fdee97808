package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// fakeBackend asks one question, then refines, and hands out labelDigest.
type fakeBackend struct {
	mu        sync.Mutex
	saves     []*schema.Workflow
	executes  []*schema.Workflow
	publishes []string
	used      []string
	keys      []backend.APIKeys
}

func (f *fakeBackend) RefineQuery(_ context.Context, query string, flag int, _ refine.Answers) (refine.Response, error) {
	if flag == refine.FlagClarify {
		return refine.Response{List: true, Questions: []string{"Which label?*Work*Personal"}}, nil
	}
	return refine.Response{Spec: "Summarize " + query}, nil
}

func (f *fakeBackend) CreateAgents(context.Context, string, int, string) (*schema.Workflow, error) {
	return labelDigest(), nil
}

func (f *fakeBackend) SaveWorkflow(_ context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, wf.Clone())
	return wf.Clone(), nil
}

func (f *fakeBackend) Execute(_ context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes = append(f.executes, wf.Clone())
	out := wf.Clone()
	out.Active = true
	return out, nil
}

func (f *fakeBackend) DeleteWorkflow(context.Context, string) error { return nil }

func (f *fakeBackend) PublishWorkflow(_ context.Context, wf *schema.Workflow, prompt string) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, prompt)
	return wf.Clone(), nil
}

func (f *fakeBackend) GetPublic(_ context.Context, wid string) (*backend.PublicWorkflow, error) {
	if wid != "5" {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "public workflow %s not found", wid)
	}
	doc, err := json.Marshal(labelDigest())
	if err != nil {
		return nil, err
	}
	return &backend.PublicWorkflow{WID: schema.StringID(wid), Name: "Label digest", JSON: doc, Uses: 3}, nil
}

func (f *fakeBackend) UsePublicWorkflow(_ context.Context, wid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = append(f.used, wid)
	return nil
}

func (f *fakeBackend) SaveAPIKeys(_ context.Context, keys backend.APIKeys) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys)
	return nil
}

func labelDigest() *schema.Workflow {
	return &schema.Workflow{
		WorkflowID:   schema.IntID(5),
		WorkflowName: "Label digest",
		Trigger: schema.Trigger{
			Name:         schema.ManualTrigger,
			ConfigInputs: schema.NewConfigInputs(),
		},
		Workflow: []schema.WorkflowNode{
			{
				ID:              schema.IntID(1),
				Name:            "GMAIL",
				Type:            schema.NodeTypeTool,
				ToolAction:      "GMAIL_FETCH_EMAILS",
				ConfigInputs:    schema.NewConfigInputs("label", ""),
				DataFlowOutputs: schema.NewKeySet("emails"),
			},
			{
				ID:              schema.IntID(2),
				Name:            "SUMMARIZE",
				Type:            schema.NodeTypeLLM,
				LLMPrompt:       "Summarize.",
				DataFlowInputs:  schema.NewKeySet("emails"),
				DataFlowOutputs: schema.NewKeySet("summary"),
			},
		},
		DataFlowNotebookKeys: schema.NewKeySet("emails", "summary"),
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// view decodes a successful tool result into a map.
func view(t *testing.T) func(*mcp.CallToolResult, error) map[string]any {
	return func(result *mcp.CallToolResult, err error) map[string]any {
		t.Helper()
		require.NoError(t, err)
		text := resultText(t, result)
		require.False(t, result.IsError, text)
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(text), &v))
		return v
	}
}
