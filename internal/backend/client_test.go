package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

const workflowJSON = `{
	"workflow_id": 21,
	"workflow_name": "Mail digest",
	"trigger": {"name": "TRIGGER_MANUAL", "config_inputs": {}},
	"workflow": [{"id": 1, "name": "GMAIL", "type": "tool", "tool_action": "GMAIL_FETCH",
		"config_inputs": {"label": ""}, "data_flow_inputs": [], "data_flow_outputs": ["mails"]}],
	"data_flow_notebook_keys": ["mails"],
	"active": false
}`

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", Token: "tok", MaxRetries: 2, Backoff: Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}})
	require.NoError(t, err)
	return c, &calls
}

func reply(body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRefineQuery_Questions(t *testing.T) {
	c, calls := newServer(t, reply(`{"response": ["Which inbox?*Work*Personal", "How often?"]}`))

	resp, err := c.RefineQuery(context.Background(), "digest my mail", refine.FlagClarify, nil)
	require.NoError(t, err)
	assert.True(t, resp.List)
	assert.Equal(t, []string{"Which inbox?*Work*Personal", "How often?"}, resp.Questions)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/refine_query", call.path)
	assert.Equal(t, "Bearer tok", call.auth)
	assert.Equal(t, "digest my mail", call.body["query"])
	assert.Equal(t, float64(0), call.body["flag"])
	assert.Equal(t, map[string]any{}, call.body["question"])
}

func TestRefineQuery_Spec(t *testing.T) {
	c, calls := newServer(t, reply(`{"response": "Every morning, summarize work mail."}`))

	answers := refine.Answers{}.With("Which inbox?", "Work")
	resp, err := c.RefineQuery(context.Background(), "digest", refine.FlagRefine, answers)
	require.NoError(t, err)
	assert.False(t, resp.List)
	assert.Equal(t, "Every morning, summarize work mail.", resp.Spec)
	assert.Equal(t, map[string]any{"Which inbox?": "Work"}, (*calls)[0].body["question"])
}

func TestRefineQuery_Malformed(t *testing.T) {
	c, _ := newServer(t, reply(`{"response": {"nested": true}}`))
	_, err := c.RefineQuery(context.Background(), "q", refine.FlagClarify, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedPayload))
	assert.True(t, IsRetryable(err))
}

func TestCreateAgents(t *testing.T) {
	c, calls := newServer(t, reply(`{"response": `+workflowJSON+`}`))

	wf, err := c.CreateAgents(context.Background(), "refined spec", FlagUpdate, "21")
	require.NoError(t, err)
	assert.Equal(t, "21", wf.WorkflowID.String())
	assert.Equal(t, "GMAIL_FETCH", wf.Workflow[0].ToolAction)

	body := (*calls)[0].body
	assert.Equal(t, "/create_agents", (*calls)[0].path)
	assert.Equal(t, "refined spec", body["query"])
	assert.Equal(t, float64(1), body["flag"])
	assert.Equal(t, "21", body["wid"])
}

func TestCreateAgents_MissingWorkflowID(t *testing.T) {
	c, _ := newServer(t, reply(`{"response": {"workflow_id": "", "trigger": {"name": "TRIGGER_MANUAL"}, "workflow": []}}`))
	_, err := c.CreateAgents(context.Background(), "q", FlagCreate, "")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedPayload))
	assert.Contains(t, err.Error(), "no workflow_id")
}

func TestCreateAgents_SchemaViolation(t *testing.T) {
	c, _ := newServer(t, reply(`{"response": {"workflow_id": 1, "workflow": "nope"}}`))
	_, err := c.CreateAgents(context.Background(), "q", FlagCreate, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedPayload))
}

func TestSaveWorkflow_Envelope(t *testing.T) {
	c, calls := newServer(t, reply(`{"json": `+workflowJSON+`}`))

	wf := &schema.Workflow{WorkflowID: schema.IntID(21), Trigger: schema.Trigger{Name: schema.ManualTrigger}}
	saved, err := c.SaveWorkflow(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, "Mail digest", saved.WorkflowName)

	call := (*calls)[0]
	assert.Equal(t, "/save_workflow", call.path)
	sent, ok := call.body["workflowjson"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(21), sent["workflow_id"])
}

func TestExecute_RoutesByTrigger(t *testing.T) {
	c, calls := newServer(t, reply(`{"json": `+workflowJSON+`}`))
	ctx := context.Background()

	_, err := c.Execute(ctx, &schema.Workflow{WorkflowID: schema.IntID(1), Trigger: schema.Trigger{Name: schema.ManualTrigger}})
	require.NoError(t, err)
	_, err = c.Execute(ctx, &schema.Workflow{WorkflowID: schema.IntID(1), Trigger: schema.Trigger{Name: "TRIGGER_NEW_GMAIL_MESSAGE"}})
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	assert.Equal(t, "/run_workflow", (*calls)[0].path)
	assert.Equal(t, "/activate_workflow", (*calls)[1].path)
}

func TestPostWorkflow_RequiresDocument(t *testing.T) {
	c, calls := newServer(t, reply(`{}`))
	_, err := c.RunWorkflow(context.Background(), nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Empty(t, *calls)
}

func TestConfigRequired(t *testing.T) {
	c, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status": "error", "message": "Please fill in your API keys to proceed."}`)
	})
	_, err := c.RunWorkflow(context.Background(), &schema.Workflow{WorkflowID: schema.IntID(1)})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfigRequired))
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "API keys")
}

func TestStatusErrorWithOKCode(t *testing.T) {
	c, _ := newServer(t, reply(`{"status": "error", "message": "quota exceeded"}`))
	_, err := c.SaveWorkflow(context.Background(), &schema.Workflow{WorkflowID: schema.IntID(1)})
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
}

func TestDeleteWorkflow(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/delete_workflow/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail": "Workflow not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status": "success", "message": "Workflow deleted successfully"}`)
	})
	ctx := context.Background()

	require.NoError(t, c.DeleteWorkflow(ctx, "21"))
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
	assert.Equal(t, "/delete_workflow/21", (*calls)[0].path)

	err := c.DeleteWorkflow(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.Contains(t, err.Error(), "Workflow not found")

	assert.True(t, schema.IsCode(c.DeleteWorkflow(ctx, ""), schema.ErrCodeValidation))
}

func TestSidebarWorkflows_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	entry, err := json.Marshal(workflowJSON)
	require.NoError(t, err)
	c, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[{"id": "21", "name": "Mail digest", "json": `+string(entry)+`, "prompt": "p", "active": true, "public": false}]`)
	})

	entries, err := c.SidebarWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, entries, 1)
	assert.Equal(t, "21", entries[0].ID.String())
	assert.True(t, entries[0].Active)

	wf, err := entries[0].Workflow()
	require.NoError(t, err)
	assert.Equal(t, "Mail digest", wf.WorkflowName)
}

func TestSidebarWorkflows_GivesUp(t *testing.T) {
	var hits atomic.Int32
	c, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.SidebarWorkflows(context.Background())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
	assert.Equal(t, int32(3), hits.Load(), "one attempt plus two retries")
}

func TestSidebarEntry_BadJSON(t *testing.T) {
	_, err := SidebarEntry{ID: schema.StringID("1"), JSON: "{"}.Workflow()
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedPayload))

	wf, err := SidebarEntry{ID: schema.StringID("9"), JSON: `{"workflow_name": "x"}`}.Workflow()
	require.NoError(t, err)
	assert.Equal(t, "9", wf.WorkflowID.String())
}

func TestRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(reply(`{"response": []}`)))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, RateLimit: 20, Burst: 1})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.RefineQuery(context.Background(), "q", refine.FlagClarify, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCancelledContextIsStale(t *testing.T) {
	c, _ := newServer(t, reply(`{}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RefineQuery(ctx, "q", refine.FlagClarify, nil)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}
