package session

import (
	"context"
	"sync"

	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

type createCall struct {
	Query string
	Flag  int
	WID   string
}

// fakeBackend scripts the boundary calls. Calls block on gate when set.
type fakeBackend struct {
	mu       sync.Mutex
	refines  []refine.Response
	refineFn func(query string, flag int, answers refine.Answers) (refine.Response, error)
	workflow *schema.Workflow
	genErr   error
	saveErr  []error
	gate     chan struct{}
	entered  chan struct{}

	creates   []createCall
	saves     []*schema.Workflow
	executes  []*schema.Workflow
	deletes   []string
	publishes []publishCall
}

type publishCall struct {
	Workflow *schema.Workflow
	Prompt   string
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) RefineQuery(ctx context.Context, query string, flag int, answers refine.Answers) (refine.Response, error) {
	if err := f.wait(ctx); err != nil {
		return refine.Response{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refineFn != nil {
		return f.refineFn(query, flag, answers)
	}
	resp := f.refines[0]
	f.refines = f.refines[1:]
	return resp, nil
}

func (f *fakeBackend) CreateAgents(ctx context.Context, query string, flag int, wid string) (*schema.Workflow, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{Query: query, Flag: flag, WID: wid})
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.workflow.Clone(), nil
}

func (f *fakeBackend) SaveWorkflow(_ context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, wf.Clone())
	if len(f.saveErr) > 0 {
		err := f.saveErr[0]
		f.saveErr = f.saveErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func (f *fakeBackend) Execute(_ context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes = append(f.executes, wf.Clone())
	out := wf.Clone()
	out.Active = !wf.Active || wf.Trigger.IsManual()
	return out, nil
}

func (f *fakeBackend) PublishWorkflow(_ context.Context, wf *schema.Workflow, prompt string) (*schema.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, publishCall{Workflow: wf.Clone(), Prompt: prompt})
	return wf, nil
}

func (f *fakeBackend) DeleteWorkflow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	workflows map[string]*store.StoredWorkflow
	traces    []*store.Trace
	events    []*schema.Event
}

func newMemStore() *memStore {
	return &memStore{workflows: make(map[string]*store.StoredWorkflow)}
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (*store.StoredWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

func (m *memStore) PutWorkflow(_ context.Context, wf *store.StoredWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf
	return nil
}

func (m *memStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	delete(m.workflows, id)
	return nil
}

func (m *memStore) KnownWorkflowIDs(context.Context) (store.KnownIDs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(store.KnownIDs, len(m.workflows))
	for id := range m.workflows {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (m *memStore) ListTraces(_ context.Context, filter store.TraceFilter) ([]*store.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Trace
	for _, t := range m.traces {
		if filter.WorkflowID != "" && t.Message.WorkflowID.String() != filter.WorkflowID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *schema.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// mailDigest is a generated workflow: a manual trigger, a Gmail fetch with a
// label to configure and an LLM summary. Node 2 consumes node 1's output.
func mailDigest() *schema.Workflow {
	return &schema.Workflow{
		WorkflowID:   schema.IntID(42),
		WorkflowName: "Mail digest",
		Trigger: schema.Trigger{
			Name:         "TRIGGER_NEW_GMAIL_MESSAGE",
			ConfigInputs: schema.NewConfigInputs("interval", "5"),
		},
		Workflow: []schema.WorkflowNode{
			{
				ID:              schema.IntID(1),
				Name:            "GMAIL",
				Type:            schema.NodeTypeTool,
				ToolAction:      "GMAIL_FETCH_EMAILS",
				ConfigInputs:    schema.NewConfigInputs("label", "", "max", ""),
				DataFlowOutputs: schema.NewKeySet("emails"),
			},
			{
				ID:              schema.IntID(2),
				Name:            "SUMMARIZE",
				Type:            schema.NodeTypeLLM,
				LLMPrompt:       "Summarize the emails.",
				DataFlowInputs:  schema.NewKeySet("emails"),
				DataFlowOutputs: schema.NewKeySet("summary"),
			},
		},
		DataFlowNotebookKeys: schema.NewKeySet("emails", "summary"),
	}
}
