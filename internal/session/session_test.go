package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/document"
	"github.com/sigmoyd/flowcraft/internal/refine"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/internal/streaming"
	"github.com/sigmoyd/flowcraft/internal/validation"
	"github.com/sigmoyd/flowcraft/internal/wizard"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func clarifyThenRefine(query string, flag int, _ refine.Answers) (refine.Response, error) {
	if flag == refine.FlagClarify {
		return refine.Response{List: true, Questions: []string{"Which label?*Work*Personal", "How often?"}}, nil
	}
	return refine.Response{Spec: "Every day, summarize " + query}, nil
}

func noQuestions(string, int, refine.Answers) (refine.Response, error) {
	return refine.Response{List: true}, nil
}

func newTestSession(t *testing.T, b *fakeBackend, st Store, cfg Config) *Session {
	t.Helper()
	if b.workflow == nil {
		b.workflow = mailDigest()
	}
	return New(b, st, cfg)
}

// refined drives a session to the refined phase without questions.
func refined(t *testing.T, s *Session, b *fakeBackend) {
	t.Helper()
	b.mu.Lock()
	b.refineFn = noQuestions
	b.mu.Unlock()
	st, err := s.Submit(context.Background(), "digest my work mail")
	require.NoError(t, err)
	require.Equal(t, refine.PhaseRefined, st.Phase())
}

// knownSession opens the stored mail digest, which skips the wizard.
func knownSession(t *testing.T) (*Session, *fakeBackend, *memStore) {
	t.Helper()
	st := newMemStore()
	require.NoError(t, st.PutWorkflow(context.Background(), &store.StoredWorkflow{
		ID: "42", Name: "Mail digest", Prompt: "digest", Document: mailDigest(),
	}))
	b := &fakeBackend{}
	s := newTestSession(t, b, st, Config{})
	_, err := s.Open(context.Background(), "42")
	require.NoError(t, err)
	return s, b, st
}

func TestSession_RefineGenerateConfigureSave(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{Kinds: []string{schema.EventWizardCompleted}})
	require.NoError(t, err)
	defer cancel()

	b := &fakeBackend{refineFn: clarifyThenRefine}
	s := newTestSession(t, b, st, Config{ID: "sess-1", Hub: hub})

	state, err := s.Submit(ctx, "digest my mail")
	require.NoError(t, err)
	aw, ok := state.(refine.AwaitingClarification)
	require.True(t, ok)
	assert.Equal(t, []string{"Work", "Personal"}, aw.Current().Options)

	_, err = s.Generate(ctx, false)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = s.Reply(ctx, "Work")
	require.NoError(t, err)
	state, err = s.Reply(ctx, "Daily")
	require.NoError(t, err)
	require.Equal(t, refine.PhaseRefined, state.Phase())

	doc, err := s.Generate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "42", doc.ID().String())
	require.Len(t, b.creates, 1)
	assert.Equal(t, createCall{Query: "Every day, summarize digest my mail", Flag: backend.FlagCreate}, b.creates[0])

	view := s.View()
	assert.Equal(t, wizard.PhaseCollecting, view.Wizard)
	assert.Equal(t, 1, view.Step)
	assert.Equal(t, 2, view.Steps)
	require.NotNil(t, view.Target)
	assert.True(t, view.Target.Trigger)

	_, err = s.Save(ctx, true)
	assert.True(t, schema.IsCode(err, schema.ErrCodeWizardIncomplete))
	_, err = s.Run(ctx)
	assert.True(t, schema.IsCode(err, schema.ErrCodeWizardIncomplete))
	_, err = s.Mutate(ctx, document.SetWorkflowName{Name: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeWizardIncomplete))

	_, err = s.ConfigureSet(ctx, "interval", "10")
	require.NoError(t, err)
	wiz, err := s.ConfigureNext(ctx)
	require.NoError(t, err)
	col, ok := wiz.(wizard.Collecting)
	require.True(t, ok)
	assert.Equal(t, "1", col.Current().NodeID.String())

	_, err = s.ConfigureSet(ctx, "bogus", "x")
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownField))
	_, err = s.ConfigureSet(ctx, "label", "INBOX")
	require.NoError(t, err)
	wiz, err = s.ConfigureNext(ctx)
	require.NoError(t, err)
	complete, ok := wiz.(wizard.Complete)
	require.True(t, ok)
	assert.Equal(t, 2, complete.Commits)

	require.Len(t, b.saves, 1)
	saved := b.saves[0]
	interval, _ := saved.Trigger.ConfigInputs.Get("interval")
	assert.Equal(t, "10", interval)
	label, _ := saved.Workflow[0].ConfigInputs.Get("label")
	assert.Equal(t, "INBOX", label)
	limit, ok := saved.Workflow[0].ConfigInputs.Get("max")
	assert.True(t, ok)
	assert.Empty(t, limit)

	assert.False(t, s.Document().Dirty())
	_, err = s.Save(ctx, false)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	cached, err := st.GetWorkflow(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "Every day, summarize digest my mail", cached.Prompt)

	types := st.eventTypes()
	assert.Contains(t, types, schema.EventRefineQuestions)
	assert.Contains(t, types, schema.EventRefineRefined)
	assert.Contains(t, types, schema.EventWorkflowGenerated)
	assert.Contains(t, types, schema.EventWizardStarted)
	assert.Contains(t, types, schema.EventWizardCompleted)
	assert.Contains(t, types, schema.EventWorkflowSaved)

	select {
	case ev := <-events:
		assert.Equal(t, "sess-1", ev.SessionID)
		assert.Equal(t, "42", ev.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("wizard completion was not published")
	}
}

func TestSession_GenerateRequiresRefinedQuery(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, newMemStore(), Config{})
	_, err := s.Generate(context.Background(), false)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "cannot generate workflow without a refined query")
}

func TestSession_GenerateRejectsMalformedWorkflows(t *testing.T) {
	v, err := validation.NewWorkflowValidator(nil)
	require.NoError(t, err)

	noID := mailDigest()
	noID.WorkflowID = schema.ID{}
	dup := mailDigest()
	dup.Workflow[1].ID = schema.IntID(1)

	for name, wf := range map[string]*schema.Workflow{"missing id": noID, "duplicate node": dup} {
		t.Run(name, func(t *testing.T) {
			b := &fakeBackend{workflow: wf}
			s := newTestSession(t, b, newMemStore(), Config{Validator: v})
			refined(t, s, b)

			_, err := s.Generate(context.Background(), false)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedPayload))
			assert.Nil(t, s.Document())
		})
	}
}

func TestSession_KnownWorkflowSkipsWizard(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.PutWorkflow(context.Background(), &store.StoredWorkflow{ID: "42", Document: mailDigest()}))
	b := &fakeBackend{}
	s := newTestSession(t, b, st, Config{})
	refined(t, s, b)

	_, err := s.Generate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseComplete, s.Wizard().Phase())
	assert.Contains(t, st.eventTypes(), schema.EventWizardSkipped)
}

func TestSession_SaveRequiresChangesUnlessForced(t *testing.T) {
	ctx := context.Background()
	s, b, _ := knownSession(t)

	_, err := s.Save(ctx, false)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	_, err = s.Save(ctx, true)
	require.NoError(t, err)

	doc, err := s.Mutate(ctx, document.SetNodeField{NodeID: schema.IntID(2), Field: schema.FieldLLMPrompt, Value: "Summarize briefly."})
	require.NoError(t, err)
	assert.True(t, doc.Dirty())

	doc, err = s.Save(ctx, false)
	require.NoError(t, err)
	assert.False(t, doc.Dirty())
	require.Len(t, b.saves, 2)
	assert.Equal(t, "Summarize briefly.", b.saves[1].Workflow[1].LLMPrompt)
}

func TestSession_MutateIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, _, _ := knownSession(t)
	before := s.Document()

	_, err := s.Mutate(ctx,
		document.SetWorkflowName{Name: "Renamed"},
		document.SetNodeConfig{NodeID: schema.IntID(99), Key: "k", Value: "v"},
	)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnknownNode))
	assert.Same(t, before, s.Document())
	assert.Equal(t, "Mail digest", s.Document().Name())
}

func TestSession_WizardSaveFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{saveErr: []error{schema.NewError(schema.ErrCodeTransport, "connection reset")}}
	s := newTestSession(t, b, newMemStore(), Config{})
	refined(t, s, b)
	_, err := s.Generate(ctx, false)
	require.NoError(t, err)

	_, err = s.ConfigureNext(ctx)
	require.NoError(t, err)
	wiz, err := s.ConfigureNext(ctx)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
	assert.Equal(t, wizard.PhaseSaving, wiz.Phase())
	assert.Equal(t, "[TRANSPORT_ERROR] connection reset", s.View().SaveError)
	assert.True(t, s.Document().Dirty(), "committed document is kept")

	_, err = s.Save(ctx, true)
	assert.True(t, schema.IsCode(err, schema.ErrCodeWizardIncomplete))

	wiz, err = s.ConfigureRetry(ctx)
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseComplete, wiz.Phase())
	assert.Len(t, b.saves, 2)
}

func TestSession_RunAdoptsServerDocument(t *testing.T) {
	ctx := context.Background()
	s, b, st := knownSession(t)

	doc, err := s.Run(ctx)
	require.NoError(t, err)
	require.Len(t, b.executes, 1)
	assert.True(t, doc.Workflow().Active)
	assert.False(t, doc.Dirty())
	assert.Contains(t, st.eventTypes(), schema.EventWorkflowRun)

	cached, err := st.GetWorkflow(ctx, "42")
	require.NoError(t, err)
	assert.True(t, cached.Active)
}

func TestSession_DeleteClearsDocument(t *testing.T) {
	ctx := context.Background()
	s, b, st := knownSession(t)

	require.NoError(t, s.Delete(ctx, ""))
	assert.Equal(t, []string{"42"}, b.deletes)
	assert.Nil(t, s.Document())
	_, err := st.GetWorkflow(ctx, "42")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	assert.True(t, schema.IsCode(s.Delete(ctx, ""), schema.ErrCodeValidation))
}

func TestSession_GraphCachesPerVersion(t *testing.T) {
	ctx := context.Background()
	s, _, st := knownSession(t)
	st.traces = append(st.traces, &store.Trace{Sequence: 1, Message: schema.LogMessage{
		WorkflowID: schema.IntID(42), Node: schema.IntID(1), AgentName: "GMAIL", Status: schema.NodeStatusSucceeded,
	}})

	model, err := s.Graph(ctx)
	require.NoError(t, err)
	require.Len(t, model.Nodes, 3, "event trigger is drawn")
	require.Len(t, model.Edges, 1)
	assert.Equal(t, "1", model.Edges[0].From)
	assert.Equal(t, "2", model.Edges[0].To)
	require.NotNil(t, model.Node("1").Status)
	assert.False(t, model.Node("1").Status.Failed)

	again, err := s.Graph(ctx)
	require.NoError(t, err)
	assert.Same(t, model, again)

	_, err = s.Mutate(ctx, document.SetWorkflowName{Name: "Renamed"})
	require.NoError(t, err)
	rebuilt, err := s.Graph(ctx)
	require.NoError(t, err)
	assert.NotSame(t, model, rebuilt)
	assert.Equal(t, "Renamed", rebuilt.Title)
}

func TestSession_GenerateUpdateSendsWorkflowID(t *testing.T) {
	s, b, _ := knownSession(t)
	refined(t, s, b)

	_, err := s.Generate(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, b.creates, 1)
	assert.Equal(t, backend.FlagUpdate, b.creates[0].Flag)
	assert.Equal(t, "42", b.creates[0].WID)
}

func TestSession_BusyWhileCallOutstanding(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	s := newTestSession(t, b, newMemStore(), Config{})
	refined(t, s, b)

	b.mu.Lock()
	b.gate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(ctx, false)
		done <- err
	}()
	<-b.entered

	_, err := s.Submit(ctx, "another goal")
	assert.True(t, schema.IsCode(err, schema.ErrCodeBusy))
	_, err = s.Generate(ctx, false)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBusy))

	close(b.gate)
	require.NoError(t, <-done)
	assert.NotNil(t, s.Document())
}

func TestSession_ResetMakesResultStale(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	s := newTestSession(t, b, newMemStore(), Config{})
	refined(t, s, b)

	b.mu.Lock()
	b.gate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Generate(ctx, false)
		done <- err
	}()
	<-b.entered

	s.Reset(ctx)
	close(b.gate)

	err := <-done
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStale))
	assert.Nil(t, s.Document())
	assert.Equal(t, refine.PhaseIdle, s.Refinement().Phase())
}

func TestSession_ClosedRejectsCalls(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(t, b, nil, Config{})
	s.Close(context.Background())

	_, err := s.Submit(context.Background(), "goal")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStale))
}
