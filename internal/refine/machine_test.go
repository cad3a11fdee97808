package refine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

type refineCall struct {
	Query    string
	Flag     int
	Question Answers
}

// fakeRefiner answers clarify calls with questions and refine calls with spec.
type fakeRefiner struct {
	mu        sync.Mutex
	questions []string
	spec      string
	err       error
	block     chan struct{}
	calls     []refineCall
}

func (f *fakeRefiner) RefineQuery(ctx context.Context, query string, flag int, question Answers) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, refineCall{query, flag, question})
	block, err := f.block, f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return Response{}, err
	}
	if flag == FlagClarify {
		return Response{Questions: f.questions, List: true}, nil
	}
	return Response{Spec: f.spec}, nil
}

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*schema.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *schema.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func TestMachine_FullLoop(t *testing.T) {
	ref := &fakeRefiner{questions: []string{"Which label?*INBOX*SPAM", "How often?"}, spec: "refined spec"}
	app := &mockAppender{}
	m := NewMachine(ref, app, WithSessionID("s-1"))
	ctx := context.Background()

	s, err := m.Submit(ctx, "summarise my mail")
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaiting, s.Phase())

	s, err = m.Reply(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaiting, s.Phase())

	s, err = m.Reply(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, PhaseRefined, s.Phase())
	assert.Equal(t, "refined spec", s.(Refined).Spec)

	require.Len(t, ref.calls, 2)
	assert.Equal(t, refineCall{Query: "summarise my mail", Flag: FlagClarify}, ref.calls[0])
	assert.Equal(t, "summarise my mail", ref.calls[1].Query)
	assert.Equal(t, FlagRefine, ref.calls[1].Flag)
	assert.Equal(t, map[string]string{"Which label?*INBOX*SPAM": "INBOX", "How often?": "daily"}, ref.calls[1].Question.Map())

	assert.Equal(t, []string{
		schema.EventRefineSubmitted,
		schema.EventRefineQuestions,
		schema.EventRefineAnswered,
		schema.EventRefineAnswered,
		schema.EventRefineRefined,
	}, app.Types())
	assert.Equal(t, "s-1", app.events[0].SessionID)
}

func TestMachine_TransportErrorReturnsToIdle(t *testing.T) {
	ref := &fakeRefiner{err: schema.NewError(schema.ErrCodeTransport, "connection refused")}
	m := NewMachine(ref, nil)

	s, err := m.Submit(context.Background(), "goal")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
	assert.Equal(t, Idle{Err: ErrorMessage}, s)
	assert.Equal(t, s, m.State())

	ref.err = nil
	ref.questions = nil
	s, err = m.Submit(context.Background(), "goal")
	require.NoError(t, err, "retry after failure")
	assert.Equal(t, PhaseRefined, s.Phase())
}

func TestMachine_MalformedClarifyResponse(t *testing.T) {
	m := NewMachine(stringRefiner{}, nil)

	s, err := m.Submit(context.Background(), "goal")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeMalformedPayload))
	assert.Equal(t, PhaseIdle, s.Phase())
}

type stringRefiner struct{}

func (stringRefiner) RefineQuery(context.Context, string, int, Answers) (Response, error) {
	return Response{Spec: "not a list"}, nil
}

func TestMachine_BusyWhileOutstanding(t *testing.T) {
	ref := &fakeRefiner{block: make(chan struct{})}
	m := NewMachine(ref, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(ctx, "first")
		done <- err
	}()

	require.Eventually(t, func() bool { return m.State().Phase() == PhaseAsking }, timeout, tick)

	_, err := m.Submit(ctx, "second")
	assert.True(t, schema.IsCode(err, schema.ErrCodeBusy))

	close(ref.block)
	require.NoError(t, <-done)
	assert.Len(t, ref.calls, 1)
}

func TestMachine_ResetDiscardsLateResult(t *testing.T) {
	ref := &fakeRefiner{block: make(chan struct{}), questions: []string{"q?"}}
	m := NewMachine(ref, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(ctx, "first")
		done <- err
	}()
	require.Eventually(t, func() bool { return m.State().Phase() == PhaseAsking }, timeout, tick)

	assert.Equal(t, Idle{}, m.Reset(ctx))
	close(ref.block)

	err := <-done
	assert.True(t, schema.IsCode(err, schema.ErrCodeStale))
	assert.Equal(t, Idle{}, m.State())
}

func TestMachine_BeforeHookVeto(t *testing.T) {
	m := NewMachine(&fakeRefiner{}, nil)
	m.OnBefore(PhaseIdle, PhaseAsking, func(from, to Phase) error {
		return errors.New("quota exceeded")
	})

	s, err := m.Submit(context.Background(), "goal")
	require.EqualError(t, err, "quota exceeded")
	assert.Equal(t, Idle{}, s)
}

func TestMachine_AfterHook(t *testing.T) {
	m := NewMachine(&fakeRefiner{}, nil)
	var seen []Phase
	m.OnAfter(PhaseAsking, PhaseRefined, func(from, to Phase) error {
		seen = append(seen, from, to)
		return errors.New("ignored")
	})

	s, err := m.Submit(context.Background(), "goal")
	require.NoError(t, err)
	assert.Equal(t, PhaseRefined, s.Phase())
	assert.Equal(t, []Phase{PhaseAsking, PhaseRefined}, seen)
}

func TestMachine_Amend(t *testing.T) {
	ref := &fakeRefiner{spec: "v2"}
	m := NewMachine(ref, nil, WithState(Refined{Query: "q", Spec: "v1"}))

	s, err := m.Amend(context.Background(), "use slack instead")
	require.NoError(t, err)
	assert.Equal(t, "v2", s.(Refined).Spec)
	require.Len(t, ref.calls, 1)
	assert.Equal(t, "v1", ref.calls[0].Query)
	assert.Equal(t, Answers{{AmendKey, "use slack instead"}}, ref.calls[0].Question)
}

func TestWithState_InFlightRestoresIdle(t *testing.T) {
	m := NewMachine(&fakeRefiner{}, nil, WithState(Asking{Query: "q"}))
	assert.Equal(t, Idle{}, m.State())
}
