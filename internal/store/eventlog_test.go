package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func transition(session, typ, from, to string) *schema.Event {
	return &schema.Event{
		Type:      typ,
		SessionID: session,
		Payload:   map[string]any{"from": from, "to": to},
	}
}

func TestAppendEvent_MonotonicSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := uuid.New().String()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventWorkflowMutated, SessionID: session}))
	}
	events, err := s.GetEvents(ctx, session, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
	}
}

func TestAppendEvent_RequiresSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent(context.Background(), &schema.Event{Type: schema.EventRefineSubmitted})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAppendEvent_DefaultsTimestamp(t *testing.T) {
	s := newTestStore(t)
	e := &schema.Event{Type: schema.EventRefineSubmitted, SessionID: "s"}
	require.NoError(t, s.AppendEvent(context.Background(), e))
	assert.WithinDuration(t, time.Now(), e.Timestamp, 5*time.Second)
}

func TestGetEvents_SinceAndPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, transition("s", schema.EventRefineSubmitted, "idle", "asking")))
	require.NoError(t, s.AppendEvent(ctx, &schema.Event{
		Type: schema.EventWorkflowMutated, SessionID: "s", WorkflowID: "9", NodeID: "2",
		Payload: map[string]any{"kind": "set_node_config"},
	}))

	events, err := s.GetEvents(ctx, "s", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, "9", events[0].WorkflowID)
	assert.Equal(t, "2", events[0].NodeID)
	assert.Equal(t, map[string]any{"kind": "set_node_config"}, events[0].Payload)
}

func TestEvents_SessionScopedSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventRefineSubmitted, SessionID: "a"}))
	require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventRefineQuestions, SessionID: "a"}))
	require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventRefineSubmitted, SessionID: "b"}))

	events, err := s.GetEvents(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence, "session b has its own sequence starting at 1")
}

func TestAppendEvent_ConcurrentSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sessions := []string{"s1", "s2", "s3", "s4"}
	var wg sync.WaitGroup
	errCh := make(chan error, 40)
	for _, id := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.AppendEvent(ctx, &schema.Event{Type: schema.EventWorkflowMutated, SessionID: id}); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	for _, id := range sessions {
		events, err := s.GetEvents(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestReplaySession_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	steps := []*schema.Event{
		transition("s", schema.EventRefineSubmitted, "idle", "asking"),
		transition("s", schema.EventRefineQuestions, "asking", "awaiting_clarification"),
		transition("s", schema.EventRefineAnswered, "awaiting_clarification", "refining"),
		transition("s", schema.EventRefineRefined, "refining", "refined"),
		{Type: schema.EventWorkflowGenerated, SessionID: "s", WorkflowID: "12"},
		{Type: schema.EventWizardStarted, SessionID: "s", WorkflowID: "12"},
		{Type: schema.EventWizardCommitted, SessionID: "s", WorkflowID: "12"},
		{Type: schema.EventWizardCompleted, SessionID: "s", WorkflowID: "12"},
		{Type: schema.EventWorkflowMutated, SessionID: "s", WorkflowID: "12"},
		{Type: schema.EventWorkflowSaved, SessionID: "s", WorkflowID: "12"},
		{Type: schema.EventWorkflowRun, SessionID: "s", WorkflowID: "12"},
	}
	for _, e := range steps {
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	sum, err := s.ReplaySession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "refined", sum.RefinePhase)
	assert.Equal(t, "12", sum.WorkflowID)
	assert.Equal(t, 1, sum.Generated)
	assert.Equal(t, 1, sum.Mutations)
	assert.Equal(t, 1, sum.Saves)
	assert.Equal(t, 1, sum.Runs)
	assert.Equal(t, "complete", sum.Wizard)
	assert.Equal(t, int64(len(steps)), sum.LastEvent)
	assert.Equal(t, 1, sum.Counts[schema.EventWizardCommitted])
}

func TestReplaySession_Empty(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.ReplaySession(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "idle", sum.RefinePhase)
	assert.Zero(t, sum.LastEvent)
}

func TestReplaySession_DeleteClearsWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventWorkflowGenerated, SessionID: "s", WorkflowID: "3"}))
	require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventWorkflowDeleted, SessionID: "s", WorkflowID: "3"}))

	sum, err := s.ReplaySession(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, sum.WorkflowID)
}

func TestReplaySession_SequenceGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &schema.Event{Type: schema.EventRefineSubmitted, SessionID: "s"}))
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO events (session_id, event_type, timestamp, sequence) VALUES (?, ?, ?, ?)`,
		"s", schema.EventRefineQuestions, time.Now().UTC(), 5)
	require.NoError(t, err)

	_, err = s.ReplaySession(ctx, "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}
