package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func TestResolveEdges_Linear(t *testing.T) {
	wf := workflow(
		node(1, nil, "emails"),
		node(2, in("emails"), "summary"),
	)

	edges := ResolveEdges(wf)
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{Source: "1", Target: "2", Key: "emails", Label: "emails"}, edges[0])
	assert.Equal(t, "e1-2-emails", edges[0].ID())
}

func TestResolveEdges_OrderIndependent(t *testing.T) {
	a := node(1, nil, "x")
	b := node(2, in("x"))

	forward := ResolveEdges(workflow(a, b))
	backward := ResolveEdges(workflow(b, a))

	assert.Equal(t, forward, backward)
}

func TestResolveEdges_ParallelProducersKept(t *testing.T) {
	wf := workflow(
		node(1, nil, "x"),
		node(2, nil, "x"),
		node(3, in("x")),
	)

	edges := ResolveEdges(wf)
	require.Len(t, edges, 2)
	assert.Equal(t, "1", edges[0].Source)
	assert.Equal(t, "2", edges[1].Source)
	assert.Equal(t, map[string][]string{"3": {"x"}}, AmbiguousInputs(wf))
}

func TestResolveEdges_NoSelfEdge(t *testing.T) {
	wf := workflow(node(1, in("x"), "x"))
	assert.Empty(t, ResolveEdges(wf))
}

func TestResolveEdges_UnmatchedKeys(t *testing.T) {
	wf := workflow(
		node(1, in("never_produced"), "never_consumed"),
	)
	assert.Empty(t, ResolveEdges(wf))
}

func TestResolveEdges_TriggerRequiresRegisteredKey(t *testing.T) {
	wf := workflow(node(1, in(schema.TriggerOutputKey), "x"))
	wf.Trigger = schema.Trigger{Name: "TRIGGER_NEW_GMAIL_MESSAGE", Output: "new email"}

	assert.Empty(t, ResolveEdges(wf), "key not registered in notebook")

	wf.DataFlowNotebookKeys = schema.NewKeySet(schema.TriggerOutputKey)
	edges := ResolveEdges(wf)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].FromTrigger)
	assert.Equal(t, "0", edges[0].Source)
	assert.Equal(t, "new email", edges[0].Label)
}

func TestResolveEdges_TriggerEdgesFirst(t *testing.T) {
	wf := workflow(
		node(1, nil, "x"),
		node(2, in("x", schema.TriggerOutputKey)),
	)
	wf.Trigger = schema.Trigger{ID: schema.IntID(0), Name: "TRIGGER_WEBHOOK", Output: "payload"}
	wf.DataFlowNotebookKeys = schema.NewKeySet(schema.TriggerOutputKey, "x")

	edges := ResolveEdges(wf)
	require.Len(t, edges, 2)
	assert.True(t, edges[0].FromTrigger)
	assert.False(t, edges[1].FromTrigger)
}

func TestResolveEdges_Nil(t *testing.T) {
	assert.Nil(t, ResolveEdges(nil))
}
