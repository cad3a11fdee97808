package diagram

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func TestRenderASCII(t *testing.T) {
	model, err := Build(eventWorkflow(), nil, graph.DefaultOptions())
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.True(t, strings.HasPrefix(out, "=== Inbox digest ===\n"))
	assert.Contains(t, out, "TRIGGER_NEW_GMAIL_MESSAGE")
	assert.Contains(t, out, "Connector 2")
	assert.Contains(t, out, "GMAIL#1 ─→ AI#2  (emails)")
	assert.Contains(t, out, "═⇒ GMAIL#1  (incoming email)")
}

func TestRenderASCII_StatusTag(t *testing.T) {
	traces := []schema.LogMessage{{Node: schema.IntID(2), Status: schema.NodeStatusUnavailable}}
	model, err := Build(manualWorkflow(), traces, graph.DefaultOptions())
	require.NoError(t, err)

	assert.Contains(t, RenderASCII(model), "[N/A]")
}

func TestRenderMermaid(t *testing.T) {
	traces := []schema.LogMessage{{Node: schema.IntID(1), Status: schema.NodeStatusFailed}}
	model, err := Build(eventWorkflow(), traces, graph.DefaultOptions())
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `n_0(("TRIGGER_NEW_GMAIL_MESSAGE"))`)
	assert.Contains(t, out, `n_2{{"AI"}}`)
	assert.Contains(t, out, "n_0 ==>|incoming email| n_1")
	assert.Contains(t, out, "n_1 -.->|emails| n_2")
	assert.Contains(t, out, "class n_1 failed")
	assert.Contains(t, out, "class n_0 trigger")
}

func TestRenderImage(t *testing.T) {
	model, err := Build(eventWorkflow(), nil, graph.DefaultOptions())
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}
