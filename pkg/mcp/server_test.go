package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowServer(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewFlowServer(FlowServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 12)

	expectedTools := []string{
		"flow.refine",
		"flow.answer",
		"flow.generate",
		"flow.configure",
		"flow.edit",
		"flow.graph",
		"flow.save",
		"flow.run",
		"flow.view",
		"flow.publish",
		"flow.public",
		"flow.api_keys",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"answer", "flow.answer", "Answer the current clarifying question"},
		{"generate", "flow.generate", "Generate the workflow from the refined request"},
		{"save", "flow.save", "Save the workflow to the server"},
		{"publish", "flow.publish", "Publish the saved workflow so others can use it"},
		{"api_keys", "flow.api_keys", "Store the provider API keys workflows run with"},
	}

	s := NewFlowServer(FlowServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
