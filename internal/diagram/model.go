package diagram

import (
	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindTool      NodeKind = "tool"
	NodeKindConnector NodeKind = "connector"
	NodeKindLLM       NodeKind = "llm"
	NodeKindTrigger   NodeKind = "trigger"
)

// EdgeClass separates trigger edges from ordinary data-flow edges so
// renderers can style them apart.
type EdgeClass string

const (
	EdgeClassData    EdgeClass = "data"
	EdgeClassTrigger EdgeClass = "trigger"
)

// DiagramModel is the renderer-agnostic projection of a workflow.
type DiagramModel struct {
	Title      string     `json:"title"`
	WorkflowID string     `json:"workflow_id"`
	Nodes      []*Node    `json:"nodes"`
	Edges      []Edge     `json:"edges"`
	Levels     [][]string `json:"levels"`
}

// Node represents a single workflow node or the trigger.
type Node struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Kind     NodeKind       `json:"kind"`
	Position graph.Position `json:"position"`
	Meta     NodeMeta       `json:"meta"`
	Status   *StatusOverlay `json:"status,omitempty"`
}

// NodeMeta carries the presentation fields of a node.
type NodeMeta struct {
	ToolAction       string              `json:"tool_action,omitempty"`
	ToExecute        []string            `json:"to_execute,omitempty"`
	ConnectorLabel   string              `json:"connector_label,omitempty"`
	Description      string              `json:"description,omitempty"`
	ConfigInputs     schema.ConfigInputs `json:"config_inputs"`
	LLMPrompt        string              `json:"llm_prompt,omitempty"`
	ValidationPrompt string              `json:"validation_prompt,omitempty"`
	DelegationPrompt string              `json:"delegation_prompt,omitempty"`
}

// StatusOverlay carries the latest execution trace received for a node.
type StatusOverlay struct {
	Status    string `json:"status"`
	AgentName string `json:"agent_name,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Failed    bool   `json:"failed"`
}

// Edge represents a data-flow dependency between two nodes.
type Edge struct {
	ID    string    `json:"id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Class EdgeClass `json:"class"`
}

// Node returns the node with the given id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	return findNode(m.Nodes, id)
}
