package schema

import "strings"

// Workflow is the persisted workflow document. Its JSON form is the wire
// format shared with the backend.
type Workflow struct {
	WorkflowID           ID             `json:"workflow_id"`
	WorkflowName         string         `json:"workflow_name"`
	Trigger              Trigger        `json:"trigger"`
	Workflow             []WorkflowNode `json:"workflow"`
	DataFlowNotebookKeys KeySet         `json:"data_flow_notebook_keys"`
	Active               bool           `json:"active"`
	Unavailable          string         `json:"unavailable,omitempty"` // functionality the generator could not map
}

// Trigger is the designated entry node of a workflow.
type Trigger struct {
	ID           ID           `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	ConfigInputs ConfigInputs `json:"config_inputs"`
	Output       string       `json:"output,omitempty"` // description of the value it emits
}

// WorkflowNode is one step of a workflow.
type WorkflowNode struct {
	ID               ID           `json:"id"`
	Name             string       `json:"name"`
	Type             NodeType     `json:"type"`
	ToolAction       string       `json:"tool_action,omitempty"`
	ToExecute        []string     `json:"to_execute,omitempty"` // [connectorRef, flag]
	Description      string       `json:"description,omitempty"`
	ConfigInputs     ConfigInputs `json:"config_inputs"`
	LLMPrompt        string       `json:"llm_prompt,omitempty"`
	ValidationPrompt string       `json:"validation_prompt,omitempty"`
	DelegationPrompt string       `json:"delegation_prompt,omitempty"`
	DataFlowInputs   KeySet       `json:"data_flow_inputs"`
	DataFlowOutputs  KeySet       `json:"data_flow_outputs"`
}

// NodeType enumerates the kinds of workflow nodes.
type NodeType string

const (
	NodeTypeTool      NodeType = "tool"
	NodeTypeConnector NodeType = "connector"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTrigger   NodeType = "trigger"
)

// ValidNodeTypes lists every accepted node type.
var ValidNodeTypes = []NodeType{NodeTypeTool, NodeTypeConnector, NodeTypeLLM, NodeTypeTrigger}

// ManualTrigger is the trigger name for user initiated workflows.
const ManualTrigger = "TRIGGER_MANUAL"

// TriggerOutputKey is the notebook key a trigger emits into.
const TriggerOutputKey = "trigger_output"

// Prompt fields editable through setNodeField.
const (
	FieldLLMPrompt        = "llm_prompt"
	FieldValidationPrompt = "validation_prompt"
	FieldDelegationPrompt = "delegation_prompt"
)

// EffectiveID returns the trigger id, falling back to the reserved TriggerID.
func (t Trigger) EffectiveID() ID {
	if t.ID.IsZero() {
		return TriggerID
	}
	return t.ID
}

// IsManual reports whether the trigger is user initiated.
func (t Trigger) IsManual() bool { return t.Name == ManualTrigger }

// EmitsWiredOutput reports whether the trigger acts as a producer: it must
// describe an output and the notebook must register the trigger key.
func (w *Workflow) EmitsWiredOutput() bool {
	return w.Trigger.Output != "" && w.DataFlowNotebookKeys.Contains(TriggerOutputKey)
}

// NodeIndex returns the position of the node with the given id, or -1.
func (w *Workflow) NodeIndex(id ID) int {
	for i := range w.Workflow {
		if w.Workflow[i].ID.Same(id) {
			return i
		}
	}
	return -1
}

// Node returns a pointer into the node slice, or nil.
func (w *Workflow) Node(id ID) *WorkflowNode {
	if i := w.NodeIndex(id); i >= 0 {
		return &w.Workflow[i]
	}
	return nil
}

// Clone returns a deep copy.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Trigger.ConfigInputs = w.Trigger.ConfigInputs.Clone()
	out.DataFlowNotebookKeys = w.DataFlowNotebookKeys.Clone()
	if w.Workflow != nil {
		out.Workflow = make([]WorkflowNode, len(w.Workflow))
		for i := range w.Workflow {
			out.Workflow[i] = w.Workflow[i].Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of the node.
func (n WorkflowNode) Clone() WorkflowNode {
	out := n
	out.ConfigInputs = n.ConfigInputs.Clone()
	out.DataFlowInputs = n.DataFlowInputs.Clone()
	out.DataFlowOutputs = n.DataFlowOutputs.Clone()
	if n.ToExecute != nil {
		out.ToExecute = append([]string(nil), n.ToExecute...)
	}
	return out
}

// ConnectorRef returns the first element of to_execute, if any.
func (n WorkflowNode) ConnectorRef() string {
	if len(n.ToExecute) == 0 {
		return ""
	}
	return n.ToExecute[0]
}

// ConnectorLabel renders the connector reference for display,
// e.g. "connector_3" becomes "Connector 3".
func (n WorkflowNode) ConnectorLabel() string {
	ref := n.ConnectorRef()
	if ref == "" {
		return ""
	}
	return "Connector " + strings.Replace(ref, "connector_", "", 1)
}

// Prompt returns the value of a prompt field and whether the field name is known.
func (n WorkflowNode) Prompt(field string) (string, bool) {
	switch field {
	case FieldLLMPrompt:
		return n.LLMPrompt, true
	case FieldValidationPrompt:
		return n.ValidationPrompt, true
	case FieldDelegationPrompt:
		return n.DelegationPrompt, true
	}
	return "", false
}

// SetPrompt assigns a prompt field. It returns false for unknown fields.
func (n *WorkflowNode) SetPrompt(field, value string) bool {
	switch field {
	case FieldLLMPrompt:
		n.LLMPrompt = value
	case FieldValidationPrompt:
		n.ValidationPrompt = value
	case FieldDelegationPrompt:
		n.DelegationPrompt = value
	default:
		return false
	}
	return true
}
