package diagram

import (
	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Build projects a workflow into a DiagramModel. Edges come from the
// dependency resolver and positions from the layout engine. Optional traces
// overlay the most recent execution status of each node.
//
// The manual trigger is always left out, together with any edge it would
// source; any other trigger is the first node of the model.
func Build(wf *schema.Workflow, traces []schema.LogMessage, opts graph.Options) (*DiagramModel, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	nodes := make([]*Node, 0, len(wf.Workflow)+1)
	if !wf.Trigger.IsManual() {
		nodes = append(nodes, triggerToNode(&wf.Trigger))
	}
	for i := range wf.Workflow {
		nodes = append(nodes, workflowNodeToNode(&wf.Workflow[i]))
	}

	order := make([]string, len(nodes))
	present := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		order[i] = n.ID
		present[n.ID] = true
	}

	var resolved []graph.Edge
	for _, e := range graph.ResolveEdges(wf) {
		if present[e.Source] && present[e.Target] {
			resolved = append(resolved, e)
		}
	}
	layout := graph.ComputeLayout(order, resolved, opts)

	for _, n := range nodes {
		n.Position = layout.Positions[n.ID]
	}
	overlayStatus(nodes, wf.WorkflowID, traces)

	return &DiagramModel{
		Title:      titleFromWorkflow(wf),
		WorkflowID: wf.WorkflowID.String(),
		Nodes:      nodes,
		Edges:      buildEdges(resolved),
		Levels:     layout.Levels,
	}, nil
}

func triggerToNode(t *schema.Trigger) *Node {
	return &Node{
		ID:    t.EffectiveID().String(),
		Label: t.Name,
		Kind:  NodeKindTrigger,
		Meta: NodeMeta{
			Description:  t.Description,
			ConfigInputs: t.ConfigInputs.Clone(),
		},
	}
}

func workflowNodeToNode(n *schema.WorkflowNode) *Node {
	var toExecute []string
	if n.ToExecute != nil {
		toExecute = append([]string(nil), n.ToExecute...)
	}
	return &Node{
		ID:    n.ID.String(),
		Label: n.Name,
		Kind:  nodeTypeToKind(n.Type),
		Meta: NodeMeta{
			ToolAction:       n.ToolAction,
			ToExecute:        toExecute,
			ConnectorLabel:   n.ConnectorLabel(),
			Description:      n.Description,
			ConfigInputs:     n.ConfigInputs.Clone(),
			LLMPrompt:        n.LLMPrompt,
			ValidationPrompt: n.ValidationPrompt,
			DelegationPrompt: n.DelegationPrompt,
		},
	}
}

// nodeTypeToKind converts a schema.NodeType to a NodeKind.
func nodeTypeToKind(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeConnector:
		return NodeKindConnector
	case schema.NodeTypeLLM:
		return NodeKindLLM
	case schema.NodeTypeTrigger:
		return NodeKindTrigger
	default:
		return NodeKindTool
	}
}

// overlayStatus applies the last trace per node. Traces for other workflows
// are ignored.
func overlayStatus(nodes []*Node, wid schema.ID, traces []schema.LogMessage) {
	if len(traces) == 0 {
		return
	}
	index := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		index[n.ID] = n
	}
	for _, tr := range traces {
		if !tr.WorkflowID.IsZero() && !tr.WorkflowID.Same(wid) {
			continue
		}
		n, ok := index[tr.Node.String()]
		if !ok {
			continue
		}
		n.Status = &StatusOverlay{
			Status:    tr.Status,
			AgentName: tr.AgentName,
			Timestamp: tr.Timestamp,
			Failed:    tr.Failed(),
		}
	}
}

func buildEdges(resolved []graph.Edge) []Edge {
	edges := make([]Edge, 0, len(resolved))
	for _, e := range resolved {
		class := EdgeClassData
		if e.FromTrigger {
			class = EdgeClassTrigger
		}
		edges = append(edges, Edge{
			ID:    e.ID(),
			From:  e.Source,
			To:    e.Target,
			Key:   e.Key,
			Label: e.Label,
			Class: class,
		})
	}
	return edges
}

// titleFromWorkflow generates a diagram title from workflow metadata.
func titleFromWorkflow(wf *schema.Workflow) string {
	if wf.WorkflowName != "" {
		return wf.WorkflowName
	}
	return "Workflow"
}
