package graph

import "github.com/sigmoyd/flowcraft/pkg/schema"

// --- helpers ---

func node(id int, inputs []string, outputs ...string) schema.WorkflowNode {
	return schema.WorkflowNode{
		ID:              schema.IntID(id),
		Name:            "node",
		Type:            schema.NodeTypeTool,
		DataFlowInputs:  schema.NewKeySet(inputs...),
		DataFlowOutputs: schema.NewKeySet(outputs...),
	}
}

func in(keys ...string) []string { return keys }

func workflow(nodes ...schema.WorkflowNode) *schema.Workflow {
	return &schema.Workflow{
		WorkflowID: schema.StringID("wf"),
		Trigger:    schema.Trigger{Name: schema.ManualTrigger},
		Workflow:   nodes,
	}
}

func order(wf *schema.Workflow) []string {
	ids := make([]string, len(wf.Workflow))
	for i := range wf.Workflow {
		ids[i] = wf.Workflow[i].ID.String()
	}
	return ids
}
