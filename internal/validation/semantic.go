package validation

import (
	"fmt"
	"slices"

	"github.com/sigmoyd/flowcraft/internal/graph"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// validateSemantic checks what the structural schema cannot express:
// identity, connector references and data-flow wiring.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf.WorkflowID.String() == "" {
		result.AddError("workflow_id", schema.ErrCodeValidation, "workflow_id is required")
	}

	triggerID := wf.Trigger.EffectiveID()
	seen := make(map[string]int, len(wf.Workflow))
	for i := range wf.Workflow {
		n := &wf.Workflow[i]
		path := fmt.Sprintf("workflow[%d]", i)
		id := n.ID.String()

		if prev, dup := seen[id]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("node id %q already used by workflow[%d]", id, prev))
		} else {
			seen[id] = i
		}
		if n.ID.Same(triggerID) {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("node id %q collides with the trigger id", id))
		}
		if !slices.Contains(schema.ValidNodeTypes, n.Type) {
			result.AddError(path+".type", schema.ErrCodeValidation,
				fmt.Sprintf("unknown node type %q", n.Type))
		}
		if n.ToExecute != nil && len(n.ToExecute) != 2 {
			result.AddError(path+".to_execute", schema.ErrCodeValidation,
				fmt.Sprintf("to_execute must be [connector, flag], got %d elements", len(n.ToExecute)))
		}
		for _, key := range n.DataFlowInputs {
			if key == schema.TriggerOutputKey && wf.EmitsWiredOutput() {
				continue
			}
			if !wf.DataFlowNotebookKeys.Contains(key) {
				result.AddWarning(path+".data_flow_inputs", schema.ErrCodeValidation,
					fmt.Sprintf("input key %q is not registered in data_flow_notebook_keys", key))
			}
		}
	}

	ambiguous := graph.AmbiguousInputs(wf)
	producers := graph.Producers(wf)
	for i := range wf.Workflow {
		id := wf.Workflow[i].ID.String()
		for _, key := range ambiguous[id] {
			result.AddWarning(fmt.Sprintf("workflow[%d].data_flow_inputs", i), schema.ErrCodeValidation,
				fmt.Sprintf("input key %q has several producers: %v", key, producers[key]))
		}
	}

	return result
}
