package graph

import (
	"fmt"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// Edge is a derived data-flow dependency: Source produces Key and Target
// consumes it. Edges are never stored in the workflow document.
type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Key         string `json:"key"`
	Label       string `json:"label"`
	FromTrigger bool   `json:"from_trigger,omitempty"`
}

// ID returns a stable identifier for the edge.
func (e Edge) ID() string {
	return fmt.Sprintf("e%s-%s-%s", e.Source, e.Target, e.Key)
}

// ResolveEdges derives the edge set of a workflow by matching each node's
// declared outputs against every other node's declared inputs.
//
// The trigger is a virtual producer of the trigger key only when it
// describes an output and the notebook registers that key. Its edges come
// first. A key produced by several nodes yields one edge per producer.
func ResolveEdges(wf *schema.Workflow) []Edge {
	if wf == nil {
		return nil
	}

	var edges []Edge

	if wf.EmitsWiredOutput() {
		src := wf.Trigger.EffectiveID().String()
		for i := range wf.Workflow {
			c := &wf.Workflow[i]
			if c.DataFlowInputs.Contains(schema.TriggerOutputKey) {
				edges = append(edges, Edge{
					Source:      src,
					Target:      c.ID.String(),
					Key:         schema.TriggerOutputKey,
					Label:       wf.Trigger.Output,
					FromTrigger: true,
				})
			}
		}
	}

	for i := range wf.Workflow {
		p := &wf.Workflow[i]
		for _, key := range p.DataFlowOutputs {
			for j := range wf.Workflow {
				if i == j {
					continue
				}
				c := &wf.Workflow[j]
				if c.ID.Same(p.ID) || !c.DataFlowInputs.Contains(key) {
					continue
				}
				edges = append(edges, Edge{
					Source: p.ID.String(),
					Target: c.ID.String(),
					Key:    key,
					Label:  key,
				})
			}
		}
	}

	return edges
}

// Producers maps each output key to the ids of the nodes producing it, in
// node order.
func Producers(wf *schema.Workflow) map[string][]string {
	out := make(map[string][]string)
	for i := range wf.Workflow {
		n := &wf.Workflow[i]
		for _, key := range n.DataFlowOutputs {
			out[key] = append(out[key], n.ID.String())
		}
	}
	return out
}

// AmbiguousInputs returns, per consumer id, the input keys that more than
// one node produces. The edges are all kept; which value reaches the
// consumer at execution time is up to the executor.
func AmbiguousInputs(wf *schema.Workflow) map[string][]string {
	producers := Producers(wf)
	out := make(map[string][]string)
	for i := range wf.Workflow {
		c := &wf.Workflow[i]
		for _, key := range c.DataFlowInputs {
			n := 0
			for _, p := range producers[key] {
				if p != c.ID.String() {
					n++
				}
			}
			if n > 1 {
				out[c.ID.String()] = append(out[c.ID.String()], key)
			}
		}
	}
	return out
}
